package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestMeta(baseURL string) *Meta {
	return NewMeta(MetaOptions{
		AccessToken: "tok",
		BaseURL:     baseURL,
		APIVersion:  "v24.0",
		Timeout:     time.Second,
		PageLimit:   2,
		MaxPages:    5,
		UserAgent:   "test",
	}, noopLogger())
}

func TestMetaFetchMissingToken(t *testing.T) {
	m := NewMeta(MetaOptions{}, noopLogger())
	_, err := m.FetchSamples(context.Background(), "123", "today")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestMetaFetchSamples(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/v24.0/act_123/campaigns":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]string{{"id": "c1", "name": "Spring", "effective_status": "ACTIVE"}},
			})
		case r.URL.Path == "/v24.0/act_123/insights" && r.URL.Query().Get("page") == "":
			assert.Equal(t, "ad", r.URL.Query().Get("level"))
			assert.Equal(t, "today", r.URL.Query().Get("date_preset"))
			assert.Contains(t, r.URL.Query().Get("filtering"), `"campaign.id"`)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{
						"campaign_id": "c1", "campaign_name": "Spring", "adset_name": "Broad",
						"ad_id": "ad_1", "ad_name": "Video", "spend": "120.50",
						"actions": []map[string]string{{"action_type": "link_click", "value": "40"}, {"action_type": "lead", "value": "4"}},
					},
					{
						"campaign_id": "c9", "campaign_name": "Paused", "ad_id": "ad_9", "spend": "10",
					},
				},
				"paging": map[string]string{"next": srv.URL + "/v24.0/act_123/insights?page=2&access_token=tok"},
			})
		case r.URL.Path == "/v24.0/act_123/insights":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"campaign_id": "c1", "ad_id": "ad_2", "spend": "bogus"},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	samples, err := newTestMeta(srv.URL).FetchSamples(context.Background(), "act_123", "")
	require.NoError(t, err)
	require.Len(t, samples, 2)

	first := samples[0]
	assert.Equal(t, "ad_1", first.AdID)
	assert.Equal(t, "Spring", first.CampaignName)
	assert.Equal(t, "Broad", first.AdSetName)
	assert.True(t, first.Spend.Equal(decimal.RequireFromString("120.5")))
	assert.Equal(t, int64(4), first.Leads)

	second := samples[1]
	assert.Equal(t, "N/A", second.CampaignName)
	assert.Equal(t, "N/A", second.AdName)
	assert.True(t, second.Spend.IsZero())
	assert.Equal(t, int64(0), second.Leads)
}

func TestMetaFetchNoActiveCampaigns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/insights") {
			t.Fatal("insights must not be requested without active campaigns")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	samples, err := newTestMeta(srv.URL).FetchSamples(context.Background(), "123", "today")
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestMetaFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "Invalid account", "code": 100},
		})
	}))
	defer srv.Close()

	_, err := newTestMeta(srv.URL).FetchSamples(context.Background(), "123", "today")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid account")
	assert.Contains(t, err.Error(), "400")
}

func TestMetaFetchAccountName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v24.0/act_555", r.URL.Path)
		assert.Equal(t, "name", r.URL.Query().Get("fields"))
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "Clinic Ads"})
	}))
	defer srv.Close()

	name, err := newTestMeta(srv.URL).FetchAccountName(context.Background(), "555")
	require.NoError(t, err)
	assert.Equal(t, "Clinic Ads", name)
}

func TestParseCount(t *testing.T) {
	assert.Equal(t, int64(7), parseCount("7"))
	assert.Equal(t, int64(3), parseCount("3.0"))
	assert.Equal(t, int64(0), parseCount("x"))
}

func TestStaticSource(t *testing.T) {
	src := &Static{Samples: map[string][]MetricSample{"42": {{AdID: "a"}}}}
	got, err := src.FetchSamples(context.Background(), "act_42", "today")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMetaExchangeToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v24.0/oauth/access_token", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "fb_exchange_token", q.Get("grant_type"))
		assert.Equal(t, "app", q.Get("client_id"))
		assert.Equal(t, "secret", q.Get("client_secret"))
		assert.Equal(t, "short", q.Get("fb_exchange_token"))
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "long", "token_type": "bearer", "expires_in": 5184000})
	}))
	defer srv.Close()

	tok, err := newTestMeta(srv.URL).ExchangeToken(context.Background(), "app", "secret", "short")
	require.NoError(t, err)
	assert.Equal(t, "long", tok.AccessToken)
	assert.Equal(t, 60*24*time.Hour, tok.ExpiresIn)
}

func TestMetaExchangeTokenErrors(t *testing.T) {
	m := newTestMeta("http://127.0.0.1:1")
	_, err := m.ExchangeToken(context.Background(), "", "secret", "short")
	assert.ErrorContains(t, err, "app id")
	_, err = m.ExchangeToken(context.Background(), "app", "", "short")
	assert.ErrorContains(t, err, "app secret")
	_, err = m.ExchangeToken(context.Background(), "app", "secret", "")
	assert.ErrorContains(t, err, "short-lived token")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "Error validating access token", "code": 190},
		})
	}))
	defer srv.Close()

	_, err = newTestMeta(srv.URL).ExchangeToken(context.Background(), "app", "secret", "expired")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 190")

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer empty.Close()

	_, err = newTestMeta(empty.URL).ExchangeToken(context.Background(), "app", "secret", "short")
	assert.ErrorContains(t, err, "no access token")
}
