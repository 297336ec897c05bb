package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]any)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, DialectHTML, time.Second, testLogger())
	require.NoError(t, notifier.Notify(context.Background(), "-100200", "<b>hi</b>"))

	assert.Equal(t, "-100200", received["chat_id"])
	assert.Equal(t, "<b>hi</b>", received["text"])
	assert.Equal(t, "HTML", received["parse_mode"])
}

func TestTelegramNotifierPlainOmitsParseMode(t *testing.T) {
	received := make(map[string]any)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, DialectPlain, time.Second, testLogger())
	require.NoError(t, notifier.Notify(context.Background(), "1", "hello"))

	_, ok := received["parse_mode"]
	assert.False(t, ok)
}

func TestTelegramNotifierRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: can't parse entities",
		})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, DialectHTML, time.Second, testLogger())
	err := notifier.Notify(context.Background(), "1", "<b>broken")
	require.Error(t, err)

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, http.StatusBadRequest, sendErr.StatusCode)
	assert.Contains(t, sendErr.Description, "parse entities")
	assert.True(t, sendErr.Malformed())
	assert.False(t, sendErr.Unreachable())
}

func TestTelegramNotifierOKFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 403, "description": "Forbidden"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, DialectPlain, time.Second, testLogger())
	err := notifier.Notify(context.Background(), "1", "hi")

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, 403, sendErr.StatusCode)
}

func TestTelegramNotifierServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, DialectPlain, time.Second, testLogger())
	err := notifier.Notify(context.Background(), "1", "hi")

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.True(t, sendErr.Unreachable())
	assert.False(t, sendErr.Malformed())
}

func TestTelegramNotifierNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	notifier := NewTelegramNotifier("token", url, DialectPlain, time.Second, testLogger())
	err := notifier.Notify(context.Background(), "1", "hi")

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.True(t, sendErr.Unreachable())
	assert.NotNil(t, errors.Unwrap(sendErr))
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
