package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"alertcpl/internal/logging"
)

const (
	leadActionType = "lead"
	missingName    = "N/A"
	insightFields  = "campaign_id,campaign_name,adset_id,adset_name,ad_id,ad_name,spend,actions"
)

// ErrMissingToken is returned when no Graph API access token is configured.
var ErrMissingToken = errors.New("meta access token not configured")

// MetaOptions parameterise the Graph API client.
type MetaOptions struct {
	AccessToken string
	BaseURL     string
	APIVersion  string
	Timeout     time.Duration
	PageLimit   int
	MaxPages    int
	UserAgent   string
}

// Meta reads ad-level insights from the Meta Graph API.
type Meta struct {
	opts    MetaOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMeta constructs a Graph API metrics source.
func NewMeta(opts MetaOptions, logger zerolog.Logger) *Meta {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.APIVersion == "" {
		opts.APIVersion = "v24.0"
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 500
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://graph.facebook.com"
	}

	return &Meta{
		opts:    opts,
		logger:  logging.Component(logger, "meta_fetcher"),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL + "/" + strings.Trim(opts.APIVersion, "/"),
	}
}

// FetchSamples returns metrics for active ads inside active campaigns of the account.
// An account without active campaigns yields an empty slice and no error.
func (m *Meta) FetchSamples(ctx context.Context, accountID, datePreset string) ([]MetricSample, error) {
	if m.opts.AccessToken == "" {
		return nil, ErrMissingToken
	}
	if datePreset == "" {
		datePreset = DefaultDatePreset
	}
	accountID = normalizeAccountID(accountID)
	logger := m.logger.With().Str("account", accountID).Str("date_preset", datePreset).Logger()

	campaignIDs, err := m.ActiveCampaignIDs(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(campaignIDs) == 0 {
		logger.Info().Msg("no active campaigns")
		return []MetricSample{}, nil
	}

	filtering, err := json.Marshal([]graphFilter{
		{Field: "ad.effective_status", Operator: "IN", Value: []string{"ACTIVE"}},
		{Field: "campaign.id", Operator: "IN", Value: campaignIDs},
	})
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("level", "ad")
	params.Set("date_preset", datePreset)
	params.Set("fields", insightFields)
	params.Set("filtering", string(filtering))
	params.Set("limit", strconv.Itoa(m.opts.PageLimit))

	var rows []insightRow
	if err := m.collect(ctx, m.accountURL(accountID, "insights", params), func(raw json.RawMessage) error {
		var page []insightRow
		if err := json.Unmarshal(raw, &page); err != nil {
			return fmt.Errorf("decode insights: %w", err)
		}
		rows = append(rows, page...)
		return nil
	}); err != nil {
		return nil, err
	}

	active := make(map[string]struct{}, len(campaignIDs))
	for _, id := range campaignIDs {
		active[id] = struct{}{}
	}

	samples := make([]MetricSample, 0, len(rows))
	for _, row := range rows {
		// the filtering parameter is not always honoured for mixed statuses
		if _, ok := active[row.CampaignID]; !ok {
			continue
		}
		samples = append(samples, row.toSample(logger))
	}
	if dropped := len(rows) - len(samples); dropped > 0 {
		logger.Debug().Int("dropped", dropped).Msg("filtered ads from inactive campaigns")
	}

	logger.Debug().Int("ads", len(samples)).Msg("insights fetched")
	return samples, nil
}

// ActiveCampaignIDs lists ids of campaigns whose effective status is ACTIVE.
func (m *Meta) ActiveCampaignIDs(ctx context.Context, accountID string) ([]string, error) {
	if m.opts.AccessToken == "" {
		return nil, ErrMissingToken
	}
	params := url.Values{}
	params.Set("fields", "id,name,effective_status")
	params.Set("effective_status", `["ACTIVE"]`)
	params.Set("limit", "1000")

	var ids []string
	err := m.collect(ctx, m.accountURL(normalizeAccountID(accountID), "campaigns", params), func(raw json.RawMessage) error {
		var page []struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return fmt.Errorf("decode campaigns: %w", err)
		}
		for _, c := range page {
			ids = append(ids, c.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FetchAccountName returns the account's name as shown on the platform.
func (m *Meta) FetchAccountName(ctx context.Context, accountID string) (string, error) {
	if m.opts.AccessToken == "" {
		return "", ErrMissingToken
	}
	params := url.Values{}
	params.Set("fields", "name")

	var res struct {
		Name string `json:"name"`
	}
	if err := m.getJSON(ctx, m.accountURL(normalizeAccountID(accountID), "", params), &res); err != nil {
		return "", err
	}
	return res.Name, nil
}

// LongLivedToken is the result of exchanging a short-lived user token.
type LongLivedToken struct {
	AccessToken string
	TokenType   string
	ExpiresIn   time.Duration
}

// ExchangeToken trades a short-lived user access token for a long-lived one.
func (m *Meta) ExchangeToken(ctx context.Context, appID, appSecret, shortLivedToken string) (LongLivedToken, error) {
	switch {
	case appID == "":
		return LongLivedToken{}, errors.New("meta app id is required")
	case appSecret == "":
		return LongLivedToken{}, errors.New("meta app secret is required")
	case shortLivedToken == "":
		return LongLivedToken{}, errors.New("short-lived token is required")
	}

	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", appID)
	params.Set("client_secret", appSecret)
	params.Set("fb_exchange_token", shortLivedToken)

	var res struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := m.getJSON(ctx, m.baseURL+"/oauth/access_token?"+params.Encode(), &res); err != nil {
		return LongLivedToken{}, err
	}
	if res.AccessToken == "" {
		return LongLivedToken{}, errors.New("graph api returned no access token")
	}
	return LongLivedToken{
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		ExpiresIn:   time.Duration(res.ExpiresIn) * time.Second,
	}, nil
}

func (m *Meta) accountURL(accountID, edge string, params url.Values) string {
	params.Set("access_token", m.opts.AccessToken)
	endpoint := m.baseURL + "/act_" + accountID
	if edge != "" {
		endpoint += "/" + edge
	}
	return endpoint + "?" + params.Encode()
}

// collect walks a paginated edge, handing each page's data array to visit.
func (m *Meta) collect(ctx context.Context, endpoint string, visit func(json.RawMessage) error) error {
	next := endpoint
	for page := 0; next != "" && page < m.opts.MaxPages; page++ {
		var res pagedResponse
		if err := m.getJSON(ctx, next, &res); err != nil {
			return err
		}
		if len(res.Data) > 0 {
			if err := visit(res.Data); err != nil {
				return err
			}
		}
		next = res.Paging.Next
	}
	if next != "" {
		m.logger.Warn().Int("max_pages", m.opts.MaxPages).Msg("pagination truncated")
	}
	return nil
}

func (m *Meta) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "alertcpl/1.0")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("graph api request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode graph api response: %w", err)
	}
	return nil
}

type graphFilter struct {
	Field    string   `json:"field"`
	Operator string   `json:"operator"`
	Value    []string `json:"value"`
}

type pagedResponse struct {
	Data   json.RawMessage `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

type insightRow struct {
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`
	AdSetID      string `json:"adset_id"`
	AdSetName    string `json:"adset_name"`
	AdID         string `json:"ad_id"`
	AdName       string `json:"ad_name"`
	Spend        string `json:"spend"`
	Actions      []struct {
		ActionType string `json:"action_type"`
		Value      string `json:"value"`
	} `json:"actions"`
}

func (r insightRow) toSample(logger zerolog.Logger) MetricSample {
	spend := decimal.Zero
	if r.Spend != "" {
		parsed, err := decimal.NewFromString(r.Spend)
		if err != nil {
			logger.Warn().Str("ad_id", r.AdID).Str("spend", r.Spend).Msg("unparseable spend, using 0")
		} else {
			spend = parsed
		}
	}

	var leads int64
	for _, action := range r.Actions {
		if action.ActionType != leadActionType {
			continue
		}
		leads = parseCount(action.Value)
		break
	}

	return MetricSample{
		CampaignID:   r.CampaignID,
		CampaignName: orMissing(r.CampaignName),
		AdSetName:    orMissing(r.AdSetName),
		AdName:       orMissing(r.AdName),
		AdID:         r.AdID,
		Spend:        spend,
		Leads:        leads,
	}
}

func parseCount(raw string) int64 {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return int64(f)
	}
	return 0
}

func orMissing(v string) string {
	if strings.TrimSpace(v) == "" {
		return missingName
	}
	return v
}

func normalizeAccountID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "act_")
}

type graphErrorResponse struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr graphErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("graph api error (%d, code %d): %s", status, apiErr.Error.Code, apiErr.Error.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("graph api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("graph api error (%d)", status)
}

var (
	_ MetricsSource = (*Meta)(nil)
	_ AccountNamer  = (*Meta)(nil)
)
