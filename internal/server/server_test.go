package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertcpl/internal/service"
	"alertcpl/internal/storage"
)

type fakeRunner struct {
	calls  atomic.Int32
	result service.CycleResult
	status service.Status
}

func (f *fakeRunner) RunCycle(context.Context) service.CycleResult {
	f.calls.Add(1)
	return f.result
}

func (f *fakeRunner) Status() service.Status {
	return f.status
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.OpenSQLite(context.Background(), storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func newTestServer(t *testing.T, runner Runner, store Store, secret string) http.Handler {
	t.Helper()
	opts := Options{TriggerSecret: secret, Gatherer: prometheus.NewRegistry()}
	return New(runner, store, opts, zerolog.Nop()).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndIndex(t *testing.T) {
	h := newTestServer(t, &fakeRunner{}, nil, "")

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "AlertCPL Running")

	rec = do(t, h, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunRequiresSecret(t *testing.T) {
	runner := &fakeRunner{result: service.CycleResult{Status: service.CycleOK}}
	h := newTestServer(t, runner, nil, "s3cret")

	rec := do(t, h, http.MethodPost, "/api/run", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/run", "", map[string]string{SecretHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int32(0), runner.calls.Load())

	rec = do(t, h, http.MethodPost, "/api/run", "", map[string]string{SecretHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), RunAcknowledgement)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestRunRejectedWhenSecretUnset(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestServer(t, runner, nil, "")

	rec := do(t, h, http.MethodPost, "/api/run", "", map[string]string{SecretHeader: ""})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int32(0), runner.calls.Load())
}

func TestRunAcknowledgesRegardlessOfOutcome(t *testing.T) {
	for _, status := range []service.CycleStatus{service.CycleFailed, service.CycleAlreadyRunning, service.CycleNoAccounts} {
		runner := &fakeRunner{result: service.CycleResult{Status: status}}
		h := newTestServer(t, runner, nil, "s3cret")

		rec := do(t, h, http.MethodPost, "/api/run", "", map[string]string{SecretHeader: "s3cret"})
		assert.Equal(t, http.StatusOK, rec.Code, string(status))
		assert.Contains(t, rec.Body.String(), RunAcknowledgement)
	}
}

func TestStatusIncludesSummary(t *testing.T) {
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	runner := &fakeRunner{status: service.Status{
		State:          service.StateIdle,
		LastRunStarted: &started,
		LastResult: &service.CycleResult{
			Status:   service.CycleOK,
			Accounts: []service.AccountResult{{Status: service.UnitOK, Samples: 4}},
		},
	}}
	h := newTestServer(t, runner, nil, "")

	rec := do(t, h, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "IDLE", body["state"])
	assert.Equal(t, false, body["running"])
	summary, ok := body["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 4.0, summary["samples"])
}

func TestAPIWithoutStore(t *testing.T) {
	h := newTestServer(t, &fakeRunner{}, nil, "")
	rec := do(t, h, http.MethodGet, "/api/accounts", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAccountsAndThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id, err := store.CreateAccount(ctx, storage.Account{ExternalID: "111", Name: "Acme", CPLThreshold: decimal.NewFromInt(50), IsActive: true})
	require.NoError(t, err)

	h := newTestServer(t, &fakeRunner{}, store, "")

	rec := do(t, h, http.MethodGet, "/api/accounts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var accounts []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, "111", accounts[0]["account_id"])

	target := "/api/accounts/" + strconv.FormatInt(id, 10) + "/threshold"
	rec = do(t, h, http.MethodPatch, target, `{"cpl_threshold": 12.5}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	acc, err := store.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.True(t, acc.CPLThreshold.Equal(decimal.RequireFromString("12.5")))

	rec = do(t, h, http.MethodPatch, target, `{"cpl_threshold": 0}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPatch, target, `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/accounts/9999/threshold", `{"cpl_threshold": "10"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/accounts/abc/threshold", `{"cpl_threshold": "10"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListLogsAndAlerts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id, err := store.CreateAccount(ctx, storage.Account{ExternalID: "111", Name: "Acme", CPLThreshold: decimal.NewFromInt(50), IsActive: true})
	require.NoError(t, err)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertCPLLog(ctx, storage.CPLLog{
			AccountID: id,
			AdID:      "ad_1",
			Spend:     decimal.NewFromInt(100),
			Leads:     2,
			CPL:       decimal.NewFromInt(50),
			CheckedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	_, err = store.InsertAlert(ctx, storage.AlertRecord{AccountID: id, Kind: storage.AlertHighCostPerLead, AdID: "ad_1", CreatedAt: base})
	require.NoError(t, err)

	h := newTestServer(t, &fakeRunner{}, store, "")

	rec := do(t, h, http.MethodGet, "/api/cpl-logs?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	assert.Len(t, logs, 2)

	rec = do(t, h, http.MethodGet, "/api/cpl-logs?account_id=9999", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/cpl-logs?account_id=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/alerts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "HIGH_COST_PER_LEAD", alerts[0]["alert_type"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "alertcpl_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := New(&fakeRunner{}, nil, Options{Gatherer: reg}, zerolog.Nop()).Handler()
	rec := do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alertcpl_test_total 1")
}
