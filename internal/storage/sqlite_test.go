package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertcpl/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func seedAccount(t *testing.T, store *storage.SQLiteStore, externalID string, active bool, chatID string) storage.Account {
	t.Helper()
	ctx := context.Background()

	acc := storage.Account{
		ExternalID:   externalID,
		Name:         "Account " + externalID,
		CPLThreshold: decimal.NewFromInt(50),
		IsActive:     active,
	}
	if chatID != "" {
		agencyID, err := store.CreateAgency(ctx, storage.Agency{Name: "Agency", TelegramChatID: chatID})
		require.NoError(t, err)
		acc.AgencyID = &agencyID
	}
	id, err := store.CreateAccount(ctx, acc)
	require.NoError(t, err)
	acc.ID = id
	return acc
}

func TestSQLite_ListActiveAccountsSkipsInactive(t *testing.T) {
	store := newTestStore(t)
	active := seedAccount(t, store, "111", true, "")
	seedAccount(t, store, "222", false, "")

	accounts, err := store.ListActiveAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, active.ID, accounts[0].ID)
	assert.True(t, accounts[0].CPLThreshold.Equal(decimal.NewFromInt(50)))

	all, err := store.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_UpdateThresholdAndName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	acc := seedAccount(t, store, "111", true, "")

	require.NoError(t, store.UpdateThreshold(ctx, acc.ID, decimal.RequireFromString("42.5")))
	require.NoError(t, store.UpdateAccountName(ctx, acc.ID, "Renamed"))

	got, err := store.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "42.5", got.CPLThreshold.String())
	assert.Equal(t, "Renamed", got.Name)

	assert.ErrorIs(t, store.UpdateThreshold(ctx, 999, decimal.NewFromInt(1)), storage.ErrNotFound)
	_, err = store.GetAccount(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLite_NotificationDestination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	withChat := seedAccount(t, store, "111", true, "-100123")
	withoutAgency := seedAccount(t, store, "222", true, "")

	dest, ok, err := store.NotificationDestination(ctx, withChat.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "-100123", dest.ChatID)

	_, ok, err = store.NotificationDestination(ctx, withoutAgency.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_CPLLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	acc := seedAccount(t, store, "111", true, "")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertCPLLog(ctx, storage.CPLLog{
			AccountID: acc.ID,
			AdID:      "ad_1",
			AdName:    "Ad",
			Spend:     decimal.NewFromInt(100),
			Leads:     int64(10 + i),
			CPL:       decimal.NewFromInt(100).Div(decimal.NewFromInt(int64(10 + i))),
			CheckedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	recent, err := store.ListCPLLogs(ctx, storage.LogFilter{AccountID: acc.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(12), recent[0].Leads)
	assert.True(t, recent[0].CheckedAt.Equal(base.Add(2*time.Hour)))

	window, err := store.ListCPLLogsBetween(ctx, 0, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, int64(10), window[0].Leads)
	assert.Equal(t, "10", window[0].CPL.String())
}

func TestSQLite_AlertLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	acc := seedAccount(t, store, "111", true, "chat")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id, err := store.InsertAlert(ctx, storage.AlertRecord{
		AccountID: acc.ID,
		AgencyID:  acc.AgencyID,
		Kind:      storage.AlertHighCostPerLead,
		AdID:      "ad_1",
		Spend:     decimal.NewFromInt(100),
		Leads:     10,
		CPL:       decimal.NewFromInt(10),
		Threshold: decimal.NewFromInt(5),
		CreatedAt: now.Add(-30 * time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, store.UpdateAlertMessage(ctx, id, "rendered"))

	since := now.Add(-2 * time.Hour)
	found, err := store.HasRecentAlert(ctx, "ad_1", storage.AlertHighCostPerLead, acc.ID, since)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = store.HasRecentAlert(ctx, "ad_1", storage.AlertZeroLeadsHighSpend, acc.ID, since)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = store.HasRecentAlert(ctx, "ad_1", storage.AlertHighCostPerLead, acc.ID, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.False(t, found)

	alerts, err := store.ListAlerts(ctx, storage.LogFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "rendered", alerts[0].Message)
	assert.Equal(t, storage.AlertHighCostPerLead, alerts[0].Kind)
	require.NotNil(t, alerts[0].AgencyID)
	assert.Equal(t, *acc.AgencyID, *alerts[0].AgencyID)
	assert.True(t, alerts[0].Threshold.Equal(decimal.NewFromInt(5)))

	assert.ErrorIs(t, store.UpdateAlertMessage(ctx, 12345, "x"), storage.ErrNotFound)
}

func TestSQLite_InsertAlertRejectsUnknownKind(t *testing.T) {
	store := newTestStore(t)
	acc := seedAccount(t, store, "111", true, "")

	_, err := store.InsertAlert(context.Background(), storage.AlertRecord{
		AccountID: acc.ID,
		Kind:      storage.AlertKind("LOW_CTR"),
		AdID:      "ad_1",
	})
	assert.ErrorIs(t, err, storage.ErrUnknownKind)

	alerts, err := store.ListAlerts(context.Background(), storage.LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestLogFilter_NormalizedLimit(t *testing.T) {
	assert.Equal(t, storage.DefaultLogLimit, storage.LogFilter{}.NormalizedLimit())
	assert.Equal(t, storage.MaxLogLimit, storage.LogFilter{Limit: 10_000}.NormalizedLimit())
	assert.Equal(t, 7, storage.LogFilter{Limit: 7}.NormalizedLimit())
}

func TestSQLite_InMemory(t *testing.T) {
	store, err := storage.OpenSQLite(context.Background(), storage.MemoryPath)
	require.NoError(t, err)
	defer store.Close()

	accounts, err := store.ListActiveAccounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}
