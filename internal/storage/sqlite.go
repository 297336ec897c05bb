package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory SQLite database.
const MemoryPath = ":memory:"

// SQLiteStore is the embedded backend used for local runs, simulations and tests.
// Timestamps are stored as unix milliseconds so range predicates compare numerically.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps in-memory databases alive and serialises writers
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if path != MemoryPath {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	store := &SQLiteStore{db: db}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Migrate applies the embedded schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(sqliteSchema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

const sqliteAccountColumns = `id, account_id, account_name, cpl_threshold, is_active, agency_id, created_at`

func (s *SQLiteStore) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	return s.queryAccounts(ctx, `SELECT `+sqliteAccountColumns+` FROM ad_accounts WHERE is_active = 1 ORDER BY id`)
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.queryAccounts(ctx, `SELECT `+sqliteAccountColumns+` FROM ad_accounts ORDER BY created_at DESC, id DESC`)
}

func (s *SQLiteStore) queryAccounts(ctx context.Context, query string) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]Account, 0)
	for rows.Next() {
		acc, err := scanSQLiteAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id int64) (Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteAccountColumns+` FROM ad_accounts WHERE id = ?`, id)
	acc, err := scanSQLiteAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

func (s *SQLiteStore) UpdateThreshold(ctx context.Context, id int64, threshold decimal.Decimal) error {
	return s.execOne(ctx, "update threshold", `UPDATE ad_accounts SET cpl_threshold = ? WHERE id = ?`, threshold.String(), id)
}

func (s *SQLiteStore) UpdateAccountName(ctx context.Context, id int64, name string) error {
	return s.execOne(ctx, "update account name", `UPDATE ad_accounts SET account_name = ? WHERE id = ?`, name, id)
}

func (s *SQLiteStore) CreateAgency(ctx context.Context, agency Agency) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO agencies (name, telegram_chat_id, created_at) VALUES (?, ?, ?)`,
		agency.Name, agency.TelegramChatID, toMillis(agency.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert agency: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, account Account) (int64, error) {
	var agency any
	if account.AgencyID != nil {
		agency = *account.AgencyID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ad_accounts (account_id, account_name, cpl_threshold, is_active, agency_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		account.ExternalID, account.Name, account.CPLThreshold.String(), account.IsActive, agency, toMillis(account.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) NotificationDestination(ctx context.Context, accountID int64) (Destination, bool, error) {
	var dest Destination
	err := s.db.QueryRowContext(ctx,
		`SELECT g.id, g.name, g.telegram_chat_id
		 FROM ad_accounts a JOIN agencies g ON g.id = a.agency_id
		 WHERE a.id = ?`, accountID,
	).Scan(&dest.AgencyID, &dest.AgencyName, &dest.ChatID)
	if errors.Is(err, sql.ErrNoRows) {
		return Destination{}, false, nil
	}
	if err != nil {
		return Destination{}, false, fmt.Errorf("resolve destination: %w", err)
	}
	return dest, dest.ChatID != "", nil
}

func (s *SQLiteStore) InsertCPLLog(ctx context.Context, log CPLLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cpl_logs (ad_account_id, campaign_name, adset_name, ad_name, ad_meta_id, spend, leads, calculated_cpl, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.AccountID, log.CampaignName, log.AdSetName, log.AdName, log.AdID,
		log.Spend.String(), log.Leads, log.CPL.String(), toMillis(log.CheckedAt),
	)
	if err != nil {
		return fmt.Errorf("insert cpl log: %w", err)
	}
	return nil
}

const sqliteCPLLogColumns = `id, ad_account_id, campaign_name, adset_name, ad_name, ad_meta_id, spend, leads, calculated_cpl, checked_at`

func (s *SQLiteStore) ListCPLLogs(ctx context.Context, filter LogFilter) ([]CPLLog, error) {
	return s.queryCPLLogs(ctx,
		`SELECT `+sqliteCPLLogColumns+` FROM cpl_logs
		 WHERE (? = 0 OR ad_account_id = ?)
		 ORDER BY checked_at DESC, id DESC
		 LIMIT ?`,
		filter.AccountID, filter.AccountID, filter.NormalizedLimit(),
	)
}

func (s *SQLiteStore) ListCPLLogsBetween(ctx context.Context, accountID int64, from, to time.Time) ([]CPLLog, error) {
	return s.queryCPLLogs(ctx,
		`SELECT `+sqliteCPLLogColumns+` FROM cpl_logs
		 WHERE (? = 0 OR ad_account_id = ?)
		   AND checked_at >= ? AND checked_at < ?
		 ORDER BY checked_at, id`,
		accountID, accountID, from.UnixMilli(), to.UnixMilli(),
	)
}

func (s *SQLiteStore) queryCPLLogs(ctx context.Context, query string, args ...any) ([]CPLLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cpl logs: %w", err)
	}
	defer rows.Close()

	logs := make([]CPLLog, 0)
	for rows.Next() {
		var (
			rec       CPLLog
			checkedAt int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.AccountID, &rec.CampaignName, &rec.AdSetName, &rec.AdName, &rec.AdID,
			&rec.Spend, &rec.Leads, &rec.CPL, &checkedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cpl log: %w", err)
		}
		rec.CheckedAt = time.UnixMilli(checkedAt).UTC()
		logs = append(logs, rec)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) HasRecentAlert(ctx context.Context, adID string, kind AlertKind, accountID int64, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM alert_logs
		   WHERE ad_meta_id = ? AND alert_type = ? AND ad_account_id = ? AND created_at >= ?
		 )`,
		adID, string(kind), accountID, since.UnixMilli(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent alerts: %w", err)
	}
	return exists, nil
}

func (s *SQLiteStore) InsertAlert(ctx context.Context, alert AlertRecord) (int64, error) {
	if !alert.Kind.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, alert.Kind)
	}
	var agency any
	if alert.AgencyID != nil {
		agency = *alert.AgencyID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_logs (
		   ad_account_id, agency_id, alert_type, ad_meta_id, campaign_name, adset_name, ad_name,
		   spend, leads, calculated_cpl, cpl_threshold, message, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.AccountID, agency, string(alert.Kind), alert.AdID, alert.CampaignName, alert.AdSetName, alert.AdName,
		alert.Spend.String(), alert.Leads, alert.CPL.String(), alert.Threshold.String(), alert.Message, toMillis(alert.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateAlertMessage(ctx context.Context, id int64, message string) error {
	return s.execOne(ctx, "update alert message", `UPDATE alert_logs SET message = ? WHERE id = ?`, message, id)
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, filter LogFilter) ([]AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ad_account_id, agency_id, alert_type, ad_meta_id, campaign_name, adset_name, ad_name,
		        spend, leads, calculated_cpl, cpl_threshold, message, created_at
		 FROM alert_logs
		 WHERE (? = 0 OR ad_account_id = ?)
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		filter.AccountID, filter.AccountID, filter.NormalizedLimit(),
	)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0)
	for rows.Next() {
		var (
			rec       AlertRecord
			agency    sql.NullInt64
			kind      string
			createdAt int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.AccountID, &agency, &kind, &rec.AdID, &rec.CampaignName, &rec.AdSetName, &rec.AdName,
			&rec.Spend, &rec.Leads, &rec.CPL, &rec.Threshold, &rec.Message, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if agency.Valid {
			id := agency.Int64
			rec.AgencyID = &id
		}
		rec.Kind = AlertKind(kind)
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		alerts = append(alerts, rec)
	}
	return alerts, rows.Err()
}

func (s *SQLiteStore) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAccount(row rowScanner) (Account, error) {
	var (
		acc       Account
		agency    sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&acc.ID, &acc.ExternalID, &acc.Name, &acc.CPLThreshold, &acc.IsActive, &agency, &createdAt); err != nil {
		return Account{}, err
	}
	if agency.Valid {
		id := agency.Int64
		acc.AgencyID = &id
	}
	acc.CreatedAt = time.UnixMilli(createdAt).UTC()
	return acc, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}

var _ Repository = (*SQLiteStore)(nil)
