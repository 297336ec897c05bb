package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when an addressed row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrUnknownKind rejects alert records whose kind is not a known AlertKind.
	ErrUnknownKind = errors.New("storage: unknown alert kind")
)

const (
	accountColumns = `id, account_id, account_name, cpl_threshold::text, is_active, agency_id, created_at`

	listActiveAccountsSQL = `SELECT ` + accountColumns + `
    FROM ad_accounts
    WHERE is_active = TRUE
    ORDER BY id;`

	listAccountsSQL = `SELECT ` + accountColumns + `
    FROM ad_accounts
    ORDER BY created_at DESC, id DESC;`

	getAccountSQL = `SELECT ` + accountColumns + `
    FROM ad_accounts
    WHERE id = $1;`

	updateThresholdSQL = `UPDATE ad_accounts SET cpl_threshold = $2 WHERE id = $1;`

	updateAccountNameSQL = `UPDATE ad_accounts SET account_name = $2 WHERE id = $1;`

	insertAgencySQL = `INSERT INTO agencies (name, telegram_chat_id)
    VALUES ($1, $2)
    RETURNING id;`

	insertAccountSQL = `INSERT INTO ad_accounts (
        account_id,
        account_name,
        cpl_threshold,
        is_active,
        agency_id
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id;`

	destinationSQL = `SELECT g.id, g.name, g.telegram_chat_id
    FROM ad_accounts a
    JOIN agencies g ON g.id = a.agency_id
    WHERE a.id = $1;`

	insertCPLLogSQL = `INSERT INTO cpl_logs (
        ad_account_id,
        campaign_name,
        adset_name,
        ad_name,
        ad_meta_id,
        spend,
        leads,
        calculated_cpl,
        checked_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	cplLogColumns = `id, ad_account_id, campaign_name, adset_name, ad_name, ad_meta_id,
        spend::text, leads, calculated_cpl::text, checked_at`

	listCPLLogsSQL = `SELECT ` + cplLogColumns + `
    FROM cpl_logs
    WHERE ($1::bigint = 0 OR ad_account_id = $1)
    ORDER BY checked_at DESC, id DESC
    LIMIT $2;`

	listCPLLogsBetweenSQL = `SELECT ` + cplLogColumns + `
    FROM cpl_logs
    WHERE ($1::bigint = 0 OR ad_account_id = $1)
      AND checked_at >= $2
      AND checked_at < $3
    ORDER BY checked_at, id;`

	hasRecentAlertSQL = `SELECT EXISTS (
        SELECT 1
        FROM alert_logs
        WHERE ad_meta_id = $1
          AND alert_type = $2
          AND ad_account_id = $3
          AND created_at >= $4
    );`

	insertAlertSQL = `INSERT INTO alert_logs (
        ad_account_id,
        agency_id,
        alert_type,
        ad_meta_id,
        campaign_name,
        adset_name,
        ad_name,
        spend,
        leads,
        calculated_cpl,
        cpl_threshold,
        message,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    RETURNING id;`

	updateAlertMessageSQL = `UPDATE alert_logs SET message = $2 WHERE id = $1;`

	listAlertsSQL = `SELECT
        id,
        ad_account_id,
        agency_id,
        alert_type,
        ad_meta_id,
        campaign_name,
        adset_name,
        ad_name,
        spend::text,
        leads,
        calculated_cpl::text,
        cpl_threshold::text,
        message,
        created_at
    FROM alert_logs
    WHERE ($1::bigint = 0 OR ad_account_id = $1)
    ORDER BY created_at DESC, id DESC
    LIMIT $2;`
)

// AccountStore exposes the monitored accounts.
type AccountStore interface {
	ListActiveAccounts(ctx context.Context) ([]Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	UpdateThreshold(ctx context.Context, id int64, threshold decimal.Decimal) error
	UpdateAccountName(ctx context.Context, id int64, name string) error
}

// HistoryStore persists CPL snapshots.
type HistoryStore interface {
	InsertCPLLog(ctx context.Context, log CPLLog) error
	ListCPLLogs(ctx context.Context, filter LogFilter) ([]CPLLog, error)
	ListCPLLogsBetween(ctx context.Context, accountID int64, from, to time.Time) ([]CPLLog, error)
}

// AlertStore defines operations for alert auditing and de-duplication.
type AlertStore interface {
	HasRecentAlert(ctx context.Context, adID string, kind AlertKind, accountID int64, since time.Time) (bool, error)
	InsertAlert(ctx context.Context, alert AlertRecord) (int64, error)
	UpdateAlertMessage(ctx context.Context, id int64, message string) error
	ListAlerts(ctx context.Context, filter LogFilter) ([]AlertRecord, error)
}

// DestinationStore resolves where an account's alerts are delivered.
type DestinationStore interface {
	// NotificationDestination returns ok=false when the account has no agency or
	// the agency has no chat configured.
	NotificationDestination(ctx context.Context, accountID int64) (Destination, bool, error)
}

// Provisioner creates agencies and accounts. Used by tooling and simulations.
type Provisioner interface {
	CreateAgency(ctx context.Context, agency Agency) (int64, error)
	CreateAccount(ctx context.Context, account Account) (int64, error)
}

// Repository is the full persistence surface implemented by every backend.
type Repository interface {
	AccountStore
	HistoryStore
	AlertStore
	DestinationStore
	Provisioner
	Migrate(ctx context.Context) error
	Close()
}

// Store is the PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range splitStatements(postgresSchema) {
		if _, execErr := pool.Exec(ctx, stmt); execErr != nil {
			return fmt.Errorf("apply schema: %w", execErr)
		}
	}
	return nil
}

// ListActiveAccounts returns accounts flagged active, ordered by id.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	return s.queryAccounts(ctx, listActiveAccountsSQL)
}

// ListAccounts returns every account, newest first.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.queryAccounts(ctx, listAccountsSQL)
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]Account, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list accounts: %w", queryErr)
	}
	defer rows.Close()

	accounts := make([]Account, 0)
	for rows.Next() {
		acc, scanErr := scanAccount(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		accounts = append(accounts, acc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return accounts, nil
}

// GetAccount loads a single account by internal id.
func (s *Store) GetAccount(ctx context.Context, id int64) (Account, error) {
	pool, err := s.getPool()
	if err != nil {
		return Account{}, err
	}
	acc, scanErr := scanAccount(pool.QueryRow(ctx, getAccountSQL, id))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if scanErr != nil {
		return Account{}, fmt.Errorf("get account: %w", scanErr)
	}
	return acc, nil
}

// UpdateThreshold changes an account's CPL threshold.
func (s *Store) UpdateThreshold(ctx context.Context, id int64, threshold decimal.Decimal) error {
	return s.execOne(ctx, "update threshold", updateThresholdSQL, id, threshold.String())
}

// UpdateAccountName changes an account's display name.
func (s *Store) UpdateAccountName(ctx context.Context, id int64, name string) error {
	return s.execOne(ctx, "update account name", updateAccountNameSQL, id, name)
}

// CreateAgency inserts an agency and returns its id.
func (s *Store) CreateAgency(ctx context.Context, agency Agency) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	if scanErr := pool.QueryRow(ctx, insertAgencySQL, agency.Name, agency.TelegramChatID).Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert agency: %w", scanErr)
	}
	return id, nil
}

// CreateAccount inserts an account and returns its internal id.
func (s *Store) CreateAccount(ctx context.Context, account Account) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	if scanErr := pool.QueryRow(ctx, insertAccountSQL,
		account.ExternalID,
		account.Name,
		account.CPLThreshold.String(),
		account.IsActive,
		account.AgencyID,
	).Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert account: %w", scanErr)
	}
	return id, nil
}

// NotificationDestination resolves the agency chat for an account.
func (s *Store) NotificationDestination(ctx context.Context, accountID int64) (Destination, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Destination{}, false, err
	}

	var dest Destination
	scanErr := pool.QueryRow(ctx, destinationSQL, accountID).Scan(&dest.AgencyID, &dest.AgencyName, &dest.ChatID)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Destination{}, false, nil
	}
	if scanErr != nil {
		return Destination{}, false, fmt.Errorf("resolve destination: %w", scanErr)
	}
	if dest.ChatID == "" {
		return dest, false, nil
	}
	return dest, true, nil
}

// InsertCPLLog appends a CPL snapshot.
func (s *Store) InsertCPLLog(ctx context.Context, log CPLLog) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	checkedAt := log.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}

	_, execErr := pool.Exec(ctx, insertCPLLogSQL,
		log.AccountID,
		log.CampaignName,
		log.AdSetName,
		log.AdName,
		log.AdID,
		log.Spend.String(),
		log.Leads,
		log.CPL.String(),
		checkedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert cpl log: %w", execErr)
	}
	return nil
}

// ListCPLLogs lists the most recent CPL snapshots.
func (s *Store) ListCPLLogs(ctx context.Context, filter LogFilter) ([]CPLLog, error) {
	return s.queryCPLLogs(ctx, listCPLLogsSQL, filter.AccountID, filter.NormalizedLimit())
}

// ListCPLLogsBetween lists CPL snapshots in [from, to) ordered by time. accountID 0 means all.
func (s *Store) ListCPLLogsBetween(ctx context.Context, accountID int64, from, to time.Time) ([]CPLLog, error) {
	return s.queryCPLLogs(ctx, listCPLLogsBetweenSQL, accountID, from, to)
}

func (s *Store) queryCPLLogs(ctx context.Context, query string, args ...any) ([]CPLLog, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list cpl logs: %w", queryErr)
	}
	defer rows.Close()

	logs := make([]CPLLog, 0)
	for rows.Next() {
		var (
			rec              CPLLog
			spendStr, cplStr string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.AccountID,
			&rec.CampaignName,
			&rec.AdSetName,
			&rec.AdName,
			&rec.AdID,
			&spendStr,
			&rec.Leads,
			&cplStr,
			&rec.CheckedAt,
		); err != nil {
			return nil, err
		}
		if rec.Spend, err = decimal.NewFromString(spendStr); err != nil {
			return nil, fmt.Errorf("parse spend: %w", err)
		}
		if rec.CPL, err = decimal.NewFromString(cplStr); err != nil {
			return nil, fmt.Errorf("parse cpl: %w", err)
		}
		logs = append(logs, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return logs, nil
}

// HasRecentAlert reports whether an alert with the same ad, kind and account exists since the given time.
func (s *Store) HasRecentAlert(ctx context.Context, adID string, kind AlertKind, accountID int64, since time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, hasRecentAlertSQL, adID, string(kind), accountID, since).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("check recent alerts: %w", scanErr)
	}
	return exists, nil
}

// InsertAlert persists an alert record and returns its id.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (int64, error) {
	if !alert.Kind.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, alert.Kind)
	}
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var id int64
	if scanErr := pool.QueryRow(ctx, insertAlertSQL,
		alert.AccountID,
		alert.AgencyID,
		string(alert.Kind),
		alert.AdID,
		alert.CampaignName,
		alert.AdSetName,
		alert.AdName,
		alert.Spend.String(),
		alert.Leads,
		alert.CPL.String(),
		alert.Threshold.String(),
		alert.Message,
		createdAt,
	).Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert alert: %w", scanErr)
	}
	return id, nil
}

// UpdateAlertMessage attaches the rendered message to an alert record.
func (s *Store) UpdateAlertMessage(ctx context.Context, id int64, message string) error {
	return s.execOne(ctx, "update alert message", updateAlertMessageSQL, id, message)
}

// ListAlerts lists most recent alerts.
func (s *Store) ListAlerts(ctx context.Context, filter LogFilter) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	limit := filter.NormalizedLimit()
	rows, queryErr := pool.Query(ctx, listAlertsSQL, filter.AccountID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var (
			rec                            AlertRecord
			kind                           string
			spendStr, cplStr, thresholdStr string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.AccountID,
			&rec.AgencyID,
			&kind,
			&rec.AdID,
			&rec.CampaignName,
			&rec.AdSetName,
			&rec.AdName,
			&spendStr,
			&rec.Leads,
			&cplStr,
			&thresholdStr,
			&rec.Message,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Kind = AlertKind(kind)
		if err := parseDecimals(
			decimalField{"spend", spendStr, &rec.Spend},
			decimalField{"cpl", cplStr, &rec.CPL},
			decimalField{"threshold", thresholdStr, &rec.Threshold},
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, query, args...)
	if execErr != nil {
		return fmt.Errorf("%s: %w", op, execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acc          Account
		thresholdStr string
	)
	if err := row.Scan(
		&acc.ID,
		&acc.ExternalID,
		&acc.Name,
		&thresholdStr,
		&acc.IsActive,
		&acc.AgencyID,
		&acc.CreatedAt,
	); err != nil {
		return Account{}, err
	}
	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return Account{}, fmt.Errorf("parse cpl threshold: %w", err)
	}
	acc.CPLThreshold = threshold
	return acc, nil
}

type decimalField struct {
	name string
	raw  string
	dst  *decimal.Decimal
}

func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		value, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = value
	}
	return nil
}

var _ Repository = (*Store)(nil)
