package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertKind classifies a threshold violation.
type AlertKind string

const (
	// AlertZeroLeadsHighSpend fires when an ad spent at least the threshold without a single lead.
	AlertZeroLeadsHighSpend AlertKind = "ZERO_LEADS_HIGH_SPEND"
	// AlertHighCostPerLead fires when spend/leads exceeds the account threshold.
	AlertHighCostPerLead AlertKind = "HIGH_COST_PER_LEAD"
)

// Valid reports whether k is a known alert kind.
func (k AlertKind) Valid() bool {
	return k == AlertZeroLeadsHighSpend || k == AlertHighCostPerLead
}

const (
	// DefaultLogLimit is used when a listing request does not carry a limit.
	DefaultLogLimit = 50
	// MaxLogLimit caps listing requests.
	MaxLogLimit = 500
)

// Account is a monitored ad account. ExternalID is the ads-platform id, ID the internal one.
type Account struct {
	ID           int64           `json:"id"`
	ExternalID   string          `json:"account_id"`
	Name         string          `json:"account_name"`
	CPLThreshold decimal.Decimal `json:"cpl_threshold"`
	IsActive     bool            `json:"is_active"`
	AgencyID     *int64          `json:"agency_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Agency owns accounts and the chat their alerts go to.
type Agency struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	TelegramChatID string    `json:"telegram_chat_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Destination is the resolved notification target for an account.
type Destination struct {
	AgencyID   int64
	AgencyName string
	ChatID     string
}

// CPLLog is a persisted per-ad metric snapshot taken during a cycle.
type CPLLog struct {
	ID           int64           `json:"id"`
	AccountID    int64           `json:"ad_account_id"`
	CampaignName string          `json:"campaign_name"`
	AdSetName    string          `json:"adset_name"`
	AdName       string          `json:"ad_name"`
	AdID         string          `json:"ad_meta_id"`
	Spend        decimal.Decimal `json:"spend"`
	Leads        int64           `json:"leads"`
	CPL          decimal.Decimal `json:"calculated_cpl"`
	CheckedAt    time.Time       `json:"checked_at"`
}

// AlertRecord captures a raised incident. It is written before the notification
// is attempted and doubles as the de-duplication log.
type AlertRecord struct {
	ID           int64           `json:"id"`
	AccountID    int64           `json:"ad_account_id"`
	AgencyID     *int64          `json:"agency_id,omitempty"`
	Kind         AlertKind       `json:"alert_type"`
	AdID         string          `json:"ad_meta_id"`
	CampaignName string          `json:"campaign_name"`
	AdSetName    string          `json:"adset_name"`
	AdName       string          `json:"ad_name"`
	Spend        decimal.Decimal `json:"spend"`
	Leads        int64           `json:"leads"`
	CPL          decimal.Decimal `json:"calculated_cpl"`
	Threshold    decimal.Decimal `json:"cpl_threshold"`
	Message      string          `json:"message"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LogFilter narrows CPL log and alert listings.
type LogFilter struct {
	AccountID int64
	Limit     int
}

// NormalizedLimit applies the default and the upper bound.
func (f LogFilter) NormalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLogLimit
	case f.Limit > MaxLogLimit:
		return MaxLogLimit
	default:
		return f.Limit
	}
}
