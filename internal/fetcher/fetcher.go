package fetcher

import (
	"context"

	"github.com/shopspring/decimal"
)

// DefaultDatePreset is the reporting window used when none is configured.
const DefaultDatePreset = "today"

// MetricSample is one ad's aggregated metrics over the reporting window.
type MetricSample struct {
	CampaignID   string
	CampaignName string
	AdSetName    string
	AdName       string
	AdID         string
	Spend        decimal.Decimal
	Leads        int64
}

// MetricsSource returns per-ad samples for an ad account. Implementations must
// be free of side effects on the source platform so calls can be repeated.
type MetricsSource interface {
	FetchSamples(ctx context.Context, accountID, datePreset string) ([]MetricSample, error)
}

// AccountNamer resolves the display name of an ad account on the platform.
type AccountNamer interface {
	FetchAccountName(ctx context.Context, accountID string) (string, error)
}
