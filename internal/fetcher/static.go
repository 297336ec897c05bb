package fetcher

import "context"

// Static serves fixed samples keyed by account id. Used for simulations.
type Static struct {
	Samples map[string][]MetricSample
}

// FetchSamples returns the configured samples for the account, or nil.
func (s *Static) FetchSamples(ctx context.Context, accountID, datePreset string) ([]MetricSample, error) {
	return s.Samples[normalizeAccountID(accountID)], nil
}

var _ MetricsSource = (*Static)(nil)
