package service

import (
	"time"

	"alertcpl/internal/storage"
)

// CycleStatus summarises a whole reconciliation run.
type CycleStatus string

const (
	CycleOK             CycleStatus = "ok"
	CycleNoAccounts     CycleStatus = "no_accounts"
	CycleAlreadyRunning CycleStatus = "already_running"
	CycleFailed         CycleStatus = "failed"
)

// UnitStatus is the outcome of one account.
type UnitStatus string

const (
	UnitOK      UnitStatus = "ok"
	UnitSkipped UnitStatus = "skipped"
	UnitError   UnitStatus = "error"
)

// CycleResult aggregates per-account outcomes of one run.
type CycleResult struct {
	RunID      string          `json:"run_id,omitempty"`
	Status     CycleStatus     `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Accounts   []AccountResult `json:"accounts,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// AccountResult is the outcome of processing one account.
type AccountResult struct {
	AccountID      int64            `json:"account_id"`
	ExternalID     string           `json:"external_id"`
	Name           string           `json:"name"`
	Status         UnitStatus       `json:"status"`
	Samples        int              `json:"samples"`
	HistoryWritten int              `json:"history_written"`
	HistoryFailed  int              `json:"history_failed"`
	Incidents      []IncidentResult `json:"incidents,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// IncidentResult is the outcome of one raised alert. Outcome takes the
// telemetry.Outcome* values.
type IncidentResult struct {
	AdID    string            `json:"ad_id"`
	Kind    storage.AlertKind `json:"kind"`
	Outcome string            `json:"outcome"`
	AlertID int64             `json:"alert_id,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Summary holds cycle-level counters.
type Summary struct {
	Accounts       int            `json:"accounts"`
	Skipped        int            `json:"skipped"`
	Failed         int            `json:"failed"`
	Samples        int            `json:"samples"`
	HistoryWritten int            `json:"history_written"`
	Incidents      map[string]int `json:"incidents"`
}

// Summary counts accounts, samples and incidents by outcome.
func (r CycleResult) Summary() Summary {
	sum := Summary{Accounts: len(r.Accounts), Incidents: make(map[string]int)}
	for _, acc := range r.Accounts {
		switch acc.Status {
		case UnitSkipped:
			sum.Skipped++
		case UnitError:
			sum.Failed++
		}
		sum.Samples += acc.Samples
		sum.HistoryWritten += acc.HistoryWritten
		for _, inc := range acc.Incidents {
			sum.Incidents[inc.Outcome]++
		}
	}
	return sum
}

// Status is a point-in-time view of the loop for status endpoints.
type Status struct {
	State          RunState     `json:"state"`
	Running        bool         `json:"running"`
	LastRunStarted *time.Time   `json:"last_run_started,omitempty"`
	LastResult     *CycleResult `json:"last_result,omitempty"`
}
