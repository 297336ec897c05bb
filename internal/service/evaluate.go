package service

import (
	"github.com/shopspring/decimal"

	"alertcpl/internal/fetcher"
	"alertcpl/internal/storage"
)

// Evaluation is the outcome of checking one sample against its account threshold.
type Evaluation struct {
	// Kind is empty when the sample raised no alert.
	Kind  storage.AlertKind
	Spend decimal.Decimal
	Leads int64
	// CPL is zero for samples without leads.
	CPL decimal.Decimal
	// RecordHistory is set for every sample with leads, whether or not it alerts.
	RecordHistory bool
	// Clamped reports that negative spend or leads were reset to zero.
	Clamped bool
}

// Alert reports whether the evaluation raised an incident.
func (e Evaluation) Alert() bool {
	return e.Kind != ""
}

// Evaluate applies the threshold rules to a sample. It has no side effects.
func Evaluate(sample fetcher.MetricSample, account storage.Account) Evaluation {
	ev := Evaluation{Spend: sample.Spend, Leads: sample.Leads, CPL: decimal.Zero}
	if ev.Spend.IsNegative() {
		ev.Spend = decimal.Zero
		ev.Clamped = true
	}
	if ev.Leads < 0 {
		ev.Leads = 0
		ev.Clamped = true
	}

	threshold := account.CPLThreshold
	switch {
	case ev.Spend.IsZero():
	case ev.Leads == 0:
		if ev.Spend.GreaterThanOrEqual(threshold) {
			ev.Kind = storage.AlertZeroLeadsHighSpend
		}
	default:
		ev.CPL = ev.Spend.Div(decimal.NewFromInt(ev.Leads))
		ev.RecordHistory = true
		if ev.CPL.GreaterThan(threshold) {
			ev.Kind = storage.AlertHighCostPerLead
		}
	}
	return ev
}
