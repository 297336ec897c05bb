package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"alertcpl/internal/fetcher"
	"alertcpl/internal/storage"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name      string
		spend     string
		leads     int64
		threshold int64
		kind      storage.AlertKind
		cpl       string
		history   bool
		clamped   bool
	}{
		{name: "dormant without leads", spend: "0", leads: 0, threshold: 50},
		{name: "dormant with leads", spend: "0", leads: 5, threshold: 50},
		{name: "zero leads over threshold", spend: "100", leads: 0, threshold: 50, kind: storage.AlertZeroLeadsHighSpend, cpl: "0"},
		{name: "zero leads at threshold", spend: "50", leads: 0, threshold: 50, kind: storage.AlertZeroLeadsHighSpend, cpl: "0"},
		{name: "zero leads under threshold", spend: "40", leads: 0, threshold: 50},
		{name: "cpl over threshold", spend: "100", leads: 10, threshold: 5, kind: storage.AlertHighCostPerLead, cpl: "10", history: true},
		{name: "cpl under threshold", spend: "100", leads: 10, threshold: 20, cpl: "10", history: true},
		{name: "cpl equal to threshold", spend: "100", leads: 10, threshold: 10, cpl: "10", history: true},
		{name: "negative spend clamped", spend: "-5", leads: 3, threshold: 10, clamped: true},
		{name: "negative leads clamped", spend: "80", leads: -2, threshold: 50, kind: storage.AlertZeroLeadsHighSpend, cpl: "0", clamped: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sample := fetcher.MetricSample{AdID: "ad_1", Spend: decimal.RequireFromString(tc.spend), Leads: tc.leads}
			account := storage.Account{ID: 1, CPLThreshold: decimal.NewFromInt(tc.threshold)}

			ev := Evaluate(sample, account)
			assert.Equal(t, tc.kind, ev.Kind)
			assert.Equal(t, tc.kind != "", ev.Alert())
			assert.Equal(t, tc.history, ev.RecordHistory)
			assert.Equal(t, tc.clamped, ev.Clamped)
			if tc.cpl != "" {
				assert.True(t, ev.CPL.Equal(decimal.RequireFromString(tc.cpl)), "cpl=%s", ev.CPL)
			}
			assert.False(t, ev.Spend.IsNegative())
			assert.GreaterOrEqual(t, ev.Leads, int64(0))
		})
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	sample := fetcher.MetricSample{AdID: "ad_1", Spend: decimal.NewFromInt(100), Leads: 10}
	account := storage.Account{ID: 1, CPLThreshold: decimal.NewFromInt(5)}

	assert.Equal(t, Evaluate(sample, account), Evaluate(sample, account))
}
