package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"alertcpl/internal/alerting"
	"alertcpl/internal/fetcher"
	"alertcpl/internal/service"
	"alertcpl/internal/storage"
)

const simulatedAccountID = "simulated"

// SimulateAlert pushes one synthetic sample through the real reconciliation loop
// backed by an in-memory database. When opts.ChatID is set the rendered alert is
// delivered through the configured Telegram bot.
func (a *App) SimulateAlert(ctx context.Context, out io.Writer, opts SimulateOptions) error {
	if opts.Spend < 0 || opts.Leads < 0 {
		return errors.New("spend and leads must not be negative")
	}
	if opts.Threshold <= 0 {
		return errors.New("threshold must be greater than zero")
	}

	opt := a.serviceOptions()
	opt.AlertsEnabled = true

	var notifier alerting.Notifier
	if opts.ChatID != "" {
		n := a.newNotifier()
		if n == nil {
			return errors.New("telegram is not enabled; cannot deliver to --chat-id")
		}
		notifier = n
		opt.Dialect = n.Dialect()
	}

	store, err := storage.OpenSQLite(ctx, storage.MemoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	account := storage.Account{
		ExternalID:   simulatedAccountID,
		Name:         "Simulated account",
		CPLThreshold: decimal.NewFromFloat(opts.Threshold),
		IsActive:     true,
	}
	if opts.ChatID != "" {
		agencyID, err := store.CreateAgency(ctx, storage.Agency{Name: "Simulation", TelegramChatID: opts.ChatID})
		if err != nil {
			return err
		}
		account.AgencyID = &agencyID
	}
	if account.ID, err = store.CreateAccount(ctx, account); err != nil {
		return err
	}

	adName := opts.AdName
	if adName == "" {
		adName = "Simulated ad"
	}
	source := &fetcher.Static{Samples: map[string][]fetcher.MetricSample{
		simulatedAccountID: {{
			CampaignName: "Simulated campaign",
			AdSetName:    "Simulated ad set",
			AdName:       adName,
			AdID:         "sim_ad_1",
			Spend:        decimal.NewFromFloat(opts.Spend),
			Leads:        opts.Leads,
		}},
	}}

	svc := service.New(store, source, notifier, nil, nil, opt, a.Logger)

	res := svc.RunCycle(ctx)
	printCycle(out, res)

	alerts, err := store.ListAlerts(ctx, storage.LogFilter{AccountID: account.ID})
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alert raised for this sample")
		return nil
	}
	for _, alert := range alerts {
		text := alert.Message
		if text == "" {
			text = alerting.Render(alerting.Message{
				Kind:         alert.Kind,
				AccountName:  account.Name,
				CampaignName: alert.CampaignName,
				AdSetName:    alert.AdSetName,
				AdName:       alert.AdName,
				Spend:        alert.Spend,
				Leads:        alert.Leads,
				CPL:          alert.CPL,
				Threshold:    alert.Threshold,
			}, opt.Dialect)
		}
		fmt.Fprintf(out, "\n[%s] alert #%d\n%s\n", alert.Kind, alert.ID, text)
	}
	return nil
}
