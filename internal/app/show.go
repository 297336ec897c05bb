package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"alertcpl/internal/storage"
)

// Show prints recent CPL logs, or alert logs when opts.Alerts is set.
func (a *App) Show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errNoStorage
	}
	defer closeStore()

	filter := storage.LogFilter{AccountID: opts.AccountID, Limit: opts.Limit}
	if opts.Alerts {
		alerts, err := store.ListAlerts(ctx, filter)
		if err != nil {
			return err
		}
		printAlerts(out, alerts)
		return nil
	}

	logs, err := store.ListCPLLogs(ctx, filter)
	if err != nil {
		return err
	}
	printCPLLogs(out, logs)
	return nil
}

func printCPLLogs(out io.Writer, logs []storage.CPLLog) {
	if len(logs) == 0 {
		fmt.Fprintln(out, "no cpl logs found")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Checked (UTC)\tAccount\tCampaign\tAd\tSpend\tLeads\tCPL")
	for _, log := range logs {
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%d\t%s\n",
			log.CheckedAt.UTC().Format(time.RFC3339),
			log.AccountID,
			sanitizeInline(log.CampaignName),
			sanitizeInline(log.AdName),
			formatMoney(log.Spend),
			log.Leads,
			formatMoney(log.CPL),
		)
	}
	writer.Flush()
}

func printAlerts(out io.Writer, alerts []storage.AlertRecord) {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts found")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tAccount\tKind\tAd\tSpend\tLeads\tCPL\tThreshold")
	for _, alert := range alerts {
		cpl := formatMoney(alert.CPL)
		if alert.Kind == storage.AlertZeroLeadsHighSpend {
			cpl = "N/A"
		}
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.AccountID,
			alert.Kind,
			sanitizeInline(alert.AdName),
			formatMoney(alert.Spend),
			alert.Leads,
			cpl,
			formatMoney(alert.Threshold),
		)
	}
	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
