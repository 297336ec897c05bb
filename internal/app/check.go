package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"alertcpl/internal/service"
)

// Check runs a single reconciliation cycle and prints per-account results.
func (a *App) Check(ctx context.Context, out io.Writer) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errNoStorage
	}
	defer closeStore()

	_, metrics, err := newRegistry()
	if err != nil {
		return err
	}

	svc := a.newService(store, a.newMeta(), nil, metrics)
	res := svc.RunCycle(ctx)
	printCycle(out, res)

	if res.Status == service.CycleFailed {
		return errors.New(res.Error)
	}
	return nil
}

func printCycle(out io.Writer, res service.CycleResult) {
	fmt.Fprintf(out, "run %s: %s (%s)\n", res.RunID, res.Status, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	if len(res.Accounts) == 0 {
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Account\tName\tStatus\tSamples\tHistory\tIncidents\tError")
	for _, acc := range res.Accounts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			acc.ExternalID,
			sanitizeInline(acc.Name),
			acc.Status,
			acc.Samples,
			acc.HistoryWritten,
			incidentSummary(acc.Incidents),
			sanitizeInline(acc.Error),
		)
	}
	writer.Flush()
}

func incidentSummary(incidents []service.IncidentResult) string {
	if len(incidents) == 0 {
		return "-"
	}
	counts := make(map[string]int)
	for _, inc := range incidents {
		counts[inc.Outcome]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, ",")
}
