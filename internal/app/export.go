package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"alertcpl/internal/storage"
)

// maxChartSeries bounds the number of ads drawn on one chart.
const maxChartSeries = 8

// Export renders CPL history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errNoStorage
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-7 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	logs, err := store.ListCPLLogsBetween(ctx, opts.AccountID, from, to)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		a.Logger.Info().Time("from", from).Time("to", to).Msg("no cpl logs found for export window")
		return nil
	}

	downsampled := downsampleLogs(logs, opts.MaxPoints)
	a.Logger.Info().Int("total", len(logs)).Int("exported", len(downsampled)).Msg("exporting cpl logs")

	if opts.CSVPath != "" {
		if err := writeLogsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeLogsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleLogs(logs []storage.CPLLog, max int) []storage.CPLLog {
	if max <= 0 || len(logs) <= max {
		return logs
	}
	if max == 1 {
		return logs[len(logs)-1:]
	}

	result := make([]storage.CPLLog, 0, max)
	step := float64(len(logs)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(logs) {
			idx = len(logs) - 1
		}
		result = append(result, logs[idx])
	}
	return result
}

func writeLogsCSV(path string, logs []storage.CPLLog) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"checked_at", "ad_account_id", "campaign_name", "adset_name", "ad_name", "ad_meta_id", "spend", "leads", "calculated_cpl"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, log := range logs {
		record := []string{
			log.CheckedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(log.AccountID, 10),
			log.CampaignName,
			log.AdSetName,
			log.AdName,
			log.AdID,
			log.Spend.String(),
			strconv.FormatInt(log.Leads, 10),
			log.CPL.StringFixed(2),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

type adSeries struct {
	label string
	x     []time.Time
	y     []float64
}

// groupByAd splits logs into per-ad series, keeping the ads with the most points.
func groupByAd(logs []storage.CPLLog, limit int) []adSeries {
	index := make(map[string]int)
	var series []adSeries
	for _, log := range logs {
		i, ok := index[log.AdID]
		if !ok {
			label := log.AdName
			if label == "" || label == "N/A" {
				label = log.AdID
			}
			i = len(series)
			index[log.AdID] = i
			series = append(series, adSeries{label: label})
		}
		series[i].x = append(series[i].x, log.CheckedAt)
		series[i].y = append(series[i].y, log.CPL.InexactFloat64())
	}

	sort.SliceStable(series, func(i, j int) bool { return len(series[i].x) > len(series[j].x) })
	if limit > 0 && len(series) > limit {
		series = series[:limit]
	}
	return series
}

func writeLogsPNG(path string, logs []storage.CPLLog) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	moneyFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "$%.2f")
	}

	var plotted []chart.Series
	for _, s := range groupByAd(logs, maxChartSeries) {
		// go-chart needs at least two points per series
		if len(s.x) < 2 {
			continue
		}
		plotted = append(plotted, chart.TimeSeries{Name: s.label, XValues: s.x, YValues: s.y})
	}
	if len(plotted) == 0 {
		return errors.New("not enough data points to draw a chart")
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Cost per lead",
			ValueFormatter: moneyFormatter,
		},
		Series: plotted,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatMoney(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
