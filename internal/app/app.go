package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"alertcpl/internal/alerting"
	"alertcpl/internal/config"
	"alertcpl/internal/fetcher"
	"alertcpl/internal/logging"
	"alertcpl/internal/scheduler"
	"alertcpl/internal/server"
	"alertcpl/internal/service"
	"alertcpl/internal/storage"
	"alertcpl/internal/telemetry"
)

// errNoStorage is returned by commands that cannot work without a database.
var errNoStorage = errors.New("database not configured; set database.dsn or database.driver=sqlite")

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) newMeta() *fetcher.Meta {
	cfg := a.Config.Meta
	return fetcher.NewMeta(fetcher.MetaOptions{
		AccessToken: cfg.AccessToken,
		BaseURL:     cfg.APIBase,
		APIVersion:  cfg.APIVersion,
		Timeout:     cfg.RequestTimeout,
		PageLimit:   cfg.PageLimit,
		MaxPages:    cfg.MaxPages,
		UserAgent:   cfg.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() *alerting.TelegramNotifier {
	cfg := a.Config.Telegram
	if !cfg.Enabled {
		return nil
	}
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, alerting.ParseDialect(cfg.ParseMode), cfg.RequestTimeout, a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.Repository, func(), error) {
	if !a.Config.StorageConfigured() {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) serviceOptions() service.Options {
	return service.Options{
		SuppressionWindow: a.Config.Alerting.SuppressionWindow,
		DatePreset:        a.Config.Meta.DatePreset,
		Dialect:           alerting.ParseDialect(a.Config.Telegram.ParseMode),
		AlertsEnabled:     a.Config.Alerting.Enabled,
	}
}

// newService wires the reconciliation loop. A nil notifier is passed through as
// a nil interface so incidents are logged without delivery.
func (a *App) newService(store service.Store, source fetcher.MetricsSource, sched *scheduler.Scheduler, metrics *telemetry.Metrics) *service.Service {
	opts := a.serviceOptions()
	var notifier alerting.Notifier
	if n := a.newNotifier(); n != nil {
		notifier = n
		opts.Dialect = n.Dialect()
	}
	return service.New(store, source, notifier, sched, metrics, opts, a.Logger)
}

func newRegistry() (*prometheus.Registry, *telemetry.Metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := telemetry.New(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("register metrics: %w", err)
	}
	return reg, metrics, nil
}

// Run executes the long-running reconciliation service and its HTTP surface.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errNoStorage
	}
	defer closeStore()

	if a.Config.Meta.AccessToken == "" {
		a.Logger.Warn().Msg("meta.access_token not configured; every account fetch will fail")
	}
	if !a.Config.Telegram.Enabled {
		a.Logger.Warn().Msg("telegram disabled; incidents will be logged without notification")
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}

	reg, metrics, err := newRegistry()
	if err != nil {
		return err
	}

	svc := a.newService(store, a.newMeta(), sched, metrics)

	errCh := make(chan error, 1)
	if a.Config.Server.Enabled {
		if a.Config.Server.TriggerSecret == "" {
			a.Logger.Warn().Msg("server.trigger_secret not set; manual trigger will reject every request")
		}
		srv := server.New(svc, store, server.Options{
			Listen:        a.Config.Server.Listen,
			TriggerSecret: a.Config.Server.TriggerSecret,
			ReadTimeout:   a.Config.Server.ReadTimeout,
			WriteTimeout:  a.Config.Server.WriteTimeout,
			Gatherer:      reg,
		}, a.Logger)
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
				cancel()
			}
		}()
	}

	a.Logger.Info().
		Dur("interval", a.Config.Scheduler.Interval).
		Dur("suppression_window", a.Config.Alerting.SuppressionWindow).
		Msg("starting reconciliation service")

	err = svc.Run(ctx)
	select {
	case srvErr := <-errCh:
		a.Logger.Error().Err(srvErr).Msg("http server terminated")
		return srvErr
	default:
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("reconciliation service stopped")
	return nil
}

// ExportOptions hold parameters for exporting CPL history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	AccountID int64
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit     int
	AccountID int64
	Alerts    bool
}

// SimulateOptions describe a synthetic sample pushed through the real loop.
type SimulateOptions struct {
	Spend     float64
	Leads     int64
	Threshold float64
	ChatID    string
	AdName    string
}
