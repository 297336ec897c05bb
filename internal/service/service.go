package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"alertcpl/internal/alerting"
	"alertcpl/internal/fetcher"
	"alertcpl/internal/logging"
	"alertcpl/internal/scheduler"
	"alertcpl/internal/storage"
	"alertcpl/internal/telemetry"
)

// ErrAlreadyRunning is reported when a cycle is requested while another is in flight.
var ErrAlreadyRunning = errors.New("reconciliation already running")

// Store is the persistence surface the reconciliation loop reads and writes.
type Store interface {
	storage.AccountStore
	storage.HistoryStore
	storage.AlertStore
	storage.DestinationStore
}

// Options tune the reconciliation loop.
type Options struct {
	SuppressionWindow time.Duration
	DatePreset        string
	Dialect           alerting.Dialect
	AlertsEnabled     bool
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Service runs reconciliation cycles: fetch, evaluate, log, dedup and notify.
type Service struct {
	store     Store
	source    fetcher.MetricsSource
	notifier  alerting.Notifier
	scheduler *scheduler.Scheduler
	metrics   *telemetry.Metrics
	dedup     *DedupGate
	guard     *runGuard
	logger    zerolog.Logger

	datePreset string
	dialect    alerting.Dialect
	alertsOn   bool
	now        func() time.Time
}

// New constructs the reconciliation service. notifier, sched and metrics may be nil.
func New(store Store, source fetcher.MetricsSource, notifier alerting.Notifier, sched *scheduler.Scheduler, metrics *telemetry.Metrics, opts Options, logger zerolog.Logger) *Service {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	preset := opts.DatePreset
	if preset == "" {
		preset = fetcher.DefaultDatePreset
	}
	dialect := opts.Dialect
	if dialect == "" {
		dialect = alerting.DialectPlain
	}

	return &Service{
		store:      store,
		source:     source,
		notifier:   notifier,
		scheduler:  sched,
		metrics:    metrics,
		dedup:      NewDedupGate(store, opts.SuppressionWindow),
		guard:      newRunGuard(),
		logger:     logging.Component(logger, "service"),
		datePreset: preset,
		dialect:    dialect,
		alertsOn:   opts.AlertsEnabled,
		now:        now,
	}
}

// Run drives RunCycle from the scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, _ time.Time) error {
		res := s.RunCycle(ctx)
		if res.Status == CycleFailed {
			return errors.New(res.Error)
		}
		return nil
	})
}

// Status reports the current run state and the last finished cycle.
func (s *Service) Status() Status {
	return s.guard.snapshot()
}

// RunCycle performs one reconciliation pass. Concurrent callers get
// CycleAlreadyRunning immediately. A started cycle ignores cancellation of ctx
// and runs to completion.
func (s *Service) RunCycle(ctx context.Context) (result CycleResult) {
	started := s.now()
	if !s.guard.tryAcquire(started) {
		s.logger.Info().Msg("cycle requested while another is running, skipped")
		s.metrics.ObserveCycle(string(CycleAlreadyRunning), 0)
		return CycleResult{Status: CycleAlreadyRunning, StartedAt: started, Error: ErrAlreadyRunning.Error()}
	}

	result = CycleResult{RunID: uuid.NewString(), Status: CycleOK, StartedAt: started}
	defer func() {
		result.FinishedAt = s.now()
		s.guard.release(result)
		s.metrics.ObserveCycle(string(result.Status), result.FinishedAt.Sub(result.StartedAt))
	}()

	ctx = context.WithoutCancel(ctx)
	logger := s.logger.With().Str("run_id", result.RunID).Logger()
	logger.Info().Msg("reconciliation cycle started")

	accounts, err := s.store.ListActiveAccounts(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list active accounts")
		result.Status = CycleFailed
		result.Error = err.Error()
		return result
	}
	if len(accounts) == 0 {
		logger.Info().Msg("no active accounts")
		result.Status = CycleNoAccounts
		return result
	}

	for _, account := range accounts {
		result.Accounts = append(result.Accounts, s.processAccount(ctx, logger, account))
	}

	sum := result.Summary()
	logger.Info().
		Int("accounts", sum.Accounts).
		Int("samples", sum.Samples).
		Int("history_written", sum.HistoryWritten).
		Int("notified", sum.Incidents[telemetry.OutcomeNotified]).
		Int("suppressed", sum.Incidents[telemetry.OutcomeSuppressed]).
		Msg("reconciliation cycle finished")
	return result
}

func (s *Service) processAccount(ctx context.Context, logger zerolog.Logger, account storage.Account) AccountResult {
	res := AccountResult{AccountID: account.ID, ExternalID: account.ExternalID, Name: account.Name, Status: UnitOK}
	logger = logger.With().Int64("account_id", account.ID).Str("external_id", account.ExternalID).Logger()

	samples, err := s.source.FetchSamples(ctx, account.ExternalID, s.datePreset)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch samples")
		res.Status = UnitError
		res.Error = err.Error()
		return res
	}
	if len(samples) == 0 {
		logger.Info().Msg("no samples for account, skipped")
		res.Status = UnitSkipped
		return res
	}

	for _, sample := range samples {
		res.Samples++
		s.processSample(ctx, logger.With().Str("ad_id", sample.AdID).Logger(), account, sample, &res)
	}
	return res
}

func (s *Service) processSample(ctx context.Context, logger zerolog.Logger, account storage.Account, sample fetcher.MetricSample, res *AccountResult) {
	ev := Evaluate(sample, account)
	s.metrics.ObserveSample()
	if ev.Clamped {
		logger.Warn().
			Str("spend", sample.Spend.String()).
			Int64("leads", sample.Leads).
			Msg("negative metrics clamped to zero")
	}

	if ev.RecordHistory {
		err := s.store.InsertCPLLog(ctx, storage.CPLLog{
			AccountID:    account.ID,
			CampaignName: sample.CampaignName,
			AdSetName:    sample.AdSetName,
			AdName:       sample.AdName,
			AdID:         sample.AdID,
			Spend:        ev.Spend,
			Leads:        ev.Leads,
			CPL:          ev.CPL,
			CheckedAt:    s.now(),
		})
		s.metrics.ObserveHistory(err == nil)
		if err != nil {
			logger.Error().Err(err).Msg("failed to persist cpl log, sample skipped")
			res.HistoryFailed++
			return
		}
		res.HistoryWritten++
	}

	if !ev.Alert() || !s.alertsOn {
		return
	}

	inc := s.raise(ctx, logger.With().Str("kind", string(ev.Kind)).Logger(), account, sample, ev)
	s.metrics.ObserveIncident(string(ev.Kind), inc.Outcome)
	res.Incidents = append(res.Incidents, inc)
}

// raise runs the incident pipeline. The alert row is written before any
// delivery attempt and is never rolled back.
func (s *Service) raise(ctx context.Context, logger zerolog.Logger, account storage.Account, sample fetcher.MetricSample, ev Evaluation) IncidentResult {
	inc := IncidentResult{AdID: sample.AdID, Kind: ev.Kind}
	now := s.now()

	suppress, err := s.dedup.ShouldSuppress(ctx, sample.AdID, ev.Kind, account.ID, now)
	if err != nil {
		logger.Error().Err(err).Msg("dedup lookup failed, incident skipped")
		inc.Outcome = telemetry.OutcomeDedupFailed
		inc.Error = err.Error()
		return inc
	}
	if suppress {
		logger.Info().Msg("duplicate alert skipped")
		inc.Outcome = telemetry.OutcomeSuppressed
		return inc
	}

	record := storage.AlertRecord{
		AccountID:    account.ID,
		AgencyID:     account.AgencyID,
		Kind:         ev.Kind,
		AdID:         sample.AdID,
		CampaignName: sample.CampaignName,
		AdSetName:    sample.AdSetName,
		AdName:       sample.AdName,
		Spend:        ev.Spend,
		Leads:        ev.Leads,
		CPL:          ev.CPL,
		Threshold:    account.CPLThreshold,
		CreatedAt:    now,
	}
	id, err := s.store.InsertAlert(ctx, record)
	if err != nil {
		logger.Error().Err(err).Msg("failed to log alert, notification aborted")
		inc.Outcome = telemetry.OutcomeLogFailed
		inc.Error = err.Error()
		return inc
	}
	inc.AlertID = id
	logger = logger.With().Int64("alert_id", id).Logger()

	dest, ok, err := s.store.NotificationDestination(ctx, account.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve notification destination")
		inc.Outcome = telemetry.OutcomeNoDestination
		inc.Error = err.Error()
		return inc
	}
	if !ok {
		logger.Warn().Msg("account has no notification destination, alert logged only")
		inc.Outcome = telemetry.OutcomeNoDestination
		return inc
	}

	text := alerting.Render(alerting.Message{
		Kind:         ev.Kind,
		AccountName:  account.Name,
		CampaignName: sample.CampaignName,
		AdSetName:    sample.AdSetName,
		AdName:       sample.AdName,
		Spend:        ev.Spend,
		Leads:        ev.Leads,
		CPL:          ev.CPL,
		Threshold:    account.CPLThreshold,
	}, s.dialect)

	if err := s.store.UpdateAlertMessage(ctx, id, text); err != nil {
		logger.Warn().Err(err).Msg("failed to attach message to alert log")
	}

	if s.notifier == nil {
		logger.Info().Msg("notifier disabled, alert logged only")
		inc.Outcome = telemetry.OutcomeLoggedOnly
		return inc
	}

	err = s.notifier.Notify(ctx, dest.ChatID, text)
	s.metrics.ObserveNotification(err == nil)
	if err != nil {
		event := logger.Error().Err(err).Str("chat_id", dest.ChatID)
		var sendErr *alerting.SendError
		if errors.As(err, &sendErr) {
			event = event.Int("status_code", sendErr.StatusCode).Bool("malformed", sendErr.Malformed())
		}
		event.Msg("failed to dispatch alert")
		inc.Outcome = telemetry.OutcomeNotifyFailed
		inc.Error = err.Error()
		return inc
	}

	logger.Info().Str("chat_id", dest.ChatID).Str("agency", dest.AgencyName).Msg("alert dispatched")
	inc.Outcome = telemetry.OutcomeNotified
	return inc
}
