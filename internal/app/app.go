// Package app assembles the entitlement engine from configuration. The API
// server, the cycle-roller Lambda and ledgerctl share this wiring so they
// read and write the same ledger with the same plans.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"flui/internal/billing"
	"flui/internal/config"
	"flui/internal/db"
	"flui/internal/entitlement"
	"flui/internal/external"
	"flui/internal/metrics"
	"flui/internal/scheduler"
	"flui/internal/telemetry"
	"flui/internal/types"
)

// rolloverLockTTL bounds how long a crashed worker blocks the next sweep.
const rolloverLockTTL = 15 * time.Minute

// App is the wired engine.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    db.Store
	Plans    billing.PlanRegistry
	Packages *billing.PackageCatalog
	Clients  *external.ClientRegistry
	Service  *entitlement.Service
	Usage    *billing.UsageReporter

	// CloudWatch is nil unless ENABLE_CLOUDWATCH is set.
	CloudWatch *telemetry.CloudWatchMetrics
}

// Option overrides part of the wiring, mainly for tests.
type Option func(*options)

type options struct {
	store db.Store
	clock func() time.Time
}

// WithStore uses store instead of opening cfg.Database.
func WithStore(store db.Store) Option {
	return func(o *options) { o.store = store }
}

// WithClock sets the clock of the entitlement service.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New opens the ledger store and builds the entitlement service.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := entitlement.ParseUnknownFeaturePolicy(cfg.Entitlement.UnknownFeaturePolicy)
	if err != nil {
		return nil, err
	}
	msgs, err := entitlement.DefaultMessages()
	if err != nil {
		return nil, fmt.Errorf("loading gate messages: %w", err)
	}

	store := o.store
	if store == nil {
		store, err = db.Open(ctx, cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("opening ledger store: %w", err)
		}
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Plans:    billing.NewStaticPlanRegistry(),
		Packages: billing.NewPackageCatalog(),
		Clients:  external.NewClientRegistry(cfg, logger),
	}

	publisher, recorders, err := a.telemetry(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}

	svcOpts := []entitlement.ServiceOption{
		entitlement.WithEventPublisher(metrics.CountingPublisher{Next: publisher}),
		entitlement.WithMetrics(recorders),
		entitlement.WithCycleMonths(cfg.Entitlement.CycleMonths),
	}
	if a.Clients.PaymentsEnabled() {
		svcOpts = append(svcOpts, entitlement.WithPaymentProvider(a.Clients.Payments))
	}
	if o.clock != nil {
		svcOpts = append(svcOpts, entitlement.WithClock(o.clock))
	}

	a.Service = entitlement.NewService(store, a.Plans, a.Packages,
		entitlement.NewResolver(a.Plans, policy, logger),
		entitlement.NewPromptBuilder(msgs, a.Packages, cfg.Entitlement.Locale),
		logger,
		svcOpts...,
	)
	a.Usage = billing.NewUsageReporter(store, a.Plans, cfg.Entitlement.HighUsageThreshold)
	return a, nil
}

// telemetry picks the gate event sink and the decision recorders. AWS is
// only contacted when the analytics queue or CloudWatch is configured.
func (a *App) telemetry(ctx context.Context) (types.GateEventPublisher, telemetry.MultiMetrics, error) {
	recorders := telemetry.MultiMetrics{metrics.AccessRecorder{}}
	obs := a.Config.Observability
	queueURL := a.Config.AWS.AnalyticsQueueURL

	if queueURL == "" && !obs.EnableCloudWatch {
		return telemetry.NewLogGatePublisher(a.Logger), recorders, nil
	}

	awsCfg, err := telemetry.LoadAWSConfig(ctx, a.Config.AWS)
	if err != nil {
		return nil, nil, err
	}

	var publisher types.GateEventPublisher
	if queueURL != "" {
		publisher = telemetry.NewSQSGatePublisher(telemetry.NewSQSClient(awsCfg), queueURL, a.Logger)
	} else {
		publisher = telemetry.NewLogGatePublisher(a.Logger)
	}

	if obs.EnableCloudWatch {
		a.CloudWatch = telemetry.NewCloudWatchMetrics(telemetry.NewCloudWatchClient(awsCfg), obs.MetricNamespace, a.Logger)
		recorders = append(recorders, a.CloudWatch)
	}
	return publisher, recorders, nil
}

// NewCycleRoller builds the rollover sweep. On PostgreSQL the sweep takes a
// job lock and is recorded in job_history.
func (a *App) NewCycleRoller(workerID string) *scheduler.CycleRoller {
	opts := []scheduler.RollerOption{
		scheduler.WithBatchSize(a.Config.Entitlement.RolloverBatchSize),
		scheduler.WithConcurrency(a.Config.Entitlement.RolloverConcurrency),
	}
	if a.CloudWatch != nil {
		opts = append(opts, scheduler.WithRecorder(a.CloudWatch))
	}
	if pg, ok := a.Store.(*db.PostgresStore); ok {
		opts = append(opts,
			scheduler.WithJobLock(db.NewJobLockRepository(pg.DB()), workerID, rolloverLockTTL),
			scheduler.WithJobHistory(db.NewJobHistoryRepository(pg.DB())),
		)
	}
	return scheduler.NewCycleRoller(a.Store, a.Service, a.Logger.With("component", "cycle_roller"), opts...)
}

// Close releases the ledger store.
func (a *App) Close() error {
	a.Store.Close()
	return nil
}
