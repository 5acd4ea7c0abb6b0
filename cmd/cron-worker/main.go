package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mateovidal/brandvault-backend/internal/assets"
	"github.com/mateovidal/brandvault-backend/internal/billing"
	"github.com/mateovidal/brandvault-backend/internal/cron"
	"github.com/mateovidal/brandvault-backend/internal/escalation"
	"github.com/mateovidal/brandvault-backend/internal/incidents"
	"github.com/mateovidal/brandvault-backend/internal/pipeline"
	"github.com/mateovidal/brandvault-backend/internal/reconcile"
	"github.com/mateovidal/brandvault-backend/internal/reliability"
	"github.com/mateovidal/brandvault-backend/pkg/config"
	"github.com/mateovidal/brandvault-backend/pkg/db"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/metrics"
	"github.com/mateovidal/brandvault-backend/pkg/migrate"
	"github.com/mateovidal/brandvault-backend/pkg/outbox"
	"github.com/mateovidal/brandvault-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	assetRepo := assets.NewRepository(dbClient.DB())
	uploadRepo := assets.NewUploadSessionRepository(dbClient.DB())
	incidentRepo := incidents.NewRepository(dbClient.DB())
	ticketRepo := escalation.NewTicketRepository(dbClient.DB())
	failureRepo := pipeline.NewFailureRepository(dbClient.DB())

	planService, err := billing.NewService(billing.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create plan service", err)
		os.Exit(1)
	}

	reconciler, err := reconcile.NewEngine(reconcile.EngineParams{
		DB:       dbClient,
		Repo:     assetRepo,
		Leases:   redisClient,
		Outbox:   outboxService,
		Metrics:  pipelineMetrics,
		Logger:   logg,
		LeaseTTL: cfg.Pipeline.ReconcileLeaseTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile engine", err)
		os.Exit(1)
	}

	reliabilityEngine, err := reliability.NewEngine(reliability.EngineParams{
		DB:               dbClient,
		Incidents:        incidentRepo,
		Reconciler:       reconciler,
		Outbox:           outboxService,
		Plans:            planService,
		Metrics:          pipelineMetrics,
		Logger:           logg,
		FailureThreshold: cfg.Escalation.FailureThreshold,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reliability engine", err)
		os.Exit(1)
	}

	escalationService, err := escalation.NewService(escalation.ServiceParams{
		DB:               dbClient,
		Tickets:          ticketRepo,
		Incidents:        incidentRepo,
		Outbox:           outboxService,
		Metrics:          pipelineMetrics,
		Logger:           logg,
		FailureThreshold: cfg.Escalation.FailureThreshold,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create escalation service", err)
		os.Exit(1)
	}

	stuckJob, err := cron.NewStuckAssetJob(cron.StuckAssetJobParams{
		Logger:      logg,
		Assets:      assetRepo,
		Reliability: reliabilityEngine,
		Escalation:  escalationService,
		StuckAfter:  cfg.Pipeline.StuckAfter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stuck asset job", err)
		os.Exit(1)
	}

	uploadCleanupJob, err := cron.NewPendingUploadCleanupJob(cron.PendingUploadCleanupJobParams{
		Logger:    logg,
		Uploads:   uploadRepo,
		Assets:    assetRepo,
		Retention: cfg.Cron.PendingRetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pending upload cleanup job", err)
		os.Exit(1)
	}

	incidentRetentionJob, err := cron.NewIncidentRetentionJob(cron.IncidentRetentionJobParams{
		Logger:     logg,
		Repository: incidentRepo,
		Metrics:    pipelineMetrics,
		Retention:  cfg.Cron.IncidentRetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create incident retention job", err)
		os.Exit(1)
	}

	escalationUnlinkJob, err := cron.NewEscalationUnlinkJob(cron.EscalationUnlinkJobParams{
		Logger:    logg,
		Failures:  failureRepo,
		Tickets:   ticketRepo,
		Retention: cfg.Cron.IncidentRetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create escalation unlink job", err)
		os.Exit(1)
	}

	outboxRetentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outbox.NewRepository(dbClient.DB()),
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.CronLockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(stuckJob, uploadCleanupJob, incidentRetentionJob, escalationUnlinkJob, outboxRetentionJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
