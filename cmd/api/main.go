package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mateovidal/brandvault-backend/api/routes"
	"github.com/mateovidal/brandvault-backend/internal/assets"
	"github.com/mateovidal/brandvault-backend/internal/distribution"
	"github.com/mateovidal/brandvault-backend/internal/escalation"
	"github.com/mateovidal/brandvault-backend/internal/incidents"
	"github.com/mateovidal/brandvault-backend/internal/reconcile"
	"github.com/mateovidal/brandvault-backend/internal/reliability"
	"github.com/mateovidal/brandvault-backend/pkg/auth"
	"github.com/mateovidal/brandvault-backend/pkg/bigquery"
	"github.com/mateovidal/brandvault-backend/pkg/config"
	"github.com/mateovidal/brandvault-backend/pkg/db"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/metrics"
	"github.com/mateovidal/brandvault-backend/pkg/migrate"
	"github.com/mateovidal/brandvault-backend/pkg/outbox"
	"github.com/mateovidal/brandvault-backend/pkg/redis"
	"github.com/mateovidal/brandvault-backend/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap gcs", err)
		os.Exit(1)
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing gcs client", err)
		}
	}()

	bigqueryClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap bigquery", err)
		os.Exit(1)
	}
	defer func() {
		if err := bigqueryClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing bigquery client", err)
		}
	}()

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	assetRepo := assets.NewRepository(dbClient.DB())
	uploadRepo := assets.NewUploadSessionRepository(dbClient.DB())
	incidentRepo := incidents.NewRepository(dbClient.DB())
	ticketRepo := escalation.NewTicketRepository(dbClient.DB())

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

	assetService, err := assets.NewService(assets.ServiceParams{
		DB:      dbClient,
		Repo:    assetRepo,
		Uploads: uploadRepo,
		Outbox:  outboxService,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create asset service", err)
		os.Exit(1)
	}

	distributionService, err := distribution.NewService(distribution.ServiceParams{
		DB:        dbClient,
		Downloads: distribution.NewDownloadRepository(dbClient.DB()),
		Assets:    assetRepo,
		Reports:   reliabilityEngine,
		Escalator: escalationService,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create distribution service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			gcsClient,
			bigqueryClient,
			auth.NewRoleAuthorizer(),
			incidentRepo,
			reliabilityEngine,
			ticketRepo,
			escalationService,
			assetService,
			distributionService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
