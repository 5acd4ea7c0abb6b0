package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mateovidal/brandvault-backend/internal/assets"
	"github.com/mateovidal/brandvault-backend/internal/audit"
	"github.com/mateovidal/brandvault-backend/internal/billing"
	"github.com/mateovidal/brandvault-backend/internal/consumers"
	"github.com/mateovidal/brandvault-backend/internal/escalation"
	"github.com/mateovidal/brandvault-backend/internal/incidents"
	"github.com/mateovidal/brandvault-backend/internal/pipeline"
	"github.com/mateovidal/brandvault-backend/internal/reconcile"
	"github.com/mateovidal/brandvault-backend/internal/reliability"
	"github.com/mateovidal/brandvault-backend/internal/triage"
	"github.com/mateovidal/brandvault-backend/pkg/bigquery"
	"github.com/mateovidal/brandvault-backend/pkg/config"
	"github.com/mateovidal/brandvault-backend/pkg/db"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/metrics"
	"github.com/mateovidal/brandvault-backend/pkg/outbox"
	"github.com/mateovidal/brandvault-backend/pkg/outbox/idempotency"
	"github.com/mateovidal/brandvault-backend/pkg/pubsub"
	"github.com/mateovidal/brandvault-backend/pkg/redis"
	"github.com/mateovidal/brandvault-backend/pkg/storage/gcs"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer redisClient.Close()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer pubsubClient.Close()

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	requireResource(ctx, logg, "gcs", err)
	defer gcsClient.Close()

	bigqueryClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery", err)
	defer bigqueryClient.Close()

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	assetRepo := assets.NewRepository(dbClient.DB())
	incidentRepo := incidents.NewRepository(dbClient.DB())
	ticketRepo := escalation.NewTicketRepository(dbClient.DB())
	failureRepo := pipeline.NewFailureRepository(dbClient.DB())

	reconciler, err := reconcile.NewEngine(reconcile.EngineParams{
		DB:       dbClient,
		Repo:     assetRepo,
		Leases:   redisClient,
		Outbox:   outboxService,
		Metrics:  pipelineMetrics,
		Logger:   logg,
		LeaseTTL: cfg.Pipeline.ReconcileLeaseTTL,
	})
	requireResource(ctx, logg, "reconcile engine", err)

	planService, err := billing.NewService(billing.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "plan service", err)

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
	requireResource(ctx, logg, "reliability engine", err)

	escalationService, err := escalation.NewService(escalation.ServiceParams{
		DB:               dbClient,
		Tickets:          ticketRepo,
		Incidents:        incidentRepo,
		Outbox:           outboxService,
		Metrics:          pipelineMetrics,
		Logger:           logg,
		FailureThreshold: cfg.Escalation.FailureThreshold,
	})
	requireResource(ctx, logg, "escalation service", err)

	idempotencyManager, err := idempotency.NewManager(redisClient, cfg.Outbox.IdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	bucket := gcsClient.BucketHandle(gcsClient.DefaultBucket())

	thumbnailRunner, err := pipeline.NewThumbnailRunner(bucket, nil)
	requireResource(ctx, logg, "thumbnail runner", err)

	metadataRunner, err := pipeline.NewMetadataRunner(bucket)
	requireResource(ctx, logg, "metadata runner", err)

	openAITagger, err := pipeline.NewOpenAITagger(cfg.OpenAI, logg)
	requireResource(ctx, logg, "openai tagger", err)

	taggingRunner, err := pipeline.NewTaggingRunner(openAITagger)
	requireResource(ctx, logg, "tagging runner", err)

	pipelineService, err := pipeline.NewService(pipeline.ServiceParams{
		DB:       dbClient,
		Assets:   assetRepo,
		Failures: failureRepo,
		Runners: map[enums.Stage]pipeline.StageRunner{
			enums.StageThumbnail: thumbnailRunner,
			enums.StageMetadata:  metadataRunner,
			enums.StageTagging:   taggingRunner,
			enums.StagePromotion: pipeline.NewPromotionRunner(),
		},
		Reconciler: reconciler,
		Reporter:   reliabilityEngine,
		Outbox:     outboxService,
		Plans:      planService,
		Metrics:    pipelineMetrics,
		Logger:     logg,
	})
	requireResource(ctx, logg, "pipeline service", err)

	pipelineConsumer, err := pipeline.NewConsumer(pipelineService, idempotencyManager, logg)
	requireResource(ctx, logg, "pipeline consumer", err)

	classifier, err := triage.NewOpenAIClassifier(cfg.OpenAI, cfg.Pipeline.TraceMaxChars, logg)
	requireResource(ctx, logg, "triage classifier", err)

	triageConsumer, err := triage.NewConsumer(triage.ConsumerParams{
		Classifier:      classifier,
		Incidents:       incidentRepo,
		Failures:        failureRepo,
		Escalator:       escalationService,
		Plans:           planService,
		Idempotency:     idempotencyManager,
		Logger:          logg,
		TriageThreshold: cfg.Escalation.TriageThreshold,
	})
	requireResource(ctx, logg, "triage consumer", err)

	auditConsumer, err := audit.NewConsumer(bigqueryClient, cfg.BigQuery.ActivityEventsTable, idempotencyManager, logg)
	requireResource(ctx, logg, "audit consumer", err)

	pipelineRunner, err := consumers.NewRunner("pipeline", pubsubClient.PipelineSubscription(), pipelineConsumer, logg)
	requireResource(ctx, logg, "pipeline runner", err)

	triageRunner, err := consumers.NewRunner("triage", pubsubClient.TriageSubscription(), triageConsumer, logg)
	requireResource(ctx, logg, "triage runner", err)

	auditRunner, err := consumers.NewRunner("audit", pubsubClient.DomainSubscription(), auditConsumer, logg)
	requireResource(ctx, logg, "audit runner", err)

	service, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		PubSub:   pubsubClient,
		GCS:      gcsClient,
		BigQuery: bigqueryClient,
		Runners:  []*consumers.Runner{pipelineRunner, triageRunner, auditRunner},
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"env":         cfg.App.Env,
	})
	logg.Info(runCtx, "worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker stopped", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
