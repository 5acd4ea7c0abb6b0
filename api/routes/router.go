package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mateovidal/brandvault-backend/api/controllers"
	"github.com/mateovidal/brandvault-backend/api/middleware"
	pkgauth "github.com/mateovidal/brandvault-backend/pkg/auth"
	"github.com/mateovidal/brandvault-backend/pkg/bigquery"
	"github.com/mateovidal/brandvault-backend/pkg/config"
	"github.com/mateovidal/brandvault-backend/pkg/db"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/redis"
	"github.com/mateovidal/brandvault-backend/pkg/storage/gcs"
)

// NewRouter assembles the admin API surface. Everything under /api/v1
// requires a bearer token; individual routes additionally gate on a
// capability check against the authorizer.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	gcsP gcs.Pinger,
	bigqueryP bigquery.Pinger,
	authorizer pkgauth.Authorizer,
	incidentRepo controllers.IncidentReader,
	reliabilityEngine controllers.ReliabilityEngine,
	ticketRepo controllers.TicketReader,
	ticketResolver controllers.TicketResolver,
	assetService controllers.AssetService,
	distributionService controllers.DistributionService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP, gcsP, bigqueryP))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		can := func(capability pkgauth.Capability) func(http.Handler) http.Handler {
			return middleware.RequireCapability(authorizer, capability, logg)
		}

		r.Route("/incidents", func(r chi.Router) {
			r.With(can(pkgauth.CapIncidentsRead)).Get("/", controllers.IncidentList(incidentRepo, logg))
			r.With(can(pkgauth.CapIncidentsRead)).Get("/{incidentId}", controllers.IncidentDetail(incidentRepo, logg))
			r.With(can(pkgauth.CapIncidentsResolve)).Post("/{incidentId}/resolve", controllers.IncidentResolve(reliabilityEngine, logg))
			r.With(can(pkgauth.CapIncidentsRecover)).Post("/{incidentId}/recover", controllers.IncidentRecover(incidentRepo, reliabilityEngine, logg))
		})

		r.Route("/tickets", func(r chi.Router) {
			r.With(can(pkgauth.CapTicketsRead)).Get("/", controllers.TicketList(ticketRepo, logg))
			r.With(can(pkgauth.CapTicketsRead)).Get("/{ticketId}", controllers.TicketDetail(ticketRepo, logg))
			r.With(can(pkgauth.CapTicketsResolve)).Post("/{ticketId}/resolve", controllers.TicketResolve(ticketResolver, logg))
		})

		r.Route("/assets", func(r chi.Router) {
			r.With(can(pkgauth.CapAssetsRead)).Get("/{assetId}/pipeline", controllers.AssetPipelineState(assetService, logg))
			r.With(can(pkgauth.CapAssetsOverride)).Post("/{assetId}/visibility", controllers.AssetOverrideVisibility(assetService, logg))
			r.With(can(pkgauth.CapDownloadsReport)).Post("/{assetId}/download-failures", controllers.DownloadFailureReport(distributionService, logg))
		})

		r.With(can(pkgauth.CapUploadsFinalize)).Post("/uploads/finalize", controllers.UploadFinalize(assetService, logg))
	})

	return r
}
