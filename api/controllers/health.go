package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/mateovidal/brandvault-backend/api/responses"
	"github.com/mateovidal/brandvault-backend/pkg/bigquery"
	"github.com/mateovidal/brandvault-backend/pkg/config"
	"github.com/mateovidal/brandvault-backend/pkg/db"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
	"github.com/mateovidal/brandvault-backend/pkg/redis"
	"github.com/mateovidal/brandvault-backend/pkg/storage/gcs"
)

const readyProbeTimeout = 2 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-BrandVault-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady probes every backing dependency. Any failure flips the
// endpoint to 503 so the orchestrator stops routing traffic here.
func HealthReady(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	gcsP gcs.Pinger,
	bigqueryP bigquery.Pinger,
) http.HandlerFunc {
	type probe struct {
		name string
		ping func(ctx context.Context) error
	}
	probes := []probe{}
	if dbP != nil {
		probes = append(probes, probe{"postgres", dbP.Ping})
	}
	if redisP != nil {
		probes = append(probes, probe{"redis", redisP.Ping})
	}
	if gcsP != nil {
		probes = append(probes, probe{"gcs", gcsP.Ping})
	}
	if bigqueryP != nil {
		probes = append(probes, probe{"bigquery", bigqueryP.Ping})
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-BrandVault-Env", cfg.App.Env)

		checks := make(map[string]string, len(probes))
		healthy := true
		for _, p := range probes {
			ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
			err := p.ping(ctx)
			cancel()
			if err != nil {
				healthy = false
				checks[p.name] = "down"
				if logg != nil {
					logg.Error(logg.WithField(r.Context(), "dependency", p.name), "health.ready.probe_failed", err)
				}
				continue
			}
			checks[p.name] = "ok"
		}

		body := map[string]any{"status": "ready", "checks": checks}
		if !healthy {
			body["status"] = "degraded"
			responses.WriteSuccessStatus(w, http.StatusServiceUnavailable, body)
			return
		}
		responses.WriteSuccess(w, body)
	}
}
