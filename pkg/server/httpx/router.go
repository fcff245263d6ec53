package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/resumind/resumind/pkg/config"
	"github.com/resumind/resumind/pkg/server/api"
	v1 "github.com/resumind/resumind/pkg/server/api/v1"
)

// NewRouter creates and configures the main HTTP router.
// It mounts health endpoints and the v1 API based on the configuration.
//
// Health endpoints are always enabled for liveness/readiness checks.
// Routes are mounted conditionally based on cfg.APIEnabled and
// cfg.StreamEnabled.
func NewRouter(cfg config.ServerConfig, deps *api.Deps) chi.Router {
	r := chi.NewRouter()

	// Health endpoints (always enabled)
	r.Get("/healthz", HealthzHandler)
	r.Get("/readyz", v1.ReadyzHandler(deps.Ready))
	r.Get("/version", v1.VersionHandler)

	if cfg.APIEnabled || cfg.StreamEnabled {
		r.Route("/api/v1", v1.Routes(deps, v1.Features{
			API:    cfg.APIEnabled,
			Stream: cfg.StreamEnabled,
		}))
	}

	return r
}

// HealthzHandler responds with 200 OK if the server process is alive.
// This endpoint is used by load balancers and orchestrators for liveness checks.
//
// It does not check dependencies (Redis, workers, etc.) - just process health.
// For comprehensive readiness checks, use /readyz instead.
func HealthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
