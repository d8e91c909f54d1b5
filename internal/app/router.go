package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/driftwood-social/driftwood/internal/observability"
	"github.com/driftwood-social/driftwood/internal/roles"
	"github.com/driftwood-social/driftwood/internal/timeline"
	"github.com/driftwood-social/driftwood/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	RolesHandler    *roles.Handler
	TimelineHandler *timeline.Handler
	JobHandler      *jobs.Handler
	AdminChecker    AdminChecker
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with driftwood defaults. Role
// administration is gated behind AdminOnly; timeline reads only need an
// actor header.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if params.TimelineHandler != nil {
			params.TimelineHandler.MountRoutes(r)
		}
		r.Group(func(r chi.Router) {
			r.Use(AdminOnly(params.Config, params.AdminChecker, params.Logger))
			if params.RolesHandler != nil {
				params.RolesHandler.MountRoutes(r)
			}
		})
	})

	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(AdminOnly(params.Config, params.AdminChecker, params.Logger))
			params.JobHandler.MountRoutes(r)
		})
	}

	return r
}
