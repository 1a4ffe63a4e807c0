package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/IstiakDeveloper/gosto-khor/internal/members"
	"github.com/IstiakDeveloper/gosto-khor/internal/observability"
	"github.com/IstiakDeveloper/gosto-khor/internal/organizations"
	"github.com/IstiakDeveloper/gosto-khor/internal/platform/httpx"
	reporthttp "github.com/IstiakDeveloper/gosto-khor/internal/reports/http"
	"github.com/IstiakDeveloper/gosto-khor/internal/somiti"
	"github.com/IstiakDeveloper/gosto-khor/jobs"
)

// Pinger reports dependency health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	Authenticator       organizations.Authenticator
	OrganizationHandler *organizations.Handler
	SomitiHandler       *somiti.Handler
	MemberHandler       *members.Handler
	ReportHandler       *reporthttp.Handler
	JobHandler          *jobs.Handler

	// Checks are pinged by /healthz; a failing check reports 503.
	Checks map[string]Pinger
}

// NewRouter constructs the chi.Router with the API's defaults.
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

	r.Get("/healthz", healthHandler(params.Checks))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.OrganizationHandler != nil {
		params.OrganizationHandler.MountPublic(r)
	}

	r.Route("/organization", func(r chi.Router) {
		r.Use(organizations.TenantMiddleware(params.Authenticator))
		if params.SomitiHandler != nil {
			r.Route("/somitis", params.SomitiHandler.MountSomitis)
			r.Route("/payments", params.SomitiHandler.MountPayments)
		}
		if params.MemberHandler != nil {
			r.Route("/members", params.MemberHandler.MountRoutes)
		}
		if params.ReportHandler != nil {
			r.Route("/reports", params.ReportHandler.MountRoutes)
		}
		if params.OrganizationHandler != nil {
			params.OrganizationHandler.MountTenant(r)
		}
	})

	r.Route("/admin", func(r chi.Router) {
		adminToken := ""
		if params.Config != nil {
			adminToken = params.Config.AdminToken
		}
		r.Use(organizations.AdminMiddleware(adminToken))
		if params.OrganizationHandler != nil {
			params.OrganizationHandler.MountAdmin(r)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), "no route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed), "")
	})

	return r
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		out := healthStatus{Status: "ok"}
		code := http.StatusOK
		for name, check := range checks {
			if check == nil {
				continue
			}
			if out.Checks == nil {
				out.Checks = map[string]string{}
			}
			if err := check.Ping(ctx); err != nil {
				out.Checks[name] = err.Error()
				out.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			out.Checks[name] = "ok"
		}
		httpx.JSON(w, code, out)
	}
}
