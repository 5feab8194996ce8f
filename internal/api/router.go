package api

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soaringjerry/Checkin/internal/log"
	"github.com/soaringjerry/Checkin/internal/middleware"
	"github.com/soaringjerry/Checkin/internal/models"
	"github.com/soaringjerry/Checkin/internal/services"
	"github.com/soaringjerry/Checkin/internal/utils"
)

type Version struct {
	Commit    string
	BuildTime string
}

type Deps struct {
	Store      services.Store
	Notifier   services.Notifier
	TokenTTL   time.Duration
	CORSOrigin string
	Version    Version
	// AccessLog turns on per-request logging; tests leave it off.
	AccessLog bool
}

type Router struct {
	templates   *services.TemplateService
	forks       *services.ForkEngine
	assignments *services.AssignmentService
	answers     *services.AnswerCollector
	auth        *services.AuthService
	exports     *services.ExportService
	audit       services.AuditStore
	notifier    services.Notifier
	validate    *validator.Validate

	version    Version
	corsOrigin string
	accessLog  bool
}

func NewRouter(d Deps) *Router {
	if d.Store == nil {
		d.Store = NewMemoryStore()
	}
	if d.Notifier == nil {
		d.Notifier = services.LogNotifier{}
	}
	templates := services.NewTemplateService(d.Store)
	return &Router{
		templates:   templates,
		forks:       services.NewForkEngine(templates),
		assignments: services.NewAssignmentService(d.Store),
		answers:     services.NewAnswerCollector(d.Store),
		auth:        services.NewAuthService(d.Store, middleware.SignToken, d.TokenTTL),
		exports:     services.NewExportService(d.Store),
		audit:       d.Store,
		notifier:    d.Notifier,
		validate:    newValidator(),
		version:     d.Version,
		corsOrigin:  d.CORSOrigin,
		accessLog:   d.AccessLog,
	}
}

// Templates exposes the template service for startup seeding.
func (rt *Router) Templates() *services.TemplateService { return rt.templates }

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP)
	if rt.accessLog {
		r.Use(chimw.RequestLogger(&chimw.DefaultLogFormatter{Logger: log.Logger, NoColor: true}))
	}
	r.Use(chimw.Recoverer, instrument)
	r.Use(middleware.NoStore, middleware.SecureHeaders)
	if rt.corsOrigin != "" {
		r.Use(middleware.CORS(rt.corsOrigin))
	}
	r.Use(middleware.LocaleMiddleware, middleware.WithAuth)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.fail(w, r, services.NewNotFoundError("no such route"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", "", "")
	})

	r.Get("/health", rt.handleHealth)
	r.Get("/version", rt.handleVersion)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", rt.handleRegister)
		r.Post("/auth/login", rt.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleCoach))
			r.Get("/templates", rt.handleListTemplates)
			r.Post("/templates", rt.handleCreateTemplate)
			r.Get("/templates/{id}", rt.handleGetTemplate)
			r.Patch("/templates/{id}", rt.handleEditTemplate)
			r.Post("/assignments", rt.handleAssign)
			r.Get("/coach/assignments", rt.handleCoachAssignments)
			r.Get("/coach/export", rt.handleExport)
			r.Get("/audit", rt.handleAudit)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleTrainee))
			r.Get("/me/assignments", rt.handleMyAssignments)
			r.Post("/assignments/{id}/answers", rt.handleSubmitAnswers)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Get("/assignments/{id}", rt.handleGetAssignment)
			r.Get("/assignments/{id}/results", rt.handleResults)
		})
	})
	return r
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	render.JSON(w, r, map[string]any{
		"ok":     true,
		"name":   "Checkin API",
		"locale": locale,
		"msg":    utils.T(locale, "health.ok"),
	})
}

func (rt *Router) handleVersion(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"commit":     rt.version.Commit,
		"build_time": rt.version.BuildTime,
	})
}

// newValidator reports json field names in validation errors.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
