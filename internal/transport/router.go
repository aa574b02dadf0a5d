package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pendulo/formstudio/internal/bundle"
	"github.com/pendulo/formstudio/internal/config"
	"github.com/pendulo/formstudio/internal/knowledge"
	"github.com/pendulo/formstudio/internal/observability"
	"github.com/pendulo/formstudio/internal/options"
	"github.com/pendulo/formstudio/internal/preview"
	"github.com/pendulo/formstudio/internal/session"
	"github.com/pendulo/formstudio/internal/store"
	"github.com/pendulo/formstudio/internal/upstream"
	"github.com/pendulo/formstudio/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Log                *zap.Logger
	Metrics            *observability.Metrics
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver

	Sessions  *session.Manager
	Store     *store.ConfigStore
	Builder   *upstream.BuilderClient
	Runtime   *upstream.RuntimeClient
	Validator *bundle.Validator
	Options   *options.Service
	Knowledge *knowledge.Service
	Previews  *preview.Manager

	// Ready serves the readiness endpoint; nil falls back to a static OK.
	Ready http.HandlerFunc
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(log))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Config.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}

	// Public routes bypass authentication.
	r.Get("/healthz", observability.HandleHealth())
	ready := deps.Ready
	if ready == nil {
		ready = func(w http.ResponseWriter, _ *http.Request) {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		}
	}
	r.Get("/readyz", ready)
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler())
	}

	// Authenticated routes get the full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/ui", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(ResolveCapabilities(deps.CapabilityResolver, log))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(log))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		// Editing sessions.
		r.Route("/sessions", func(r chi.Router) {
			r.With(RequireCapability(model.CapSessionsView)).Get("/", deps.handleListSessions)
			r.With(RequireCapability(model.CapFormsEdit)).Post("/", deps.handleCreateSession)

			r.Route("/{id}", func(r chi.Router) {
				r.With(RequireCapability(model.CapSessionsView)).Get("/", deps.handleGetSession)
				r.With(RequireCapability(model.CapFormsEdit)).Delete("/", deps.handleDeleteSession)
				r.With(RequireCapability(model.CapConfigSave)).Post("/save", deps.handleSave)
				r.With(RequireCapability(model.CapConfigPublish)).Post("/publish", deps.handlePublish)
				r.With(RequireCapability(model.CapFormsEdit)).Post("/reload", deps.handleReload)
				r.With(RequireCapability(model.CapSessionsView)).Get("/diagnostics", deps.handleDiagnostics)

				r.Group(func(r chi.Router) {
					r.Use(RequireCapability(model.CapFormsEdit))
					r.Post("/forms", deps.handleAddForm)
					r.Put("/forms/{formID}", deps.handleUpdateForm)
					r.Delete("/forms/{formID}", deps.handleDeleteForm)
					r.Post("/forms/{formID}/mode", deps.handleSetMode)
					r.Post("/forms/{formID}/fields", deps.handleAddField)
					r.Put("/forms/{formID}/fields/{name}", deps.handleUpdateField)
					r.Post("/forms/{formID}/fields/{name}/rename", deps.handleRenameField)
					r.Post("/forms/{formID}/fields/{name}/retype", deps.handleRetypeField)
					r.Post("/forms/{formID}/fields/{name}/move", deps.handleMoveField)
					r.Delete("/forms/{formID}/fields/{name}", deps.handleDeleteField)
					r.Put("/intents", deps.handlePutIntents)
				})

				r.With(RequireCapability(model.CapToolsEdit)).Put("/tools", deps.handlePutTools)
				r.Group(func(r chi.Router) {
					r.Use(RequireCapability(model.CapSettingsEdit))
					r.Put("/knowledge", deps.handlePutKnowledge)
					r.Put("/persistence", deps.handlePutPersistence)
					r.Put("/logging", deps.handlePutLogging)
				})

				r.With(RequireCapability(model.CapSessionsView)).
					Get("/fields/{formID}/{name}/options", deps.handleFieldOptions)
			})
		})

		// Chat preview.
		r.Route("/preview", func(r chi.Router) {
			r.Use(RequireCapability(model.CapPreviewChat))
			r.Post("/", deps.handleCreatePreview)
			r.Get("/{id}", deps.handleGetPreview)
			r.Post("/{id}/chat", deps.handlePreviewChat)
			r.Post("/{id}/select", deps.handlePreviewSelect)
			r.Post("/{id}/reset", deps.handlePreviewReset)
		})

		// Knowledge bases.
		r.Route("/knowledge-bases", func(r chi.Router) {
			r.With(RequireCapability(model.CapKnowledgeView)).Get("/", deps.handleListKnowledgeBases)
			r.With(RequireCapability(model.CapKnowledgeEdit)).Post("/", deps.handleCreateKnowledgeBase)

			r.Route("/{id}", func(r chi.Router) {
				r.With(RequireCapability(model.CapKnowledgeEdit)).Delete("/", deps.handleDeleteKnowledgeBase)
				r.With(RequireCapability(model.CapKnowledgeView)).Get("/files", deps.handleKnowledgeFiles)
				r.With(RequireCapability(model.CapKnowledgeEdit)).Delete("/files", deps.handleDeleteKnowledgeFile)
				r.With(RequireCapability(model.CapKnowledgeEdit)).Post("/documents", deps.handleAddKnowledgeDocuments)
				r.With(RequireCapability(model.CapKnowledgeEdit)).Post("/upload", deps.handleUploadKnowledgeFile)
				r.With(RequireCapability(model.CapKnowledgeView)).Post("/search", deps.handleSearchKnowledgeBase)
			})
		})
		r.With(RequireCapability(model.CapKnowledgeView)).Get("/knowledge-search", deps.handleAggregateSearch)

		// Inspection.
		r.Group(func(r chi.Router) {
			r.Use(RequireCapability(model.CapInspectionView))
			r.Get("/versions", deps.handleVersions)
			r.Get("/versions/{n}", deps.handleVersionDetail)
			r.Get("/agents", deps.handleAgents)
			r.Get("/stats/usage", deps.handleUsageStats)
			r.Get("/threads", deps.handleThreads)
			r.Get("/threads/{id}/messages", deps.handleThreadMessages)
			r.Get("/traces", deps.handleTraces)
			r.Get("/submissions", deps.handleSubmissions)
		})
	})

	return r
}
