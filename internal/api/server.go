package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/prefctl/prefctl/internal/adaptation"
	"github.com/prefctl/prefctl/internal/approval"
	"github.com/prefctl/prefctl/internal/auth"
	"github.com/prefctl/prefctl/internal/eventbus"
	"github.com/prefctl/prefctl/internal/explanation"
	"github.com/prefctl/prefctl/internal/feedback"
	"github.com/prefctl/prefctl/internal/obs"
	"github.com/prefctl/prefctl/internal/projection"
	"github.com/prefctl/prefctl/internal/store"
	"github.com/prefctl/prefctl/internal/suggestion"
)

// Config holds the admin control plane's tunables, all injectable per
// spec §6 ("Environment/config ... All must be injectable").
type Config struct {
	RequestTimeout  time.Duration
	IdempotencyTTL  time.Duration
	CORSAllowAll    bool
	WebSocketOrigin bool // allow all WS origins (dev convenience)
}

// DefaultConfig matches spec §4.J's stated defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		IdempotencyTTL: time.Hour,
	}
}

// Deps bundles every service the admin API composes calls into. Grouping
// these in one struct, rather than a long positional constructor, follows
// veerababumanyam-MediSync's api.Dependencies convention for servers with
// many collaborators.
type Deps struct {
	Store         store.Store
	Tokens        *auth.TokenManager
	Credentials   auth.CredentialStore
	Suggestions   *suggestion.Service
	AttemptSvc    *adaptation.AttemptService
	PolicySvc     *adaptation.PolicyService
	Feedback      *feedback.Service
	Escalations   *approval.EscalationApprovalService
	Rollbacks     *approval.RollbackService
	Projections   *projection.Service
	Explanations  *explanation.Service
	Bus           *eventbus.Bus
	Observability *obs.Context
}

// Server is the Admin Control Plane HTTP server (spec §4.J, §6).
type Server struct {
	cfg    Config
	store  store.Store
	tokens *auth.TokenManager
	creds  auth.CredentialStore

	suggestions  *suggestion.Service
	attempts     *adaptation.AttemptService
	policies     *adaptation.PolicyService
	feedback     *feedback.Service
	escalations  *approval.EscalationApprovalService
	rollbacks    *approval.RollbackService
	projections  *projection.Service
	explanations *explanation.Service

	bus *eventbus.Bus
	hub *Hub
	obs *obs.Context

	router     chi.Router
	httpServer *http.Server
}

// NewServer builds a Server and subscribes its live-feed Hub to the
// domain events that matter to an admin dashboard.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Observability == nil {
		deps.Observability = obs.Null()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = time.Hour
	}

	s := &Server{
		cfg:          cfg,
		store:        deps.Store,
		tokens:       deps.Tokens,
		creds:        deps.Credentials,
		suggestions:  deps.Suggestions,
		attempts:     deps.AttemptSvc,
		policies:     deps.PolicySvc,
		feedback:     deps.Feedback,
		escalations:  deps.Escalations,
		rollbacks:    deps.Rollbacks,
		projections:  deps.Projections,
		explanations: deps.Explanations,
		bus:          deps.Bus,
		hub:          NewHub(deps.Observability.Logger, cfg.WebSocketOrigin),
		obs:          deps.Observability.With("api.Server"),
		router:       chi.NewRouter(),
	}

	s.subscribeFeed()
	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// subscribeFeed wires the live-feed Hub to the events an admin dashboard
// cares about watching in real time.
func (s *Server) subscribeFeed() {
	if s.bus == nil {
		return
	}
	broadcast := func(eventType string) eventbus.Handler {
		return func(_ context.Context, ev eventbus.Event) error {
			s.hub.Broadcast(eventType, ev)
			return nil
		}
	}
	for _, t := range []string{
		"ArbitrationResolved", "ArbitrationEscalated",
		"PreferenceAutoApplied", "PreferenceAutoBlocked", "PreferenceRolledBack",
		"EscalationApproved", "EscalationRejected",
	} {
		s.bus.Subscribe(t, broadcast(t))
	}
}

func (s *Server) registerMiddleware() {
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(withCorrelationID)
	s.router.Use(s.withTimeout)
	s.router.Use(s.withMetrics)
	if s.cfg.CORSAllowAll {
		s.router.Use(corsMiddleware)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, X-Correlation-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// registerRoutes mounts every route in spec §6's Admin HTTP API table
// under /admin, grouping authenticated routes under withAuth and gating
// each by the action its role table names.
func (s *Server) registerRoutes() {
	s.router.Route("/admin", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.withAuth)

			r.With(s.requireRole("read")).Get("/preferences", s.handleListPreferences)
			r.With(s.requireRole("rollback"), s.withIdempotency("preference_rollback")).
				Post("/preferences/rollback", s.handlePreferenceRollback)

			r.With(s.requireRole("read")).Get("/suggestions", s.handleListSuggestions)
			r.With(s.requireRole("approve"), s.withIdempotency("suggestion_approve")).
				Post("/suggestions/{id}/approve", s.handleApproveSuggestion)
			r.With(s.requireRole("approve"), s.withIdempotency("suggestion_reject")).
				Post("/suggestions/{id}/reject", s.handleRejectSuggestion)
			r.With(s.requireRole("approve"), s.withIdempotency("suggestion_process")).
				Post("/suggestions/{id}/process", s.handleProcessSuggestion)

			r.With(s.requireRole("approve"), s.withIdempotency("feedback_capture")).
				Post("/feedback", s.handleCaptureFeedback)

			r.With(s.requireRole("read")).Get("/agents/{agent}/policy", s.handleGetAdaptationPolicy)
			r.With(s.requireRole("policy_admin")).Post("/agents/{agent}/policy/enable", s.handleEnableAdaptation)
			r.With(s.requireRole("policy_admin")).Post("/agents/{agent}/policy/disable", s.handleDisableAdaptation)

			r.With(s.requireRole("read")).Get("/arbitrations", s.handleListArbitrations)
			r.With(s.requireRole("read")).Get("/escalations/pending", s.handlePendingEscalations)
			r.With(s.requireRole("approve"), s.withIdempotency("escalation_approve")).
				Post("/escalations/{id}/approve", s.handleApproveEscalation)
			r.With(s.requireRole("approve"), s.withIdempotency("escalation_reject")).
				Post("/escalations/{id}/reject", s.handleRejectEscalation)
			r.With(s.requireRole("rollback"), s.withIdempotency("arbitration_rollback")).
				Post("/arbitrations/{id}/rollback", s.handleRollbackArbitration)

			r.With(s.requireRole("read")).Get("/audit", s.handleAudit)
			r.With(s.requireRole("read")).Get("/explanations/{id}", s.handleExplanation)

			r.With(s.requireRole("read")).Get("/stream", s.hub.ServeHTTP)
		})
	})
}

// Handler returns the server's composed http.Handler, for embedding in a
// larger process or passing to httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.obs.Logger.Info("admin control plane listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server and closes the live-feed Hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr formats a bind address from a bare port, matching the teacher's
// APIAddr helper.
func Addr(port int) string {
	return fmt.Sprintf(":%d", port)
}
