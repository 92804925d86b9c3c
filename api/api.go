// Package api Guardian incident pipeline API
//
//	@title			Guardian API
//	@version		1.0
//	@description	Submit security logs, follow incidents through triage and mitigation, and approve high-risk plans.
//
// @license.name	MIT
// @license.url	https://opensource.org/licenses/MIT
//
// @BasePath	/
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
// @description				"Bearer " followed by the token from /api/auth/login
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"guardian/broadcast"
	"guardian/config"
	"guardian/core"
	_ "guardian/docs" // registers the swagger spec
	"guardian/soar"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

// Pipeline is the orchestrator surface the API serves.
// Defined here (consumer package) so handlers can be tested against fakes.
type Pipeline interface {
	Submit(ctx context.Context, rawLog, source string) (string, error)
	Get(ctx context.Context, id string) (*core.Incident, error)
	List(ctx context.Context, filter core.IncidentFilter) ([]core.IncidentSummary, int, error)
	Resume(ctx context.Context, id string, decision core.Decision) error
	Subscribe(ctx context.Context, id string) (*broadcast.Subscription, *core.Incident, error)
	EnforcementSnapshot(ctx context.Context) (core.EnforcementSnapshot, error)
	Stats(ctx context.Context) (core.IncidentStats, error)
	PendingApprovals() []soar.ApprovalRequest
}

// API holds the API server
type API struct {
	router   *mux.Router
	server   *http.Server
	pipeline Pipeline
	config   *config.Config
	auth     *Authenticator
	limiter  *IPRateLimiter
	logins   *loginGuard
	validate *validator.Validate
	logger   *zap.SugaredLogger

	// websocket connections are tracked so Stop can close them
	streamsMu sync.Mutex
	streams   map[*incidentStream]struct{}
	streamsWg sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewAPI creates a new API server. It fails when auth is enabled without
// usable credentials.
func NewAPI(pipeline Pipeline, cfg *config.Config, logger *zap.SugaredLogger) (*API, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}

	a := &API{
		router:   mux.NewRouter(),
		pipeline: pipeline,
		config:   cfg,
		auth:     auth,
		limiter:  NewIPRateLimiter(cfg.API.RateLimit.RequestsPerSecond, cfg.API.RateLimit.Burst),
		logins:   newLoginGuard(),
		validate: validator.New(),
		logger:   logger,
		streams:  make(map[*incidentStream]struct{}),
		stopCh:   make(chan struct{}),
	}
	a.setupRoutes()
	a.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go a.limiter.cleanupLoop(a.stopCh)
	return a, nil
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.metricsMiddleware)
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.rateLimitMiddleware)

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
	a.router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)
	a.router.HandleFunc("/api/auth/login", a.login).Methods("POST", "OPTIONS")

	protected := a.router.NewRoute().Subrouter()
	protected.Use(a.jwtAuthMiddleware)
	protected.HandleFunc("/api/auth/me", a.me).Methods("GET")
	protected.HandleFunc("/api/stats", a.getStats).Methods("GET")
	protected.HandleFunc("/api/state", a.getEnforcementState).Methods("GET")
	protected.HandleFunc("/api/incidents", a.submitIncident).Methods("POST", "OPTIONS")
	protected.HandleFunc("/api/incidents", a.listIncidents).Methods("GET")
	protected.HandleFunc("/api/incidents/pending-approval", a.pendingApprovals).Methods("GET")
	protected.HandleFunc("/api/incidents/{id}", a.getIncident).Methods("GET")
	protected.HandleFunc("/api/incidents/{id}/report", a.getReport).Methods("GET")
	protected.HandleFunc("/api/incidents/{id}/approve", a.approveIncident).Methods("POST", "OPTIONS")
	protected.HandleFunc("/api/incidents/{id}/deny", a.denyIncident).Methods("POST", "OPTIONS")
	protected.HandleFunc("/api/incidents/{id}/decision", a.decideIncident).Methods("POST", "OPTIONS")
	protected.HandleFunc("/ws/incidents", a.streamAll).Methods("GET")
	protected.HandleFunc("/ws/incidents/{id}", a.streamIncident).Methods("GET")
}

// Handler exposes the router, mainly for httptest.
func (a *API) Handler() http.Handler {
	return a.router
}

// Start serves until Stop is called. ListenAndServe's ErrServerClosed is
// not reported.
func (a *API) Start() error {
	a.logger.Infow("API server listening", "addr", a.server.Addr, "tls", a.config.API.TLS, "auth", a.config.Auth.Enabled)

	var err error
	if a.config.API.TLS {
		err = a.server.ListenAndServeTLS(a.config.API.CertFile, a.config.API.KeyFile)
	} else {
		err = a.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop closes live streams and shuts the HTTP server down.
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })

	a.streamsMu.Lock()
	for s := range a.streams {
		s.close()
	}
	a.streamsMu.Unlock()

	err := a.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		a.streamsWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

// healthCheck godoc
//
//	@Summary	Liveness probe
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Router		/health [get]
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
