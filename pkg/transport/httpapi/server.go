package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/cuemby/genesis-core/pkg/log"
	"github.com/cuemby/genesis-core/pkg/orchestrator"
	"github.com/cuemby/genesis-core/pkg/scheduler"
	"github.com/cuemby/genesis-core/pkg/storage"
)

// Authorizer is the narrow slice of iam.Kernel this package depends on,
// so tests can supply a fake instead of a real Postgres-backed kernel.
type Authorizer interface {
	Require(ctx context.Context, userID, need, projectID string) error
}

// Server bundles the dependencies the four agent-facing handlers share:
// Assigner for placements, Registry for liveness, Authorizer for IAM
// gating, and Store for upserting pushed actuals.
type Server struct {
	assigner  *orchestrator.Assigner
	registry  *scheduler.Registry
	authz     Authorizer
	store     storage.Store
	validate  *validator.Validate
	logger    zerolog.Logger
	projectID string
}

// NewServer builds a Server. projectID scopes the IAM checks this server
// issues; an empty projectID means cluster-scoped agent traffic, the
// same convention pkg/iam.Kernel uses for "" scope bindings.
func NewServer(assigner *orchestrator.Assigner, registry *scheduler.Registry, authz Authorizer, store storage.Store, projectID string) *Server {
	return &Server{
		assigner:  assigner,
		registry:  registry,
		authz:     authz,
		store:     store,
		validate:  validator.New(),
		logger:    log.WithComponent("httpapi"),
		projectID: projectID,
	}
}

// Router builds the chi mux: /register, /fetch, /ack live under the
// orchestrator endpoint base URL; /status is the status endpoint's full
// path, per pkg/agent/client.go's wire contract.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/register", s.handleRegister)
	r.Post("/fetch", s.handleFetch)
	r.Post("/ack", s.handleAck)
	r.Post("/status", s.handleStatus)
	return r
}

// ListenAndServe runs the router until ctx is canceled, then shuts the
// server down gracefully within 10 seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
