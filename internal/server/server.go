// Package server implements the external API surface (§6): webhook
// ingestion that creates Tasks, task list/inspect/resume endpoints, and
// a `/ws/tasks` stream of TaskEvents.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/autoforge/autoforge/internal/config"
	"github.com/autoforge/autoforge/internal/event"
	"github.com/autoforge/autoforge/internal/orchestrator"
	"github.com/autoforge/autoforge/internal/store"
	"github.com/autoforge/autoforge/internal/telemetry"
	"github.com/autoforge/autoforge/internal/vcs"
)

// Server is the autoforge HTTP API.
type Server struct {
	cfg     *config.Config
	store   store.Store
	orch    *orchestrator.Orchestrator
	vcs     vcs.VCS
	bus     *event.Bus
	broker  *Broker
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// New creates a Server wired to the core components it exposes over HTTP.
// metrics may be nil — GET /api/metrics then reports an empty summary.
func New(cfg *config.Config, st store.Store, orch *orchestrator.Orchestrator, vcsImpl vcs.VCS, bus *event.Bus, logger *telemetry.Logger) *Server {
	broker := NewBroker(logger)
	bus.Register(broker)

	return &Server{
		cfg: cfg, store: st, orch: orch, vcs: vcsImpl, bus: bus, broker: broker, logger: logger,
		metrics: orch.Metrics,
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := s.setupRoutes()

	srv := &http.Server{
		Addr:              addr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting autoforge server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)

	mux.HandleFunc("POST /webhooks/{source}", s.handleWebhook)

	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /tasks/{id}/process", s.handleProcessTask)

	mux.HandleFunc("GET /ws/tasks", s.handleWSTasks)

	return mux
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
