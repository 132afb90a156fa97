package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"storyreel/internal/assets"
	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/ratelimit"
	"storyreel/internal/services"
	"storyreel/internal/session"
	"storyreel/internal/storyboard"
)

// Runner executes a generation run for a session.
type Runner interface {
	RunGeneration(ctx context.Context, storyboardID string, sess *session.Session) error
}

// Server is the daemon's HTTP API.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *storyboard.Store
	assets   *assets.Store
	sessions *session.Manager
	runner   Runner
	limiter  *ratelimit.Limiter

	// baseCtx outlives individual requests; generation runs hang off it so
	// a client disconnect never cancels in-flight scene tasks.
	baseCtx context.Context

	startedAt time.Time
	listener  net.Listener
	server    *http.Server
}

// NewServer wires the HTTP surface. All collaborators are required except
// the logger.
func NewServer(
	cfg *config.Config,
	store *storyboard.Store,
	assetStore *assets.Store,
	sessions *session.Manager,
	runner Runner,
	limiter *ratelimit.Limiter,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	srv := &Server{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "api-server"),
		store:     store,
		assets:    assetStore,
		sessions:  sessions,
		runner:    runner,
		limiter:   limiter,
		baseCtx:   context.Background(),
		startedAt: time.Now().UTC(),
	}
	srv.server = &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Handler builds the routed, middleware-wrapped handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/api/generate/initialize", s.handleInitialize).Methods(http.MethodPost)
	router.HandleFunc("/api/generate/{sessionID}/progress", s.handleProgress).Methods(http.MethodGet)
	router.HandleFunc("/api/generate/{sessionID}/start", s.handleStart).Methods(http.MethodPost)
	router.HandleFunc("/api/generate/{sessionID}", s.handleDeleteSession).Methods(http.MethodDelete)

	router.HandleFunc("/api/storyboards", s.handleListStoryboards).Methods(http.MethodGet)
	router.HandleFunc("/api/storyboards/{storyboardID}", s.handleGetStoryboard).Methods(http.MethodGet)
	router.HandleFunc("/api/storyboards/{storyboardID}", s.handleDeleteStoryboard).Methods(http.MethodDelete)

	router.HandleFunc("/api/assets/{assetID}", s.handleGetAsset).Methods(http.MethodGet)

	router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	var handler http.Handler = router
	handler = requestIDMiddleware(handler)
	handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(handler)
	handler = handlers.CompressHandler(handler)
	handler = handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(handler)
	return handler
}

// requestIDMiddleware tags every request with a correlation ID. Callers may
// supply their own via X-Request-ID; the ID is echoed back on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := services.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start begins serving on the configured bind address. Shutdown is tied to
// ctx cancellation.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	listener, err := net.Listen("tcp", s.cfg.Paths.APIBind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listener address, useful when binding to port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Paths.APIBind
	}
	return s.listener.Addr().String()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := DaemonStatus{
		Running:        true,
		PID:            os.Getpid(),
		StartedAt:      s.startedAt,
		StoryboardDir:  s.cfg.StoryboardDir(),
		AssetDBPath:    s.cfg.AssetDBPath(),
		ActiveSessions: s.sessions.Count(),
	}
	for name := range s.cfg.Providers {
		state, ok := s.limiter.Snapshot(providerFromName(name))
		if !ok {
			continue
		}
		status.Providers = append(status.Providers, ProviderStatus{
			Provider:        name,
			Tokens:          finiteOrZero(state.Tokens),
			Capacity:        finiteOrZero(state.Capacity),
			CurrentRequests: state.CurrentRequests,
			MaxConcurrent:   state.MaxConcurrent,
		})
	}
	if s.assets != nil {
		health, err := s.assets.CheckHealth(r.Context())
		status.AssetDBHealthy = err == nil && health.IntegrityCheck
		if err != nil {
			status.AssetDBProblems = err.Error()
		} else if health.Error != "" {
			status.AssetDBProblems = health.Error
		}
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func finiteOrZero(value float64) float64 {
	if value != value || value > 1e15 {
		return 0
	}
	return value
}
