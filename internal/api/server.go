// Package api provides the REST API server for the audit ledger.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/audit-engine/go-core/internal/bundle"
	"github.com/audit-engine/go-core/internal/ledger"
	"github.com/audit-engine/go-core/internal/metrics"
	"github.com/audit-engine/go-core/internal/verification"
)

// Server is the REST API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
	ledger     *ledger.Ledger
	verify     *verification.Service
	signer     *bundle.BundleSigner
	metrics    metrics.Metrics
	config     Config
}

// Config configures the REST API server.
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	EnableCORS     bool
	AllowedOrigins []string
	MaxBodySize    int64

	// Defaults applied by the verify endpoints when the request omits the
	// options.
	RequireSignature bool
	StrictSequence   bool

	// EnableMetrics exposes /metrics on the same listener.
	EnableMetrics bool
}

// DefaultConfig returns the default API server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		EnableCORS:     true,
		AllowedOrigins: []string{"*"},
		MaxBodySize:    10 << 20,
		StrictSequence: true,
		EnableMetrics:  true,
	}
}

// New creates the API server. The signer may be nil when signing is disabled;
// metrics may be nil to disable recording.
func New(cfg Config, ldg *ledger.Ledger, signer *bundle.BundleSigner, m metrics.Metrics, logger *zap.Logger) (*Server, error) {
	if ldg == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}

	var verifier bundle.BundleVerifier
	if signer != nil {
		verifier = signer
	}

	s := &Server{
		router:  mux.NewRouter(),
		logger:  logger,
		ledger:  ldg,
		verify:  verification.NewService(verifier, logger),
		signer:  signer,
		metrics: m,
		config:  cfg,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	return s, nil
}

// setupRoutes configures middleware and all API routes.
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}
	s.router.Use(s.maxBodySizeMiddleware)
	s.router.Use(s.activeRequestsMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Ledger endpoints
	api.HandleFunc("/audit/events", s.appendEvent).Methods("POST")
	api.HandleFunc("/audit/events", s.queryEvents).Methods("GET")
	api.HandleFunc("/audit/events/{event_id}", s.getEvent).Methods("GET")

	// Export and verification
	api.HandleFunc("/audit/export", s.exportBundle).Methods("GET")
	api.HandleFunc("/audit/chain/verify", s.verifyChain).Methods("GET")
	api.HandleFunc("/audit/verify", s.verifyBundle).Methods("POST")

	// Health check
	api.HandleFunc("/health", s.healthCheck).Methods("GET")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", s.metrics.HTTPHandler()).Methods("GET")
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting audit API server",
		zap.String("host", s.config.Host),
		zap.Int("port", s.config.Port))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping audit API server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := apiResponse{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

// respondRaw writes a body that owns its own wire shape, such as the verify
// contract envelope.
func (s *Server) respondRaw(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, code, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("encode error response", zap.Error(err))
	}
}
