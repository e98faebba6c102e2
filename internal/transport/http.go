// Package transport provides HTTP API handlers.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/cellbench/pkg/types"
)

// Input validation constants
const (
	defaultEvaluationLimit = 100
	maxEvaluationLimit     = 1000
	readyTimeout           = 5 * time.Second
)

// parseLimit validates the limit query parameter of /v1/evaluations.
func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultEvaluationLimit, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("limit must be an integer, got %q", s)
	}
	if limit <= 0 {
		return 0, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if limit > maxEvaluationLimit {
		return 0, fmt.Errorf("limit exceeds maximum of %d", maxEvaluationLimit)
	}
	return limit, nil
}

// BenchAPI defines what the handlers need from the running benchmark.
type BenchAPI interface {
	Status() types.BenchStatus
	Evaluations(limit int) []types.Evaluation
}

// HealthChecker reports per-endpoint reachability, keyed by endpoint URL.
type HealthChecker interface {
	CheckEndpoints(ctx context.Context) map[string]error
}

// Server handles HTTP requests for the benchmark.
type Server struct {
	api       BenchAPI
	health    HealthChecker
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer

	// CORS configuration
	corsAllowedOrigins []string // Parsed list of allowed origins
	corsAllowAll       bool     // True if "*" or empty (allow all origins)
}

// ServerConfig for creating a Server.
type ServerConfig struct {
	API    BenchAPI
	Health HealthChecker // optional; /ready reports ready without it
	// Gatherer backs /metrics (default: prometheus.DefaultGatherer).
	Gatherer           prometheus.Gatherer
	CORSAllowedOrigins string
	// StatusInterval is the WebSocket status push period (default: 1s).
	StatusInterval time.Duration
	Logger         *slog.Logger
}

// NewServer creates a new HTTP server and starts its WebSocket broadcaster.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	wsServer := NewWebSocketServer(cfg.API, cfg.StatusInterval, logger)
	wsServer.Start()

	s := &Server{
		api:       cfg.API,
		health:    cfg.Health,
		gatherer:  gatherer,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  wsServer,
	}

	// Parse CORS allowed origins
	origins := strings.TrimSpace(cfg.CORSAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// WebSocket returns the server's WebSocket broadcaster.
func (s *Server) WebSocket() *WebSocketServer {
	return s.wsServer
}

// Close stops the WebSocket broadcaster and disconnects its clients.
func (s *Server) Close() {
	s.wsServer.Stop()
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/v1/evaluations", s.corsMiddleware(s.handleEvaluations))
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())
	mux.HandleFunc("/ws", s.wsServer.Handler())

	// Health endpoints (unversioned - standard Kubernetes probes)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && slices.Contains(s.corsAllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// handleStatus returns the current benchmark status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.api.Status())
}

// handleEvaluations returns the most recent monitor evaluations, oldest first.
func (s *Server) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeJSONError(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	evals := s.api.Evaluations(limit)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"evaluations": evals,
		"count":       len(evals),
	})
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"phase":          s.api.Status().Phase,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok" or "failed"
	Error  string `json:"error,omitempty"`
}

// handleReady handles readiness probes: every node endpoint must answer.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	var latency time.Duration
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		start := time.Now()
		results := s.health.CheckEndpoints(ctx)
		latency = time.Since(start)

		for _, name := range slices.Sorted(maps.Keys(results)) {
			check := ReadinessCheck{Name: name, Status: "ok"}
			if err := results[name]; err != nil {
				check.Status = "failed"
				check.Error = err.Error()
				allHealthy = false
			}
			checks = append(checks, check)
		}
	}

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{
		"ready":      allHealthy,
		"checks":     checks,
		"latency_ms": latency.Milliseconds(),
	})
}
