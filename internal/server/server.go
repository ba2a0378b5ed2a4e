package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

// Submitter is the upload side of ingest.Gateway.
type Submitter interface {
	Submit(ctx context.Context, filename string, r io.Reader) (string, error)
}

// HealthChecker is a dependency /healthz reports on.
type HealthChecker interface {
	Healthy() error
}

type Handler struct {
	gateway  Submitter
	maxBytes int64
	logger   *slog.Logger
	checks   map[string]HealthChecker
}

type Option func(*Handler)

// WithHealthCheck makes /healthz report c under name and fail while c does.
func WithHealthCheck(name string, c HealthChecker) Option {
	return func(h *Handler) {
		h.checks[name] = c
	}
}

func NewHandler(gateway Submitter, maxBytes int64, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{gateway: gateway, maxBytes: maxBytes, logger: logger, checks: map[string]HealthChecker{}}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes returns the gateway mux wrapped with request logging.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", h.Upload)
	mux.HandleFunc("GET /healthz", h.Health)
	return h.withRequestLog(mux)
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Health answers 200 while every registered dependency is healthy and 503
// otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Timestamp: time.Now()}
	status := http.StatusOK
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}
	for name, c := range h.checks {
		if err := c.Healthy(); err != nil {
			common.LoggerFrom(r.Context(), h.logger).Warn("health check failed", "check", name, "error", err)
			resp.Checks[name] = "down"
			resp.Status = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := common.WithRequestID(r.Context(), id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		h.logger.Info("http request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
