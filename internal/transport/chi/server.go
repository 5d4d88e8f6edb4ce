// Package chi exposes the query pipeline over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	chatuc "github.com/kailas-cloud/ragdex/internal/usecase/chat"
	healthuc "github.com/kailas-cloud/ragdex/internal/usecase/health"
)

// Admitter decides whether a client may run another query.
// A nil Admitter means admission control is off.
type Admitter interface {
	Admit(clientID string) bool
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server holds the HTTP handlers for the chat API.
type Server struct {
	pipeline      *chatuc.Service
	health        *healthuc.Service
	limiter       Admitter
	trustProxy    bool
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(pipeline *chatuc.Service, health *healthuc.Service, limiter Admitter, logger *zap.Logger) *Server {
	s := &Server{
		pipeline: pipeline,
		health:   health,
		limiter:  limiter,
		logger:   logger,
	}
	// Everything except rate limiting is a client-visible 500 with a
	// stable error code and no internal detail.
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"),
		sentinelHandler(domain.ErrNotInitialized, http.StatusInternalServerError, "index_not_ready"),
		sentinelHandler(domain.ErrEmbedding, http.StatusInternalServerError, "embedding_provider_error"),
		sentinelHandler(domain.ErrCompletionService, http.StatusInternalServerError, "completion_service_error"),
		sentinelHandler(domain.ErrPollTimeout, http.StatusInternalServerError, "completion_timeout"),
		sentinelHandler(domain.ErrMalformedReply, http.StatusInternalServerError, "malformed_reply"),
	}
	return s
}

// WithTrustedProxy makes client identification honor X-Forwarded-For.
func (s *Server) WithTrustedProxy(trust bool) *Server {
	s.trustProxy = trust
	return s
}

// Register mounts the API routes on the given router. Admission
// control wraps the query routes as middleware, so every request
// counts against the client's window before any validation and a
// blacklisted client always gets 429.
func (s *Server) Register(r chi.Router) {
	r.Group(func(g chi.Router) {
		g.Use(s.rateLimitMiddleware)
		g.Post("/chat", s.Chat)
		g.Post("/query", s.Chat)
	})
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			client := s.clientID(r)
			if !s.limiter.Admit(client) {
				s.logger.Warn("request rejected by rate limiter", zap.String("client", client))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string           `json:"reply"`
	Data  domain.GraphData `json:"data"`
}

// Chat handles POST /chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "message is required")
		return
	}

	result, err := s.pipeline.Ask(r.Context(), req.Message)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Reply: result.RawReply,
		Data:  result.Data,
	})
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	writeJSON(w, httpStatus, healthResponse{
		Status:    string(report.Status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// clientID identifies the caller for admission control.
func (s *Server) clientID(r *http.Request) string {
	if s.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrRateLimited,
		domain.ErrNotInitialized,
		domain.ErrEmbedding,
		domain.ErrCompletionService,
		domain.ErrPollTimeout,
		domain.ErrMalformedReply,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error:   code,
		Message: message,
	})
}
