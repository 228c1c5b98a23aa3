package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blackmichael/nostr-recommender/internal/config"
	"github.com/blackmichael/nostr-recommender/internal/domain"
	"github.com/blackmichael/nostr-recommender/internal/metrics"
)

const banner = "This is a naive classifier based recommendation system for Nostr."

// Recommender produces a page of recommended events for a hex public key.
type Recommender interface {
	Recommend(ctx context.Context, pubkey string, offset, limit int) ([]*nostr.Event, error)
}

// Server is the HTTP server that serves recommendations.
type Server struct {
	cfg         *config.Config
	recommender Recommender
	logger      *slog.Logger
	httpServer  *http.Server
}

// NewServer creates a new HTTP server backed by the given recommender.
func NewServer(cfg *config.Config, recommender Recommender, logger *slog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		recommender: recommender,
		logger:      logger.With("component", "httpserver"),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return withLogging(s.logger, next)
	})

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.cfg.Server.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.cfg.Server.RateLimit, s.cfg.Server.RateLimitWindow))
		}
		r.Get("/recommend/{identity}", s.handleRecommend)
	})

	return r
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(banner))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	pubkey, err := domain.ParseIdentity(identity)
	if err != nil {
		s.logger.Warn("invalid identity", "identity", identity, "error", err)
		writeUnprocessable(w, err)
		return
	}

	limit, err := intParam(r, "limit", s.cfg.Recommend.DefaultLimit)
	if err != nil {
		writeUnprocessable(w, err)
		return
	}
	if limit > s.cfg.Recommend.MaxLimit {
		limit = s.cfg.Recommend.MaxLimit
	}

	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeUnprocessable(w, err)
		return
	}

	events, err := s.recommender.Recommend(r.Context(), pubkey, offset, limit)
	if err != nil {
		s.logger.Error("failed to build recommendations",
			"author", pubkey,
			"limit", limit,
			"offset", offset,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "failed to build recommendations")
		return
	}

	s.logger.Info("recommend success", "author", pubkey, "events_returned", len(events))
	writeJSON(w, http.StatusOK, events)
}

// intParam parses a non-negative integer query parameter.
func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{
		Status: status,
		Detail: errorDetail{Error: message},
	})
}

func writeUnprocessable(w http.ResponseWriter, err error) {
	msg := err.Error()
	if errors.Is(err, domain.ErrInvalidIdentity) {
		msg = domain.ErrInvalidIdentity.Error()
	}
	writeError(w, http.StatusUnprocessableEntity, msg)
}

type errorResponse struct {
	Status int         `json:"status"`
	Detail errorDetail `json:"detail"`
}

type errorDetail struct {
	Error string `json:"error"`
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).
			Observe(time.Since(start).Seconds())

		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
