package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veritome/knowledge-gateway/internal/cache"
	"github.com/veritome/knowledge-gateway/internal/config"
	"github.com/veritome/knowledge-gateway/internal/events"
	"github.com/veritome/knowledge-gateway/internal/graph"
	"github.com/veritome/knowledge-gateway/internal/guard"
	"github.com/veritome/knowledge-gateway/internal/payment"
)

// Server wires the gateway pipeline behind the HTTP surface. It holds no
// mutable state; every request is a pure function of its inputs and the
// external collaborators' responses.
type Server struct {
	log    *slog.Logger
	cfg    *config.Gateway
	graph  *graph.Client
	gate   *payment.Gate
	cache  cache.Store
	events *events.Publisher
}

// NewServer assembles the gateway from its collaborators. A nil store
// disables caching; a nil publisher disables the access-event stream.
func NewServer(log *slog.Logger, cfg *config.Gateway, graphClient *graph.Client, gate *payment.Gate, store cache.Store, publisher *events.Publisher) *Server {
	if store == nil {
		store = cache.Noop{}
	}
	return &Server{
		log:    log,
		cfg:    cfg,
		graph:  graphClient,
		gate:   gate,
		cache:  store,
		events: publisher,
	}
}

// Routes builds the router. Every /assets route runs behind the
// remote-source guard; a local or missing endpoint hard-fails with 400
// before any query is issued.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/assets", func(r chi.Router) {
		r.Use(s.requireRemoteSource)
		r.Get("/", s.handleSearch)
		r.Post("/", s.handleIngest)
		r.Get("/{topicID}", s.handleGetAsset)
	})

	return r
}

// requireRemoteSource is the single pre-flight guard check for the whole
// pipeline, replacing the per-handler validation the handlers used to
// repeat.
func (s *Server) requireRemoteSource(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := guard.Validate(s.cfg.GraphEndpoint); err != nil {
			s.log.Warn("rejected request against untrusted source", slog.Any("err", err))
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := guard.Validate(s.cfg.GraphEndpoint); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.graph.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "graph store unreachable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

// internalError hides internal detail behind a flat 500 body.
func internalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

// isQueryFailure reports whether err came from the store's query
// interface; those surface as 404 rather than 500, so internal query
// structure never leaks.
func isQueryFailure(err error) bool {
	var qe *graph.QueryError
	return errors.As(err, &qe)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// nothing better to do
	}
}
