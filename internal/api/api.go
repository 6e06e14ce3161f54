// Package api serves storage usage over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stacc-go/internal/stacc"
)

// Service is the part of *stacc.StaccService the API needs.
type Service interface {
	Usage(ctx context.Context, owner stacc.Owner, exact bool) (*stacc.UsageReport, error)
	PendingEntries(ctx context.Context, owner stacc.Owner, limit int) ([]*stacc.Entry, error)
	RequestMaterialize(ctx context.Context, owner stacc.Owner) error
	RequestReconcile(ctx context.Context, owner stacc.Owner) error
}

const defaultPendingLimit = 100

type Server struct {
	svc      Service
	logger   stacc.Logger
	gatherer prometheus.Gatherer
}

// NewServer builds the API. A nil gatherer serves the default registry on /metrics.
func NewServer(svc Service, logger stacc.Logger, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = stacc.NewNopLogger()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{svc: svc, logger: logger, gatherer: gatherer}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/v1/owners/{kind}/{id}", func(r chi.Router) {
		r.Get("/usage", s.handleUsage)
		r.Get("/entries/pending", s.handlePending)
		r.Post("/materialize", s.handleMaterialize)
		r.Post("/reconcile", s.handleReconcile)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return r
}

// Serve listens on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func ownerParam(r *http.Request) (stacc.Owner, error) {
	owner := stacc.Owner{
		Kind: stacc.OwnerKind(chi.URLParam(r, "kind")),
		ID:   chi.URLParam(r, "id"),
	}
	return owner, owner.Validate()
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	exact := true
	if v := r.URL.Query().Get("exact"); v != "" {
		exact, err = strconv.ParseBool(v)
		if err != nil {
			write(w, http.StatusBadRequest, response{Message: "exact must be a boolean"})
			return
		}
	}

	report, err := s.svc.Usage(r.Context(), owner, exact)
	if err != nil {
		s.writeError(w, err)
		return
	}
	write(w, http.StatusOK, report)
}

type entryJSON struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	ContainerID string    `json:"container_id,omitempty"`
	Recordable  string    `json:"recordable,omitempty"`
	BlobID      string    `json:"blob_id,omitempty"`
	Delta       int64     `json:"delta"`
	Operation   string    `json:"operation"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	limit := defaultPendingLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			write(w, http.StatusBadRequest, response{Message: "limit must be a positive integer"})
			return
		}
	}

	entries, err := s.svc.PendingEntries(r.Context(), owner, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		j := entryJSON{
			ID:          e.ID,
			TenantID:    e.TenantID,
			ContainerID: e.ContainerID,
			BlobID:      e.BlobID,
			Delta:       e.Delta,
			Operation:   string(e.Operation),
			CreatedAt:   e.CreatedAt,
		}
		if !e.Recordable.IsZero() {
			j.Recordable = e.Recordable.String()
		}
		out = append(out, j)
	}
	write(w, http.StatusOK, out)
}

func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	s.handleRequest(w, r, s.svc.RequestMaterialize, "materialize")
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	s.handleRequest(w, r, s.svc.RequestReconcile, "reconcile")
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request, enqueue func(context.Context, stacc.Owner) error, what string) {
	owner, err := ownerParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := enqueue(r.Context(), owner); err != nil {
		s.writeError(w, err)
		return
	}
	write(w, http.StatusAccepted, response{Message: what + " enqueued for " + owner.String()})
}

type response struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stacc.ErrInvalidOwner):
		write(w, http.StatusBadRequest, response{Message: "invalid owner", Detail: err.Error()})
	case errors.Is(err, stacc.ErrOwnerNotFound):
		write(w, http.StatusNotFound, response{Message: "owner not found", Detail: err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		write(w, http.StatusInternalServerError, response{Message: "internal error"})
	}
}

func write(w http.ResponseWriter, status int, v any) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
