// Package debugapi serves a read-mostly HTTP view of live recognizer
// sessions.
package debugapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/domwait/idgen"
	"github.com/hazyhaar/domwait/recognize"
)

// Server exposes a Registry over HTTP.
//
//	GET    /healthz
//	GET    /recognizers        live sessions, oldest first
//	GET    /recognizers/{id}
//	DELETE /recognizers/{id}   cancels the session
type Server struct {
	reg    *recognize.Registry
	logger *slog.Logger
	newID  idgen.Generator
}

// New creates a Server for reg.
func New(reg *recognize.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{reg: reg, logger: logger, newID: idgen.Sequence("req-")}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(headToGet, s.traceID, noSniff)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.reg.Len()})
	})
	r.Route("/recognizers", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.reg.Snapshot())
		})
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			sess, ok := s.reg.Get(chi.URLParam(r, "id"))
			if !ok {
				writeError(w, http.StatusNotFound, errors.New("no such session"))
				return
			}
			writeJSON(w, http.StatusOK, sess.Info())
		})
		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			sess, ok := s.reg.Get(id)
			if !ok {
				writeError(w, http.StatusNotFound, errors.New("no such session"))
				return
			}
			sess.Cancel()
			s.logger.Info("debugapi: session cancelled", "session", id)
			writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelled"})
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("debugapi: listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// traceID tags each request with an ID in the response header and the
// request log line.
func (s *Server) traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := s.newID()
		w.Header().Set("X-Trace-ID", id)
		s.logger.Debug("debugapi: request", "trace_id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// headToGet lets routes registered with Get answer HEAD.
func headToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

func noSniff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
