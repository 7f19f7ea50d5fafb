// Package web serves the public calendar artifacts over HTTP:
// the static public directory (events.json plus images), a health
// endpoint, and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"calfeed/internal/config"
	appLog "calfeed/internal/log"
	"calfeed/internal/metrics"
)

// Server is the HTTP front for a running daemon.
type Server struct {
	cfg    *config.Config
	router chi.Router
}

// New builds the server. gatherer may be nil to disable /metrics.
func New(cfg *config.Config, gatherer prometheus.Gatherer) *Server {
	s := &Server{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Get("/api/events", s.handleEvents)
	if gatherer != nil {
		r.Handle("/metrics", metrics.Handler(gatherer))
	}

	// Everything else is the public directory the front-end consumes.
	r.Handle("/*", http.FileServer(http.Dir(cfg.PublicDir)))

	s.router = r
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("http server listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleEvents returns the current output document. The file is read
// per request; the pipeline replaces it atomically, so a reader always
// sees a complete array.
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	data, err := os.ReadFile(s.cfg.Output)
	if err != nil {
		if os.IsNotExist(err) {
			// No run has completed yet; an empty array is still a
			// valid document for the front-end.
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("[]"))
			return
		}
		appLog.Error("events read failed", err, "path", s.cfg.Output)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
