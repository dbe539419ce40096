// Package statusd serves JSON snapshots of the hub over HTTP for
// tooling and the `spyglass status` command.
package statusd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/spyglass-ide/spyglass/internal/hub"
)

// Server is the status HTTP server.
type Server struct {
	hub    *hub.Hub
	port   int
	logger *slog.Logger
}

// NewServer creates a status server for a hub.
func NewServer(h *hub.Hub, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{hub: h, port: port, logger: logger}
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("starting status server", "addr", fmt.Sprintf("http://localhost:%d", s.port))

	eg, egctx := errgroup.WithContext(ctx)

	r := chi.NewMux()
	r.Use(
		middleware.Recoverer,
	)
	r.Get("/status", s.handleStatus)
	r.Get("/diagnostics", s.handleDiagnostics)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("status server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down status server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// snapshot reads the hub state from off the event loop.
func (s *Server) snapshot() hub.Status {
	var st hub.Status
	s.hub.Loop().Call(func() {
		st = s.hub.Status()
	})
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.snapshot())
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	st := s.snapshot()
	s.writeJSON(w, map[string]any{
		"counts":  st.Counts,
		"items":   st.Diagnostics,
		"by_file": st.ByFile,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("error encoding response", "error", err)
	}
}
