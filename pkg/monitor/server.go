package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/metabrainz/caa-backup/pkg/errors"
)

const shutdownTimeout = 5 * time.Second

// Server serves GET /status with a JSON statistics snapshot. It shares
// only the Stats reader with the download engine.
type Server struct {
	stats     *Stats
	cacheRoot string
	srv       *http.Server
}

// NewServer creates a status server bound to addr (host:port).
func NewServer(stats *Stats, cacheRoot, addr string) *Server {
	s := &Server{stats: stats, cacheRoot: cacheRoot}
	s.srv = &http.Server{Addr: addr, Handler: s}
	return s
}

// ServeHTTP answers /status and nothing else.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/status" {
		http.NotFound(w, r)
		return
	}

	status, err := s.stats.Snapshot(s.cacheRoot)
	if err != nil {
		slog.Error("monitor_snapshot_failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		slog.Error("monitor_encode_failed", "error", err)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("monitor_server_start", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "monitor server shutdown failed")
		}
		slog.Info("monitor_server_stopped")
		return nil
	case err := <-errCh:
		return errors.Wrap(err, "monitor server failed")
	}
}
