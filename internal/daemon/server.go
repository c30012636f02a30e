package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/gateway"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/metrics"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/registry"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/status"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server manages the HTTP listener that fronts the WebSocket gateway,
// health, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	addr       string
	logger     *zap.Logger
}

// NewServer wires the router.
func NewServer(p Params, logger *zap.Logger, gw *gateway.Gateway, reg *registry.Registry, machine *status.Machine, collector *metrics.Collector) *Server {
	r := mux.NewRouter()
	r.Handle("/ws", gw)
	r.Handle("/metrics", collector.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		state := machine.Current()
		w.Header().Set("Content-Type", "application/json")
		if state != status.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"state":       state,
			"connections": reg.ConnCount(),
			"online":      len(reg.ListOnline()),
		})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              p.Config.ListenAddr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr:   p.Config.ListenAddr,
		logger: logger,
	}
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(shutdownCtx)
}
