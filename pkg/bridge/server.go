package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	abciserver "github.com/cometbft/cometbft/abci/server"
	"github.com/cometbft/cometbft/libs/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ABCIServer runs the ABCI application on the official CometBFT socket server.
type ABCIServer struct {
	bridge     *Bridge
	srv        service.Service
	listenAddr string
	logger     *slog.Logger
}

// NewABCIServer creates a new ABCI server instance
func NewABCIServer(bridge *Bridge) *ABCIServer {
	addr := "tcp://0.0.0.0:26658"
	if bridge.config != nil && bridge.config.Bridge.ListenAddr != "" {
		addr = bridge.config.Bridge.ListenAddr
	}
	return &ABCIServer{
		bridge:     bridge,
		listenAddr: addr,
		logger:     bridge.logger.With("server", "abci"),
	}
}

// Start starts the ABCI server
func (s *ABCIServer) Start() error {
	if s.bridge.abciApp == nil {
		return fmt.Errorf("no ABCI application available")
	}
	s.logger.Info("Starting ABCI socket server", "addr", s.listenAddr)

	srv, err := abciserver.NewServer(s.listenAddr, "socket", s.bridge.abciApp)
	if err != nil {
		return fmt.Errorf("failed to create ABCI socket server on %s: %w", s.listenAddr, err)
	}
	s.srv = srv
	if err := s.srv.Start(); err != nil {
		return fmt.Errorf("failed to start ABCI socket server: %w", err)
	}
	return nil
}

// Stop stops the ABCI server
func (s *ABCIServer) Stop() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Stop()
}

// HealthServer serves /health and the prometheus /metrics endpoint.
type HealthServer struct {
	addr       string
	bridge     *Bridge
	httpServer *http.Server
	logger     *slog.Logger
}

// NewHealthServer returns a server for addr. An empty addr disables it.
func NewHealthServer(addr string, bridge *Bridge) *HealthServer {
	return &HealthServer{
		addr:   addr,
		bridge: bridge,
		logger: bridge.logger.With("server", "health"),
	}
}

// Handler returns the HTTP routes of the health server.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		body := s.bridge.Status()
		body["status"] = "ok"
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.logger.Warn("Failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.bridge.metrics.Registry(), promhttp.HandlerOpts{}))
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *HealthServer) Start() error {
	if s.addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health server listen on %s: %w", s.addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}
	s.logger.Info("Starting HTTP health check server", "addr", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Health server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down, waiting up to two seconds for open requests.
func (s *HealthServer) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
