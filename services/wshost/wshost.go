// Package wshost is the bundled WebSocket IHostService/IConnectionService
// pair, grounded on the source's WsHostService.h/WsConnectionService.h and
// the gorilla/websocket usage pattern seen in the r3e-network-service_layer
// and tomtom215-cartographus example repos. It upgrades incoming HTTP
// connections and hands each established socket to a ConnectionHandler,
// one per connection, the same shape as services/tcphost.
package wshost

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"synapse/pkg/ids"
	"synapse/pkg/logging"
)

// IHostService is the interface dependents register against to accept
// WebSocket connections.
type IHostService interface {
	Addr() string
	Stop(ctx context.Context) error
}

// InterfaceHash is the stable hash dependents register against.
var InterfaceHash = ids.InterfaceOf[IHostService]()

// ConnectionHandler is invoked once per accepted connection, on its own
// goroutine. The handler owns the connection for its lifetime.
type ConnectionHandler func(ctx context.Context, conn *websocket.Conn)

// Service is the bundled IHostService implementation: an HTTP server with
// a single upgrade endpoint.
type Service struct {
	logger   logging.Logger
	server   *http.Server
	upgrader websocket.Upgrader
	handler  ConnectionHandler

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New constructs a wshost Service bound to addr, upgrading every request
// to path.
func New(addr, path string, handler ConnectionHandler, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		logger:   logger,
		handler:  handler,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		conns:    make(map[*websocket.Conn]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, s.serveUpgrade)
	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Service) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("wshost", 0, "serveUpgrade", "upgrade failed: %v", err)
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	s.handler(r.Context(), conn)
}

// ListenAndServe runs the host's HTTP server until Stop is called.
func (s *Service) ListenAndServe() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Addr returns the configured bind address.
func (s *Service) Addr() string { return s.server.Addr }

// Stop gracefully shuts down the HTTP server and closes tracked
// connections.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	return s.server.Shutdown(ctx)
}
