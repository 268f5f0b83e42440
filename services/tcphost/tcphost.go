// Package tcphost is the bundled TCP IHostService/IConnectionService pair,
// grounded on the source's TcpHostService.h/TcpConnectionService.h and the
// teacher's own systemd-socket-activation lookup in
// internal/aggregator/server.go. A HostService accepts connections (from a
// systemd-activated listener when present, otherwise from a plain
// net.Listen) and hands each one to a ConnectionHandler, one per accepted
// connection.
package tcphost

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/coreos/go-systemd/v22/activation"

	"synapse/pkg/ids"
	"synapse/pkg/logging"
)

// IHostService is the interface dependents register against to accept TCP
// connections.
type IHostService interface {
	Addr() net.Addr
	Stop() error
}

// InterfaceHash is the stable hash dependents register against.
var InterfaceHash = ids.InterfaceOf[IHostService]()

// ConnectionHandler is invoked once per accepted connection, on its own
// goroutine. Serve closes the connection when the handler returns.
type ConnectionHandler func(ctx context.Context, conn *Connection)

// Connection adapts a net.Conn into IConnectionService's
// read-line/write-line contract (spec.md §6 bundled-service surface is
// out of core scope for exact shape, so this follows the source's
// line-oriented TcpConnectionService.h framing).
type Connection struct {
	net.Conn
	reader *bufio.Reader
}

// ReadLine blocks for the next newline-terminated line.
func (c *Connection) ReadLine() (string, error) {
	return c.reader.ReadString('\n')
}

// WriteLine writes s followed by a newline.
func (c *Connection) WriteLine(s string) error {
	_, err := fmt.Fprintf(c, "%s\n", s)
	return err
}

// Service is the bundled IHostService implementation.
type Service struct {
	logger   logging.Logger
	listener net.Listener
	handler  ConnectionHandler

	mu   sync.Mutex
	conns map[net.Conn]struct{}
	wg   sync.WaitGroup
}

// New binds addr, preferring a systemd-activated listener named systemdName if
// one was passed to the process, falling back to net.Listen otherwise
// (grounded on internal/aggregator/server.go's activation.ListenersWithNames
// lookup).
func New(addr, systemdName string, handler ConnectionHandler, logger logging.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.Default()
	}
	listener, err := activatedListener(systemdName)
	if err != nil {
		logger.Warn("tcphost", 0, "New", "systemd socket activation lookup failed: %v", err)
	}
	if listener == nil {
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("tcphost: listen %s: %w", addr, err)
		}
	}
	return &Service{
		logger:   logger,
		listener: listener,
		handler:  handler,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

func activatedListener(name string) (net.Listener, error) {
	listenersWithNames, err := activation.ListenersWithNames()
	if err != nil {
		return nil, err
	}
	listeners, ok := listenersWithNames[name]
	if !ok || len(listeners) == 0 {
		return nil, nil
	}
	return listeners[0], nil
}

// Serve accepts connections until ctx is cancelled or Stop is called.
func (s *Service) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				_ = conn.Close()
			}()
			s.handler(ctx, &Connection{Conn: conn, reader: bufio.NewReader(conn)})
		}()
	}
}

// Addr returns the listener's bound address.
func (s *Service) Addr() net.Addr { return s.listener.Addr() }

// Stop closes the listener, unblocking Serve.
func (s *Service) Stop() error {
	return s.listener.Close()
}
