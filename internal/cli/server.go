// Package cli implements the CLI Dispatcher (component E): a line-oriented
// TCP protocol for reading Peer Table / Local Database snapshots and
// injecting root consensus rounds or lying-policy changes (spec §4.E).
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnode/omnode/pkg/log"
)

// writeTimeout bounds how long a single line write may block before the
// session is treated as a slow client and disconnected (spec §4.E: "TCP
// writes to CLI sessions use best-effort non-blocking semantics; a slow
// client that would block is disconnected").
const writeTimeout = time.Second

// Server is the CLI Dispatcher's TCP listener: it accepts connections and
// runs one line-oriented session per connection, all sharing deps under
// deps' own internal serialization.
type Server struct {
	deps    Dependencies
	logger  log.Logger
	metrics *Metrics

	mu       sync.Mutex
	sessions map[net.Conn]struct{}
}

// NewServer constructs a CLI Dispatcher server.
func NewServer(deps Dependencies, logger log.Logger, metrics *Metrics) *Server {
	return &Server{
		deps:     deps,
		logger:   logger.WithSubsystem("cli"),
		metrics:  metrics,
		sessions: make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until it is closed, running each in its
// own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting cli server", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.track(conn)
		s.metrics.SessionsAccepted.Inc()
		s.metrics.SessionsActive.Inc()
		go s.handleConn(conn)
	}
}

// Shutdown closes every open session so Serve's accept loop (once its
// listener is separately closed by the caller) can unwind.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.sessions))
	for c := range s.sessions {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.sessions[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.sessions, conn)
	s.mu.Unlock()
	s.metrics.SessionsActive.Dec()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.untrack(conn)

	if !s.writeLine(conn, welcomeBanner) {
		return
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		response, exit := dispatch(s.deps, scanner.Text(), time.Now())
		s.metrics.CommandsHandled.Inc()
		if response != "" && !s.writeLine(conn, response) {
			return
		}
		if exit {
			return
		}
	}
}

// writeLine writes msg with a short deadline; a client too slow to drain
// its receive buffer is disconnected rather than blocking this session's
// goroutine indefinitely.
func (s *Server) writeLine(conn net.Conn, msg string) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return false
	}
	if _, err := conn.Write([]byte(msg)); err != nil {
		s.logger.Warn("cli session write failed, disconnecting", zap.Error(err))
		return false
	}
	return true
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
