// Package server is the loopback TCP front end: it accepts client sockets,
// extracts newline-terminated frames, and hands each frame to the dispatcher.
package server

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/kagenti/mcp-bridge/internal/config"
)

// Handler consumes framed requests and learns about closed connections.
type Handler interface {
	HandleLine(conn net.Conn, line []byte)
	ConnClosed(conn net.Conn)
}

// Server owns the TCP listener and one goroutine per client socket.
type Server struct {
	handler  Handler
	settings func() config.Settings
	logger   *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
}

// New creates a Server. Listen must be called before Serve.
func New(handler Handler, settings func() config.Settings, logger *slog.Logger) *Server {
	return &Server{
		handler:  handler,
		settings: settings,
		logger:   logger.With("component", "server"),
		conns:    map[net.Conn]struct{}{},
	}
}

// Listen binds the configured address and returns the bound address, which
// differs from the configured one when port 0 was requested.
func (s *Server) Listen() (string, error) {
	cfg := s.settings()
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.logger.Info("listening", "address", ln.Addr().String())
	return ln.Addr().String(), nil
}

// Serve accepts connections until ctx is done or the listener is closed.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.serveConn(conn)
	}
}

// Close stops the listener and ends every client socket.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.ln
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// serveConn reads newline-terminated frames from one socket. Each read is
// bounded by the inactivity timeout; an idle socket is ended.
func (s *Server) serveConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.logger.Debug("client connected", "remote", remote)
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
		s.handler.ConnClosed(conn)
		s.logger.Debug("client disconnected", "remote", remote)
	}()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.settings().SocketTimeout))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = s.drainFrames(conn, buf)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.logger.Info("socket idle timeout", "remote", remote)
			}
			return
		}
	}
}

// drainFrames extracts every complete LF-terminated frame from buf, strips a
// trailing CR, and dispatches non-empty frames. The unterminated remainder is
// returned.
func (s *Server) drainFrames(conn net.Conn, buf []byte) []byte {
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			return buf
		}
		frame := bytes.TrimSuffix(buf[:idx], []byte{'\r'})
		buf = buf[idx+1:]
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}
		s.handler.HandleLine(conn, frame)
	}
}
