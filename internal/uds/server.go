package uds

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// HandlerFunc serves one decoded command frame.
type HandlerFunc func(req *Request) *Response

// Server owns the daemon's control socket. Each connection carries exactly
// one request/response exchange; the mutation handlers behind it are
// responsible for their own locking.
type Server struct {
	socketPath  string
	listener    net.Listener
	handlers    map[string]HandlerFunc
	mu          sync.RWMutex
	connTimeout time.Duration
	logger      *log.Logger
	debug       atomic.Bool
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewServer(socketPath string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:  socketPath,
		handlers:    make(map[string]HandlerFunc),
		connTimeout: 30 * time.Second,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Server) SetConnTimeout(d time.Duration) {
	s.connTimeout = d
}

// SetLogger routes server log lines to the daemon's log. Nil keeps the
// server silent.
func (s *Server) SetLogger(logger *log.Logger) {
	s.logger = logger
}

// SetDebug enables per-command trace lines. Safe to flip while serving;
// config reloads toggle it live.
func (s *Server) SetDebug(on bool) {
	s.debug.Store(on)
}

// Handle registers the handler for a command name. Later registrations for
// the same command win.
func (s *Server) Handle(command string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = handler
}

// Start binds the socket and begins accepting connections. A stale socket
// file from a crashed daemon is removed first; the single-instance flock is
// what prevents removing a live daemon's socket.
func (s *Server) Start() error {
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}

	// Mutation commands are owner-only.
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.listener = listener
	s.wg.Add(1)
	go s.acceptConns()

	s.logf("INFO", "listening socket=%s", s.socketPath)
	return nil
}

// Stop closes the listener, waits for in-flight connections, and removes
// the socket file.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	return nil
}

func (s *Server) acceptConns() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logf("WARN", "accept error=%v", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn runs one request/response exchange. A handler panic is logged
// and drops the connection without answering; the client sees a read error
// rather than a half-written frame.
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()
	defer func() {
		if r := recover(); r != nil {
			s.logf("ERROR", "handler panic=%v\n%s", r, debug.Stack())
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(s.connTimeout))

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		s.logf("WARN", "read request error=%v", err)
		return
	}

	start := time.Now()
	resp := s.dispatch(&req)
	if s.debug.Load() {
		s.logf("DEBUG", "command=%s ok=%t elapsed=%s", req.Command, resp.Success, time.Since(start).Round(time.Microsecond))
	}

	if err := WriteFrame(conn, resp); err != nil {
		s.logf("WARN", "write response command=%s error=%v", req.Command, err)
	}
}

func (s *Server) dispatch(req *Request) *Response {
	if req.ProtocolVersion != ProtocolVersion {
		return ErrorResponse(
			ErrCodeProtocolMismatch,
			fmt.Sprintf("protocol version mismatch: got %d, expected %d", req.ProtocolVersion, ProtocolVersion),
		)
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Command]
	s.mu.RUnlock()

	if !ok {
		return ErrorResponse(
			ErrCodeUnknownCommand,
			fmt.Sprintf("unknown command: %q", req.Command),
		)
	}

	return handler(req)
}

func (s *Server) logf(level, format string, args ...any) {
	if s.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	s.logger.Printf("%s %s server: %s", time.Now().Format(time.RFC3339), level, msg)
}
