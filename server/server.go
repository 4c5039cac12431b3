package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/outpostfs/ftpd/internal/ratelimit"
)

// Server is the FTP server.
//
// It handles listening for incoming connections and dispatching them to
// client sessions. Each connection runs in its own goroutine.
//
// Lifecycle:
//  1. Create server with NewServer()
//  2. Start with ListenAndServe() or Serve()
//  3. Server runs until an error occurs or the listener is closed
//  4. For graceful shutdown, close the listener from another goroutine
//
// Basic example:
//
//	backend, _ := server.NewFSDriver("/tmp/ftp", "alice", "secret")
//	s, err := server.NewServer(":21", server.WithBackend(backend))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
type Server struct {
	addr    string
	backend Backend
	logger  *slog.Logger

	disableMLSD bool

	welcomeMessage string
	serverName     string

	maxIdleTime  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	maxConnections      int
	maxConnectionsPerIP int

	activeConns atomic.Int32
	connsByIP   map[string]int32
	connsByIPMu sync.Mutex

	// bandwidthLimitPerConn, if > 0, caps the transfer throughput each
	// session's data connection may use.
	bandwidthLimitPerConn int64
	// globalLimiter, if set, caps the aggregate transfer throughput across
	// every session sharing this server.
	globalLimiter *ratelimit.Bucket

	// redactPathFn/redactIPFn optionally scrub paths and addresses before
	// they reach the logger.
	redactPathFn func(string) string
	redactIPFn   func(string) string

	enableDirMessage bool
	transferLog      io.Writer
	metricsCollector MetricsCollector
	disabledCommands map[string]bool

	// nextPassivePort round-robins PASV/EPSV port allocation within a
	// configured range.
	nextPassivePort int32

	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	inShutdown atomic.Bool
}

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("ftp: Server closed")

// NewServer creates a new FTP server with the given address and options.
// A backend must be provided via the WithBackend option.
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:           addr,
		logger:         slog.Default(),
		welcomeMessage: "220 FTP Server Ready",
		serverName:     "UNIX Type: L8",
		maxIdleTime:    5 * time.Minute,
		conns:          make(map[net.Conn]struct{}),
		connsByIP:      make(map[string]int32),
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.backend == nil {
		return nil, fmt.Errorf("backend is required (use WithBackend option)")
	}

	return s, nil
}

func (s *Server) redactPath(path string) string {
	if s.redactPathFn == nil {
		return path
	}
	return s.redactPathFn(path)
}

func (s *Server) redactIP(ip string) string {
	if s.redactIPFn == nil {
		return ip
	}
	return s.redactIPFn(ip)
}

func (s *Server) commandDisabled(cmd string) bool {
	return s.disabledCommands != nil && s.disabledCommands[cmd]
}

// ListenAndServe starts the FTP server on the configured address. It blocks
// until the server stops or an error occurs.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("FTP server listening", "addr", s.addr)
	return s.Serve(ln)
}

// Shutdown stops the server: it closes the listener and all active
// connections, control and data alike.
func (s *Server) Shutdown() error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}

	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	for conn := range conns {
		conn.Close()
	}

	return err
}

// Serve accepts incoming connections on l until it closes or Shutdown is
// called. Each connection is handled in its own goroutine.
//
// Transient accept errors (anything short of the listener being closed) are
// retried with exponential backoff instead of spinning the accept loop hot;
// a closed listener ends Serve with the accept error.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0 // retry indefinitely; the listener being closed is what ends the loop

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			delay := bo.NextBackOff()
			s.logger.Error("accept error", "error", err, "retry_in", delay)
			time.Sleep(delay)
			continue
		}
		bo.Reset()

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	if !s.trackConnection(conn, true) {
		conn.Close()
		return
	}
	defer s.trackConnection(conn, false)

	s.handleSession(conn)
}

// trackConnection returns false if the server is shutting down.
func (s *Server) trackConnection(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inShutdown.Load() {
		conn.Close()
		return false
	}

	ip := ipOf(conn)

	if add {
		s.conns[conn] = struct{}{}
		if s.maxConnectionsPerIP > 0 {
			s.connsByIPMu.Lock()
			s.connsByIP[ip]++
			s.connsByIPMu.Unlock()
		}
		return true
	}

	delete(s.conns, conn)
	if s.maxConnectionsPerIP > 0 {
		s.connsByIPMu.Lock()
		s.connsByIP[ip]--
		if s.connsByIP[ip] <= 0 {
			delete(s.connsByIP, ip)
		}
		s.connsByIPMu.Unlock()
	}
	return true
}

func ipOf(conn net.Conn) string {
	remoteAddr := conn.RemoteAddr().String()
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return ip
}

// trackingConn wraps a net.Conn to unregister it from the server on Close.
type trackingConn struct {
	net.Conn
	server *Server
}

func (c *trackingConn) Close() error {
	c.server.trackConnection(c.Conn, false)
	return c.Conn.Close()
}

func (s *Server) handleSession(conn net.Conn) {
	if s.maxConnections > 0 && s.activeConns.Load() >= int32(s.maxConnections) {
		ip := ipOf(conn)
		s.logger.Warn("connection_rejected",
			"remote_ip", s.redactIP(ip),
			"reason", "global_limit_reached",
			"limit", s.maxConnections,
		)
		if s.metricsCollector != nil {
			s.metricsCollector.RecordConnection(false, "global_limit_reached")
		}
		fmt.Fprintf(conn, "421 Too many users, sorry.\r\n")
		conn.Close()
		return
	}

	if s.maxConnectionsPerIP > 0 {
		ip := ipOf(conn)
		s.connsByIPMu.Lock()
		current := s.connsByIP[ip] // already counts this connection
		if current > int32(s.maxConnectionsPerIP) {
			s.connsByIPMu.Unlock()
			s.logger.Warn("connection_rejected",
				"remote_ip", s.redactIP(ip),
				"reason", "per_ip_limit_reached",
				"limit", s.maxConnectionsPerIP,
			)
			if s.metricsCollector != nil {
				s.metricsCollector.RecordConnection(false, "per_ip_limit_reached")
			}
			fmt.Fprintf(conn, "421 Too many connections from your IP address.\r\n")
			conn.Close()
			return
		}
		s.connsByIPMu.Unlock()
	}

	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(true, "accepted")
	}

	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	session := newSession(s, conn)
	session.serve()
}
