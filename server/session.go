package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/outpostfs/ftpd/internal/ratelimit"
)

// MaxCommandLength is the maximum length of a command line.
const MaxCommandLength = 8192

// authState tracks where a session sits in the USER/PASS login sequence.
// It replaces a bare boolean so the dispatcher can enforce a single,
// centralized login gate instead of scattering "are we logged in" checks
// across every handler.
type authState int

const (
	// awaitingUser is the state before USER has been sent.
	awaitingUser authState = iota
	// awaitingPass is the state after USER, before a matching PASS.
	awaitingPass
	// authenticated is the state after a successful PASS.
	authenticated
)

// preAuthCommands lists verbs a client may send before authenticating.
var preAuthCommands = map[string]bool{
	"USER": true,
	"PASS": true,
	"QUIT": true,
	"NOOP": true,
	"FEAT": true,
	"HOST": true,
}

// session represents an FTP client session.
type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	tnet   *controlReader
	mu     sync.Mutex // Protects writer and state

	// Session tracking
	sessionID string
	remoteIP  string

	// State
	authState     authState
	user          string
	renameFrom    string // For RNFR/RNTO
	fs            Workspace
	restartOffset int64  // For REST command
	host          string // From HOST command
	selectedHash  string // Default SHA-256
	transferType  string // Transfer type (A=ASCII, I=Binary), default A

	// Background transfer state
	busy           bool
	transferCtx    context.Context
	transferCancel context.CancelFunc
	transferDone   chan struct{}
	transferWG     sync.WaitGroup

	// Reader synchronization
	cmdReqChan chan struct{}

	// Data connection state
	dataConn   net.Conn
	pasvList   net.Listener
	activeIP   string
	activePort int

	// Cache for PASV IP resolution
	lastPublicHost string
	resolvedIP     net.IP
}

// commandHandlers maps FTP commands to their handler functions.
// All handlers have the signature: func(s *session, arg string)
// Note: USER, PASS, QUIT, and NOOP are handled specially in handleCommand
var commandHandlers = map[string]func(*session, string){
	// File Management
	"CWD":  (*session).handleCWD,
	"XCWD": (*session).handleCWD,
	"CDUP": (*session).handleCDUP,
	"XCUP": (*session).handleCDUP,
	"UP":   (*session).handleCDUP,
	"PWD":  (*session).handlePWD,
	"XPWD": (*session).handlePWD,
	"LIST": (*session).handleLIST,
	"NLST": (*session).handleNLST,
	"MKD":  (*session).handleMKD,
	"XMKD": (*session).handleMKD,
	"RMD":  (*session).handleRMD,
	"XRMD": (*session).handleRMD,
	"DELE": (*session).handleDELE,
	"RNFR": (*session).handleRNFR,
	"RNTO": (*session).handleRNTO,

	// File Transfer
	"RETR": (*session).handleRETR,
	"STOR": (*session).handleSTOR,
	"APPE": (*session).handleAPPE,
	"STOU": (*session).handleSTOU,

	// Transfer Parameters
	"TYPE": (*session).handleTYPE,
	"PORT": (*session).handlePORT,
	"PASV": (*session).handlePASV,
	"EPSV": (*session).handleEPSV,
	"EPRT": (*session).handleEPRT,
	"REST": (*session).handleREST,

	// Information
	"SIZE": (*session).handleSIZE,
	"MDTM": (*session).handleMDTM,
	"FEAT": (*session).handleFEAT,
	"OPTS": (*session).handleOPTS,
	"MLSD": (*session).handleMLSD,
	"MLST": (*session).handleMLST,

	// RFC 1123 Compliance
	"ACCT": (*session).handleACCT,
	"MODE": (*session).handleMODE,
	"STRU": (*session).handleSTRU,
	"SYST": (*session).handleSYST,
	"STAT": (*session).handleSTAT,
	"HELP": (*session).handleHELP,
	"SITE": (*session).handleSITE,

	// Extensions
	"HOST": (*session).handleHOST,
	"HASH": (*session).handleHASH,
	"MFMT": (*session).handleMFMT,

	// Special
	"ABOR": (*session).handleABOR,
}

// validateActiveIP ensures the data connection target matches the control connection source.
// This prevents FTP bounce attacks.
func (s *session) validateActiveIP(ip net.IP) bool {
	remoteAddr := s.conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr // Fallback
	}

	remoteIP := net.ParseIP(host)
	if remoteIP == nil {
		return false
	}

	return ip.Equal(remoteIP)
}

// generateSessionID returns a fresh session identifier, unique enough to
// correlate log lines for the life of the process.
func generateSessionID() string {
	return uuid.NewString()
}

// redactPath returns the path with redaction applied if enabled.
func (s *session) redactPath(path string) string {
	return s.server.redactPath(path)
}

// redactIP returns the IP with redaction applied if enabled.
func (s *session) redactIP(ip string) string {
	return s.server.redactIP(ip)
}

// rateLimitReader wraps a reader with bandwidth limiting if configured.
// Applies both global and per-connection limits (most restrictive wins).
func (s *session) rateLimitReader(r io.Reader) io.Reader {
	if s.server.bandwidthLimitPerConn > 0 {
		bucket := ratelimit.NewBucket(s.server.bandwidthLimitPerConn)
		r = ratelimit.Throttle(r, bucket)
	}
	if s.server.globalLimiter != nil {
		r = ratelimit.Throttle(r, s.server.globalLimiter)
	}
	return r
}

// rateLimitWriter wraps a writer with bandwidth limiting if configured.
// Applies both global and per-connection limits (most restrictive wins).
func (s *session) rateLimitWriter(w io.Writer) io.Writer {
	if s.server.bandwidthLimitPerConn > 0 {
		bucket := ratelimit.NewBucket(s.server.bandwidthLimitPerConn)
		w = ratelimit.ThrottleWriter(w, bucket)
	}
	if s.server.globalLimiter != nil {
		w = ratelimit.ThrottleWriter(w, s.server.globalLimiter)
	}
	return w
}

// newSession creates a new session.
func newSession(server *Server, conn net.Conn) *session {
	remoteAddr := conn.RemoteAddr().String()
	remoteIP, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		remoteIP = remoteAddr // Fallback to full address
	}

	tr := newControlReader(conn)

	s := &session{
		server:       server,
		conn:         conn,
		reader:       bufio.NewReader(tr),
		writer:       bufio.NewWriter(conn),
		tnet:         tr,
		sessionID:    generateSessionID(),
		remoteIP:     remoteIP,
		selectedHash: "SHA-256",
		transferType: "A",
		cmdReqChan:   make(chan struct{}),
	}

	return s
}

type command struct {
	line string
	err  error
}

// serve handles the FTP session. It uses a concurrent architecture to handle
// commands and data transfers, enabling support for commands like ABOR.
//
// Concurrency Model:
//
//  1. Reader Goroutine: A dedicated goroutine is spawned to read commands from
//     the client's control connection. It sends each command to the main `serve`
//     loop via the `cmdChan`.
//
//  2. Main Loop (`serve`): This loop receives commands from `cmdChan` and
//     dispatches them to handlers. It is the single point of control for the
//     session's state.
//
//  3. Synchronization (`cmdReqChan`): The reader goroutine waits for a signal
//     on `cmdReqChan` before reading the next command, sent only after the
//     current command handler has finished. This keeps command handling
//     strictly sequential even though reading happens on its own goroutine.
//
//  4. Asynchronous Transfers: Data transfer commands (RETR, STOR, etc.) are
//     handled asynchronously. They start a new goroutine for the actual data
//     copy, set a `busy` flag on the session, and return immediately. This allows
//     the main loop to process other commands, specifically ABOR and STAT.
//
//  5. Aborting Transfers (`ABOR`): If a transfer is in progress (`busy == true`),
//     the `handleABOR` command can interrupt it by closing the data connection and
//     canceling the `transferCtx`. The background transfer goroutine detects
//     this and exits gracefully.
//
//  6. State Protection (`s.mu`): A mutex protects session fields that are accessed
//     by multiple goroutines (e.g., `writer`, `conn`, `busy`).
//
//  7. Goroutine Cleanup (`done`): A `done` channel is created in `serve` and
//     closed on exit. The reader goroutine selects on this channel to ensure it
//     terminates when the session ends, preventing goroutine leaks.
func (s *session) serve() {
	defer s.close()

	s.sendWelcome()

	s.server.logger.Info("session_started",
		"session_id", s.sessionID,
		"remote_ip", s.redactIP(s.remoteIP),
	)

	done := make(chan struct{})
	defer close(done)

	cmdChan := s.startCommandReader(done)

	for {
		cmd, ok := <-cmdChan
		if !ok {
			return
		}

		if cmd.err != nil {
			if cmd.err != io.EOF && cmd.err.Error() != "command too long" {
				s.server.logger.Warn("read error",
					"session_id", s.sessionID,
					"remote_ip", s.redactIP(s.remoteIP),
					"user", s.user,
					"error", cmd.err,
				)
			}
			if cmd.err.Error() == "command too long" {
				s.reply(500, "Command line too long.")
			}
			return
		}

		_ = s.conn.SetReadDeadline(time.Time{})

		if s.server.writeTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
		}

		s.handleCommand(cmd.line)

		if s.server.writeTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Time{})
		}

		select {
		case s.cmdReqChan <- struct{}{}:
		case <-time.After(1 * time.Second):
		}
	}
}

func (s *session) sendWelcome() {
	if strings.HasPrefix(s.server.welcomeMessage, "220 ") {
		s.mu.Lock()
		fmt.Fprintf(s.writer, "%s\r\n", s.server.welcomeMessage)
		s.writer.Flush()
		s.mu.Unlock()
	} else if strings.HasPrefix(s.server.welcomeMessage, "220") {
		s.mu.Lock()
		fmt.Fprintf(s.writer, "220 %s\r\n", s.server.welcomeMessage[3:])
		s.writer.Flush()
		s.mu.Unlock()
	} else {
		s.reply(220, s.server.welcomeMessage)
	}
}

func (s *session) startCommandReader(done chan struct{}) chan command {
	cmdChan := make(chan command)
	go func() {
		defer close(cmdChan)
		for {
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()

			if s.server.readTimeout > 0 {
				_ = conn.SetReadDeadline(time.Now().Add(s.server.readTimeout))
			} else if s.server.maxIdleTime > 0 {
				_ = conn.SetReadDeadline(time.Now().Add(s.server.maxIdleTime))
			}

			line, err := s.readCommand()

			select {
			case cmdChan <- command{line, err}:
			case <-done:
				return
			}

			if err != nil {
				return
			}

			select {
			case <-s.cmdReqChan:
			case <-done:
				return
			}
		}
	}()
	return cmdChan
}

// readCommand reads a line from the reader with a limit.
func (s *session) readCommand() (string, error) {
	var line []byte
	for {
		s.mu.Lock()
		r := s.reader
		s.mu.Unlock()

		b, err := r.ReadByte()
		if err != nil {
			return string(line), err
		}

		if len(line) >= MaxCommandLength {
			return "", fmt.Errorf("command too long")
		}

		if b == '\n' {
			return string(line), nil
		}
		line = append(line, b)
	}
}

// close closes the session and underlying connection.
func (s *session) close() {
	s.mu.Lock()
	if s.transferCancel != nil {
		s.transferCancel()
	}
	s.mu.Unlock()

	if s.fs != nil {
		s.fs.Close()
	}
	if s.pasvList != nil {
		s.pasvList.Close()
	}
	if s.dataConn != nil {
		s.dataConn.Close()
	}
	s.conn.Close()

	// Wait for all background transfers to finish before returning.
	s.transferWG.Wait()

	s.server.logger.Debug("session closed",
		"session_id", s.sessionID,
		"remote_ip", s.redactIP(s.remoteIP),
		"user", s.user,
	)
}

// handleCommand parses and dispatches a command.
func (s *session) handleCommand(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}

	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}

	logArg := arg
	if cmd == "PASS" {
		logArg = "***"
	}
	s.server.logger.Debug("command received",
		"session_id", s.sessionID,
		"remote_ip", s.redactIP(s.remoteIP),
		"user", s.user,
		"cmd", cmd,
		"arg", logArg,
	)

	start := time.Now()
	success := true
	defer func() {
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordCommand(cmd, success, time.Since(start))
		}
	}()

	if s.server.commandDisabled(cmd) {
		success = false
		s.reply(502, "Command not implemented.")
		return
	}

	s.mu.Lock()
	busy := s.busy
	s.mu.Unlock()

	if busy && cmd != "ABOR" && cmd != "STAT" {
		success = false
		s.reply(503, "Transfer in progress, please ABOR or wait.")
		return
	}

	if s.authState != authenticated && !preAuthCommands[cmd] {
		success = false
		s.reply(530, "Not logged in.")
		return
	}

	s.resetPendingState(cmd)

	switch cmd {
	case "USER":
		s.handleUSER(arg)
		return
	case "PASS":
		s.handlePASS(arg)
		return
	case "QUIT":
		s.reply(221, "Service closing control connection.")
		return
	case "NOOP":
		s.reply(200, "NOOP ok.")
		return
	}

	if handler, ok := commandHandlers[cmd]; ok {
		handler(s, arg)
		return
	}
	success = false
	s.reply(500, "Command not understood.")
}

// resetPendingState cancels a pending RNFR or REST once an intervening
// command arrives that isn't the expected pair-member continuation (RNTO for
// RNFR, one of the transfer commands for REST).
func (s *session) resetPendingState(cmd string) {
	if s.renameFrom != "" && cmd != "RNTO" {
		s.renameFrom = ""
	}
	if s.restartOffset != 0 && cmd != "REST" && cmd != "RETR" && cmd != "STOR" && cmd != "APPE" {
		s.restartOffset = 0
	}
}

func (s *session) connData() (net.Conn, error) {
	if s.pasvList != nil {
		return s.connPassive()
	}

	if s.activeIP != "" {
		return s.connActive()
	}

	return nil, fmt.Errorf("no data connection setup")
}

func (s *session) connPassive() (net.Conn, error) {
	s.server.logger.Debug("waiting for passive connection",
		"session_id", s.sessionID,
		"remote_ip", s.redactIP(s.remoteIP),
	)
	// Set a deadline for the client to connect
	if t, ok := s.pasvList.(*net.TCPListener); ok {
		_ = t.SetDeadline(time.Now().Add(10 * time.Second))
	}
	conn, err := s.pasvList.Accept()
	if err != nil {
		return nil, err
	}
	s.pasvList.Close()
	s.pasvList = nil

	return s.wrapDataConn(conn)
}

func (s *session) connActive() (net.Conn, error) {
	addr := net.JoinHostPort(s.activeIP, strconv.Itoa(s.activePort))
	s.server.logger.Debug("dialing active connection",
		"session_id", s.sessionID,
		"remote_ip", s.redactIP(s.remoteIP),
		"addr", addr,
	)
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	s.activeIP = "" // Reset after use

	return s.wrapDataConn(conn)
}

func (s *session) wrapDataConn(conn net.Conn) (net.Conn, error) {
	if s.server.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.server.readTimeout))
	}
	if s.server.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
	}

	s.server.trackConnection(conn, true)
	return &trackingConn{Conn: conn, server: s.server}, nil
}

func (s *session) handleABOR(_ string) {
	s.mu.Lock()
	if !s.busy {
		s.mu.Unlock()
		s.reply(226, "ABOR command successful; no transfer in progress.")
		return
	}

	s.server.logger.Info("transfer_abort_requested", "session_id", s.sessionID)

	// Close data connection to interrupt the background transfer goroutine.
	if s.dataConn != nil {
		s.dataConn.Close()
	}
	if s.transferCancel != nil {
		s.transferCancel()
	}
	done := s.transferDone
	s.mu.Unlock()

	// Wait for the transfer goroutine to notice and send its own 426 before
	// we send ABOR's 226, so the client sees them in RFC 959 order.
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}

	s.reply(226, "ABOR command successful; transfer aborted.")
}

// replyError sends a standard error response based on the error type.
func (s *session) replyError(err error) {
	if os.IsNotExist(err) {
		s.reply(550, "File not found.")
		return
	}
	if os.IsPermission(err) {
		s.reply(550, "Permission denied.")
		return
	}
	if os.IsExist(err) {
		s.reply(550, "File already exists.")
		return
	}
	s.reply(451, "Requested action aborted: local error.")
}

// reply sends a response to the client.
func (s *session) reply(code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	s.writer.Flush()
}

// logTransfer logs a file transfer in standard xferlog format.
// Format: current-time transfer-time remote-host file-size filename transfer-type special-action-flag direction access-mode username service-name authentication-method authenticated-user-id completion-status
func (s *session) logTransfer(cmd, filename string, bytes int64, duration time.Duration) {
	now := time.Now()
	transferTime := int64(duration.Seconds())
	if transferTime == 0 {
		transferTime = 1
	}

	tType := "b"
	if s.transferType == "A" {
		tType = "a"
	}

	actionFlag := "_"

	direction := "o"
	if cmd == "STOR" || cmd == "APPE" || cmd == "STOU" {
		direction = "i"
	}

	accessMode := "r"

	authMethod := "0"
	authUserID := "*"
	completionStatus := "c"

	s.server.logger.Info("transfer_complete",
		"session_id", s.sessionID,
		"remote_ip", s.redactIP(s.remoteIP),
		"user", s.user,
		"cmd", cmd,
		"file", s.redactPath(filename),
		"bytes", humanize.Bytes(uint64(bytes)),
		"duration", duration,
	)

	if s.server.transferLog == nil {
		return
	}

	line := fmt.Sprintf("%s %d %s %d %s %s %s %s %s %s %s %s %s %s\n",
		now.Format("Mon Jan 02 15:04:05 2006"),
		transferTime,
		s.remoteIP,
		bytes,
		filename,
		tType,
		actionFlag,
		direction,
		accessMode,
		s.user,
		"ftp",
		authMethod,
		authUserID,
		completionStatus,
	)

	_, _ = s.server.transferLog.Write([]byte(line))
}
