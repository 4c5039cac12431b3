package server

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/outpostfs/ftpd/internal/ratelimit"
)

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// WithBackend sets the backend used for authentication and file operations.
// This option is required and can only be set once.
//
// Example:
//
//	backend, _ := server.NewFSDriver("/tmp/ftp", "alice", "secret")
//	s, _ := server.NewServer(":21", server.WithBackend(backend))
func WithBackend(backend Backend) Option {
	return func(s *Server) error {
		if s.backend != nil {
			return fmt.Errorf("backend already set")
		}
		s.backend = backend
		return nil
	}
}

// WithLogger sets a custom logger for the server.
// If not specified, slog.Default() is used.
//
// Example with debug logging:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := server.NewServer(":21",
//	    server.WithBackend(backend),
//	    server.WithLogger(logger),
//	)
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithMaxIdleTime sets the maximum time a connection can be idle before being closed.
// If not specified, defaults to 5 minutes.
func WithMaxIdleTime(duration time.Duration) Option {
	return func(s *Server) error {
		s.maxIdleTime = duration
		return nil
	}
}

// WithMaxConnections sets the maximum number of simultaneous connections.
// If 0, there is no limit. This is the default.
//
// When the limit is reached, new connections receive a "421 Too many users" response.
func WithMaxConnections(max int) Option {
	return func(s *Server) error {
		s.maxConnections = max
		return nil
	}
}

// WithMaxConnectionsPerIP limits how many simultaneous connections a single
// remote IP may hold open. If 0, there is no per-IP limit. This is the
// default.
func WithMaxConnectionsPerIP(max int) Option {
	return func(s *Server) error {
		s.maxConnectionsPerIP = max
		return nil
	}
}

// WithWelcomeMessage overrides the banner sent on connect. Supply the full
// "220 ..." line, or just the message text to have it prefixed automatically.
func WithWelcomeMessage(message string) Option {
	return func(s *Server) error {
		s.welcomeMessage = message
		return nil
	}
}

// WithServerName overrides the string reported by SYST. Defaults to
// "UNIX Type: L8".
func WithServerName(name string) Option {
	return func(s *Server) error {
		s.serverName = name
		return nil
	}
}

// WithReadTimeout bounds how long the server waits for a command or data-
// connection read before closing the connection. When zero (the default),
// command reads are bounded by the idle timeout and data reads have no
// deadline.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.readTimeout = d
		return nil
	}
}

// WithWriteTimeout bounds how long the server waits for a reply or data-
// connection write before closing the connection. Zero (the default) means
// no deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.writeTimeout = d
		return nil
	}
}

// WithDisableMLSD disables the MLSD command.
// This is primarily useful for compatibility testing with legacy clients.
//
// Most users should not need this option. MLSD is a modern, standardized
// directory listing command (RFC 3659) that provides more reliable parsing
// than the legacy LIST command.
func WithDisableMLSD(disable bool) Option {
	return func(s *Server) error {
		s.disableMLSD = disable
		return nil
	}
}

// WithDisableCommands disables the given FTP verbs. A disabled command
// always replies 502 Command not implemented, regardless of session state.
// See LegacyCommands, ActiveModeCommands, WriteCommands, and SiteCommands
// for ready-made groups.
func WithDisableCommands(commands ...string) Option {
	return func(s *Server) error {
		if s.disabledCommands == nil {
			s.disabledCommands = make(map[string]bool, len(commands))
		}
		for _, cmd := range commands {
			s.disabledCommands[cmd] = true
		}
		return nil
	}
}

// WithBandwidthLimit caps the transfer throughput of each session's data
// connection to bytesPerSecond. A value of 0 (the default) means no limit.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Server) error {
		s.bandwidthLimitPerConn = bytesPerSecond
		return nil
	}
}

// WithGlobalBandwidthLimit caps the aggregate transfer throughput across
// every session on this server to bytesPerSecond.
func WithGlobalBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Server) error {
		s.globalLimiter = ratelimit.NewBucket(bytesPerSecond)
		return nil
	}
}

// WithRedactPath installs a function that scrubs virtual paths before they
// reach log output, for deployments where file names are sensitive.
func WithRedactPath(fn func(string) string) Option {
	return func(s *Server) error {
		s.redactPathFn = fn
		return nil
	}
}

// WithRedactIP installs a function that scrubs remote addresses before they
// reach log output.
func WithRedactIP(fn func(string) string) Option {
	return func(s *Server) error {
		s.redactIPFn = fn
		return nil
	}
}

// WithEnableDirMessage makes CWD emit the contents of a ".message" file in
// the destination directory, if one exists, as additional 250 reply lines.
func WithEnableDirMessage(enable bool) Option {
	return func(s *Server) error {
		s.enableDirMessage = enable
		return nil
	}
}

// WithTransferLog directs xferlog-style transfer records to w.
func WithTransferLog(w io.Writer) Option {
	return func(s *Server) error {
		s.transferLog = w
		return nil
	}
}

// WithMetricsCollector installs a MetricsCollector that observes commands,
// transfers, connections, and authentication attempts.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(s *Server) error {
		s.metricsCollector = collector
		return nil
	}
}
