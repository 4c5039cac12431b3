// Package server implements a single-tenant FTP server.
//
// # Overview
//
// This package provides a modular FTP server implementation that allows you to:
//   - Embed an FTP server into your Go application
//   - Serve a single directory tree to a single configured user
//   - Serve files over IPv4 and IPv6
//   - Support modern FTP extensions
//
// # Getting Started
//
// The easiest way to start is using the provided FSDriver to serve a local directory:
//
//	package main
//
//	import (
//	    "log"
//
//	    "github.com/outpostfs/ftpd/server"
//	)
//
//	func main() {
//	    driver, err := server.NewFSDriver("/tmp/ftp", "alice", "secret")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    s, err := server.NewServer(":21", server.WithBackend(driver))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    log.Println("Starting FTP server on :21")
//	    if err := s.ListenAndServe(); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Custom Backends
//
// You can implement the Backend interface to connect the FTP server to any
// storage layer, such as cloud storage (S3, GCS), an in-memory database, or
// a custom CMS.
//
// Implement the Backend interface:
//
//	type Backend interface {
//	    Authenticate(user, pass, host string) (Workspace, error)
//	}
//
// And the Workspace interface for file operations:
//
//	type Workspace interface {
//	    ListDir(path string) ([]os.FileInfo, error)
//	    OpenFile(path string, flag int) (io.ReadWriteCloser, error)
//	    GetPassiveConfig() *PassiveConfig
//	    // ...
//	}
//
// # Read-only serving
//
//	driver, _ := server.NewFSDriver("/tmp/ftp", "alice", "secret",
//	    server.WithServerType(server.ReadOnly),
//	)
//
// # Passive Mode Configuration
//
// When behind NAT or in containerized environments, configure passive mode:
//
//	passive := &server.PassiveConfig{
//	    PublicHost:  "ftp.example.com",  // Public IP or hostname
//	    PasvMinPort: 30000,               // Passive port range start
//	    PasvMaxPort: 30100,               // Passive port range end
//	}
//	driver, _ := server.NewFSDriver("/tmp/ftp", "alice", "secret",
//	    server.WithPassiveConfig(passive),
//	)
//
// The PublicHost is advertised to clients in PASV/EPSV responses. If not set,
// the server uses the control connection's local address.
//
// Port range configuration is essential for firewall rules:
//   - Ensure the range is large enough for concurrent transfers
//   - Configure your firewall to allow incoming connections on this range
//   - Docker users: map the port range with -p 30000-30100:30000-30100
//
// # Server Configuration
//
// Connection limits, bandwidth limits, and timeouts:
//
//	s, _ := server.NewServer(":21",
//	    server.WithBackend(driver),
//	    server.WithMaxConnections(100),
//	    server.WithMaxConnectionsPerIP(4),
//	    server.WithMaxIdleTime(10*time.Minute),
//	    server.WithGlobalBandwidthLimit(10<<20), // 10 MiB/s aggregate
//	)
//
// Disabling commands or whole categories of commands:
//
//	s, _ := server.NewServer(":21",
//	    server.WithBackend(driver),
//	    server.WithDisableCommands(server.WriteCommands...), // read-only server
//	)
//
// Custom logging:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := server.NewServer(":21",
//	    server.WithBackend(driver),
//	    server.WithLogger(logger),
//	)
//
// # Troubleshooting
//
// Common issues and solutions:
//
// Problem: Passive mode connections fail
//   - Solution: Set PublicHost in PassiveConfig to your public IP/hostname
//   - Solution: Ensure firewall allows passive port range
//   - Solution: For Docker, map passive ports: -p 21:21 -p 30000-30100:30000-30100
//
// Problem: "Permission denied" errors
//   - Solution: Check file system permissions on the root directory
//   - Solution: Verify the user running the server has read/write access
//   - Solution: Confirm WithServerType(ReadOnly) wasn't set unintentionally
//
// Problem: Connection refused on port 21
//   - Solution: Port 21 requires root/admin privileges on most systems
//   - Solution: Use a higher port (e.g., :2121) for development
//   - Solution: On Linux, use setcap: sudo setcap CAP_NET_BIND_SERVICE=+eip ./ftpd
//
// # RFC Compliance
//
// This server implements the following RFCs:
//   - RFC 959 (Base FTP)
//   - RFC 1123 (Requirements for Internet Hosts - minimum implementation)
//   - RFC 2389 (Feature Negotiation)
//   - RFC 2428 (IPv6 / NAT: EPSV, EPRT)
//   - RFC 3659 (Extensions: SIZE, MDTM, MLSD, MLST, REST)
//   - RFC 7151 (HOST Command)
//   - draft-somers-ftp-mfxx (MFMT Command)
//   - draft-bryan-ftp-hash (HASH Command)
package server
