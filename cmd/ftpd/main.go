// Command ftpd runs a standalone FTP server backed by a jailed directory on
// the local filesystem.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/outpostfs/ftpd/server"
)

func main() {
	var (
		addr       = flag.String("addr", ":2121", "address to listen on")
		rootDir    = flag.String("root", "", "directory to serve (required)")
		user       = flag.String("user", "", "username accepted by the server (required)")
		pass       = flag.String("pass", "", "password accepted by the server (required)")
		readOnly   = flag.Bool("readonly", false, "reject STOR/DELE/MKD/RMD/RNFR/RNTO")
		maxConns   = flag.Int("max-conns", 0, "maximum simultaneous connections (0 = unlimited)")
		maxPerIP   = flag.Int("max-conns-per-ip", 0, "maximum simultaneous connections per remote IP (0 = unlimited)")
		idleTime   = flag.Duration("max-idle", 5*time.Minute, "maximum idle time before a connection is closed")
		bwLimit    = flag.Int64("bandwidth-limit", 0, "per-connection transfer limit in bytes/sec (0 = unlimited)")
		pasvMin    = flag.Int("pasv-min-port", 0, "minimum port for passive data connections (0 = OS-assigned)")
		pasvMax    = flag.Int("pasv-max-port", 0, "maximum port for passive data connections (0 = OS-assigned)")
		publicHost = flag.String("public-host", "", "hostname/IP advertised in PASV responses, for NAT/containers")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if *rootDir == "" || *user == "" || *pass == "" {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(*rootDir, 0755); err != nil {
		log.Fatalf("creating root directory: %v", err)
	}

	serverType := server.ReadWrite
	if *readOnly {
		serverType = server.ReadOnly
	}

	driver, err := server.NewFSDriver(*rootDir, *user, *pass,
		server.WithServerType(serverType),
		server.WithPassiveConfig(&server.PassiveConfig{
			PublicHost:  *publicHost,
			PasvMinPort: *pasvMin,
			PasvMaxPort: *pasvMax,
		}),
	)
	if err != nil {
		log.Fatalf("creating filesystem driver: %v", err)
	}

	srv, err := server.NewServer(*addr,
		server.WithBackend(driver),
		server.WithLogger(logger),
		server.WithMaxIdleTime(*idleTime),
		server.WithMaxConnections(*maxConns),
		server.WithMaxConnectionsPerIP(*maxPerIP),
		server.WithBandwidthLimit(*bwLimit),
	)
	if err != nil {
		log.Fatalf("creating server: %v", err)
	}

	logger.Info("ftpd starting", "addr", *addr, "root", *rootDir, "readonly", *readOnly)
	if err := srv.ListenAndServe(); err != nil && err != server.ErrServerClosed {
		log.Fatalf("serve: %v", err)
	}
}
