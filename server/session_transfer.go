package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// runTransfer opens the negotiated data connection and runs fn against it on
// a background goroutine, so the control connection stays responsive to
// ABOR/STAT while a transfer is in flight. Only one transfer may be active
// per session at a time; handleCommand already rejects new commands other
// than ABOR/STAT while busy.
func (s *session) runTransfer(cmd, path string, fn func(ctx context.Context, conn net.Conn) (int64, error)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.busy = true
	s.transferCtx = ctx
	s.transferCancel = cancel
	s.transferDone = done
	s.mu.Unlock()

	s.transferWG.Add(1)
	go func() {
		defer s.transferWG.Done()
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.busy = false
			s.transferCtx = nil
			s.transferCancel = nil
			s.transferDone = nil
			s.dataConn = nil
			s.mu.Unlock()
			cancel()
		}()

		conn, err := s.connData()
		if err != nil {
			s.reply(425, "Can't open data connection.")
			return
		}
		s.mu.Lock()
		s.dataConn = conn
		s.mu.Unlock()
		defer conn.Close()

		if s.restartOffset > 0 {
			s.reply(150, fmt.Sprintf("Opening data connection for %s (restarting at %d).", path, s.restartOffset))
		} else {
			s.reply(150, fmt.Sprintf("Opening data connection for %s.", path))
		}
		s.restartOffset = 0

		start := time.Now()
		bytesTransferred, err := fn(ctx, conn)
		duration := time.Since(start)

		if err != nil {
			s.reply(426, "Connection closed; transfer aborted.")
			return
		}

		s.logTransfer(cmd, path, bytesTransferred, duration)
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordTransfer(cmd, bytesTransferred, duration)
		}
		s.reply(226, "Transfer complete.")
	}()
}

func (s *session) handleRETR(path string) {
	file, err := s.fs.OpenFile(path, os.O_RDONLY)
	if err != nil {
		s.replyError(err)
		return
	}

	if s.restartOffset > 0 {
		if seeker, ok := file.(io.Seeker); ok {
			if _, err := seeker.Seek(s.restartOffset, io.SeekStart); err != nil {
				file.Close()
				s.replyError(err)
				return
			}
		} else {
			file.Close()
			s.reply(550, "Resume not supported for this file.")
			s.restartOffset = 0
			return
		}
	}

	s.runTransfer("RETR", path, func(ctx context.Context, conn net.Conn) (int64, error) {
		defer file.Close()

		var src io.Reader = file
		if s.transferType == "A" {
			src = newLFToCRLFReader(file)
		}
		src = s.rateLimitReader(src)

		return io.Copy(conn, contextReader{ctx: ctx, r: src})
	})
}

func (s *session) handleSTOR(path string) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if s.restartOffset > 0 {
		flags = os.O_WRONLY | os.O_CREATE
	}

	file, err := s.fs.OpenFile(path, flags)
	if err != nil {
		s.replyError(err)
		return
	}

	if s.restartOffset > 0 {
		if seeker, ok := file.(io.Seeker); ok {
			if _, err := seeker.Seek(s.restartOffset, io.SeekStart); err != nil {
				file.Close()
				s.replyError(err)
				return
			}
		} else {
			file.Close()
			s.reply(550, "Resume not supported for this file.")
			s.restartOffset = 0
			return
		}
	}

	s.runTransfer("STOR", path, func(ctx context.Context, conn net.Conn) (int64, error) {
		defer file.Close()

		var src io.Reader = conn
		if s.transferType == "A" {
			src = newCRLFToLFReader(conn)
		}
		src = s.rateLimitReader(src)

		return io.Copy(file, contextReader{ctx: ctx, r: src})
	})
}

func (s *session) handleAPPE(path string) {
	file, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE)
	if err != nil {
		s.replyError(err)
		return
	}

	s.runTransfer("APPE", path, func(ctx context.Context, conn net.Conn) (int64, error) {
		defer file.Close()

		var src io.Reader = conn
		if s.transferType == "A" {
			src = newCRLFToLFReader(conn)
		}
		src = s.rateLimitReader(src)

		return io.Copy(file, contextReader{ctx: ctx, r: src})
	})
}

func (s *session) handleSTOU(_ string) {
	path := "ftp-" + uuid.NewString()

	file, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil {
		s.replyError(err)
		return
	}

	s.runTransfer("STOU", path, func(ctx context.Context, conn net.Conn) (int64, error) {
		defer file.Close()

		var src io.Reader = conn
		if s.transferType == "A" {
			src = newCRLFToLFReader(conn)
		}
		src = s.rateLimitReader(src)

		return io.Copy(file, contextReader{ctx: ctx, r: src})
	})
}

// contextReader fails every Read that starts after ctx is canceled, so an
// in-flight io.Copy stops at its next read. A Read already blocked on the
// source is not interrupted by the cancellation itself.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func (s *session) handleTYPE(arg string) {
	switch strings.ToUpper(arg) {
	case "A", "A N":
		s.transferType = "A"
		s.reply(200, "Type set to A.")
	case "I", "L 8":
		s.transferType = "I"
		s.reply(200, "Type set to I.")
	default:
		s.reply(504, "Type not supported.")
	}
}

func (s *session) handlePORT(arg string) {
	// Format: h1,h2,h3,h4,p1,p2
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		s.reply(501, "Invalid port number.")
		return
	}

	ipStr := strings.Join(parts[0:4], ".")
	ip := net.ParseIP(ipStr)
	if ip == nil {
		s.reply(501, "Invalid IP address.")
		return
	}

	if !s.validateActiveIP(ip) {
		s.reply(500, "Illegal PORT command.")
		return
	}

	s.activeIP = ip.String()
	s.activePort = p1*256 + p2

	s.reply(200, "PORT command successful.")
}

func (s *session) listenPassive() (net.Listener, error) {
	settings := s.fs.GetPassiveConfig()
	if settings != nil && settings.PasvMinPort > 0 && settings.PasvMaxPort >= settings.PasvMinPort {
		minPort := settings.PasvMinPort
		maxPort := settings.PasvMaxPort
		rangeLen := int32(maxPort - minPort + 1)

		startOffset := atomic.AddInt32(&s.server.nextPassivePort, 1)

		for i := int32(0); i < rangeLen; i++ {
			offset := (startOffset + i) % rangeLen
			port := int(int32(minPort) + offset)

			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
			if err == nil {
				return ln, nil
			}
		}
		return nil, fmt.Errorf("no available ports in range [%d, %d]", minPort, maxPort)
	}
	return net.Listen("tcp", ":0")
}

func (s *session) handlePASV(_ string) {
	if s.pasvList != nil {
		s.pasvList.Close()
	}

	ln, err := s.listenPassive()
	if err != nil {
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.pasvList = ln

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	host, _, _ := net.SplitHostPort(s.conn.LocalAddr().String())

	settings := s.fs.GetPassiveConfig()
	if settings != nil && settings.PublicHost != "" {
		host = settings.PublicHost
	}

	ip := net.ParseIP(host)
	if ip == nil {
		if host == s.lastPublicHost && s.resolvedIP != nil {
			ip = s.resolvedIP
		} else {
			resolved, err := net.LookupIP(host)
			if err == nil {
				for _, candidate := range resolved {
					if ipv4 := candidate.To4(); ipv4 != nil {
						ip = ipv4
						s.lastPublicHost = host
						s.resolvedIP = ip
						break
					}
				}
			}
		}
	}

	var ipParts []string
	if ip != nil && ip.To4() != nil {
		ip = ip.To4()
		ipParts = strings.Split(ip.String(), ".")
	}

	if len(ipParts) != 4 {
		ipParts = []string{"0", "0", "0", "0"}
	}

	p1 := port / 256
	p2 := port % 256
	arg := fmt.Sprintf("%s,%s,%s,%s,%d,%d", ipParts[0], ipParts[1], ipParts[2], ipParts[3], p1, p2)
	s.reply(227, "Entering Passive Mode ("+arg+").")
}

func (s *session) handleEPSV(_ string) {
	if s.pasvList != nil {
		s.pasvList.Close()
	}

	ln, err := s.listenPassive()
	if err != nil {
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.pasvList = ln

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	s.reply(229, fmt.Sprintf("Entering Extended Passive Mode (|||%s|)", portStr))
}

func (s *session) handleEPRT(arg string) {
	if len(arg) < 4 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	delim := string(arg[0])
	parts := strings.Split(arg, delim)

	// Expected format: <delim><proto><delim><ip><delim><port><delim>
	if len(parts) != 5 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	proto := parts[1]
	ipStr := parts[2]
	portStr := parts[3]

	ip := net.ParseIP(ipStr)
	if ip == nil {
		s.reply(501, "Invalid network address.")
		return
	}

	if proto == "1" && ip.To4() == nil {
		s.reply(522, "Network protocol not supported, use (2).")
		return
	}
	if proto != "1" && proto != "2" {
		s.reply(522, "Network protocol not supported, use (1,2).")
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		s.reply(501, "Invalid port number.")
		return
	}

	if !s.validateActiveIP(ip) {
		s.reply(500, "Illegal EPRT command.")
		return
	}

	s.activeIP = ip.String()
	s.activePort = port

	s.reply(200, "EPRT command successful.")
}

func (s *session) handleREST(arg string) {
	offset, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		s.reply(501, "Invalid offset.")
		return
	}
	s.restartOffset = offset
	s.reply(350, fmt.Sprintf("Restarting at %d. Send STOR or RETR to initiate transfer.", offset))
}
