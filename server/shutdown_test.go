package server

import (
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/outpostfs/ftpd/internal/ftptest"
)

// TestServer_Shutdown verifies that Shutdown stops the server and closes connections.
func TestServer_Shutdown(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	driver, err := NewFSDriver(rootDir, "user", "pass")
	fatalIfErr(t, err, "NewFSDriver")

	server, err := NewServer(":0", WithBackend(driver))
	fatalIfErr(t, err, "NewServer")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	fatalIfErr(t, err, "Listen")
	addr := ln.Addr().String()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()

	c, err := ftptest.Dial(addr)
	fatalIfErr(t, err, "Dial")
	fatalIfErr(t, c.Login("user", "pass"), "Login failed")

	if err := server.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err != ErrServerClosed {
			t.Errorf("Expected ErrServerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Serve did not return after Shutdown")
	}

	if _, err := c.Pwd(); err == nil {
		t.Error("Client operation succeeded after server shutdown")
	}
}

// blockingFile blocks on Read until closed, to simulate a stuck transfer.
type blockingFile struct {
	read chan struct{}
}

func (f *blockingFile) Read(p []byte) (n int, err error) {
	<-f.read
	return 0, io.EOF
}

func (f *blockingFile) Write(p []byte) (n int, err error) { return len(p), nil }
func (f *blockingFile) Close() error                      { close(f.read); return nil }

// blockingWorkspace wraps fsContext to intercept OpenFile for one magic path.
type blockingWorkspace struct {
	Workspace
}

func (c *blockingWorkspace) OpenFile(path string, flag int) (io.ReadWriteCloser, error) {
	if path == "blocking.txt" {
		return &blockingFile{read: make(chan struct{})}, nil
	}
	return c.Workspace.OpenFile(path, flag)
}

type blockingBackend struct {
	*FSDriver
}

func (d *blockingBackend) Authenticate(user, pass, host string) (Workspace, error) {
	ctx, err := d.FSDriver.Authenticate(user, pass, host)
	if err != nil {
		return nil, err
	}
	return &blockingWorkspace{Workspace: ctx}, nil
}

func TestServer_Shutdown_DataConn(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	fatalIfErr(t, os.WriteFile(rootDir+"/placeholder.txt", []byte("x"), 0644), "WriteFile")

	baseDriver, err := NewFSDriver(rootDir, "user", "pass")
	fatalIfErr(t, err, "NewFSDriver")
	driver := &blockingBackend{FSDriver: baseDriver}

	server, err := NewServer(":0", WithBackend(driver))
	fatalIfErr(t, err, "NewServer")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	fatalIfErr(t, err, "Listen")
	addr := ln.Addr().String()

	go func() { _ = server.Serve(ln) }()

	c, err := ftptest.Dial(addr)
	fatalIfErr(t, err, "Dial")
	fatalIfErr(t, c.Login("user", "pass"), "Login failed")

	done := make(chan error, 1)
	go func() {
		_, err := c.Retrieve("blocking.txt")
		done <- err
	}()

	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	if err := server.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Retrieve, got nil")
		} else {
			t.Logf("Retrieve failed as expected: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retrieve blocked indefinitely! Shutdown did not kill data connection.")
	}

	if time.Since(start) > 1*time.Second {
		t.Error("Shutdown took too long, maybe blocked on connection close")
	}
}
