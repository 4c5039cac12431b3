package server

import (
	"testing"
	"time"
)

func TestListenAndServe(t *testing.T) {
	rootDir := t.TempDir()

	driver, err := NewFSDriver(rootDir, "alice", "secret")
	fatalIfErr(t, err, "NewFSDriver")

	s, err := NewServer("127.0.0.1:0", WithBackend(driver))
	fatalIfErr(t, err, "NewServer")

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		t.Fatalf("ListenAndServe failed immediately: %v", err)
	case <-time.After(200 * time.Millisecond):
		// Assume it started successfully if it hasn't returned in 200ms.
	}

	fatalIfErr(t, s.Shutdown(), "Shutdown")
}
