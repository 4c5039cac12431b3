package server

import (
	"testing"
	"time"

	"github.com/outpostfs/ftpd/internal/ftptest"
)

func TestMaxConnections(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	addr := startTestServer(t, rootDir, "test", "test", WithMaxConnections(1))

	c1, err := ftptest.Dial(addr)
	fatalIfErr(t, err, "Client 1 dial")

	c2, err := ftptest.Dial(addr)
	if err == nil {
		resp, noopErr := c2.Cmd("NOOP")
		if noopErr == nil && resp.Code == 200 {
			c2.Quit()
			t.Fatal("Client 2 should have been rejected")
		}
		c2.Close()
	} else {
		t.Logf("Client 2 rejected as expected: %v", err)
	}

	fatalIfErr(t, c1.Quit(), "Client 1 quit")
	time.Sleep(100 * time.Millisecond)

	c3, err := ftptest.Dial(addr)
	fatalIfErr(t, err, "Client 3 dial after slot freed")
	fatalIfErr(t, c3.Quit(), "Client 3 quit")
}

func TestMaxConnectionsPerIP(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	addr := startTestServer(t, rootDir, "test", "test", WithMaxConnectionsPerIP(1))

	c1, err := ftptest.Dial(addr)
	fatalIfErr(t, err, "Client 1 dial")

	c2, err := ftptest.Dial(addr)
	if err == nil {
		resp, noopErr := c2.Cmd("NOOP")
		if noopErr == nil && resp.Code == 200 {
			c2.Quit()
			t.Fatal("Client 2 should have been rejected")
		}
		c2.Close()
	} else {
		t.Logf("Client 2 rejected as expected: %v", err)
	}

	fatalIfErr(t, c1.Quit(), "Client 1 quit")
	time.Sleep(100 * time.Millisecond)

	c3, err := ftptest.Dial(addr)
	fatalIfErr(t, err, "Client 3 dial after slot freed")
	fatalIfErr(t, c3.Quit(), "Client 3 quit")
}
