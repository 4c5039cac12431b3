package server

import (
	"strings"
	"testing"

	"github.com/outpostfs/ftpd/internal/ftptest"
)

func TestRFC1123Compliance(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	addr := startTestServer(t, rootDir, "test", "test")

	c, err := ftptest.Dial(addr)
	fatalIfErr(t, err, "Dial")
	defer c.Quit()

	fatalIfErr(t, c.Login("test", "test"), "Login")

	t.Run("SYST", func(t *testing.T) {
		resp, err := c.Cmd("SYST")
		fatalIfErr(t, err, "SYST")
		if resp.Code != 215 {
			t.Errorf("Expected code 215, got %d", resp.Code)
		}
		if !strings.Contains(strings.ToUpper(resp.Message), "UNIX") {
			t.Errorf("Expected UNIX in response, got: %s", resp.Message)
		}
	})

	t.Run("MODE", func(t *testing.T) {
		resp, err := c.Cmd("MODE S")
		fatalIfErr(t, err, "MODE S")
		if resp.Code != 200 {
			t.Errorf("Expected code 200 for MODE S, got %d", resp.Code)
		}

		resp, err = c.Cmd("MODE B")
		fatalIfErr(t, err, "MODE B")
		if resp.Code != 504 {
			t.Errorf("Expected code 504 for MODE B, got %d", resp.Code)
		}
	})

	t.Run("STRU", func(t *testing.T) {
		resp, err := c.Cmd("STRU F")
		fatalIfErr(t, err, "STRU F")
		if resp.Code != 200 {
			t.Errorf("Expected code 200 for STRU F, got %d", resp.Code)
		}

		resp, err = c.Cmd("STRU R")
		fatalIfErr(t, err, "STRU R")
		if resp.Code != 504 {
			t.Errorf("Expected code 504 for STRU R, got %d", resp.Code)
		}
	})

	t.Run("ACCT", func(t *testing.T) {
		resp, err := c.Cmd("ACCT test")
		fatalIfErr(t, err, "ACCT")
		if resp.Code != 202 {
			t.Errorf("Expected code 202, got %d", resp.Code)
		}
		if !strings.Contains(strings.ToLower(resp.Message), "superfluous") {
			t.Errorf("Expected 'superfluous' in message, got: %s", resp.Message)
		}
	})

	t.Run("STAT", func(t *testing.T) {
		resp, err := c.Cmd("STAT")
		fatalIfErr(t, err, "STAT")
		if resp.Code != 211 {
			t.Errorf("Expected code 211, got %d", resp.Code)
		}
		msgLower := strings.ToLower(resp.Message)
		if !strings.Contains(msgLower, "logged in") && !strings.Contains(msgLower, "status") {
			t.Errorf("Expected status info in response, got: %s", resp.Message)
		}
	})

	t.Run("HELP", func(t *testing.T) {
		resp, err := c.Cmd("HELP")
		fatalIfErr(t, err, "HELP")
		if resp.Code != 214 {
			t.Errorf("Expected code 214, got %d", resp.Code)
		}
		msgUpper := strings.ToUpper(resp.Message)
		requiredCommands := []string{"USER", "PASS", "QUIT", "RETR", "STOR", "LIST"}
		for _, cmd := range requiredCommands {
			if !strings.Contains(msgUpper, cmd) {
				t.Errorf("Expected %s in HELP response, got: %s", cmd, resp.Message)
			}
		}
	})
}
