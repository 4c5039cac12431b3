package server

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/outpostfs/ftpd/internal/ftptest"
)

func startTestServer(t *testing.T, rootDir, user, pass string, opts ...Option) (addr string) {
	t.Helper()
	return startTestServerWithDriverOpts(t, rootDir, user, pass, nil, opts...)
}

func startTestServerWithDriverOpts(t *testing.T, rootDir, user, pass string, driverOpts []FSDriverOption, opts ...Option) (addr string) {
	t.Helper()

	driver, err := NewFSDriver(rootDir, user, pass, driverOpts...)
	fatalIfErr(t, err, "NewFSDriver")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	fatalIfErr(t, err, "net.Listen")

	srv, err := NewServer(ln.Addr().String(), append([]Option{WithBackend(driver)}, opts...)...)
	fatalIfErr(t, err, "NewServer")

	go func() {
		if err := srv.Serve(ln); err != nil && err != ErrServerClosed {
			t.Logf("Serve stopped: %v", err)
		}
	}()
	t.Cleanup(func() {
		if err := srv.Shutdown(); err != nil {
			t.Logf("Shutdown: %v", err)
		}
	})

	return ln.Addr().String()
}

// TestServerIntegration exercises login, PWD, LIST, RETR, STOR and STOU
// end-to-end against a real listener.
func TestServerIntegration(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()

	testContent := "Hello, FTP World!"
	err := os.WriteFile(filepath.Join(rootDir, "test.txt"), []byte(testContent), 0644)
	fatalIfErr(t, err, "WriteFile")

	addr := startTestServer(t, rootDir, "alice", "secret")

	c, err := ftptest.Dial(addr)
	fatalIfErr(t, err, "Dial")
	defer c.Quit()

	fatalIfErr(t, c.Login("alice", "secret"), "Login")

	testPWD(t, c)
	testLIST(t, c, testContent)
	testRETR(t, c, testContent)
	testSTOR(t, c, rootDir)
	testSTOU(t, c, rootDir)
}

func testPWD(t *testing.T, c *ftptest.Client) {
	pwd, err := c.Pwd()
	fatalIfErr(t, err, "Pwd")
	if pwd != "/" {
		t.Errorf("Expected /, got %s", pwd)
	}
}

func testLIST(t *testing.T, c *ftptest.Client, testContent string) {
	listing, err := c.List(".")
	fatalIfErr(t, err, "List")
	if !strings.Contains(listing, "test.txt") {
		t.Errorf("test.txt not found in listing: %q", listing)
	}
}

func testRETR(t *testing.T, c *ftptest.Client, testContent string) {
	data, err := c.Retrieve("test.txt")
	fatalIfErr(t, err, "Retrieve")
	if string(data) != testContent {
		t.Errorf("Content mismatch: got %q, want %q", data, testContent)
	}
}

func testSTOR(t *testing.T, c *ftptest.Client, rootDir string) {
	uploadContent := "Upload success"
	fatalIfErr(t, c.Store("upload.txt", []byte(uploadContent)), "Store")

	diskContent, err := os.ReadFile(filepath.Join(rootDir, "upload.txt"))
	fatalIfErr(t, err, "ReadFile")
	if string(diskContent) != uploadContent {
		t.Errorf("Uploaded content mismatch: got %q, want %q", diskContent, uploadContent)
	}
}

func testSTOU(t *testing.T, c *ftptest.Client, rootDir string) {
	uniqueContent := "Unique upload"
	uniqueName, err := c.StoreUnique([]byte(uniqueContent))
	fatalIfErr(t, err, "StoreUnique")
	if uniqueName == "" {
		t.Error("StoreUnique returned empty filename")
		return
	}

	diskUniqueContent, err := os.ReadFile(filepath.Join(rootDir, uniqueName))
	fatalIfErr(t, err, "ReadFile unique")
	if string(diskUniqueContent) != uniqueContent {
		t.Errorf("Unique content mismatch: got %q, want %q", diskUniqueContent, uniqueContent)
	}
}

func TestServer_Restart(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	content := "0123456789"
	err := os.WriteFile(filepath.Join(rootDir, "resume.txt"), []byte(content), 0644)
	fatalIfErr(t, err, "WriteFile")

	addr := startTestServer(t, rootDir, "test", "test")

	c, err := ftptest.Dial(addr)
	fatalIfErr(t, err, "Dial")
	defer c.Quit()

	fatalIfErr(t, c.Login("test", "test"), "Login")

	resp, err := c.Cmd("REST 5")
	fatalIfErr(t, err, "REST")
	if resp.Code != 350 {
		t.Fatalf("REST failed: %s", resp.Message)
	}

	// Retrieve sends PASV before RETR, and any command between REST and the
	// transfer cancels the pending offset, so the whole file comes back.
	data, err := c.Retrieve("resume.txt")
	fatalIfErr(t, err, "Retrieve")
	if string(data) != "0123456789" {
		t.Errorf("Expected 0123456789, got %s", data)
	}
}
