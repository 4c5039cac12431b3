package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFSDriver_Authenticate(t *testing.T) {
	tempDir := t.TempDir()
	driver, err := NewFSDriver(tempDir, "alice", "secret")
	fatalIfErr(t, err, "NewFSDriver")

	if _, err := driver.Authenticate("alice", "secret", ""); err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if _, err := driver.Authenticate("alice", "wrong", ""); err == nil {
		t.Error("expected failure for wrong password")
	}
	if _, err := driver.Authenticate("bob", "secret", ""); err == nil {
		t.Error("expected failure for unknown user")
	}
}

// TestNewFSDriver_Validation tests root path validation.
func TestNewFSDriver_Validation(t *testing.T) {
	tests := []struct {
		name        string
		setupPath   func(t *testing.T) string
		expectError bool
	}{
		{
			name: "Valid directory",
			setupPath: func(t *testing.T) string {
				return t.TempDir()
			},
			expectError: false,
		},
		{
			name: "Non-existent path",
			setupPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "nonexistent")
			},
			expectError: true,
		},
		{
			name: "File instead of directory",
			setupPath: func(t *testing.T) string {
				dir := t.TempDir()
				file := filepath.Join(dir, "file.txt")
				fatalIfErr(t, os.WriteFile(file, []byte("test"), 0644), "WriteFile")
				return file
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.setupPath(t)
			_, err := NewFSDriver(path, "user", "pass")
			if tt.expectError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected success, got error: %v", err)
			}
		})
	}
}

// TestFSContext_PathSecurity tests directory traversal prevention.
func TestFSContext_PathSecurity(t *testing.T) {
	tempDir := t.TempDir()
	driver, err := NewFSDriver(tempDir, "user", "pass")
	fatalIfErr(t, err, "NewFSDriver")

	ctx, err := driver.Authenticate("user", "pass", "")
	fatalIfErr(t, err, "Authenticate")
	defer ctx.Close()

	fatalIfErr(t, os.MkdirAll(filepath.Join(tempDir, "subdir"), 0755), "MkdirAll")
	fatalIfErr(t, os.WriteFile(filepath.Join(tempDir, "file.txt"), []byte("test"), 0644), "WriteFile")

	tests := []struct {
		name        string
		path        string
		expectError bool
	}{
		{"Absolute path", "/subdir", false},
		{"Relative path", "subdir", false},
		{"Current directory", ".", false},
		{"Root", "/", false},
		{"File", "/file.txt", false},
		{"Escape attempt", "../../../etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ctx.GetFileInfo(tt.path)
			if tt.expectError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected success, got error: %v", err)
			}
		})
	}
}

// TestFSContext_FileOperations tests file operations.
func TestFSContext_FileOperations(t *testing.T) {
	tempDir := t.TempDir()
	driver, err := NewFSDriver(tempDir, "user", "pass")
	fatalIfErr(t, err, "NewFSDriver")

	ctx, err := driver.Authenticate("user", "pass", "")
	fatalIfErr(t, err, "Authenticate")
	defer ctx.Close()

	fatalIfErr(t, ctx.MakeDir("/testdir"), "MakeDir")

	info, err := ctx.GetFileInfo("/testdir")
	if err != nil || !info.IsDir() {
		t.Error("Directory not created")
	}

	f, err := ctx.OpenFile("/test.txt", os.O_CREATE|os.O_WRONLY)
	fatalIfErr(t, err, "OpenFile")
	_, err = f.Write([]byte("test content"))
	fatalIfErr(t, err, "Write")
	f.Close()

	f, err = ctx.OpenFile("/test.txt", os.O_RDONLY)
	fatalIfErr(t, err, "OpenFile for reading")
	buf := make([]byte, 100)
	n, _ := f.Read(buf)
	f.Close()
	if string(buf[:n]) != "test content" {
		t.Errorf("File content mismatch: got %q", string(buf[:n]))
	}

	fatalIfErr(t, ctx.Rename("/test.txt", "/renamed.txt"), "Rename")
	fatalIfErr(t, ctx.DeleteFile("/renamed.txt"), "DeleteFile")
	fatalIfErr(t, ctx.RemoveDir("/testdir"), "RemoveDir")
}

// TestFSContext_ReadOnly tests read-only mode enforcement.
func TestFSContext_ReadOnly(t *testing.T) {
	tempDir := t.TempDir()
	driver, err := NewFSDriver(tempDir, "readonly", "pass", WithServerType(ReadOnly))
	fatalIfErr(t, err, "NewFSDriver")

	ctx, err := driver.Authenticate("readonly", "pass", "")
	fatalIfErr(t, err, "Authenticate")
	defer ctx.Close()

	if err := ctx.MakeDir("/testdir"); err == nil {
		t.Error("MakeDir should fail in read-only mode")
	}
	if err := ctx.DeleteFile("/file.txt"); err == nil {
		t.Error("DeleteFile should fail in read-only mode")
	}
	if err := ctx.RemoveDir("/dir"); err == nil {
		t.Error("RemoveDir should fail in read-only mode")
	}
	if _, err := ctx.OpenFile("/test.txt", os.O_CREATE|os.O_WRONLY); err == nil {
		t.Error("OpenFile for writing should fail in read-only mode")
	}
}

// TestFSContext_GetHash tests hash calculation.
func TestFSContext_GetHash(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test.txt")
	fatalIfErr(t, os.WriteFile(testFile, []byte("test content"), 0644), "WriteFile")

	driver, err := NewFSDriver(tempDir, "user", "pass")
	fatalIfErr(t, err, "NewFSDriver")

	ctx, err := driver.Authenticate("user", "pass", "")
	fatalIfErr(t, err, "Authenticate")
	defer ctx.Close()

	tests := []struct {
		algo        string
		expectError bool
	}{
		{"SHA-256", false},
		{"SHA-512", false},
		{"SHA-1", false},
		{"MD5", false},
		{"CRC32", false},
		{"INVALID", true},
	}

	for _, tt := range tests {
		t.Run(tt.algo, func(t *testing.T) {
			hash, err := ctx.GetHash("/test.txt", tt.algo)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error for invalid algorithm")
				}
				return
			}
			if err != nil {
				t.Errorf("GetHash failed: %v", err)
			}
			if hash == "" {
				t.Error("Hash should not be empty")
			}
			if !isHex(hash) {
				t.Errorf("Hash is not valid hex: %s", hash)
			}
		})
	}
}

func isHex(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return len(s) > 0
}
