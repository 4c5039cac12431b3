package server

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/outpostfs/ftpd/internal/vpath"
)

// ServerType selects whether write operations are permitted.
type ServerType int

const (
	// ReadWrite allows STOR/APPE/STOU/DELE/RMD/MKD/RNFR-RNTO/SITE CHMOD.
	ReadWrite ServerType = iota
	// ReadOnly rejects every write operation with os.ErrPermission.
	ReadOnly
)

// FSDriver implements Backend against a single directory on the host
// filesystem. Unlike a general-purpose FTP backend, it authenticates against
// exactly one configured user/password pair (see StaticCredentials) and
// roots every session at the same directory — there is no per-user home
// directory or anonymous access, matching a server with a static,
// single-tenant configuration.
//
// Security model:
//   - File operations are confined to rootPath by jailing an afero.Fs with
//     afero.NewBasePathFs, so a backend operation can never resolve to a
//     path outside the root regardless of what the caller passes in.
//   - Virtual-to-backend path translation (vpath) is a second, independent
//     layer of the same invariant: paths are normalized and clamped at the
//     virtual root before they ever reach the filesystem layer.
type FSDriver struct {
	creds      *StaticCredentials
	fs         afero.Fs
	serverType ServerType
	passive    *PassiveConfig
}

// FSDriverOption configures an FSDriver.
type FSDriverOption func(*FSDriver)

// WithServerType sets whether the driver allows write operations. Default
// is ReadWrite.
func WithServerType(t ServerType) FSDriverOption {
	return func(d *FSDriver) { d.serverType = t }
}

// WithPassiveConfig sets the passive-mode and public-host configuration
// shared by every session the driver authenticates.
func WithPassiveConfig(cfg *PassiveConfig) FSDriverOption {
	return func(d *FSDriver) { d.passive = cfg }
}

// NewFSDriver creates a driver rooted at rootPath, accepting only the given
// username/password pair. rootPath must exist and be a directory.
func NewFSDriver(rootPath, username, password string, options ...FSDriverOption) (*FSDriver, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", rootPath)
	}

	creds, err := NewStaticCredentials(username, password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash credentials: %w", err)
	}

	d := &FSDriver{
		creds: creds,
		fs:    afero.NewBasePathFs(afero.NewOsFs(), rootPath),
	}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// Authenticate validates user/pass against the configured pair and, on
// success, returns a fresh session-scoped workspace rooted at "/".
func (d *FSDriver) Authenticate(user, pass, _ string) (Workspace, error) {
	if err := d.creds.Authenticate(user, pass); err != nil {
		return nil, err
	}
	return &fsContext{
		fs:       d.fs,
		cwd:      "/",
		readOnly: d.serverType == ReadOnly,
		passive:  d.passive,
	}, nil
}

// fsContext implements Workspace over a jailed afero.Fs, translating every
// virtual path through vpath before touching the filesystem.
type fsContext struct {
	fs       afero.Fs
	cwd      string
	readOnly bool
	passive  *PassiveConfig
}

func (c *fsContext) Close() error { return nil }

func (c *fsContext) resolve(arg string) string {
	return vpath.ToBackend(vpath.Resolve(c.cwd, arg))
}

func (c *fsContext) ChangeDir(arg string) error {
	next := vpath.Resolve(c.cwd, arg)
	info, err := c.fs.Stat(vpath.ToBackend(next))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}
	c.cwd = next
	return nil
}

func (c *fsContext) GetWd() (string, error) {
	return c.cwd, nil
}

func (c *fsContext) MakeDir(arg string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	return c.fs.Mkdir(c.resolve(arg), 0755)
}

func (c *fsContext) RemoveDir(arg string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	path := c.resolve(arg)
	info, err := c.fs.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}
	return c.fs.Remove(path)
}

func (c *fsContext) DeleteFile(arg string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	path := c.resolve(arg)
	info, err := c.fs.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.New("is a directory")
	}
	return c.fs.Remove(path)
}

func (c *fsContext) Rename(fromArg, toArg string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	return c.fs.Rename(c.resolve(fromArg), c.resolve(toArg))
}

func (c *fsContext) ListDir(arg string) ([]os.FileInfo, error) {
	dir := c.resolve(arg)
	f, err := c.fs.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.Readdir(-1)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *fsContext) OpenFile(arg string, flag int) (io.ReadWriteCloser, error) {
	if c.readOnly {
		if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
			return nil, os.ErrPermission
		}
	}
	return c.fs.OpenFile(c.resolve(arg), flag, 0644)
}

func (c *fsContext) GetFileInfo(arg string) (os.FileInfo, error) {
	return c.fs.Stat(c.resolve(arg))
}

func (c *fsContext) GetHash(arg, algo string) (string, error) {
	f, err := c.fs.Open(c.resolve(arg))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var h interface {
		io.Writer
		Sum(b []byte) []byte
	}
	switch algo {
	case "SHA-256", "SHA256":
		h = sha256.New()
	case "SHA-512", "SHA512":
		h = sha512.New()
	case "SHA-1", "SHA1":
		h = sha1.New()
	case "MD5":
		h = md5.New()
	case "CRC32":
		h = crc32.NewIEEE()
	default:
		return "", errors.New("unsupported algorithm")
	}

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *fsContext) SetTime(arg string, t time.Time) error {
	if c.readOnly {
		return os.ErrPermission
	}
	return c.fs.Chtimes(c.resolve(arg), t, t)
}

func (c *fsContext) Chmod(arg string, mode os.FileMode) error {
	if c.readOnly {
		return os.ErrPermission
	}
	if mode > 0777 {
		return os.ErrInvalid
	}
	return c.fs.Chmod(c.resolve(arg), mode)
}

func (c *fsContext) GetPassiveConfig() *PassiveConfig {
	if c.passive == nil {
		return &PassiveConfig{}
	}
	return c.passive
}
