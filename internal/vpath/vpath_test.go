package vpath_test

import (
	"testing"

	"github.com/outpostfs/ftpd/internal/vpath"
	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		cwd, arg, want string
	}{
		{"/", "foo", "/foo"},
		{"/", "/foo", "/foo"},
		{"/foo", "bar", "/foo/bar"},
		{"/foo/bar", "..", "/foo"},
		{"/", "..", "/"},
		{"/", "../../..", "/"},
		{"/foo", "../../bar", "/bar"},
		{"/foo/bar", "/baz", "/baz"},
		{"/foo", ".", "/foo"},
		{"/foo", "./bar/../baz", "/foo/baz"},
		{"/", "", "/"},
		{"/a/b/c", "../../x", "/a/x"},
	}

	for _, c := range cases {
		got := vpath.Resolve(c.cwd, c.arg)
		assert.Equal(t, c.want, got, "Resolve(%q, %q)", c.cwd, c.arg)
	}
}

func TestResolveNeverEscapesRoot(t *testing.T) {
	// No sequence of CWD-style resolutions starting from "/" can produce a
	// path lexicographically outside the root once passed through ToBackend.
	cwd := "/"
	inputs := []string{"..", "a", "..", "..", "..", "b", "../../../../../etc/passwd"}
	for _, arg := range inputs {
		cwd = vpath.Resolve(cwd, arg)
		assert.True(t, len(cwd) > 0 && cwd[0] == '/')
		backend := vpath.ToBackend(cwd)
		assert.False(t, len(backend) >= 2 && backend[0:2] == "..")
	}
}

func TestToBackend(t *testing.T) {
	assert.Equal(t, ".", vpath.ToBackend("/"))
	assert.Equal(t, "foo", vpath.ToBackend("/foo"))
	assert.Equal(t, "foo/bar", vpath.ToBackend("/foo/bar"))
}
