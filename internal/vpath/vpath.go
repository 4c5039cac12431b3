// Package vpath resolves the client-visible virtual path space of an FTP
// session onto a real filesystem rooted at a configured directory.
//
// A virtual path is always an absolute, POSIX-style string ("/", "/a/b").
// Resolution never depends on the host filesystem: it is pure string
// manipulation over "/"-separated segments, so the same rules apply whether
// the backend eventually maps onto a Unix or Windows filesystem.
package vpath

import (
	"path"
	"strings"
)

// Resolve computes the new virtual path that results from interpreting arg
// relative to cwd, the way CWD/CDUP/RETR/... arguments are interpreted.
//
// Rules:
//  1. If arg begins with "/", resolution starts at the root; otherwise it
//     starts at cwd.
//  2. The path is split on "/"; empty segments are dropped, "." is a no-op,
//     and ".." pops the last segment (popping past the root clamps at the
//     root instead of erroring).
//  3. The result is rejoined with "/" and is always absolute and normalized.
func Resolve(cwd, arg string) string {
	var base string
	if strings.HasPrefix(arg, "/") {
		base = arg
	} else {
		base = cwd + "/" + arg
	}

	segments := strings.Split(base, "/")
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			// drop
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}

	if len(stack) == 0 {
		return "/"
	}
	return "/" + strings.Join(stack, "/")
}

// ToBackend converts a normalized virtual path into a path relative to a
// filesystem root, suitable for handing to an afero.Fs (or any Fs) rooted at
// that directory. The returned path always uses "/" separators and never
// begins with one, matching the convention afero.BasePathFs expects.
//
// ToBackend assumes v is already normalized (the output of Resolve); it does
// not itself defend against ".." segments, since a virtual path that still
// contains them is a programming error upstream, not a user-facing one.
func ToBackend(v string) string {
	clean := path.Clean(v)
	rel := strings.TrimPrefix(clean, "/")
	if rel == "" {
		return "."
	}
	return rel
}
