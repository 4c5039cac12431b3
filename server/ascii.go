package server

import (
	"bufio"
	"bytes"
	"io"
)

// TYPE A transfers run every byte through one of these two filters so the
// wire always carries CRLF line endings regardless of how the stored file
// represents them.

// lfToCRLFReader reads from a local file and rewrites bare LF to CRLF for
// the RETR direction (local storage -> network).
type lfToCRLFReader struct {
	src        *bufio.Reader
	prevWasCR  bool // avoids doubling the CR when the source is already CRLF
	pending    byte // a CR written without its paired LF fitting in the same Read
	hasPending bool
}

func newLFToCRLFReader(r io.Reader) *lfToCRLFReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &lfToCRLFReader{src: br}
}

// peekBuffered returns at least one buffered byte, triggering a fill of the
// underlying reader if the buffer is currently empty.
func (r *lfToCRLFReader) peekBuffered() ([]byte, error) {
	if peeked, _ := r.src.Peek(r.src.Buffered()); len(peeked) > 0 {
		return peeked, nil
	}
	if _, err := r.src.ReadByte(); err != nil {
		return nil, err
	}
	_ = r.src.UnreadByte()
	peeked, _ := r.src.Peek(r.src.Buffered())
	if len(peeked) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return peeked, nil
}

func (r *lfToCRLFReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n := 0

	if r.hasPending {
		p[n] = r.pending
		n++
		r.hasPending = false
		r.pending = 0
	}

	for n < len(p) {
		peeked, err := r.peekBuffered()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		idx := bytes.IndexByte(peeked, '\n')
		if idx == -1 {
			toCopy := len(peeked)
			if n+toCopy > len(p) {
				toCopy = len(p) - n
			}
			copy(p[n:], peeked[:toCopy])
			r.prevWasCR = peeked[toCopy-1] == '\r'
			_, _ = r.src.Discard(toCopy)
			n += toCopy
			continue
		}

		toCopy := idx
		if n+toCopy > len(p) {
			toCopy = len(p) - n
		}
		if toCopy > 0 {
			copy(p[n:], peeked[:toCopy])
			r.prevWasCR = peeked[toCopy-1] == '\r'
			_, _ = r.src.Discard(toCopy)
			n += toCopy
		}

		if n >= len(p) {
			return n, nil
		}

		if r.prevWasCR {
			p[n] = '\n'
			n++
			_, _ = r.src.Discard(1)
			r.prevWasCR = false
			continue
		}

		p[n] = '\r'
		n++
		r.prevWasCR = true
		if n < len(p) {
			p[n] = '\n'
			n++
			_, _ = r.src.Discard(1)
			r.prevWasCR = false
		} else {
			r.pending = '\n'
			r.hasPending = true
			_, _ = r.src.Discard(1)
			return n, nil
		}
	}

	return n, nil
}

// crlfToLFReader reads CRLF-terminated bytes off the network and strips the
// CR for the STOR/APPE direction (network -> local storage).
type crlfToLFReader struct {
	src *bufio.Reader
}

func newCRLFToLFReader(r io.Reader) *crlfToLFReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &crlfToLFReader{src: br}
}

func (r *crlfToLFReader) peekBuffered() ([]byte, error) {
	if peeked, _ := r.src.Peek(r.src.Buffered()); len(peeked) > 0 {
		return peeked, nil
	}
	if _, err := r.src.ReadByte(); err != nil {
		return nil, err
	}
	_ = r.src.UnreadByte()
	peeked, _ := r.src.Peek(r.src.Buffered())
	if len(peeked) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return peeked, nil
}

func (r *crlfToLFReader) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	for n < len(p) {
		peeked, err := r.peekBuffered()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		idx := bytes.IndexByte(peeked, '\r')
		if idx == -1 {
			toCopy := len(peeked)
			if n+toCopy > len(p) {
				toCopy = len(p) - n
			}
			copy(p[n:], peeked[:toCopy])
			_, _ = r.src.Discard(toCopy)
			n += toCopy
			continue
		}

		toCopy := idx
		if n+toCopy > len(p) {
			toCopy = len(p) - n
		}
		if toCopy > 0 {
			copy(p[n:], peeked[:toCopy])
			_, _ = r.src.Discard(toCopy)
			n += toCopy
		}

		if n >= len(p) {
			return n, nil
		}

		// At the CR: consume it silently if followed by LF, otherwise it
		// wasn't really a line ending and gets copied through untouched.
		// Peek(2) waits for a second byte, so a single peeked byte means
		// the stream ended right after the CR.
		peeked, _ = r.src.Peek(2)
		switch {
		case len(peeked) >= 2 && peeked[1] == '\n':
			_, _ = r.src.Discard(1)
		default:
			p[n] = '\r'
			n++
			_, _ = r.src.Discard(1)
		}
	}

	return n, nil
}
