package server

import (
	"fmt"
	"io"
	"os"
)

// formatListLine renders one entry in the UNIX ls -l style real FTP clients
// parse: "<perm> 1 ftp ftp <size> <Mon dd HH:MM> <name>". The owner/group
// fields are always the literal "ftp ftp" — this server has no notion of
// per-file ownership, and standard clients only ever display the string,
// never interpret it.
func formatListLine(info os.FileInfo) string {
	return fmt.Sprintf("%s 1 ftp ftp %d %s %s",
		permString(info),
		info.Size(),
		info.ModTime().Format("Jan 02 15:04"),
		info.Name(),
	)
}

// permString renders the 10-character permission string (e.g. "-rw-r--r--"
// or "drwxr-xr-x"). The server does not expose real per-bit host
// permissions over the wire; it reports a fixed, conventional mode per
// entry type, which is what every observed client actually checks: the
// leading type character.
func permString(info os.FileInfo) string {
	if info.IsDir() {
		return "drwxr-xr-x"
	}
	return "-rw-r--r--"
}

// writeListing writes one CRLF-terminated line per entry to w, in the LIST
// format above.
func writeListing(w io.Writer, entries []os.FileInfo) {
	for _, entry := range entries {
		io.WriteString(w, formatListLine(entry))
		io.WriteString(w, "\r\n")
	}
}

// writeNameList writes bare names, one per line, for NLST.
func writeNameList(w io.Writer, entries []os.FileInfo) {
	for _, entry := range entries {
		io.WriteString(w, entry.Name())
		io.WriteString(w, "\r\n")
	}
}
