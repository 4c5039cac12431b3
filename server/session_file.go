package server

import (
	"fmt"
	"io"
	"strings"
)

func (s *session) handlePWD(_ string) {
	cwd, err := s.fs.GetWd()
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(257, fmt.Sprintf("%q is current directory.", cwd))
}

func (s *session) handleCWD(path string) {
	if err := s.fs.ChangeDir(path); err != nil {
		s.replyError(err)
		return
	}

	if s.server.enableDirMessage {
		f, err := s.fs.OpenFile(".message", 0)
		if err == nil {
			lr := io.LimitReader(f, 2048)
			b, _ := io.ReadAll(lr)
			f.Close()
			if len(b) > 0 {
				fmt.Fprintf(s.writer, "250-Message:\r\n")
				msg := strings.TrimRight(string(b), "\r\n")
				lines := strings.Split(msg, "\n")
				for _, line := range lines {
					line = strings.TrimRight(line, "\r")
					fmt.Fprintf(s.writer, "250-%s\r\n", line)
				}
			}
		}
	}

	cwd, err := s.fs.GetWd()
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, fmt.Sprintf("Directory changed to %s.", cwd))
}

func (s *session) handleCDUP(_ string) {
	s.handleCWD("..")
}

func (s *session) handleLIST(arg string) {
	entries, err := s.fs.ListDir(arg)
	if err != nil {
		s.replyError(err)
		return
	}

	conn, err := s.connData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	defer conn.Close()

	s.reply(150, "Here comes the directory listing.")
	writeListing(s.rateLimitWriter(conn), entries)
	s.reply(226, "Directory send OK.")
}

func (s *session) handleNLST(arg string) {
	entries, err := s.fs.ListDir(arg)
	if err != nil {
		s.replyError(err)
		return
	}

	conn, err := s.connData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	defer conn.Close()

	s.reply(150, "Here comes the file list.")
	writeNameList(s.rateLimitWriter(conn), entries)
	s.reply(226, "Transfer complete.")
}

func (s *session) handleMKD(path string) {
	if err := s.fs.MakeDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("directory_created",
		"session_id", s.sessionID,
		"remote_ip", s.redactIP(s.remoteIP),
		"user", s.user,
		"host", s.host,
		"path", s.redactPath(path),
	)
	s.reply(257, fmt.Sprintf("%q created.", path))
}

func (s *session) handleRMD(path string) {
	if err := s.fs.RemoveDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("directory_removed",
		"session_id", s.sessionID,
		"remote_ip", s.redactIP(s.remoteIP),
		"user", s.user,
		"host", s.host,
		"path", s.redactPath(path),
	)
	s.reply(250, "Directory deleted.")
}

func (s *session) handleDELE(path string) {
	if err := s.fs.DeleteFile(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("file_deleted",
		"session_id", s.sessionID,
		"remote_ip", s.redactIP(s.remoteIP),
		"user", s.user,
		"host", s.host,
		"path", s.redactPath(path),
	)
	s.reply(250, "File deleted.")
}

func (s *session) handleRNFR(path string) {
	if _, err := s.fs.GetFileInfo(path); err != nil {
		s.reply(550, "File not found.")
		return
	}

	s.renameFrom = path
	s.reply(350, "Requested file action pending further information.")
}

func (s *session) handleRNTO(path string) {
	if s.renameFrom == "" {
		s.reply(503, "Bad sequence of commands. Send RNFR first.")
		return
	}

	err := s.fs.Rename(s.renameFrom, path)
	s.renameFrom = ""
	if err != nil {
		s.replyError(err)
		return
	}

	s.reply(250, "Rename successful.")
}
