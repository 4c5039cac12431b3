package server

func (s *session) handleUSER(user string) {
	s.user = user
	s.authState = awaitingPass
	s.reply(331, "User name okay, need password.")
}

func (s *session) handlePASS(pass string) {
	ctx, err := s.server.backend.Authenticate(s.user, pass, s.host)
	if err != nil {
		s.authState = awaitingUser
		s.server.logger.Warn("authentication_failed",
			"session_id", s.sessionID,
			"remote_ip", s.redactIP(s.remoteIP),
			"user", s.user,
			"reason", err.Error(),
		)
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordAuthentication(false, s.user)
		}
		s.reply(530, "Not logged in.")
		return
	}
	s.fs = ctx
	s.authState = authenticated
	s.server.logger.Info("authentication_success",
		"session_id", s.sessionID,
		"remote_ip", s.redactIP(s.remoteIP),
		"user", s.user,
		"host", s.host,
	)
	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordAuthentication(true, s.user)
	}
	s.reply(230, "User logged in, proceed.")
}
