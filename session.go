package soulshare

import (
	"github.com/opd-ai/soulshare/event"
	"github.com/opd-ai/soulshare/protocol"
)

// Session tracks our own login state and the presence of remote users as
// reported by the server. Both transfer managers consult it; users the
// server has not reported on are assumed present.
type Session struct {
	username string
	online   bool
	statuses map[string]protocol.UserStatus
}

func newSession(username string, bus *event.Bus) *Session {
	s := &Session{
		username: username,
		statuses: make(map[string]protocol.UserStatus),
	}

	bus.Subscribe(event.KindServerLogin, s.onServerLogin)
	bus.Subscribe(event.KindServerDisconnect, s.onServerDisconnect)
	bus.Subscribe(event.KindUserStatus, s.onUserStatus)

	return s
}

func (s *Session) onServerLogin(e event.Event) {
	s.online = e.(event.ServerLogin).Success
}

func (s *Session) onServerDisconnect(event.Event) {
	s.online = false
	clear(s.statuses)
}

func (s *Session) onUserStatus(e event.Event) {
	msg := e.(event.UserStatus)
	s.statuses[msg.Username] = msg.Status
}

// Online reports whether our own session is logged in.
func (s *Session) Online() bool {
	return s.online
}

// UserOffline reports whether the named user is known to be offline.
func (s *Session) UserOffline(username string) bool {
	status, known := s.statuses[username]
	return known && status == protocol.UserOffline
}

// LoginUsername returns our own username while logged in, empty otherwise.
func (s *Session) LoginUsername() string {
	if !s.online {
		return ""
	}
	return s.username
}
