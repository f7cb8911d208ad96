package uploads

import (
	"github.com/opd-ai/soulshare/network"
	"github.com/opd-ai/soulshare/protocol"
	"github.com/opd-ai/soulshare/shares"
)

// mockMessenger records outbound traffic for assertions.
type mockMessenger struct {
	peerMsgs   []peerMsg
	serverMsgs []protocol.Message
	commands   []network.Command
}

type peerMsg struct {
	username string
	msg      protocol.Message
}

func (m *mockMessenger) SendToPeer(username string, msg protocol.Message) {
	m.peerMsgs = append(m.peerMsgs, peerMsg{username: username, msg: msg})
}

func (m *mockMessenger) SendToServer(msg protocol.Message) {
	m.serverMsgs = append(m.serverMsgs, msg)
}

func (m *mockMessenger) SendToWorker(cmd network.Command) {
	m.commands = append(m.commands, cmd)
}

func (m *mockMessenger) lastPeerMsg() (peerMsg, bool) {
	if len(m.peerMsgs) == 0 {
		return peerMsg{}, false
	}
	return m.peerMsgs[len(m.peerMsgs)-1], true
}

// mockShares is a minimal shares index with a configurable state.
type mockShares struct {
	initialized bool
	rescanning  bool
	realPaths   map[string]string
	sharedFiles map[string]bool
	permission  shares.PermissionLevel
	banReason   string
}

func newMockShares() *mockShares {
	return &mockShares{
		initialized: true,
		realPaths:   make(map[string]string),
		sharedFiles: make(map[string]bool),
		permission:  shares.PermissionPublic,
	}
}

func (s *mockShares) VirtualToRealPath(virtualPath string) string {
	return s.realPaths[virtualPath]
}

func (s *mockShares) FileIsShared(_, virtualPath, _ string) bool {
	return s.sharedFiles[virtualPath]
}

func (s *mockShares) CheckUserPermission(_, _ string) (shares.PermissionLevel, string) {
	return s.permission, s.banReason
}

func (s *mockShares) Rescanning() bool  { return s.rescanning }
func (s *mockShares) Initialized() bool { return s.initialized }

// mockBuddies is a static buddy list.
type mockBuddies struct {
	buddies     map[string]bool
	trusted     map[string]bool
	prioritized map[string]bool
}

func newMockBuddies() *mockBuddies {
	return &mockBuddies{
		buddies:     make(map[string]bool),
		trusted:     make(map[string]bool),
		prioritized: make(map[string]bool),
	}
}

func (b *mockBuddies) IsBuddy(username string) bool       { return b.buddies[username] }
func (b *mockBuddies) IsTrusted(username string) bool     { return b.trusted[username] }
func (b *mockBuddies) IsPrioritized(username string) bool { return b.prioritized[username] }

// mockPresence tracks session and peer presence.
type mockPresence struct {
	online   bool
	username string
	offline  map[string]bool
}

func newMockPresence() *mockPresence {
	return &mockPresence{online: true, username: "self", offline: make(map[string]bool)}
}

func (p *mockPresence) Online() bool { return p.online }

func (p *mockPresence) UserOffline(username string) bool { return p.offline[username] }

func (p *mockPresence) LoginUsername() string { return p.username }

// mockFilter records ban requests.
type mockFilter struct {
	banned []string
}

func (f *mockFilter) BanUser(username string) {
	f.banned = append(f.banned, username)
}
