package soulshare

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

// mockShares is a minimal shares index.
type mockShares struct {
	realPaths   map[string]string
	sharedFiles map[string]bool
}

func newMockShares() *mockShares {
	return &mockShares{
		realPaths:   make(map[string]string),
		sharedFiles: make(map[string]bool),
	}
}

func (s *mockShares) VirtualToRealPath(virtualPath string) string {
	return s.realPaths[virtualPath]
}

func (s *mockShares) FileIsShared(_, virtualPath, _ string) bool {
	return s.sharedFiles[virtualPath]
}

func (s *mockShares) CheckUserPermission(_, _ string) (shares.PermissionLevel, string) {
	return shares.PermissionPublic, ""
}

func (s *mockShares) Rescanning() bool  { return false }
func (s *mockShares) Initialized() bool { return true }

// mockBuddies is an empty buddy list.
type mockBuddies struct{}

func (mockBuddies) IsBuddy(string) bool       { return false }
func (mockBuddies) IsTrusted(string) bool     { return false }
func (mockBuddies) IsPrioritized(string) bool { return false }
