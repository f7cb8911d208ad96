package soulshare

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/soulshare/event"
	"github.com/opd-ai/soulshare/protocol"
	"github.com/opd-ai/soulshare/transfer"
)

func newTestClient(t *testing.T) (*Client, *mockMessenger) {
	t.Helper()

	net := &mockMessenger{}

	options := NewOptions("self", t.TempDir())
	options.Net = net
	options.Shares = newMockShares()
	options.Buddies = &mockBuddies{}

	client, err := New(options)
	require.NoError(t, err)

	return client, net
}

func TestNewValidatesOptions(t *testing.T) {
	shares := newMockShares()
	net := &mockMessenger{}
	buddies := &mockBuddies{}

	tests := []struct {
		name    string
		options *Options
		wantErr error
	}{
		{
			name:    "missing username",
			options: &Options{Net: net, Shares: shares, Buddies: buddies},
			wantErr: ErrNoUsername,
		},
		{
			name:    "missing messenger",
			options: &Options{Username: "self", Shares: shares, Buddies: buddies},
			wantErr: ErrNoMessenger,
		},
		{
			name:    "missing shares index",
			options: &Options{Username: "self", Net: net, Buddies: buddies},
			wantErr: ErrNoSharesIndex,
		},
		{
			name:    "missing buddy list",
			options: &Options{Username: "self", Net: net, Shares: shares},
			wantErr: ErrNoBuddyList,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.options)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClientWiresManagers(t *testing.T) {
	client, net := newTestClient(t)

	client.Events().Emit(event.ServerLogin{Success: true})
	client.Downloads().Enqueue("alice", "music\\song.mp3", "", 100)

	download := client.Downloads().Registry().Get("alice", "music\\song.mp3")
	require.NotNil(t, download)
	assert.Equal(t, transfer.StatusQueued, download.Status)

	sent, ok := net.lastPeerMsg()
	require.True(t, ok)
	assert.Equal(t, protocol.QueueUpload{File: "music\\song.mp3"}, sent.msg)
}

func TestSessionTracksPresence(t *testing.T) {
	client, _ := newTestClient(t)
	session := client.Session()

	assert.False(t, session.Online())
	assert.Empty(t, session.LoginUsername())

	client.Events().Emit(event.ServerLogin{Success: true})
	assert.True(t, session.Online())
	assert.Equal(t, "self", session.LoginUsername())

	client.Events().Emit(event.UserStatus{Username: "alice", Status: protocol.UserOffline})
	assert.True(t, session.UserOffline("alice"))
	assert.False(t, session.UserOffline("bob"), "unknown users are assumed present")

	client.Events().Emit(event.UserStatus{Username: "alice", Status: protocol.UserOnline})
	assert.False(t, session.UserOffline("alice"))

	client.Events().Emit(event.ServerDisconnect{})
	assert.False(t, session.Online())
	assert.False(t, session.UserOffline("alice"), "statuses reset on disconnect")
}

func TestBanListPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banlist.json")

	banlist := NewBanList(path)
	banlist.BanUser("troll")
	banlist.BanUser("spammer")
	banlist.BanUser("troll") // idempotent
	banlist.UnbanUser("spammer")

	assert.True(t, banlist.IsBanned("troll"))
	assert.False(t, banlist.IsBanned("spammer"))

	reloaded := NewBanList(path)
	assert.Equal(t, []string{"troll"}, reloaded.Users())
}

func TestUploadBanFeedsBanList(t *testing.T) {
	client, _ := newTestClient(t)

	client.Uploads().BanUsers([]string{"troll"}, "")

	assert.True(t, client.BanList().IsBanned("troll"))
}
