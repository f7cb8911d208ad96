package uploads

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/soulshare/event"
	"github.com/opd-ai/soulshare/protocol"
)

// queueWaiting fills the queue with one file per user while the single
// upload slot is held by an unrelated user.
func queueWaiting(t *testing.T, env *testEnv, users ...string) {
	t.Helper()

	env.shareFile(t, "busy.mp3", "xxxx")
	env.queueRequest("holder", "busy.mp3")

	for _, username := range users {
		virtualPath := username + "\\file.mp3"
		env.shareFile(t, virtualPath, "xxxx")
		env.queueRequest(username, virtualPath)
		require.NotNil(t, env.manager.Registry().QueuedByPath(username, virtualPath))
	}
}

func TestRoundRobinPicksLongestWaitingUser(t *testing.T) {
	env := newTestEnv(t, &Config{UseUploadSlots: true, UploadSlots: 1})
	queueWaiting(t, env, "a", "b", "c")

	env.manager.userUpdateCounters = map[string]uint64{"a": 5, "b": 3, "c": 7}

	candidate, hasActive := env.manager.getUploadCandidate()
	require.NotNil(t, candidate)
	assert.True(t, hasActive)
	assert.Equal(t, "b", candidate.Username)
}

func TestFIFOPicksFirstQueuedFile(t *testing.T) {
	env := newTestEnv(t, &Config{UseUploadSlots: true, UploadSlots: 1, FIFOQueue: true})
	queueWaiting(t, env, "a", "b", "c")

	candidate, _ := env.manager.getUploadCandidate()
	require.NotNil(t, candidate)
	assert.Equal(t, "a", candidate.Username)
}

func TestPrivilegedUserServedFirst(t *testing.T) {
	for _, fifo := range []bool{false, true} {
		env := newTestEnv(t, &Config{UseUploadSlots: true, UploadSlots: 1, FIFOQueue: fifo})
		queueWaiting(t, env, "a", "b", "c")

		env.bus.Emit(event.PrivilegedUserAdded{Username: "c"})

		candidate, _ := env.manager.getUploadCandidate()
		require.NotNil(t, candidate)
		assert.Equal(t, "c", candidate.Username, "fifo=%v", fifo)
	}
}

// A privileged user with queued files shadows everyone else for as long as
// their queue stays non-empty, no matter how long the others wait.
func TestPrivilegedUserShadowsWaitingUsers(t *testing.T) {
	env := newTestEnv(t, &Config{UseUploadSlots: true, UploadSlots: 1})
	queueWaiting(t, env, "patient", "vip")

	env.bus.Emit(event.PrivilegedUserAdded{Username: "vip"})
	env.shareFile(t, "vip\\more.mp3", "xxxx")
	env.queueRequest("vip", "vip\\more.mp3")

	env.manager.userUpdateCounters["patient"] = 1
	env.manager.userUpdateCounters["vip"] = 1000

	for i := 0; i < 2; i++ {
		candidate, _ := env.manager.getUploadCandidate()
		require.NotNil(t, candidate)
		assert.Equal(t, "vip", candidate.Username)

		env.manager.dequeueTransfer(candidate)
		env.manager.updateUserCounter("vip")
	}

	candidate, _ := env.manager.getUploadCandidate()
	require.NotNil(t, candidate)
	assert.Equal(t, "patient", candidate.Username)
}

func TestBuddyPrioritizedAsPrivileged(t *testing.T) {
	env := newTestEnv(t, &Config{UseUploadSlots: true, UploadSlots: 1, PreferFriends: true})
	queueWaiting(t, env, "a", "friend")

	env.buddies.buddies["friend"] = true

	candidate, _ := env.manager.getUploadCandidate()
	require.NotNil(t, candidate)
	assert.Equal(t, "friend", candidate.Username)
}

func placeResponseFor(env *testEnv, username string) (protocol.PlaceInQueueResponse, bool) {
	for i := len(env.net.peerMsgs) - 1; i >= 0; i-- {
		sent := env.net.peerMsgs[i]
		if sent.username != username {
			continue
		}
		if place, ok := sent.msg.(protocol.PlaceInQueueResponse); ok {
			return place, true
		}
	}
	return protocol.PlaceInQueueResponse{}, false
}

func TestPlaceInQueueFIFO(t *testing.T) {
	env := newTestEnv(t, &Config{UseUploadSlots: true, UploadSlots: 1, FIFOQueue: true})
	queueWaiting(t, env, "u1", "u2", "u3")

	env.bus.Emit(event.PlaceInQueueRequest{
		Username: "u2",
		Msg:      protocol.PlaceInQueueRequest{File: "u2\\file.mp3"},
	})

	place, ok := placeResponseFor(env, "u2")
	require.True(t, ok)
	assert.Equal(t, 2, place.Place)
	assert.Equal(t, 2, env.manager.Registry().QueuedByPath("u2", "u2\\file.mp3").QueuePosition)
}

func TestPlaceInQueueRoundRobin(t *testing.T) {
	env := newTestEnv(t, &Config{UseUploadSlots: true, UploadSlots: 1})
	queueWaiting(t, env, "u1", "u2")

	env.shareFile(t, "u1\\second.mp3", "xxxx")
	env.queueRequest("u1", "u1\\second.mp3")

	// u1's second file cycles behind one file from each of the two users.
	env.bus.Emit(event.PlaceInQueueRequest{
		Username: "u1",
		Msg:      protocol.PlaceInQueueRequest{File: "u1\\second.mp3"},
	})

	place, ok := placeResponseFor(env, "u1")
	require.True(t, ok)
	assert.Equal(t, 4, place.Place)
}

func TestPlaceInQueueUnknownFileIgnored(t *testing.T) {
	env := newTestEnv(t, nil)

	env.bus.Emit(event.PlaceInQueueRequest{
		Username: "alice",
		Msg:      protocol.PlaceInQueueRequest{File: "nope.mp3"},
	})

	_, ok := placeResponseFor(env, "alice")
	assert.False(t, ok)
}
