package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryPartitionsAreExclusive(t *testing.T) {
	r := NewRegistry()
	tr := New("alice", "a.mp3", "", 100)
	r.Add(tr)

	r.Enqueue(tr)
	assert.True(t, r.IsQueued(tr))
	assert.Equal(t, StatusQueued, tr.Status)

	r.Dequeue(tr)
	r.Activate(tr, 7)
	assert.False(t, r.IsQueued(tr))
	assert.True(t, r.IsActive(tr))
	assert.Equal(t, uint32(7), tr.Token)
	assert.Equal(t, StatusGettingStatus, tr.Status)
	assert.Same(t, tr, r.ActiveByToken("alice", 7))

	r.Deactivate(tr)
	r.Fail(tr)
	assert.False(t, r.IsActive(tr))
	assert.True(t, r.IsFailed(tr))
	assert.Zero(t, tr.Token)

	r.Unfail(tr)
	assert.False(t, r.IsFailed(tr))
	assert.Same(t, tr, r.Get("alice", "a.mp3"))
}

func TestRegistryQueueOrderIsGlobalFIFO(t *testing.T) {
	r := NewRegistry()

	first := New("alice", "1.mp3", "", 1)
	second := New("bob", "2.mp3", "", 1)
	third := New("alice", "3.mp3", "", 1)

	for _, tr := range []*Transfer{first, second, third} {
		r.Add(tr)
		r.Enqueue(tr)
	}

	assert.Equal(t, []*Transfer{first, second, third}, r.QueuedTransfers())
	assert.Equal(t, []*Transfer{first, third}, r.QueuedForUser("alice"))
	assert.Equal(t, 2, r.QueuedUserCount("alice"))

	r.Dequeue(second)
	assert.Equal(t, []*Transfer{first, third}, r.QueuedTransfers())
	assert.False(t, r.HasQueuedUser("bob"))
}

func TestRegistryQueuedBytes(t *testing.T) {
	r := NewRegistry()

	a := New("alice", "a.mp3", "", 100)
	b := New("alice", "b.mp3", "", 50)
	r.Add(a)
	r.Add(b)
	r.Enqueue(a)
	r.Enqueue(b)

	assert.Equal(t, int64(150), r.QueuedBytes("alice"))

	r.UpdateQueuedSize(a, 300)
	assert.Equal(t, int64(350), r.QueuedBytes("alice"))
	assert.Equal(t, int64(300), a.Size)

	r.Dequeue(a)
	r.Dequeue(b)
	assert.Zero(t, r.QueuedBytes("alice"))
}

func TestRegistryEnqueueIsIdempotent(t *testing.T) {
	r := NewRegistry()
	tr := New("alice", "a.mp3", "", 100)
	r.Add(tr)

	r.Enqueue(tr)
	r.Enqueue(tr)

	assert.Equal(t, 1, r.QueuedCount())
	assert.Equal(t, int64(100), r.QueuedBytes("alice"))
}

func TestRegistryAddReplacesSameKey(t *testing.T) {
	r := NewRegistry()

	old := New("alice", "a.mp3", "", 100)
	r.Add(old)

	replacement := New("alice", "a.mp3", "", 200)
	r.Add(replacement)

	assert.Same(t, replacement, r.Get("alice", "a.mp3"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryActiveAllowsParallelTransfersPerUser(t *testing.T) {
	r := NewRegistry()

	a := New("alice", "a.mp3", "", 1)
	b := New("alice", "b.mp3", "", 1)
	r.Add(a)
	r.Add(b)

	r.Activate(a, 1)
	r.Activate(b, 2)

	require.Len(t, r.ActiveForUser("alice"), 2)
	assert.True(t, r.HasActiveUser("alice"))
	assert.Equal(t, 1, r.ActiveUserCount())

	r.Deactivate(a)
	assert.Nil(t, r.ActiveByToken("alice", 1))
	assert.Same(t, b, r.ActiveByToken("alice", 2))
}

func TestUpdateSpeedClampsShortIntervals(t *testing.T) {
	tr := New("alice", "a.mp3", "", 1000)
	tr.CurrentByteOffset = 100

	now := tr.LastUpdate.Add(1) // effectively zero elapsed time
	tr.UpdateSpeed(now)

	// 100 bytes over the clamped 0.1s minimum.
	assert.Equal(t, int64(1000), tr.Speed)
	assert.Equal(t, int64(100), tr.LastByteOffset)
	assert.Equal(t, now, tr.LastUpdate)
}
