package transfer

import "github.com/opd-ai/soulshare/network"

// Registry owns every transfer record for one direction and partitions them
// into queued, active and failed sets per user. All mutation happens on the
// event loop; the registry needs no internal locking.
type Registry struct {
	transfers map[Key]*Transfer
	order     []*Transfer // insertion order of all known transfers

	queued      []*Transfer // global enqueue order, for FIFO scheduling
	queuedUsers map[string]map[string]*Transfer
	activeUsers map[string]map[uint32]*Transfer
	failedUsers map[string]map[string]*Transfer

	queuedBytes map[string]int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		transfers:   make(map[Key]*Transfer),
		queuedUsers: make(map[string]map[string]*Transfer),
		activeUsers: make(map[string]map[uint32]*Transfer),
		failedUsers: make(map[string]map[string]*Transfer),
		queuedBytes: make(map[string]int64),
	}
}

// Add registers a freshly created transfer. Duplicate-key policy belongs to
// the managers; Add replaces any previous record with the same key.
func (r *Registry) Add(t *Transfer) {
	if old, ok := r.transfers[t.Key()]; ok && old != t {
		r.removeFromOrder(old)
	}

	r.transfers[t.Key()] = t
	r.order = append(r.order, t)
}

// Get returns the transfer for a user and virtual path, or nil.
func (r *Registry) Get(username, virtualPath string) *Transfer {
	return r.transfers[Key{Username: username, VirtualPath: virtualPath}]
}

// Remove permanently deletes a transfer from the registry. The caller is
// responsible for having dequeued, deactivated and unfailed it first.
func (r *Registry) Remove(t *Transfer) {
	if r.transfers[t.Key()] == t {
		delete(r.transfers, t.Key())
	}
	r.removeFromOrder(t)
}

// All returns every known transfer in insertion order.
func (r *Registry) All() []*Transfer {
	out := make([]*Transfer, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of known transfers.
func (r *Registry) Len() int {
	return len(r.order)
}

func (r *Registry) removeFromOrder(t *Transfer) {
	for i, other := range r.order {
		if other == t {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// Enqueue moves a transfer into the queued partition and marks it Queued.
// Enqueueing an already-queued transfer is a no-op.
func (r *Registry) Enqueue(t *Transfer) {
	username := t.Username

	if _, ok := r.queuedUsers[username][t.VirtualPath]; ok {
		return
	}

	t.Status = StatusQueued
	r.queued = append(r.queued, t)

	byPath := r.queuedUsers[username]
	if byPath == nil {
		byPath = make(map[string]*Transfer)
		r.queuedUsers[username] = byPath
	}
	byPath[t.VirtualPath] = t

	r.queuedBytes[username] += t.Size
}

// UpdateQueuedSize changes a queued transfer's size without disturbing its
// queue position, keeping the per-user byte total consistent.
func (r *Registry) UpdateQueuedSize(t *Transfer, size int64) {
	if _, ok := r.queuedUsers[t.Username][t.VirtualPath]; ok {
		r.queuedBytes[t.Username] += size - t.Size
	}
	t.Size = size
}

// Dequeue removes a transfer from the queued partition. Idempotent.
func (r *Registry) Dequeue(t *Transfer) {
	username := t.Username

	byPath := r.queuedUsers[username]
	if _, ok := byPath[t.VirtualPath]; !ok {
		return
	}

	delete(byPath, t.VirtualPath)
	if len(byPath) == 0 {
		delete(r.queuedUsers, username)
	}

	for i, queued := range r.queued {
		if queued == t {
			r.queued = append(r.queued[:i], r.queued[i+1:]...)
			break
		}
	}

	r.queuedBytes[username] -= t.Size
	if r.queuedBytes[username] <= 0 {
		delete(r.queuedBytes, username)
	}
}

// Activate moves a transfer into the active partition under the given token.
func (r *Registry) Activate(t *Transfer, token uint32) {
	t.Token = token
	t.Status = StatusGettingStatus
	t.QueuePosition = 0

	byToken := r.activeUsers[t.Username]
	if byToken == nil {
		byToken = make(map[uint32]*Transfer)
		r.activeUsers[t.Username] = byToken
	}
	byToken[token] = t
}

// Deactivate removes a transfer from the active partition and clears its
// token. Idempotent.
func (r *Registry) Deactivate(t *Transfer) {
	byToken := r.activeUsers[t.Username]
	if byToken != nil {
		delete(byToken, t.Token)
		if len(byToken) == 0 {
			delete(r.activeUsers, t.Username)
		}
	}

	t.Token = 0
}

// Fail places a transfer into the failed partition without touching its
// socket or file state.
func (r *Registry) Fail(t *Transfer) {
	byPath := r.failedUsers[t.Username]
	if byPath == nil {
		byPath = make(map[string]*Transfer)
		r.failedUsers[t.Username] = byPath
	}
	byPath[t.VirtualPath] = t
}

// Unfail removes a transfer from the failed partition. Idempotent.
func (r *Registry) Unfail(t *Transfer) {
	byPath := r.failedUsers[t.Username]
	if byPath == nil {
		return
	}

	delete(byPath, t.VirtualPath)
	if len(byPath) == 0 {
		delete(r.failedUsers, t.Username)
	}
}

// IsQueued reports queued-partition membership.
func (r *Registry) IsQueued(t *Transfer) bool {
	return r.queuedUsers[t.Username][t.VirtualPath] == t
}

// IsActive reports active-partition membership.
func (r *Registry) IsActive(t *Transfer) bool {
	return r.activeUsers[t.Username][t.Token] == t
}

// IsFailed reports failed-partition membership.
func (r *Registry) IsFailed(t *Transfer) bool {
	return r.failedUsers[t.Username][t.VirtualPath] == t
}

// QueuedTransfers returns all queued transfers in global enqueue order.
func (r *Registry) QueuedTransfers() []*Transfer {
	out := make([]*Transfer, len(r.queued))
	copy(out, r.queued)
	return out
}

// QueuedCount returns the number of queued transfers across all users.
func (r *Registry) QueuedCount() int {
	return len(r.queued)
}

// QueuedForUser returns one user's queued transfers in enqueue order.
func (r *Registry) QueuedForUser(username string) []*Transfer {
	var out []*Transfer
	for _, t := range r.queued {
		if t.Username == username {
			out = append(out, t)
		}
	}
	return out
}

// QueuedByPath returns a user's queued transfer for a virtual path, or nil.
func (r *Registry) QueuedByPath(username, virtualPath string) *Transfer {
	return r.queuedUsers[username][virtualPath]
}

// QueuedUserCount returns how many files a user has queued.
func (r *Registry) QueuedUserCount(username string) int {
	return len(r.queuedUsers[username])
}

// QueuedUsers returns the set of users with at least one queued transfer.
func (r *Registry) QueuedUsers() []string {
	out := make([]string, 0, len(r.queuedUsers))
	for username := range r.queuedUsers {
		out = append(out, username)
	}
	return out
}

// HasQueuedUser reports whether a user has any queued transfers.
func (r *Registry) HasQueuedUser(username string) bool {
	return len(r.queuedUsers[username]) > 0
}

// QueuedBytes returns the byte total of a user's queued transfers.
func (r *Registry) QueuedBytes(username string) int64 {
	return r.queuedBytes[username]
}

// ActiveByToken returns a user's active transfer for a token, or nil.
func (r *Registry) ActiveByToken(username string, token uint32) *Transfer {
	return r.activeUsers[username][token]
}

// ActiveForUser returns a user's active transfers in unspecified order.
func (r *Registry) ActiveForUser(username string) []*Transfer {
	byToken := r.activeUsers[username]
	out := make([]*Transfer, 0, len(byToken))
	for _, t := range byToken {
		out = append(out, t)
	}
	return out
}

// HasActiveUser reports whether a user has any active transfers.
func (r *Registry) HasActiveUser(username string) bool {
	return len(r.activeUsers[username]) > 0
}

// HasActive reports whether any transfer is active.
func (r *Registry) HasActive() bool {
	return len(r.activeUsers) > 0
}

// ActiveUserCount returns the number of distinct users with active transfers.
func (r *Registry) ActiveUserCount() int {
	return len(r.activeUsers)
}

// FailedByPath returns a user's failed transfer for a virtual path, or nil.
func (r *Registry) FailedByPath(username, virtualPath string) *Transfer {
	return r.failedUsers[username][virtualPath]
}

// FailedForUser returns a snapshot of a user's failed transfers.
func (r *Registry) FailedForUser(username string) []*Transfer {
	byPath := r.failedUsers[username]
	out := make([]*Transfer, 0, len(byPath))
	for _, t := range byPath {
		out = append(out, t)
	}
	return out
}

// FailedUsers returns the set of users with at least one failed transfer.
func (r *Registry) FailedUsers() []string {
	out := make([]string, 0, len(r.failedUsers))
	for username := range r.failedUsers {
		out = append(out, username)
	}
	return out
}

// ReleaseSocket asks the network worker to close the transfer's connection
// and forgets the handle. Teardown is asynchronous, but the transfer's
// logical state no longer references the socket once this returns. Safe to
// call with no live socket.
func ReleaseSocket(t *Transfer, messenger network.Messenger) {
	if t.Sock == network.None {
		return
	}

	messenger.SendToWorker(network.CloseConnection{Sock: t.Sock})
	t.Sock = network.None
}
