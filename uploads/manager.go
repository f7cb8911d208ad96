package uploads

import (
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/soulshare/event"
	"github.com/opd-ai/soulshare/network"
	"github.com/opd-ai/soulshare/protocol"
	"github.com/opd-ai/soulshare/shares"
	"github.com/opd-ai/soulshare/transfer"
)

const (
	// queueCheckInterval is how often the queue is polled for an upload
	// that can be started.
	queueCheckInterval = 10 * time.Second

	// retryInterval is how often timed-out uploads are re-queued.
	retryInterval = 180 * time.Second

	// requestTimeout bounds how long a requested upload may sit waiting for
	// the peer's response before it is failed.
	requestTimeout = 45 * time.Second
)

// Presence reports session and peer presence as tracked from server status
// messages. Unknown peers are assumed present.
type Presence interface {
	// Online reports whether our own session is logged in.
	Online() bool

	// UserOffline reports whether the named user is known to be offline.
	UserOffline(username string) bool

	// LoginUsername returns our own username, empty while logged out.
	LoginUsername() string
}

// NetworkFilter bans users at the connection level.
type NetworkFilter interface {
	BanUser(username string)
}

// Deps wires a Manager to its collaborators.
type Deps struct {
	Bus      *event.Bus
	Net      network.Messenger
	Shares   shares.Index
	Buddies  shares.BuddyList
	Presence Presence
	Filter   NetworkFilter
	Store    *transfer.Store
}

// Manager owns the upload side of the transfer queue. All methods must be
// called from the event loop.
type Manager struct {
	cfg      *Config
	reg      *transfer.Registry
	bus      *event.Bus
	net      network.Messenger
	shares   shares.Index
	buddies  shares.BuddyList
	presence Presence
	filter   NetworkFilter
	store    *transfer.Store

	pendingShutdown bool
	privilegedUsers map[string]struct{}
	uploadSpeed     int64
	token           uint32

	// pendingQueueRequests holds peer queue requests that arrived while our
	// shares were rescanning; they are replayed once the scan finishes.
	pendingQueueRequests []event.QueueUploadRequest

	// userUpdateCounter orders waiting users for round-robin selection: the
	// user whose uploads changed least recently is served first.
	userUpdateCounter  uint64
	userUpdateCounters map[string]uint64

	totalBandwidth int64

	queueTimerID event.TimerID
	retryTimerID event.TimerID
}

// New creates an upload manager and subscribes it on the bus. Call Start
// once the event loop context is established.
func New(cfg *Config, deps Deps) *Manager {
	m := &Manager{
		cfg:                cfg,
		reg:                transfer.NewRegistry(),
		bus:                deps.Bus,
		net:                deps.Net,
		shares:             deps.Shares,
		buddies:            deps.Buddies,
		presence:           deps.Presence,
		filter:             deps.Filter,
		store:              deps.Store,
		privilegedUsers:    make(map[string]struct{}),
		userUpdateCounters: make(map[string]uint64),
	}

	for kind, handler := range map[event.Kind]event.Handler{
		event.KindServerLogin:           m.onServerLogin,
		event.KindServerDisconnect:      m.onServerDisconnect,
		event.KindScheduleQuit:          m.onScheduleQuit,
		event.KindQuit:                  m.onQuit,
		event.KindSharesReady:           m.onSharesReady,
		event.KindUserStatus:            m.onUserStatus,
		event.KindUserStats:             m.onUserStats,
		event.KindPrivilegedUserAdded:   m.onPrivilegedUserAdded,
		event.KindPrivilegedUserRemoved: m.onPrivilegedUserRemoved,
		event.KindConnectionStats:       m.onConnectionStats,
		event.KindPeerConnectionError:   m.onPeerConnectionError,
		event.KindPeerConnectionClosed:  m.onPeerConnectionClosed,
		event.KindFileTransferInit:      m.onFileTransferInit,
		event.KindFileUploadProgress:    m.onFileUploadProgress,
		event.KindFileConnectionClosed:  m.onFileConnectionClosed,
		event.KindUploadFileError:       m.onUploadFileError,
		event.KindQueueUploadRequest:    m.onQueueUploadRequest,
		event.KindTransferRequest:       m.onTransferRequest,
		event.KindTransferResponse:      m.onTransferResponse,
		event.KindPlaceInQueueRequest:   m.onPlaceInQueueRequest,
	} {
		deps.Bus.Subscribe(kind, handler)
	}

	return m
}

// Start loads the persisted upload history.
func (m *Manager) Start() {
	m.loadTransfers()
}

// Registry exposes the manager's transfer registry for read-only inspection.
func (m *Manager) Registry() *transfer.Registry {
	return m.reg
}

// UploadSpeed returns our average upload speed as advertised by the server.
func (m *Manager) UploadSpeed() int64 {
	return m.uploadSpeed
}

// TotalBandwidth returns the worker's last reported upload bandwidth.
func (m *Manager) TotalBandwidth() int64 {
	return m.totalBandwidth
}

// PendingShutdown reports whether the manager is draining active uploads
// before quitting.
func (m *Manager) PendingShutdown() bool {
	return m.pendingShutdown
}

// Lifecycle //

func (m *Manager) onServerLogin(e event.Event) {
	if !e.(event.ServerLogin).Success {
		return
	}

	m.queueTimerID = m.bus.Schedule(queueCheckInterval, true, m.checkUploadQueue)
	m.retryTimerID = m.bus.Schedule(retryInterval, true, m.retryFailedUploads)

	m.UpdateTransferLimits()
}

func (m *Manager) onServerDisconnect(event.Event) {
	m.bus.CancelScheduled(m.queueTimerID)
	m.bus.CancelScheduled(m.retryTimerID)
	m.queueTimerID, m.retryTimerID = 0, 0

	m.bus.Emit(event.UploadsUpdated{})

	clear(m.privilegedUsers)
	m.pendingQueueRequests = nil
	clear(m.userUpdateCounters)
	m.userUpdateCounter = 0

	// Quit in case we were waiting for uploads to finish.
	m.checkUploadQueue()
}

func (m *Manager) onScheduleQuit(e event.Event) {
	if !e.(event.ScheduleQuit).FinishUploads {
		return
	}

	m.pendingShutdown = true
	m.checkUploadQueue()
}

func (m *Manager) onQuit(event.Event) {
	if err := m.SaveTransfers(); err != nil {
		logrus.WithFields(logrus.Fields{
			"path":  m.store.Path(),
			"error": err,
		}).Error("Failed to save uploads")
	}
}

// Persistence //

// loadTransfers restores the upload history. Only finished uploads are kept
// across sessions; queued ones are re-requested by their downloaders.
func (m *Manager) loadTransfers() {
	rows, err := m.store.Load()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"path":  m.store.Path(),
			"error": err,
		}).Error("Failed to load uploads")
		return
	}

	for _, row := range rows {
		if row.Status != transfer.StatusFinished {
			continue
		}
		m.reg.Add(transfer.FromRow(row))
	}
}

// SaveTransfers writes the upload list to disk.
func (m *Manager) SaveTransfers() error {
	all := m.reg.All()
	rows := make([]transfer.Row, 0, len(all))

	for _, t := range all {
		rows = append(rows, transfer.RowFor(t))
	}

	return m.store.Save(rows)
}

// Privileges //

func (m *Manager) onPrivilegedUserAdded(e event.Event) {
	m.privilegedUsers[e.(event.PrivilegedUserAdded).Username] = struct{}{}
}

func (m *Manager) onPrivilegedUserRemoved(e event.Event) {
	delete(m.privilegedUsers, e.(event.PrivilegedUserRemoved).Username)
}

// isPrivileged reports whether a user has queue precedence, either through
// server privileges or through the buddy list.
func (m *Manager) isPrivileged(username string) bool {
	if username == "" {
		return false
	}

	if _, ok := m.privilegedUsers[username]; ok {
		return true
	}

	return m.isBuddyPrioritized(username)
}

func (m *Manager) isBuddyPrioritized(username string) bool {
	if !m.buddies.IsBuddy(username) {
		return false
	}

	if m.cfg.PreferFriends {
		return true
	}

	return m.buddies.IsPrioritized(username)
}

// Stats/Limits //

// fileSize returns a local file's size, zero when it cannot be read.
func fileSize(realPath string) int64 {
	info, err := os.Stat(realPath)
	if err != nil {
		return 0
	}
	return info.Size()
}

// TotalUploadsAllowed returns how many concurrent uploads we are at most
// willing to serve right now.
func (m *Manager) TotalUploadsAllowed() int {
	var uploadSlots int

	if m.cfg.UseUploadSlots {
		uploadSlots = m.cfg.UploadSlots
	} else {
		uploadSlots = m.reg.ActiveUserCount()

		if m.isNewUploadAccepted() {
			return uploadSlots + 1
		}
	}

	if uploadSlots <= 0 {
		uploadSlots = 1
	}

	return uploadSlots
}

// uploadQueueSize returns the queue length from the given user's point of
// view: privileged users only wait behind other privileged users.
func (m *Manager) uploadQueueSize(username string) int {
	if m.isPrivileged(username) {
		size := 0
		for _, queuedUser := range m.reg.QueuedUsers() {
			if m.isPrivileged(queuedUser) {
				size += m.reg.QueuedUserCount(queuedUser)
			}
		}
		return size
	}

	return m.reg.QueuedCount()
}

// HasActiveUploads reports whether any upload is active or waiting.
func (m *Manager) HasActiveUploads() bool {
	return m.reg.HasActive() || m.reg.QueuedCount() > 0
}

func (m *Manager) isQueueLimitReached(username string) (bool, protocol.RejectReason) {
	if fileLimit := m.cfg.FileLimit; fileLimit >= 1 && m.reg.QueuedUserCount(username) >= fileLimit {
		return true, protocol.RejectTooManyFiles
	}

	if sizeLimit := int64(m.cfg.QueueLimitMB) * 1024 * 1024; sizeLimit >= 1 && m.reg.QueuedBytes(username) >= sizeLimit {
		return true, protocol.RejectTooManyMegabytes
	}

	return false, ""
}

func (m *Manager) isSlotLimitReached() bool {
	uploadSlots := m.cfg.UploadSlots
	if uploadSlots <= 0 {
		uploadSlots = 1
	}

	return m.reg.ActiveUserCount() >= uploadSlots
}

func (m *Manager) isBandwidthLimitReached() bool {
	bandwidthLimit := int64(m.cfg.BandwidthLimit) * 1024
	if bandwidthLimit == 0 {
		return false
	}

	return m.totalBandwidth >= bandwidthLimit
}

// isNewUploadAccepted reports whether a new upload may start right now.
func (m *Manager) isNewUploadAccepted() bool {
	if m.shares == nil || m.shares.Rescanning() {
		return false
	}

	if m.cfg.UseUploadSlots {
		if m.isSlotLimitReached() {
			return false
		}
	} else if m.isBandwidthLimitReached() {
		return false
	}

	return true
}

// isFileReadable verifies we can actually open the shared file before
// promising it to a peer.
func isFileReadable(virtualPath, realPath string) bool {
	f, err := os.Open(realPath)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"virtual": virtualPath,
			"path":    realPath,
		}).Debug("Cannot access file, not sharing")
		return false
	}

	f.Close()
	return true
}

func (m *Manager) isUploadQueued(username, virtualPath string) bool {
	if m.reg.QueuedByPath(username, virtualPath) != nil {
		return true
	}

	return slices.ContainsFunc(m.reg.ActiveForUser(username), func(t *transfer.Transfer) bool {
		return t.VirtualPath == virtualPath
	})
}

// UpdateTransferLimits pushes the configured upload speed limit to the
// network worker.
func (m *Manager) UpdateTransferLimits() {
	m.bus.Emit(event.UploadLimitsUpdated{})

	if !m.presence.Online() {
		return
	}

	var limit int
	switch m.cfg.SpeedLimitMode {
	case LimitPrimary:
		limit = m.cfg.SpeedLimit
	case LimitAlternative:
		limit = m.cfg.SpeedLimitAlt
	}

	m.net.SendToWorker(network.SetUploadLimit{Limit: limit, LimitPerTransfer: m.cfg.LimitPerTransfer})
	m.checkUploadQueue()
}

// Transfer actions //

// appendTransfer registers a new upload record, folding it into an existing
// record for the same user and path when one exists.
func (m *Manager) appendTransfer(t *transfer.Transfer) *transfer.Transfer {
	username := t.Username
	virtualPath := t.VirtualPath

	if old := m.reg.Get(username, virtualPath); old != nil {
		if m.reg.IsQueued(old) {
			// Refresh size and destination but keep the queue position.
			m.reg.UpdateQueuedSize(old, t.Size)
			old.FolderPath = t.FolderPath
			m.updateTransfer(old, true)
			return old
		}

		if old.Status != transfer.StatusFinished {
			t.CurrentByteOffset = old.CurrentByteOffset
			t.TimeElapsed = old.TimeElapsed
			t.TimeLeft = old.TimeLeft
			t.Speed = old.Speed
		}

		m.clearTransfer(old, "", true)
	}

	m.reg.Add(t)
	return t
}

func (m *Manager) dequeueTransfer(t *transfer.Transfer) {
	m.reg.Dequeue(t)

	if !m.reg.HasQueuedUser(t.Username) {
		delete(m.userUpdateCounters, t.Username)
	}
}

func (m *Manager) activateTransfer(t *transfer.Transfer, token uint32) {
	m.reg.Activate(t, token)
	delete(m.userUpdateCounters, t.Username)

	t.RequestTimerID = uint64(m.bus.Schedule(requestTimeout, false, func() {
		m.transferTimeout(t)
	}))
}

func (m *Manager) deactivateTransfer(t *transfer.Transfer) {
	m.cancelRequestTimer(t)
	m.reg.Deactivate(t)
}

func (m *Manager) cancelRequestTimer(t *transfer.Transfer) {
	if t.RequestTimerID == 0 {
		return
	}
	m.bus.CancelScheduled(event.TimerID(t.RequestTimerID))
	t.RequestTimerID = 0
}

func (m *Manager) transferTimeout(t *transfer.Transfer) {
	if t.RequestTimerID == 0 {
		return
	}

	logrus.WithFields(logrus.Fields{
		"username": t.Username,
		"path":     t.VirtualPath,
		"token":    t.Token,
	}).Debug("Upload request timed out")

	m.abortTransfer(t, "", transfer.StatusConnectionTimeout, true)
	m.checkUploadQueue()
}

// updateTransfer refreshes the user's round-robin counter and notifies the
// presentation layer. Existing counters of queued users are left alone so a
// user enqueueing more files is not pushed back in the queue.
func (m *Manager) updateTransfer(t *transfer.Transfer, updateParent bool) {
	username := t.Username

	if _, counted := m.userUpdateCounters[username]; !counted || m.reg.QueuedByPath(username, t.VirtualPath) == nil {
		m.updateUserCounter(username)
	}

	m.bus.Emit(event.UploadUpdated{Transfer: t, UpdateParent: updateParent})
}

// updateUserCounter bumps the user's round-robin counter. Only users with
// queued and no active uploads are tracked; the smallest counter value marks
// the user waiting longest.
func (m *Manager) updateUserCounter(username string) {
	if m.reg.HasQueuedUser(username) && !m.reg.HasActiveUser(username) {
		m.userUpdateCounter++
		m.userUpdateCounters[username] = m.userUpdateCounter
	}
}

func (m *Manager) enqueueTransfer(t *transfer.Transfer) {
	m.reg.Enqueue(t)
}

func (m *Manager) finishTransfer(t *transfer.Transfer) {
	m.deactivateTransfer(t)
	t.CloseFile()

	t.Status = transfer.StatusFinished
	t.CurrentByteOffset = t.Size
	t.Sock = network.None

	logrus.WithFields(logrus.Fields{
		"username": t.Username,
		"path":     t.VirtualPath,
	}).Info("Upload finished")

	if !m.autoClearTransfer(t) {
		m.updateTransfer(t, true)
	}

	m.checkUploadQueue()
}

// abortTransfer detaches an upload from every partition. A non-empty denied
// message is sent to the peer when the upload was still queued. A non-empty
// status is assigned and, unless terminal, the transfer is parked in the
// failed partition.
func (m *Manager) abortTransfer(t *transfer.Transfer, deniedMessage protocol.RejectReason, status transfer.Status, updateParent bool) {
	username := t.Username
	virtualPath := t.VirtualPath

	if t.Sock != network.None {
		transfer.ReleaseSocket(t, m.net)
	}

	if t.File != nil {
		t.CloseFile()

		logrus.WithFields(logrus.Fields{
			"username": username,
			"path":     virtualPath,
		}).Info("Upload aborted")
	} else if deniedMessage != "" && m.reg.QueuedByPath(username, virtualPath) != nil {
		m.net.SendToPeer(username, protocol.UploadDenied{File: virtualPath, Reason: deniedMessage})
	}

	m.deactivateTransfer(t)
	m.dequeueTransfer(t)
	m.reg.Unfail(t)
	m.updateUserCounter(username)

	if status == "" {
		return
	}

	t.Status = status

	switch status {
	case transfer.StatusFinished, transfer.StatusCancelled:
	default:
		m.reg.Fail(t)
	}

	m.bus.Emit(event.UploadAborted{Transfer: t, Status: status, UpdateParent: updateParent})
}

func (m *Manager) autoClearTransfer(t *transfer.Transfer) bool {
	if m.cfg.AutoClear {
		m.clearTransfer(t, "", true)
		return true
	}
	return false
}

func (m *Manager) clearTransfer(t *transfer.Transfer, deniedMessage protocol.RejectReason, updateParent bool) {
	m.abortTransfer(t, deniedMessage, "", updateParent)
	m.reg.Remove(t)

	m.bus.Emit(event.UploadCleared{Transfer: t, UpdateParent: updateParent})
}

// retryFailedUploads re-queues uploads that timed out on connection setup.
func (m *Manager) retryFailedUploads() {
	for _, username := range m.reg.FailedUsers() {
		for _, upload := range m.reg.FailedForUser(username) {
			if upload.Status != transfer.StatusConnectionTimeout {
				continue
			}

			m.reg.Unfail(upload)
			m.enqueueTransfer(upload)
			m.updateTransfer(upload, true)
		}
	}
}

// Public queue operations //

// Enqueue adds an upload for the named user, typically on behalf of a local
// user action such as sending a file to a buddy.
func (m *Manager) Enqueue(username, virtualPath, folderPath string, size int64) {
	t := m.reg.Get(username, virtualPath)
	realPath := m.shares.VirtualToRealPath(virtualPath)

	if newSize := fileSize(realPath); newSize > 0 {
		size = newSize
	}

	if t == nil {
		if folderPath == "" {
			folderPath = filepath.Dir(realPath)
		} else {
			folderPath = filepath.Clean(folderPath)
		}

		t = m.appendTransfer(transfer.New(username, virtualPath, folderPath, size))
	} else {
		if m.reg.IsActive(t) || m.reg.IsQueued(t) {
			// Upload already in progress or waiting.
			return
		}

		m.reg.Unfail(t)
		t.Size = size
	}

	if !m.presence.Online() || m.presence.UserOffline(username) {
		// Either we are offline or the user we want to upload to is.
		if m.autoClearTransfer(t) {
			return
		}

		m.abortTransfer(t, "", transfer.StatusUserLoggedOff, true)
		return
	}

	m.enqueueTransfer(t)
	m.updateTransfer(t, true)
	m.checkUploadQueue()
}

// Retry re-queues a single upload unless it is active or finished.
func (m *Manager) Retry(t *transfer.Transfer) {
	if m.reg.IsActive(t) || t.Status == transfer.StatusFinished {
		return
	}

	hadActive := m.reg.HasActiveUser(t.Username)

	if !m.reg.IsQueued(t) {
		m.reg.Unfail(t)
		m.enqueueTransfer(t)
		m.updateTransfer(t, true)
	}

	if !hadActive {
		m.checkUploadQueue()
	}
}

// RetryMany retries a batch of uploads.
func (m *Manager) RetryMany(uploads []*transfer.Transfer) {
	for _, upload := range uploads {
		m.Retry(upload)
	}
}

// Abort aborts a batch of uploads into the given status, Cancelled when
// empty.
func (m *Manager) Abort(uploads []*transfer.Transfer, deniedMessage protocol.RejectReason, status transfer.Status) {
	if status == "" {
		status = transfer.StatusCancelled
	}

	for _, upload := range uploads {
		if upload.Status != status && upload.Status != transfer.StatusFinished {
			m.abortTransfer(upload, deniedMessage, status, false)
		}
	}

	m.bus.Emit(event.UploadsAborted{Transfers: uploads, Status: status})
}

// Clear removes a batch of uploads from the list, all of them when nil.
// With statuses set, only matching uploads are removed.
func (m *Manager) Clear(uploads []*transfer.Transfer, statuses []transfer.Status) {
	if uploads == nil {
		uploads = m.reg.All()
	}

	for _, upload := range uploads {
		if len(statuses) > 0 && !slices.Contains(statuses, upload.Status) {
			continue
		}

		m.clearTransfer(upload, "", false)
	}

	m.bus.Emit(event.UploadsCleared{Transfers: uploads})
}

// BanUsers cancels and rejects every upload of the given users, then bans
// them at the connection level.
func (m *Manager) BanUsers(users []string, banMessage string) {
	if banMessage == "" && m.cfg.UseCustomBan {
		banMessage = m.cfg.CustomBanMessage
	}

	status := protocol.RejectBanned
	if banMessage != "" {
		status = protocol.RejectReason(string(protocol.RejectBanned) + " (" + banMessage + ")")
	}

	for _, upload := range m.reg.All() {
		if slices.Contains(users, upload.Username) {
			m.clearTransfer(upload, status, true)
		}
	}

	for _, username := range users {
		m.filter.BanUser(username)
	}

	m.checkUploadQueue()
}
