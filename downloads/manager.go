package downloads

import (
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/soulshare/event"
	"github.com/opd-ai/soulshare/network"
	"github.com/opd-ai/soulshare/protocol"
	"github.com/opd-ai/soulshare/shares"
	"github.com/opd-ai/soulshare/transfer"
)

const (
	// queuePollInterval is how often queued downloads poll their remote
	// queue position and retry is attempted for connection failures.
	queuePollInterval = 180 * time.Second

	// ioRetryInterval is how often downloads failed on local I/O errors are
	// re-enqueued. Disk problems rarely self-resolve quickly.
	ioRetryInterval = 900 * time.Second

	// requestTimeout bounds how long an activated download may sit waiting
	// for its file connection before it is failed.
	requestTimeout = 45 * time.Second
)

// Presence reports session and peer presence as tracked from server status
// messages. Unknown peers are assumed present.
type Presence interface {
	// Online reports whether our own session is logged in.
	Online() bool

	// UserOffline reports whether the named user is known to be offline.
	UserOffline(username string) bool
}

// Deps wires a Manager to its collaborators.
type Deps struct {
	Bus      *event.Bus
	Net      network.Messenger
	Shares   shares.Index
	Buddies  shares.BuddyList
	Presence Presence
	Store    *transfer.Store
}

// Manager owns the download side of the transfer queue. All methods must be
// called from the event loop.
type Manager struct {
	cfg      *Config
	reg      *transfer.Registry
	bus      *event.Bus
	net      network.Messenger
	shares   shares.Index
	buddies  shares.BuddyList
	presence Presence
	store    *transfer.Store

	filterRegexp   *regexp.Regexp
	basenameLimits *ttlcache.Cache[string, int]

	// requestedFolders maps username to requested folder path to the custom
	// destination chosen for it, empty for the default.
	requestedFolders     map[string]map[string]string
	requestedFolderToken uint32

	// pendingQueueMsgs holds QueueUpload messages deferred until our own
	// shares finish initializing, so peers never see us as sharing nothing.
	pendingQueueMsgs map[*transfer.Transfer]protocol.QueueUpload

	// userQueueLimits caps how many limited downloads are re-enqueued per
	// user after a queue-limit rejection.
	userQueueLimits map[string]int

	totalBandwidth int64

	queueTimerID     event.TimerID
	retryConnTimerID event.TimerID
	retryIOTimerID   event.TimerID
}

// New creates a download manager and subscribes it on the bus. Call Start
// once the event loop context is established.
func New(cfg *Config, deps Deps) *Manager {
	m := &Manager{
		cfg:              cfg,
		reg:              transfer.NewRegistry(),
		bus:              deps.Bus,
		net:              deps.Net,
		shares:           deps.Shares,
		buddies:          deps.Buddies,
		presence:         deps.Presence,
		store:            deps.Store,
		basenameLimits:   newBasenameLimitCache(),
		requestedFolders: make(map[string]map[string]string),
		pendingQueueMsgs: make(map[*transfer.Transfer]protocol.QueueUpload),
		userQueueLimits:  make(map[string]int),
	}

	for kind, handler := range map[event.Kind]event.Handler{
		event.KindServerLogin:            m.onServerLogin,
		event.KindServerDisconnect:       m.onServerDisconnect,
		event.KindQuit:                   m.onQuit,
		event.KindSharesReady:            m.onSharesReady,
		event.KindUserStatus:             m.onUserStatus,
		event.KindConnectionStats:        m.onConnectionStats,
		event.KindPeerConnectionError:    m.onPeerConnectionError,
		event.KindPeerConnectionClosed:   m.onPeerConnectionClosed,
		event.KindFileTransferInit:       m.onFileTransferInit,
		event.KindFileDownloadProgress:   m.onFileDownloadProgress,
		event.KindFileConnectionClosed:   m.onFileConnectionClosed,
		event.KindDownloadFileError:      m.onDownloadFileError,
		event.KindTransferRequest:        m.onTransferRequest,
		event.KindUploadDenied:           m.onUploadDenied,
		event.KindUploadFailed:           m.onUploadFailed,
		event.KindPlaceInQueueResponse:   m.onPlaceInQueueResponse,
		event.KindFolderContentsResponse: m.onFolderContentsResponse,
	} {
		deps.Bus.Subscribe(kind, handler)
	}

	return m
}

// Start loads persisted downloads and compiles the configured filters.
func (m *Manager) Start() {
	m.compileFilters()
	m.loadTransfers()
}

// Registry exposes the manager's transfer registry for read-only inspection.
func (m *Manager) Registry() *transfer.Registry {
	return m.reg
}

// TotalBandwidth returns the worker's last reported download bandwidth.
func (m *Manager) TotalBandwidth() int64 {
	return m.totalBandwidth
}

// UpdateFilters recompiles the download filters after a config change.
func (m *Manager) UpdateFilters() {
	m.compileFilters()
}

// Lifecycle //

func (m *Manager) onServerLogin(e event.Event) {
	if !e.(event.ServerLogin).Success {
		return
	}

	clear(m.requestedFolders)

	m.queueTimerID = m.bus.Schedule(queuePollInterval, true, m.checkDownloadQueue)
	m.retryConnTimerID = m.bus.Schedule(queuePollInterval, true, m.retryFailedConnectionDownloads)
	m.retryIOTimerID = m.bus.Schedule(ioRetryInterval, true, m.retryFailedIODownloads)

	m.UpdateTransferLimits()
}

func (m *Manager) onServerDisconnect(event.Event) {
	for _, id := range []event.TimerID{m.queueTimerID, m.retryConnTimerID, m.retryIOTimerID} {
		m.bus.CancelScheduled(id)
	}
	m.queueTimerID, m.retryConnTimerID, m.retryIOTimerID = 0, 0, 0

	for _, download := range m.reg.All() {
		if m.reg.IsActive(download) || m.reg.IsQueued(download) {
			m.abortTransfer(download, transfer.StatusUserLoggedOff, true)
		}
	}

	m.bus.Emit(event.DownloadsUpdated{})
	clear(m.requestedFolders)
	m.requestedFolderToken = 0
}

func (m *Manager) onQuit(event.Event) {
	if err := m.SaveTransfers(); err != nil {
		logrus.WithFields(logrus.Fields{
			"path":  m.store.Path(),
			"error": err,
		}).Error("Failed to save downloads")
	}
}

// Persistence //

func (m *Manager) loadTransfers() {
	rows, err := m.store.Load()
	if err != nil {
		// The file may still be in one of the prior positional layouts.
		legacyRows, legacyErr := transfer.LoadLegacy(m.store.Path())
		if legacyErr != nil {
			logrus.WithFields(logrus.Fields{
				"path":  m.store.Path(),
				"error": err,
			}).Error("Failed to load downloads")
			return
		}
		rows = legacyRows
	}

	for _, row := range rows {
		t := transfer.FromRow(row)
		m.reg.Add(t)

		if t.Status == transfer.StatusUserLoggedOff {
			// Failed transfers resume when the user reconnects.
			m.reg.Fail(t)
		}
	}
}

// SaveTransfers writes the download list to disk.
func (m *Manager) SaveTransfers() error {
	all := m.reg.All()
	rows := make([]transfer.Row, 0, len(all))

	for _, t := range all {
		rows = append(rows, transfer.RowFor(t))
	}

	return m.store.Save(rows)
}

// Limits //

// UpdateTransferLimits pushes the configured download speed limit to the
// network worker.
func (m *Manager) UpdateTransferLimits() {
	m.bus.Emit(event.DownloadLimitsUpdated{})

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

	m.net.SendToWorker(network.SetDownloadLimit{Limit: limit})
}

// Transfer actions //

func (m *Manager) updateTransfer(t *transfer.Transfer, updateParent bool) {
	m.bus.Emit(event.DownloadUpdated{Transfer: t, UpdateParent: updateParent})
}

func (m *Manager) activateTransfer(t *transfer.Transfer, token uint32) {
	m.reg.Activate(t, token)

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
	}).Debug("Download request timed out")

	m.abortTransfer(t, transfer.StatusConnectionTimeout, true)
	m.updateTransfer(t, true)
}

// enqueueTransfer queues a download and asks the remote peer to queue the
// upload, subject to filters, presence and already-downloaded checks.
func (m *Manager) enqueueTransfer(t *transfer.Transfer, bypassFilter bool) {
	username := t.Username
	virtualPath := t.VirtualPath

	if !bypassFilter && m.isFiltered(virtualPath) {
		logrus.WithField("path", virtualPath).Debug("Filtering download")

		if m.autoClearTransfer(t) {
			return
		}

		m.abortTransfer(t, transfer.StatusFiltered, true)
		return
	}

	if !m.presence.Online() || m.presence.UserOffline(username) {
		// Either we are offline or the user we want to download from is.
		m.abortTransfer(t, transfer.StatusUserLoggedOff, true)
		return
	}

	if path := m.CompleteDownloadFilePath(username, virtualPath, t.Size, t.FolderPath); path != "" {
		t.Status = transfer.StatusFinished
		t.CurrentByteOffset = t.Size

		logrus.WithField("path", path).Debug("File is already downloaded")
		return
	}

	logrus.WithFields(logrus.Fields{
		"username": username,
		"path":     virtualPath,
	}).Debug("Adding file to download queue")

	m.reg.Enqueue(t)

	msg := protocol.QueueUpload{File: virtualPath, Legacy: t.LegacyAttempt}

	if !m.shares.Initialized() {
		// Remain queued locally until our shares have initialized, to
		// prevent invalid messages about not sharing any files.
		m.pendingQueueMsgs[t] = msg
	} else {
		m.net.SendToPeer(username, msg)
	}
}

// enqueueLimitedTransfers resumes a bounded batch of downloads that a user
// previously rejected with a queue-limit reason.
func (m *Manager) enqueueLimitedTransfers(username string) {
	limit, ok := m.userQueueLimits[username]
	if !ok {
		return
	}

	resumed := 0

	for _, download := range m.reg.FailedForUser(username) {
		if download.Status != transfer.Status(protocol.RejectQueued) {
			continue
		}

		if resumed >= limit {
			// Only enqueue a small number of downloads at a time.
			return
		}

		m.reg.Unfail(download)
		m.enqueueTransfer(download, false)
		m.updateTransfer(download, true)
		resumed++
	}

	// No more limited downloads.
	delete(m.userQueueLimits, username)
}

func (m *Manager) dequeueTransfer(t *transfer.Transfer) {
	m.reg.Dequeue(t)
	delete(m.pendingQueueMsgs, t)
}

// abortTransfer detaches a download from every partition, releasing its
// socket and file handle. A non-empty status is assigned and, unless
// terminal, the transfer is parked in the failed partition.
func (m *Manager) abortTransfer(t *transfer.Transfer, status transfer.Status, updateParent bool) {
	t.LegacyAttempt = false
	t.SizeChanged = false

	if t.Sock != network.None {
		transfer.ReleaseSocket(t, m.net)
	}

	if t.File != nil {
		t.CloseFile()

		logrus.WithFields(logrus.Fields{
			"username": t.Username,
			"path":     t.VirtualPath,
		}).Info("Download aborted")
	}

	m.deactivateTransfer(t)
	m.dequeueTransfer(t)
	m.reg.Unfail(t)

	if status == "" {
		return
	}

	t.Status = status

	switch status {
	case transfer.StatusFinished, transfer.StatusFiltered, transfer.StatusPaused:
	default:
		m.reg.Fail(t)
	}

	m.bus.Emit(event.DownloadAborted{Transfer: t, Status: status, UpdateParent: updateParent})
}

func (m *Manager) autoClearTransfer(t *transfer.Transfer) bool {
	if m.cfg.AutoClear {
		m.clearTransfer(t, true)
		return true
	}
	return false
}

func (m *Manager) clearTransfer(t *transfer.Transfer, updateParent bool) {
	m.abortTransfer(t, "", updateParent)
	m.reg.Remove(t)

	m.bus.Emit(event.DownloadCleared{Transfer: t, UpdateParent: updateParent})
	m.enqueueLimitedTransfers(t.Username)
}

// finishTransfer moves a completed download from its incomplete path to the
// final destination. A failed move leaves the incomplete file intact and
// parks the download with a folder error.
func (m *Manager) finishTransfer(t *transfer.Transfer) {
	downloadFolderPath := t.FolderPath
	if downloadFolderPath == "" {
		downloadFolderPath = m.DefaultDownloadFolder(t.Username)
	}

	incompleteFilePath := t.File.Name()

	m.deactivateTransfer(t)
	t.CloseFile()

	if err := os.MkdirAll(downloadFolderPath, 0o755); err != nil {
		m.failFinish(t, incompleteFilePath, err)
		return
	}

	downloadBasename := m.DownloadBasename(t.VirtualPath, downloadFolderPath, true)
	downloadFilePath := filepath.Join(downloadFolderPath, downloadBasename)

	if err := moveFile(incompleteFilePath, downloadFilePath); err != nil {
		m.failFinish(t, incompleteFilePath, err)
		return
	}

	t.Status = transfer.StatusFinished
	t.CurrentByteOffset = t.Size
	t.Sock = network.None

	m.bus.Emit(event.DownloadNotification{Finished: true})

	if !m.autoClearTransfer(t) {
		m.updateTransfer(t, true)
	}

	m.enqueueLimitedTransfers(t.Username)

	logrus.WithFields(logrus.Fields{
		"username": t.Username,
		"path":     t.VirtualPath,
		"target":   downloadFilePath,
	}).Info("Download finished")
}

func (m *Manager) failFinish(t *transfer.Transfer, incompleteFilePath string, err error) {
	logrus.WithFields(logrus.Fields{
		"tempfile": incompleteFilePath,
		"username": t.Username,
		"path":     t.VirtualPath,
		"error":    err,
	}).Error("Could not move finished download into place")

	m.abortTransfer(t, transfer.StatusDownloadFolderError, true)
	m.bus.Emit(event.DownloadFolderError{Transfer: t, Err: err})
}

// Public queue operations //

// Enqueue adds a single file to the download queue. An existing transfer of
// the same user and path is a duplicate and left untouched, unless it
// finished into a different folder, in which case it is replaced.
func (m *Manager) Enqueue(username, virtualPath, folderPath string, size int64) {
	m.enqueueDownload(username, virtualPath, folderPath, size, false)
}

func (m *Manager) enqueueDownload(username, virtualPath, folderPath string, size int64, bypassFilter bool) {
	t := m.reg.Get(username, virtualPath)

	if folderPath != "" {
		folderPath = filepath.Clean(folderPath)
	} else {
		folderPath = m.DefaultDownloadFolder(username)
	}

	if t != nil && t.FolderPath != folderPath && t.Status == transfer.StatusFinished {
		// Only one transfer per user and path at a time, remove the old one.
		m.clearTransfer(t, false)
		t = nil
	}

	if t != nil {
		// Duplicate download, stop here.
		return
	}

	t = transfer.New(username, virtualPath, folderPath, size)

	m.reg.Add(t)
	m.enqueueTransfer(t, bypassFilter)
	m.updateTransfer(t, true)
}

// Retry re-enqueues a single download unless it is active or finished.
func (m *Manager) Retry(t *transfer.Transfer, bypassFilter bool) {
	if m.reg.IsActive(t) || t.Status == transfer.StatusFinished {
		return
	}

	m.dequeueTransfer(t)
	m.reg.Unfail(t)
	m.enqueueTransfer(t, bypassFilter)
	m.updateTransfer(t, true)
}

// RetryMany retries a batch of downloads. A single filtered download
// bypasses the filters, since retrying it is an explicit override.
func (m *Manager) RetryMany(downloads []*transfer.Transfer) {
	for _, download := range downloads {
		bypassFilter := len(downloads) == 1 && download.Status == transfer.StatusFiltered
		m.Retry(download, bypassFilter)
	}
}

// Abort aborts a batch of downloads into the given status, Paused when
// empty.
func (m *Manager) Abort(downloads []*transfer.Transfer, status transfer.Status) {
	if status == "" {
		status = transfer.StatusPaused
	}

	for _, download := range downloads {
		if download.Status != status && download.Status != transfer.StatusFinished {
			m.abortTransfer(download, status, false)
		}
	}

	m.bus.Emit(event.DownloadsAborted{Transfers: downloads, Status: status})
}

// Clear removes a batch of downloads from the list, all of them when nil.
// With statuses set, only matching downloads are removed. With deletedOnly
// set, only finished downloads whose local file is gone are removed.
func (m *Manager) Clear(downloads []*transfer.Transfer, statuses []transfer.Status, deletedOnly bool) {
	if downloads == nil {
		downloads = m.reg.All()
	}

	for _, download := range downloads {
		if len(statuses) > 0 && !slices.Contains(statuses, download.Status) {
			continue
		}

		if deletedOnly {
			if download.Status != transfer.StatusFinished {
				continue
			}
			if m.CompleteDownloadFilePath(
				download.Username, download.VirtualPath, download.Size, download.FolderPath) != "" {
				continue
			}
		}

		m.clearTransfer(download, false)
	}

	m.bus.Emit(event.DownloadsCleared{Transfers: downloads})
}

// CanUpload reports whether the named user may push files to us that we
// never asked for.
func (m *Manager) CanUpload(username string) bool {
	switch m.cfg.RemoteUploadPolicy {
	case RemoteUploadsEveryone:
		return true
	case RemoteUploadsBuddies:
		return m.buddies.IsBuddy(username)
	case RemoteUploadsTrusted:
		return m.buddies.IsTrusted(username)
	default:
		return false
	}
}

// Timers //

// checkDownloadQueue polls every queued download's position in the remote
// queue.
func (m *Manager) checkDownloadQueue() {
	for _, download := range m.reg.QueuedTransfers() {
		m.net.SendToPeer(download.Username, protocol.PlaceInQueueRequest{
			File:   download.VirtualPath,
			Legacy: download.LegacyAttempt,
		})
	}
}

func (m *Manager) retryFailedDownloads(statuses ...transfer.Status) {
	for _, username := range m.reg.FailedUsers() {
		for _, download := range m.reg.FailedForUser(username) {
			if !slices.Contains(statuses, download.Status) {
				continue
			}

			m.reg.Unfail(download)
			m.enqueueTransfer(download, false)
			m.updateTransfer(download, true)
		}
	}
}

func (m *Manager) retryFailedConnectionDownloads() {
	m.retryFailedDownloads(
		transfer.StatusConnectionClosed,
		transfer.StatusConnectionTimeout,
		transfer.Status(protocol.RejectPendingShutdown),
	)
}

func (m *Manager) retryFailedIODownloads() {
	m.retryFailedDownloads(
		transfer.StatusDownloadFolderError,
		transfer.StatusLocalFileError,
		transfer.Status(protocol.RejectFileReadError),
	)
}
