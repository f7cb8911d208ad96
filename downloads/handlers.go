package downloads

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/soulshare/event"
	"github.com/opd-ai/soulshare/network"
	"github.com/opd-ai/soulshare/protocol"
	"github.com/opd-ai/soulshare/transfer"
)

// onSharesReady sends the QueueUpload messages held back while our shares
// were initializing.
func (m *Manager) onSharesReady(event.Event) {
	for t, msg := range m.pendingQueueMsgs {
		m.net.SendToPeer(t.Username, msg)
	}
	clear(m.pendingQueueMsgs)
}

func (m *Manager) onUserStatus(e event.Event) {
	msg := e.(event.UserStatus)
	username := msg.Username
	update := false

	if msg.Status == protocol.UserOffline {
		for _, download := range m.reg.QueuedForUser(username) {
			m.abortTransfer(download, transfer.StatusUserLoggedOff, true)
			update = true
		}

		for _, download := range m.reg.FailedForUser(username) {
			m.abortTransfer(download, transfer.StatusUserLoggedOff, true)
			update = true
		}

		for _, download := range m.reg.ActiveForUser(username) {
			if download.Status != transfer.StatusTransferring {
				m.abortTransfer(download, transfer.StatusUserLoggedOff, true)
				update = true
			}
		}
	} else {
		for _, download := range m.reg.FailedForUser(username) {
			if download.Status == transfer.Status(protocol.RejectQueued) {
				// Remotely limited downloads resume in bounded batches.
				continue
			}

			m.reg.Unfail(download)
			m.enqueueTransfer(download, false)
			update = true
		}

		m.enqueueLimitedTransfers(username)
	}

	if update {
		m.bus.Emit(event.DownloadsUpdated{})
	}
}

func (m *Manager) onConnectionStats(e event.Event) {
	m.totalBandwidth = e.(event.ConnectionStats).DownloadBandwidth
}

func (m *Manager) onPeerConnectionError(e event.Event) {
	msg := e.(event.PeerConnectionError)
	m.cantConnectQueuedFiles(msg.Username, msg.Messages, msg.IsOffline, msg.IsTimeout)
}

func (m *Manager) onPeerConnectionClosed(e event.Event) {
	msg := e.(event.PeerConnectionClosed)
	m.cantConnectQueuedFiles(msg.Username, msg.Messages, false, false)
}

// cantConnectQueuedFiles fails the queued downloads whose QueueUpload
// messages could not be delivered.
func (m *Manager) cantConnectQueuedFiles(username string, msgs []protocol.Message, isOffline, isTimeout bool) {
	for _, msg := range msgs {
		queueMsg, ok := msg.(protocol.QueueUpload)
		if !ok {
			continue
		}

		download := m.reg.QueuedByPath(username, queueMsg.File)
		if download == nil {
			continue
		}

		var status transfer.Status
		switch {
		case isOffline:
			status = transfer.StatusUserLoggedOff
		case isTimeout:
			status = transfer.StatusConnectionTimeout
		default:
			status = transfer.StatusConnectionClosed
		}

		logrus.WithFields(logrus.Fields{
			"username": username,
			"path":     queueMsg.File,
			"status":   status,
		}).Debug("Download attempt failed")

		m.abortTransfer(download, status, true)
	}
}

func (m *Manager) onTransferRequest(e event.Event) {
	msg := e.(event.TransferRequest)

	if msg.Msg.Direction != protocol.DirectionUpload {
		return
	}

	response := m.transferRequestDownloads(msg.Username, msg.Msg)

	logrus.WithFields(logrus.Fields{
		"username": msg.Username,
		"path":     msg.Msg.File,
		"token":    response.Token,
		"allowed":  response.Allowed,
		"reason":   response.Reason,
	}).Debug("Responding to download request")

	m.net.SendToPeer(msg.Username, response)
}

func (m *Manager) transferRequestDownloads(username string, msg protocol.TransferRequest) protocol.TransferResponse {
	virtualPath := msg.File
	size := msg.FileSize
	token := msg.Token

	download := m.reg.QueuedByPath(username, virtualPath)
	if download == nil {
		download = m.reg.FailedByPath(username, virtualPath)
	}

	if download != nil {
		// The remote peer is signaling the transfer is ready. Peers behind
		// some clients send a zero size for files over 2 GiB; rely on the
		// size cached when the download was added in that case.
		m.reg.Unfail(download)
		m.dequeueTransfer(download)

		if size > 0 {
			if download.Size != size {
				// The remote file changed since we queued the download.
				download.SizeChanged = true
			}
			download.Size = size
		}

		m.activateTransfer(download, token)
		m.updateTransfer(download, true)

		return protocol.TransferResponse{Allowed: true, Token: token}
	}

	download = m.reg.Get(username, virtualPath)
	cancelReason := protocol.RejectCancelled

	if download != nil {
		if download.Status == transfer.StatusFinished {
			cancelReason = protocol.RejectComplete
		}
	} else if m.CanUpload(username) {
		if m.CompleteDownloadFilePath(username, virtualPath, size, "") != "" {
			cancelReason = protocol.RejectComplete
		} else {
			// Not in our queue, so someone is manually uploading to us.
			folderPath := filepath.Join(
				filepath.Clean(m.cfg.ReceiveFolder), username, virtualParentFolder(virtualPath))

			t := transfer.New(username, virtualPath, folderPath, size)

			m.reg.Add(t)
			m.activateTransfer(t, token)
			m.updateTransfer(t, true)

			return protocol.TransferResponse{Allowed: true, Token: token}
		}
	}

	logrus.WithFields(logrus.Fields{
		"username": username,
		"path":     virtualPath,
		"reason":   cancelReason,
	}).Debug("Denied file request")

	return protocol.TransferResponse{Allowed: false, Reason: cancelReason, Token: token}
}

// virtualParentFolder returns the immediate parent folder name of a virtual
// path.
func virtualParentFolder(virtualPath string) string {
	parts := strings.Split(strings.ReplaceAll(virtualPath, "/", "\\"), "\\")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

func (m *Manager) onDownloadFileError(e event.Event) {
	msg := e.(event.DownloadFileError)

	download := m.reg.ActiveByToken(msg.Username, msg.Token)
	if download == nil {
		return
	}

	m.abortTransfer(download, transfer.StatusLocalFileError, true)

	logrus.WithError(msg.Err).Error("Download I/O error")
}

// onFileTransferInit opens the incomplete file and hands the connection to
// the network worker once a peer starts uploading to us.
func (m *Manager) onFileTransferInit(e event.Event) {
	msg := e.(event.FileTransferInit)

	if msg.IsOutgoing {
		// Upload init sent by ourselves, not for the download side.
		return
	}

	download := m.reg.ActiveByToken(msg.Username, msg.Token)
	if download == nil || download.Sock != network.None {
		return
	}

	virtualPath := download.VirtualPath
	download.Sock = msg.Sock
	needUpdate := true

	logrus.WithFields(logrus.Fields{
		"username": msg.Username,
		"path":     virtualPath,
		"token":    msg.Token,
	}).Debug("Received file download init")

	fileHandle, offset, err := m.openIncompleteFile(download)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"folder": m.cfg.IncompleteFolder,
			"error":  err,
		}).Error("Cannot save file in incomplete folder")

		m.abortTransfer(download, transfer.StatusDownloadFolderError, true)
		m.bus.Emit(event.DownloadFolderError{Transfer: download, Err: err})
		needUpdate = false
	} else {
		now := time.Now()

		download.File = fileHandle
		download.LastByteOffset = offset
		download.LastUpdate = now
		download.StartTime = now.Add(-download.TimeElapsed)

		logrus.WithFields(logrus.Fields{
			"username": msg.Username,
			"path":     fileHandle.Name(),
		}).Info("Download started")

		if download.Size > offset {
			download.Status = transfer.StatusTransferring
			m.net.SendToWorker(network.DownloadFile{
				Sock:      msg.Sock,
				Token:     msg.Token,
				File:      fileHandle,
				LeftBytes: download.Size - offset,
			})
			m.net.SendToPeer(msg.Username, protocol.FileOffset{Offset: offset})
		} else {
			m.finishTransfer(download)
			needUpdate = false
		}
	}

	m.bus.Emit(event.DownloadNotification{})

	if needUpdate {
		m.updateTransfer(download, true)
	}
}

// openIncompleteFile opens the download's incomplete file for appending and
// returns the resume offset.
func (m *Manager) openIncompleteFile(download *transfer.Transfer) (*os.File, int64, error) {
	incompleteFolderPath := filepath.Clean(m.cfg.IncompleteFolder)

	if err := os.MkdirAll(incompleteFolderPath, 0o755); err != nil {
		return nil, 0, err
	}

	incompleteFilePath := m.IncompleteDownloadFilePath(download.Username, download.VirtualPath)

	fileHandle, err := os.OpenFile(incompleteFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, err
	}

	lockFile(fileHandle)

	if download.SizeChanged {
		// The remote file size differs from what we originally requested,
		// wipe any partial data to avoid corruption.
		if err := fileHandle.Truncate(0); err != nil {
			fileHandle.Close()
			return nil, 0, err
		}
	}

	offset, err := fileHandle.Seek(0, io.SeekEnd)
	if err != nil {
		fileHandle.Close()
		return nil, 0, err
	}

	return fileHandle, offset, nil
}

func (m *Manager) onUploadDenied(e event.Event) {
	msg := e.(event.UploadDenied)
	username := msg.Username
	virtualPath := msg.Msg.File
	reason := msg.Msg.Reason

	download := m.reg.QueuedByPath(username, virtualPath)
	if download == nil {
		return
	}

	if transfer.IsInternalStatus(reason) {
		// Don't allow internal statuses as reason.
		reason = protocol.RejectCancelled
	}

	if reason == protocol.RejectFileNotShared && !download.LegacyAttempt {
		// The peer may be an old client without Unicode support. Request
		// the file name encoded as latin-1 exactly once.
		logrus.WithFields(logrus.Fields{
			"username": username,
			"path":     virtualPath,
			"reason":   reason,
		}).Debug("Retrying download request as latin-1")

		m.dequeueTransfer(download)
		download.LegacyAttempt = true
		m.enqueueTransfer(download, false)
		m.updateTransfer(download, true)
		return
	}

	if reason == protocol.RejectTooManyFiles || reason == protocol.RejectTooManyMegabytes ||
		strings.HasPrefix(string(reason), "User limit of") {
		// Make limited downloads appear as queued and resume them later in
		// bounded batches.
		m.userQueueLimits[username] = max(5, m.reg.QueuedUserCount(username)-1)
		reason = protocol.RejectQueued
	}

	m.abortTransfer(download, transfer.StatusFromReason(reason), true)
	m.updateTransfer(download, true)

	logrus.WithFields(logrus.Fields{
		"username": username,
		"path":     virtualPath,
		"reason":   msg.Msg.Reason,
	}).Debug("Download request denied")
}

func (m *Manager) onUploadFailed(e event.Event) {
	msg := e.(event.UploadFailed)
	username := msg.Username
	virtualPath := msg.Msg.File

	download := m.reg.Get(username, virtualPath)
	if download == nil || !m.reg.IsActive(download) {
		return
	}

	if !download.LegacyAttempt {
		// Attempt to request the file name encoded as latin-1 once.
		m.deactivateTransfer(download)
		m.dequeueTransfer(download)
		download.LegacyAttempt = true
		m.enqueueTransfer(download, false)
		m.updateTransfer(download, true)
		return
	}

	// Already failed once previously, give up.
	m.abortTransfer(download, transfer.StatusConnectionClosed, true)

	logrus.WithFields(logrus.Fields{
		"username": username,
		"path":     virtualPath,
	}).Debug("Upload attempt by peer failed")
}

func (m *Manager) onFileDownloadProgress(e event.Event) {
	msg := e.(event.FileDownloadProgress)

	download := m.reg.ActiveByToken(msg.Username, msg.Token)
	if download == nil {
		return
	}

	m.cancelRequestTimer(download)

	now := time.Now()
	size := download.Size

	download.Status = transfer.StatusTransferring
	download.TimeElapsed = now.Sub(download.StartTime)
	download.CurrentByteOffset = size - msg.BytesLeft

	download.UpdateSpeed(now)

	m.updateTransfer(download, true)
}

func (m *Manager) onFileConnectionClosed(e event.Event) {
	msg := e.(event.FileConnectionClosed)

	download := m.reg.ActiveByToken(msg.Username, msg.Token)
	if download == nil || download.Sock != msg.Sock {
		return
	}

	if download.CurrentByteOffset > 0 && download.CurrentByteOffset >= download.Size {
		m.finishTransfer(download)
		return
	}

	status := transfer.StatusCancelled
	if m.presence.UserOffline(download.Username) {
		status = transfer.StatusUserLoggedOff
	}

	m.abortTransfer(download, status, true)
}

func (m *Manager) onPlaceInQueueResponse(e event.Event) {
	msg := e.(event.PlaceInQueueResponse)

	download := m.reg.QueuedByPath(msg.Username, msg.Msg.File)
	if download == nil {
		return
	}

	download.QueuePosition = msg.Msg.Place
	m.updateTransfer(download, false)
}
