package uploads

import (
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/soulshare/event"
	"github.com/opd-ai/soulshare/network"
	"github.com/opd-ai/soulshare/protocol"
	"github.com/opd-ai/soulshare/shares"
	"github.com/opd-ai/soulshare/transfer"
)

// onSharesReady replays the queue requests that arrived while our shares
// were rescanning.
func (m *Manager) onSharesReady(event.Event) {
	pending := m.pendingQueueRequests
	m.pendingQueueRequests = nil

	for _, msg := range pending {
		m.bus.Emit(msg)
	}
}

func (m *Manager) onUserStatus(e event.Event) {
	msg := e.(event.UserStatus)
	username := msg.Username
	isUserOffline := msg.Status == protocol.UserOffline
	update := false

	if msg.Privileged != nil {
		if *msg.Privileged {
			m.bus.Emit(event.PrivilegedUserAdded{Username: username})
		} else {
			m.bus.Emit(event.PrivilegedUserRemoved{Username: username})
		}
	}

	if isUserOffline {
		for _, upload := range m.reg.ActiveForUser(username) {
			if upload.Status == transfer.StatusTransferring {
				continue
			}

			if !m.autoClearTransfer(upload) {
				m.abortTransfer(upload, "", transfer.StatusUserLoggedOff, true)
			}
			update = true
		}
	}

	for _, upload := range m.reg.FailedForUser(username) {
		status := transfer.StatusCancelled
		if isUserOffline {
			status = transfer.StatusUserLoggedOff
		}

		if !m.autoClearTransfer(upload) {
			m.abortTransfer(upload, "", status, true)
		}
		update = true
	}

	if update {
		m.bus.Emit(event.UploadsUpdated{})
	}
}

func (m *Manager) onUserStats(e event.Event) {
	msg := e.(event.UserStats)

	if msg.Username == m.presence.LoginUsername() {
		m.uploadSpeed = msg.AvgSpeed
	}
}

func (m *Manager) onConnectionStats(e event.Event) {
	m.totalBandwidth = e.(event.ConnectionStats).UploadBandwidth
}

func (m *Manager) onPeerConnectionError(e event.Event) {
	msg := e.(event.PeerConnectionError)
	m.cantConnectUploads(msg.Username, msg.Messages, msg.IsOffline, msg.IsTimeout)
}

func (m *Manager) onPeerConnectionClosed(e event.Event) {
	msg := e.(event.PeerConnectionClosed)
	m.cantConnectUploads(msg.Username, msg.Messages, false, false)
}

// cantConnectUploads fails the active uploads whose transfer requests could
// not be delivered.
func (m *Manager) cantConnectUploads(username string, msgs []protocol.Message, isOffline, isTimeout bool) {
	for _, msg := range msgs {
		var token uint32

		switch peerMsg := msg.(type) {
		case protocol.TransferRequest:
			token = peerMsg.Token
		case protocol.FileTransferInit:
			token = peerMsg.Token
		default:
			continue
		}

		upload := m.reg.ActiveByToken(username, token)
		if upload == nil {
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
			"path":     upload.VirtualPath,
			"token":    token,
			"status":   status,
		}).Debug("Upload attempt failed")

		uploadCleared := isOffline && m.autoClearTransfer(upload)

		if !uploadCleared {
			m.abortTransfer(upload, "", status, true)
		}

		m.checkUploadQueue()
	}
}

// checkQueueUploadAllowed runs the admission checks for a peer's queue
// request. An empty reason on rejection means the request was deferred and
// no reply should be sent.
func (m *Manager) checkQueueUploadAllowed(username, ip, virtualPath, realPath string, msg event.QueueUploadRequest) (bool, protocol.RejectReason) {
	// Is the user allowed to download at all?
	permissionLevel, rejectReason := m.shares.CheckUserPermission(username, ip)

	if permissionLevel == shares.PermissionBanned {
		rejectMessage := protocol.RejectBanned

		if rejectReason != "" {
			rejectMessage = protocol.RejectReason(string(protocol.RejectBanned) + " (" + rejectReason + ")")
		}

		return false, rejectMessage
	}

	if m.shares.Rescanning() {
		m.pendingQueueRequests = append(m.pendingQueueRequests, msg)
		return false, ""
	}

	// Is that file already in the queue?
	if m.isUploadQueued(username, virtualPath) {
		return false, protocol.RejectQueued
	}

	// Are we waiting for existing uploads to finish?
	if m.pendingShutdown {
		return false, protocol.RejectPendingShutdown
	}

	// Has the user hit a queue limit?
	enableLimits := true

	if m.cfg.FriendsNoLimits && m.buddies.IsBuddy(username) {
		enableLimits = false
	}

	if enableLimits {
		if limitReached, reason := m.isQueueLimitReached(username); limitReached {
			return false, reason
		}
	}

	// Do we actually share that file with the world?
	if !m.shares.FileIsShared(username, virtualPath, realPath) {
		return false, protocol.RejectFileNotShared
	}

	if !isFileReadable(virtualPath, realPath) {
		return false, protocol.RejectFileReadError
	}

	return true, ""
}

// onQueueUploadRequest admits or rejects a peer's request to queue an
// upload. This is the modern replacement for a TransferRequest with the
// download direction.
func (m *Manager) onQueueUploadRequest(e event.Event) {
	msg := e.(event.QueueUploadRequest)
	username := msg.Username
	virtualPath := msg.Msg.File

	realPath := m.shares.VirtualToRealPath(virtualPath)
	allowed, reason := m.checkQueueUploadAllowed(username, msg.IP, virtualPath, realPath, msg)

	logrus.WithFields(logrus.Fields{
		"username": username,
		"path":     virtualPath,
		"allowed":  allowed,
		"reason":   reason,
	}).Debug("Upload request")

	if !allowed {
		if reason != "" && reason != protocol.RejectQueued {
			m.net.SendToPeer(username, protocol.UploadDenied{File: virtualPath, Reason: reason})
		}
		return
	}

	t := m.appendTransfer(transfer.New(username, virtualPath, filepath.Dir(realPath), fileSize(realPath)))

	m.enqueueTransfer(t)
	m.updateTransfer(t, true)
	m.checkUploadQueue()
}

// onTransferRequest serves the legacy path where old clients request a
// download with a TransferRequest instead of a QueueUpload message.
func (m *Manager) onTransferRequest(e event.Event) {
	msg := e.(event.TransferRequest)

	if msg.Msg.Direction != protocol.DirectionDownload {
		return
	}

	response, respond := m.transferRequestUploads(msg)
	if !respond {
		return
	}

	logrus.WithFields(logrus.Fields{
		"username": msg.Username,
		"path":     msg.Msg.File,
		"token":    response.Token,
		"allowed":  response.Allowed,
		"reason":   response.Reason,
	}).Debug("Responding to legacy upload request")

	m.net.SendToPeer(msg.Username, response)
}

func (m *Manager) transferRequestUploads(msg event.TransferRequest) (protocol.TransferResponse, bool) {
	username := msg.Username
	virtualPath := msg.Msg.File
	token := msg.Msg.Token

	realPath := m.shares.VirtualToRealPath(virtualPath)
	allowed, reason := m.checkQueueUploadAllowed(username, msg.IP, virtualPath, realPath, event.QueueUploadRequest{
		Username: username,
		IP:       msg.IP,
		Msg:      protocol.QueueUpload{File: virtualPath},
	})

	if !allowed {
		if reason != "" {
			return protocol.TransferResponse{Allowed: false, Reason: reason, Token: token}, true
		}
		return protocol.TransferResponse{}, false
	}

	folderPath := filepath.Dir(realPath)
	size := fileSize(realPath)

	if !m.isNewUploadAccepted() || m.reg.HasActiveUser(username) {
		t := m.appendTransfer(transfer.New(username, virtualPath, folderPath, size))

		m.enqueueTransfer(t)
		m.updateTransfer(t, true)

		return protocol.TransferResponse{Allowed: false, Reason: protocol.RejectQueued, Token: token}, true
	}

	// All checks passed, starting a new upload.
	t := m.appendTransfer(transfer.New(username, virtualPath, folderPath, size))

	m.activateTransfer(t, token)
	m.updateTransfer(t, true)

	return protocol.TransferResponse{Allowed: true, Token: token, FileSize: size}, true
}

// onTransferResponse handles the peer's answer to our upload request.
func (m *Manager) onTransferResponse(e event.Event) {
	msg := e.(event.TransferResponse)
	username := msg.Username
	token := msg.Msg.Token
	reason := msg.Msg.Reason

	upload := m.reg.ActiveByToken(username, token)
	if upload == nil {
		logrus.WithFields(logrus.Fields{
			"username": username,
			"token":    token,
		}).Debug("Received unknown upload response")
		return
	}

	if upload.Sock != network.None {
		logrus.WithField("token", token).Debug("Upload already has an existing file connection")
		return
	}

	if !msg.Msg.Allowed || reason != "" {
		if transfer.IsInternalStatus(reason) || reason == protocol.RejectDisallowedExtension {
			// Don't allow internal statuses as reason.
			reason = protocol.RejectCancelled
		}

		m.abortTransfer(upload, "", transfer.StatusFromReason(reason), true)

		switch reason {
		case protocol.RejectComplete:
			// The downloader already has a complete copy of the file.
			m.finishTransfer(upload)
		case protocol.RejectCancelled:
			m.autoClearTransfer(upload)
		}

		m.checkUploadQueue()
		return
	}

	m.net.SendToPeer(username, protocol.FileTransferInit{Token: token, IsOutgoing: true})
	m.checkUploadQueue()
}

func (m *Manager) onUploadFileError(e event.Event) {
	msg := e.(event.UploadFileError)

	upload := m.reg.ActiveByToken(msg.Username, msg.Token)
	if upload == nil {
		return
	}

	m.abortTransfer(upload, "", transfer.StatusLocalFileError, true)

	logrus.WithError(msg.Err).Error("Upload I/O error")
	m.checkUploadQueue()
}

// onFileTransferInit opens the shared file and hands the connection to the
// network worker once the peer accepts our upload.
func (m *Manager) onFileTransferInit(e event.Event) {
	msg := e.(event.FileTransferInit)

	if !msg.IsOutgoing {
		// Download init from a peer, not for the upload side.
		return
	}

	upload := m.reg.ActiveByToken(msg.Username, msg.Token)
	if upload == nil || upload.Sock != network.None {
		return
	}

	virtualPath := upload.VirtualPath
	upload.Sock = msg.Sock
	needUpdate := true

	logrus.WithFields(logrus.Fields{
		"username": msg.Username,
		"path":     virtualPath,
		"token":    msg.Token,
	}).Debug("Initializing upload")

	realPath := m.shares.VirtualToRealPath(virtualPath)

	if !m.shares.FileIsShared(msg.Username, virtualPath, realPath) {
		m.abortTransfer(upload, "", transfer.StatusFromReason(protocol.RejectFileNotShared), true)
		m.checkUploadQueue()
		return
	}

	fileHandle, err := os.Open(realPath)
	if err != nil {
		logrus.WithError(err).Error("Upload I/O error")
		m.abortTransfer(upload, "", transfer.StatusLocalFileError, true)
		m.checkUploadQueue()
	} else {
		now := time.Now()

		upload.File = fileHandle
		upload.LastUpdate = now
		upload.StartTime = now.Add(-upload.TimeElapsed)

		logrus.WithFields(logrus.Fields{
			"username": msg.Username,
			"path":     virtualPath,
		}).Info("Upload started")

		if upload.Size > 0 {
			upload.Status = transfer.StatusTransferring
			m.net.SendToWorker(network.UploadFile{
				Sock:  msg.Sock,
				Token: msg.Token,
				File:  fileHandle,
				Size:  upload.Size,
			})
		} else {
			m.finishTransfer(upload)
			needUpdate = false
		}
	}

	m.bus.Emit(event.UploadNotification{})

	if needUpdate {
		m.updateTransfer(upload, true)
	}
}

func (m *Manager) onFileUploadProgress(e event.Event) {
	msg := e.(event.FileUploadProgress)

	upload := m.reg.ActiveByToken(msg.Username, msg.Token)
	if upload == nil {
		return
	}

	m.cancelRequestTimer(upload)

	now := time.Now()

	if upload.LastByteOffset == 0 {
		upload.LastByteOffset = msg.Offset
	}

	upload.Status = transfer.StatusTransferring
	upload.TimeElapsed = now.Sub(upload.StartTime)
	upload.CurrentByteOffset = msg.Offset + msg.BytesSent

	upload.UpdateSpeed(now)

	m.updateTransfer(upload, true)
}

// onFileConnectionClosed settles an upload whose file connection closed.
// The upload finishes here if all bytes went out, in case the downloading
// peer is rate limited and finishes later than us.
func (m *Manager) onFileConnectionClosed(e event.Event) {
	msg := e.(event.FileConnectionClosed)

	upload := m.reg.ActiveByToken(msg.Username, msg.Token)
	if upload == nil || upload.Sock != msg.Sock {
		return
	}

	if !msg.TimedOut && upload.CurrentByteOffset > 0 && upload.CurrentByteOffset >= upload.Size {
		if upload.Speed > 0 {
			// Inform the server about the last upload speed.
			m.net.SendToServer(protocol.SendUploadSpeed{Speed: upload.Speed})
		}

		m.finishTransfer(upload)
		return
	}

	if m.presence.UserOffline(upload.Username) {
		if !m.autoClearTransfer(upload) {
			m.abortTransfer(upload, "", transfer.StatusUserLoggedOff, true)
		}
	} else {
		// The transfer ended abruptly. Tell the peer to re-queue the file;
		// a peer that cancelled on purpose ignores this message.
		m.net.SendToPeer(upload.Username, protocol.UploadFailed{File: upload.VirtualPath})

		if !m.autoClearTransfer(upload) {
			m.abortTransfer(upload, "", transfer.StatusCancelled, true)
		}
	}

	m.checkUploadQueue()
}
