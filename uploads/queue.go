package uploads

import (
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/soulshare/event"
	"github.com/opd-ai/soulshare/protocol"
	"github.com/opd-ai/soulshare/transfer"
)

// getUploadCandidate picks the queued upload to serve next.
//
// Round robin: the first queued file of the user waiting longest.
// FIFO: the first queued file overall.
//
// Waiting privileged users always go first. Note that a single privileged
// user with queued files starves every unprivileged user for as long as
// they keep the queue non-empty.
func (m *Manager) getUploadCandidate() (*transfer.Transfer, bool) {
	hasActiveUploads := m.reg.HasActive()

	privilegedWaiting := lo.PickBy(m.userUpdateCounters, func(username string, _ uint64) bool {
		return m.isPrivileged(username)
	})

	var targetUsername string

	if m.cfg.FIFOQueue {
		for _, upload := range m.reg.QueuedTransfers() {
			username := upload.Username

			if len(privilegedWaiting) > 0 {
				if _, ok := privilegedWaiting[username]; !ok {
					continue
				}
			}

			if _, waiting := m.userUpdateCounters[username]; !waiting {
				continue
			}

			targetUsername = username
			break
		}
	} else {
		candidates := m.userUpdateCounters
		if len(privilegedWaiting) > 0 {
			candidates = privilegedWaiting
		}

		if len(candidates) > 0 {
			targetUsername = lo.MinBy(lo.Keys(candidates), func(a, b string) bool {
				return candidates[a] < candidates[b]
			})
		}
	}

	if targetUsername == "" {
		return nil, hasActiveUploads
	}

	queued := m.reg.QueuedForUser(targetUsername)
	if len(queued) == 0 {
		return nil, hasActiveUploads
	}

	return queued[0], hasActiveUploads
}

// checkUploadQueue starts the next queued upload if slots and bandwidth
// permit, and completes a pending shutdown once the queue drains.
func (m *Manager) checkUploadQueue() {
	if !m.isNewUploadAccepted() {
		return
	}

	candidate, hasActiveUploads := m.getUploadCandidate()

	if candidate == nil {
		if !hasActiveUploads && m.pendingShutdown {
			m.pendingShutdown = false
			m.bus.Emit(event.Quit{})
		}
		return
	}

	username := candidate.Username

	if !m.presence.Online() || m.presence.UserOffline(username) {
		// Either we are offline or the user we want to upload to is.
		if m.autoClearTransfer(candidate) {
			return
		}

		m.abortTransfer(candidate, "", transfer.StatusUserLoggedOff, true)
		return
	}

	m.token = protocol.IncrementToken(m.token)
	virtualPath := candidate.VirtualPath

	logrus.WithFields(logrus.Fields{
		"username": username,
		"path":     virtualPath,
		"token":    m.token,
	}).Debug("Checked upload queue, requesting to upload file")

	m.dequeueTransfer(candidate)
	m.reg.Unfail(candidate)
	m.activateTransfer(candidate, m.token)

	m.net.SendToPeer(username, protocol.TransferRequest{
		Direction: protocol.DirectionUpload,
		Token:     m.token,
		File:      virtualPath,
		FileSize:  candidate.Size,
	})

	m.updateTransfer(candidate, true)
}

// onPlaceInQueueRequest answers a peer asking for their rank in our upload
// queue.
func (m *Manager) onPlaceInQueueRequest(e event.Event) {
	msg := e.(event.PlaceInQueueRequest)
	username := msg.Username
	virtualPath := msg.Msg.File

	upload := m.reg.QueuedByPath(username, virtualPath)
	if upload == nil {
		return
	}

	isPrivilegedQueue := m.isPrivileged(username)

	privilegedQueuedUsers := lo.Filter(m.reg.QueuedUsers(), func(queuedUser string, _ int) bool {
		return m.isPrivileged(queuedUser)
	})

	queuePosition := 0

	if m.cfg.FIFOQueue {
		numNonPrivileged := 0

		for position, queuedUpload := range m.reg.QueuedTransfers() {
			if isPrivilegedQueue && !lo.Contains(privilegedQueuedUsers, queuedUpload.Username) {
				numNonPrivileged++
			}

			if queuedUpload == upload {
				queuePosition = position + 1 - numNonPrivileged
				break
			}
		}
	} else {
		for position, queuedUpload := range m.reg.QueuedForUser(username) {
			if queuedUpload != upload {
				continue
			}

			var numQueuedUsers int

			if isPrivilegedQueue {
				numQueuedUsers = len(privilegedQueuedUsers)
			} else {
				// Privileged users cycle through first.
				for _, privilegedUser := range privilegedQueuedUsers {
					queuePosition += m.reg.QueuedUserCount(privilegedUser)
				}
				numQueuedUsers = len(m.reg.QueuedUsers())
			}

			queuePosition += (position + 1) * numQueuedUsers
			break
		}
	}

	if queuePosition > 0 {
		m.net.SendToPeer(username, protocol.PlaceInQueueResponse{
			File:  virtualPath,
			Place: queuePosition,
		})
	}

	upload.QueuePosition = queuePosition
	m.updateTransfer(upload, false)
}
