package transfer

import "github.com/opd-ai/soulshare/protocol"

// Status is the lifecycle state of a transfer. Values are the literal
// user-visible strings; peer-supplied rejection reasons share the same value
// space and may be assigned to a transfer's status directly.
type Status string

const (
	StatusQueued              Status = "Queued"
	StatusGettingStatus       Status = "Getting status"
	StatusTransferring        Status = "Transferring"
	StatusFinished            Status = "Finished"
	StatusPaused              Status = "Paused"
	StatusFiltered            Status = "Filtered"
	StatusCancelled           Status = "Cancelled"
	StatusUserLoggedOff       Status = "User logged off"
	StatusConnectionClosed    Status = "Connection closed"
	StatusConnectionTimeout   Status = "Connection timeout"
	StatusLocalFileError      Status = "Local file error"
	StatusDownloadFolderError Status = "Download folder error"
)

// internalStatuses are statuses assigned locally, never accepted verbatim
// from a peer as a rejection reason.
var internalStatuses = map[Status]struct{}{
	StatusQueued:              {},
	StatusGettingStatus:       {},
	StatusTransferring:        {},
	StatusFinished:            {},
	StatusPaused:              {},
	StatusFiltered:            {},
	StatusCancelled:           {},
	StatusUserLoggedOff:       {},
	StatusConnectionClosed:    {},
	StatusConnectionTimeout:   {},
	StatusLocalFileError:      {},
	StatusDownloadFolderError: {},
}

// IsInternalStatus reports whether a peer-supplied reason collides with one
// of our internal status values. Such reasons are replaced with Cancelled to
// keep remote input from impersonating local state.
func IsInternalStatus(reason protocol.RejectReason) bool {
	_, ok := internalStatuses[Status(reason)]
	return ok
}

// StatusFromReason converts a peer rejection reason into a transfer status.
func StatusFromReason(reason protocol.RejectReason) Status {
	return Status(reason)
}
