package event

import (
	"github.com/opd-ai/soulshare/network"
	"github.com/opd-ai/soulshare/protocol"
	"github.com/opd-ai/soulshare/transfer"
)

// Kind enumerates every event the bus carries.
type Kind uint8

const (
	// Server/session events.
	KindServerLogin Kind = iota
	KindServerDisconnect
	KindSharesReady
	KindUserStatus
	KindUserStats
	KindPrivilegedUserAdded
	KindPrivilegedUserRemoved
	KindScheduleQuit
	KindQuit
	KindConnectionStats

	// Peer connection events from the network worker.
	KindPeerConnectionError
	KindPeerConnectionClosed

	// File connection events from the network worker.
	KindFileTransferInit
	KindFileDownloadProgress
	KindFileUploadProgress
	KindFileConnectionClosed
	KindDownloadFileError
	KindUploadFileError

	// Inbound peer protocol messages.
	KindTransferRequest
	KindTransferResponse
	KindQueueUploadRequest
	KindUploadDenied
	KindUploadFailed
	KindPlaceInQueueRequest
	KindPlaceInQueueResponse
	KindFolderContentsResponse

	// Outbound notifications for the presentation layer.
	KindDownloadUpdated
	KindDownloadsUpdated
	KindUploadUpdated
	KindUploadsUpdated
	KindDownloadAborted
	KindDownloadsAborted
	KindUploadAborted
	KindUploadsAborted
	KindDownloadCleared
	KindDownloadsCleared
	KindUploadCleared
	KindUploadsCleared
	KindDownloadNotification
	KindUploadNotification
	KindDownloadFolderError
	KindLargeFolderDownload
	KindDownloadLimitsUpdated
	KindUploadLimitsUpdated
)

// Event is implemented by every event payload.
type Event interface {
	Kind() Kind
}

// ServerLogin reports the outcome of a server login attempt.
type ServerLogin struct {
	Success bool
}

// ServerDisconnect reports loss of the server session.
type ServerDisconnect struct{}

// SharesReady fires when the shares index finishes its initial scan or a
// rescan.
type SharesReady struct {
	Successful bool
}

// UserStatus is a server presence report. Privileged is non-nil when the
// server piggybacked the user's privilege state on the report.
type UserStatus struct {
	Username   string
	Status     protocol.UserStatus
	Privileged *bool
}

// UserStats carries a user's advertised statistics.
type UserStats struct {
	Username string
	AvgSpeed int64
}

// PrivilegedUserAdded grants a user queue privilege.
type PrivilegedUserAdded struct {
	Username string
}

// PrivilegedUserRemoved revokes a user's queue privilege.
type PrivilegedUserRemoved struct {
	Username string
}

// ScheduleQuit requests application shutdown. FinishUploads drains active
// uploads first.
type ScheduleQuit struct {
	FinishUploads bool
}

// Quit signals that the application should exit now.
type Quit struct{}

// ConnectionStats carries the worker's current bandwidth usage in bytes/s.
type ConnectionStats struct {
	DownloadBandwidth int64
	UploadBandwidth   int64
}

// PeerConnectionError reports that messages could not be delivered to a
// peer. The undelivered messages identify which transfers are affected.
type PeerConnectionError struct {
	Username  string
	Messages  []protocol.Message
	IsOffline bool
	IsTimeout bool
}

// PeerConnectionClosed reports that a peer message connection closed with
// messages still pending.
type PeerConnectionClosed struct {
	Username string
	Messages []protocol.Message
}

// FileTransferInit reports a file connection ready for an active transfer.
type FileTransferInit struct {
	Username   string
	Token      uint32
	Sock       network.Socket
	IsOutgoing bool
}

// FileDownloadProgress reports bytes remaining for an active download.
type FileDownloadProgress struct {
	Username  string
	Token     uint32
	BytesLeft int64
}

// FileUploadProgress reports bytes sent for an active upload.
type FileUploadProgress struct {
	Username  string
	Token     uint32
	Offset    int64
	BytesSent int64
}

// FileConnectionClosed reports that a file connection closed, normally or not.
type FileConnectionClosed struct {
	Username string
	Token    uint32
	Sock     network.Socket
	TimedOut bool
}

// DownloadFileError reports a local I/O failure on a download's file handle.
type DownloadFileError struct {
	Username string
	Token    uint32
	Err      error
}

// UploadFileError reports a local I/O failure on an upload's file handle.
type UploadFileError struct {
	Username string
	Token    uint32
	Err      error
}

// TransferRequest wraps an inbound peer TransferRequest message.
type TransferRequest struct {
	Username string
	IP       string
	Msg      protocol.TransferRequest
}

// TransferResponse wraps an inbound peer TransferResponse message. A nil
// Reason means the transfer was allowed.
type TransferResponse struct {
	Username string
	Msg      protocol.TransferResponse
}

// QueueUploadRequest wraps an inbound peer QueueUpload message.
type QueueUploadRequest struct {
	Username string
	IP       string
	Msg      protocol.QueueUpload
}

// UploadDenied wraps an inbound peer UploadDenied message.
type UploadDenied struct {
	Username string
	Msg      protocol.UploadDenied
}

// UploadFailed wraps an inbound peer UploadFailed message.
type UploadFailed struct {
	Username string
	Msg      protocol.UploadFailed
}

// PlaceInQueueRequest wraps an inbound peer PlaceInQueueRequest message.
type PlaceInQueueRequest struct {
	Username string
	Msg      protocol.PlaceInQueueRequest
}

// PlaceInQueueResponse wraps an inbound peer PlaceInQueueResponse message.
type PlaceInQueueResponse struct {
	Username string
	Msg      protocol.PlaceInQueueResponse
}

// FolderContentsResponse wraps an inbound peer folder listing.
type FolderContentsResponse struct {
	Username string
	Msg      protocol.FolderContentsResponse

	// BypassCheck skips the large-folder confirmation, used when the user
	// confirmed a deferred listing.
	BypassCheck bool
}

// DownloadUpdated reports a single download's state change.
type DownloadUpdated struct {
	Transfer     *transfer.Transfer
	UpdateParent bool
}

// DownloadsUpdated reports a bulk download state change.
type DownloadsUpdated struct{}

// UploadUpdated reports a single upload's state change.
type UploadUpdated struct {
	Transfer     *transfer.Transfer
	UpdateParent bool
}

// UploadsUpdated reports a bulk upload state change.
type UploadsUpdated struct{}

// DownloadAborted reports an aborted download and its new status.
type DownloadAborted struct {
	Transfer     *transfer.Transfer
	Status       transfer.Status
	UpdateParent bool
}

// DownloadsAborted reports a batch abort.
type DownloadsAborted struct {
	Transfers []*transfer.Transfer
	Status    transfer.Status
}

// UploadAborted reports an aborted upload and its new status.
type UploadAborted struct {
	Transfer     *transfer.Transfer
	Status       transfer.Status
	UpdateParent bool
}

// UploadsAborted reports a batch abort.
type UploadsAborted struct {
	Transfers []*transfer.Transfer
	Status    transfer.Status
}

// DownloadCleared reports a download removed from the registry.
type DownloadCleared struct {
	Transfer     *transfer.Transfer
	UpdateParent bool
}

// DownloadsCleared reports a batch removal.
type DownloadsCleared struct {
	Transfers []*transfer.Transfer
}

// UploadCleared reports an upload removed from the registry.
type UploadCleared struct {
	Transfer     *transfer.Transfer
	UpdateParent bool
}

// UploadsCleared reports a batch removal.
type UploadsCleared struct {
	Transfers []*transfer.Transfer
}

// DownloadNotification asks the presentation layer to signal download
// activity. Finished marks a completed file.
type DownloadNotification struct {
	Finished bool
}

// UploadNotification asks the presentation layer to signal upload activity.
type UploadNotification struct{}

// DownloadFolderError is a high-priority notification that a completed
// download could not be placed in its destination folder.
type DownloadFolderError struct {
	Transfer *transfer.Transfer
	Err      error
}

// LargeFolderDownload defers a folder download that exceeds the confirmation
// threshold. Resuming re-posts the Response with BypassCheck set.
type LargeFolderDownload struct {
	Username   string
	FolderPath string
	NumFiles   int
	Response   FolderContentsResponse
}

// DownloadLimitsUpdated reports a change of download bandwidth limits.
type DownloadLimitsUpdated struct{}

// UploadLimitsUpdated reports a change of upload bandwidth limits.
type UploadLimitsUpdated struct{}

func (ServerLogin) Kind() Kind            { return KindServerLogin }
func (ServerDisconnect) Kind() Kind       { return KindServerDisconnect }
func (SharesReady) Kind() Kind            { return KindSharesReady }
func (UserStatus) Kind() Kind             { return KindUserStatus }
func (UserStats) Kind() Kind              { return KindUserStats }
func (PrivilegedUserAdded) Kind() Kind    { return KindPrivilegedUserAdded }
func (PrivilegedUserRemoved) Kind() Kind  { return KindPrivilegedUserRemoved }
func (ScheduleQuit) Kind() Kind           { return KindScheduleQuit }
func (Quit) Kind() Kind                   { return KindQuit }
func (ConnectionStats) Kind() Kind        { return KindConnectionStats }
func (PeerConnectionError) Kind() Kind    { return KindPeerConnectionError }
func (PeerConnectionClosed) Kind() Kind   { return KindPeerConnectionClosed }
func (FileTransferInit) Kind() Kind       { return KindFileTransferInit }
func (FileDownloadProgress) Kind() Kind   { return KindFileDownloadProgress }
func (FileUploadProgress) Kind() Kind     { return KindFileUploadProgress }
func (FileConnectionClosed) Kind() Kind   { return KindFileConnectionClosed }
func (DownloadFileError) Kind() Kind      { return KindDownloadFileError }
func (UploadFileError) Kind() Kind        { return KindUploadFileError }
func (TransferRequest) Kind() Kind        { return KindTransferRequest }
func (TransferResponse) Kind() Kind       { return KindTransferResponse }
func (QueueUploadRequest) Kind() Kind     { return KindQueueUploadRequest }
func (UploadDenied) Kind() Kind           { return KindUploadDenied }
func (UploadFailed) Kind() Kind           { return KindUploadFailed }
func (PlaceInQueueRequest) Kind() Kind    { return KindPlaceInQueueRequest }
func (PlaceInQueueResponse) Kind() Kind   { return KindPlaceInQueueResponse }
func (FolderContentsResponse) Kind() Kind { return KindFolderContentsResponse }
func (DownloadUpdated) Kind() Kind        { return KindDownloadUpdated }
func (DownloadsUpdated) Kind() Kind       { return KindDownloadsUpdated }
func (UploadUpdated) Kind() Kind          { return KindUploadUpdated }
func (UploadsUpdated) Kind() Kind         { return KindUploadsUpdated }
func (DownloadAborted) Kind() Kind        { return KindDownloadAborted }
func (DownloadsAborted) Kind() Kind       { return KindDownloadsAborted }
func (UploadAborted) Kind() Kind          { return KindUploadAborted }
func (UploadsAborted) Kind() Kind         { return KindUploadsAborted }
func (DownloadCleared) Kind() Kind        { return KindDownloadCleared }
func (DownloadsCleared) Kind() Kind       { return KindDownloadsCleared }
func (UploadCleared) Kind() Kind          { return KindUploadCleared }
func (UploadsCleared) Kind() Kind         { return KindUploadsCleared }
func (DownloadNotification) Kind() Kind   { return KindDownloadNotification }
func (UploadNotification) Kind() Kind     { return KindUploadNotification }
func (DownloadFolderError) Kind() Kind    { return KindDownloadFolderError }
func (LargeFolderDownload) Kind() Kind    { return KindLargeFolderDownload }
func (DownloadLimitsUpdated) Kind() Kind  { return KindDownloadLimitsUpdated }
func (UploadLimitsUpdated) Kind() Kind    { return KindUploadLimitsUpdated }
