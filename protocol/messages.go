package protocol

// TransferDirection indicates which side of a transfer a request refers to,
// from the perspective of the peer sending the TransferRequest message.
type TransferDirection uint8

const (
	// DirectionDownload is a request by the remote peer to download from us.
	DirectionDownload TransferDirection = iota
	// DirectionUpload is a notification that the remote peer wants to upload to us.
	DirectionUpload
)

// UserStatus is the presence of a user as reported by the server.
type UserStatus uint8

const (
	UserOffline UserStatus = iota
	UserAway
	UserOnline
)

// RejectReason is a peer-supplied reason for declining a transfer. The
// values are the literal strings exchanged between clients, so they double
// as user-visible status text when assigned to a transfer.
type RejectReason string

const (
	RejectBanned              RejectReason = "Banned"
	RejectCancelled           RejectReason = "Cancelled"
	RejectComplete            RejectReason = "Complete"
	RejectFileNotShared       RejectReason = "File not shared."
	RejectFileReadError       RejectReason = "File read error."
	RejectPendingShutdown     RejectReason = "Pending shutdown."
	RejectQueued              RejectReason = "Queued"
	RejectTooManyFiles        RejectReason = "Too many files"
	RejectTooManyMegabytes    RejectReason = "Too many megabytes"
	RejectDisallowedExtension RejectReason = "Disallowed extension"
)

// Message is implemented by every peer and server message shape.
type Message interface {
	message()
}

// QueueUpload asks the remote peer to queue an upload of the given file to
// us. Legacy requests the file name in latin-1 encoding for old clients.
type QueueUpload struct {
	File   string
	Legacy bool
}

// TransferRequest negotiates the start of a transfer attempt identified by
// an ephemeral token.
type TransferRequest struct {
	Direction TransferDirection
	Token     uint32
	File      string
	FileSize  int64
}

// TransferResponse answers a TransferRequest.
type TransferResponse struct {
	Allowed  bool
	Token    uint32
	Reason   RejectReason
	FileSize int64
}

// UploadDenied tells the peer their queued request was rejected.
type UploadDenied struct {
	File   string
	Reason RejectReason
}

// UploadFailed tells the peer an upload to them broke off and should be
// re-queued on their side.
type UploadFailed struct {
	File string
}

// PlaceInQueueRequest asks a peer for our rank in their upload queue.
type PlaceInQueueRequest struct {
	File   string
	Legacy bool
}

// PlaceInQueueResponse reports a queue rank for a file.
type PlaceInQueueResponse struct {
	File  string
	Place int
}

// FolderContentsRequest asks a peer for the file listing of a shared folder.
// The token correlates the eventual response with the request.
type FolderContentsRequest struct {
	Directory string
	Token     uint32
}

// FolderEntry is one file in a folder-contents listing.
type FolderEntry struct {
	Name      string
	Size      int64
	Extension string
}

// FolderContentsResponse carries the listings for one or more folders,
// keyed by the virtual folder path.
type FolderContentsResponse struct {
	Token   uint32
	Folders map[string][]FolderEntry
}

// FileTransferInit opens the file connection for an active transfer attempt.
type FileTransferInit struct {
	Token      uint32
	IsOutgoing bool
}

// FileOffset tells the uploading peer at which byte offset to resume.
type FileOffset struct {
	Offset int64
}

// SendUploadSpeed reports the speed of a finished upload to the server.
type SendUploadSpeed struct {
	Speed int64
}

func (QueueUpload) message()            {}
func (TransferRequest) message()        {}
func (TransferResponse) message()       {}
func (UploadDenied) message()           {}
func (UploadFailed) message()           {}
func (PlaceInQueueRequest) message()    {}
func (PlaceInQueueResponse) message()   {}
func (FolderContentsRequest) message()  {}
func (FolderContentsResponse) message() {}
func (FileTransferInit) message()       {}
func (FileOffset) message()             {}
func (SendUploadSpeed) message()        {}
