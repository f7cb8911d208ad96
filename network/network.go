// Package network defines the boundary between the transfer core and the
// network worker that owns all socket and buffered file I/O. The core never
// blocks on I/O itself: it sends fire-and-forget messages and commands
// through a Messenger and receives progress, completion and error reports
// back as events.
package network

import (
	"os"

	"github.com/opd-ai/soulshare/protocol"
)

// Socket is an opaque handle to a live file connection owned by the network
// worker. Zero means no connection.
type Socket uint64

// None is the zero Socket.
const None Socket = 0

// Command is a fire-and-forget instruction for the network worker.
type Command interface {
	command()
}

// CloseConnection requests asynchronous teardown of a file connection.
type CloseConnection struct {
	Sock Socket
}

// DownloadFile hands a download's open file handle to the worker, which
// appends incoming data to it until LeftBytes have arrived.
type DownloadFile struct {
	Sock      Socket
	Token     uint32
	File      *os.File
	LeftBytes int64
}

// UploadFile hands an upload's open file handle to the worker, which streams
// it to the peer.
type UploadFile struct {
	Sock  Socket
	Token uint32
	File  *os.File
	Size  int64
}

// SetDownloadLimit configures the worker's download rate limiter in KiB/s.
// Zero disables the limit.
type SetDownloadLimit struct {
	Limit int
}

// SetUploadLimit configures the worker's upload rate limiter in KiB/s.
// LimitPerTransfer applies the limit per transfer instead of globally.
type SetUploadLimit struct {
	Limit            int
	LimitPerTransfer bool
}

func (CloseConnection) command()  {}
func (DownloadFile) command()     {}
func (UploadFile) command()       {}
func (SetDownloadLimit) command() {}
func (SetUploadLimit) command()   {}

// Messenger is the sending capability the transfer core borrows from the
// transport layer. All methods are non-blocking; delivery failures surface
// later as peer-connection events.
type Messenger interface {
	// SendToPeer queues a message for delivery to the named peer,
	// establishing a connection if necessary.
	SendToPeer(username string, msg protocol.Message)

	// SendToServer queues a message for the central server.
	SendToServer(msg protocol.Message)

	// SendToWorker issues a command to the network worker itself.
	SendToWorker(cmd Command)
}
