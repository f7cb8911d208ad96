package transfer

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/soulshare/network"
)

// Key uniquely identifies a transfer within one direction's registry.
type Key struct {
	Username    string
	VirtualPath string
}

// Transfer is one file transfer record, covering its full lifecycle from
// enqueue to finish or failure. The owning Registry holds the only canonical
// reference; managers address transfers by Key or token.
type Transfer struct {
	Username    string
	VirtualPath string
	FolderPath  string

	Size              int64
	CurrentByteOffset int64
	Status            Status
	Token             uint32
	QueuePosition     int

	Speed       int64 // bytes per second, rolling
	TimeElapsed time.Duration
	TimeLeft    time.Duration

	// LegacyAttempt marks that the file name has been re-requested once in
	// legacy (latin-1) encoding after a not-shared response.
	LegacyAttempt bool

	// SizeChanged marks that the remote size disagreed with the cached size
	// when the transfer was re-activated; partial local data is discarded
	// on the next file open.
	SizeChanged bool

	// RequestTimerID is the scheduled initiation-timeout callback armed
	// while the transfer waits for its file connection. Zero when unarmed.
	RequestTimerID uint64

	// File is the open local file handle, owned exclusively by the transfer
	// while active. Nil otherwise.
	File *os.File

	// Sock is the live file connection handle, owned exclusively while
	// connected. network.None otherwise.
	Sock network.Socket

	// LastByteOffset and LastUpdate track the previous progress report for
	// throughput computation. StartTime anchors TimeElapsed.
	LastByteOffset int64
	LastUpdate     time.Time
	StartTime      time.Time
}

// New creates a fresh transfer record with no partition membership.
func New(username, virtualPath, folderPath string, size int64) *Transfer {
	return &Transfer{
		Username:    username,
		VirtualPath: virtualPath,
		FolderPath:  folderPath,
		Size:        size,
	}
}

// Key returns the registry key of the transfer.
func (t *Transfer) Key() Key {
	return Key{Username: t.Username, VirtualPath: t.VirtualPath}
}

// UpdateSpeed folds one progress report into the transfer's rolling speed
// and remaining-time estimate. CurrentByteOffset must already reflect the
// report.
func (t *Transfer) UpdateSpeed(now time.Time) {
	byteDifference := t.CurrentByteOffset - t.LastByteOffset

	if byteDifference != 0 {
		if t.Size > t.CurrentByteOffset || t.Speed == 0 {
			elapsed := now.Sub(t.LastUpdate).Seconds()
			if elapsed < 0.1 {
				elapsed = 0.1
			}

			t.Speed = max(0, int64(float64(byteDifference)/elapsed))

			if t.Speed > 0 {
				t.TimeLeft = time.Duration((t.Size-t.CurrentByteOffset)/t.Speed) * time.Second
			} else {
				t.TimeLeft = 0
			}
		} else {
			t.TimeLeft = 0
		}
	}

	t.LastByteOffset = t.CurrentByteOffset
	t.LastUpdate = now
}

// CloseFile releases the transfer's file handle, if any.
func (t *Transfer) CloseFile() {
	if t.File == nil {
		return
	}

	if err := t.File.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"username": t.Username,
			"path":     t.VirtualPath,
			"error":    err.Error(),
		}).Warn("Failed to close transfer file handle")
	}

	t.File = nil
}
