package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "transfers.json"))

	rows := []Row{
		{Username: "alice", VirtualPath: "a.mp3", FolderPath: "/music", Size: 100, CurrentByteOffset: 50, Status: StatusUserLoggedOff},
		{Username: "bob", VirtualPath: "b.mp3", Size: 200, Status: StatusFinished},
	}

	require.NoError(t, store.Save(rows))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, rows, loaded)
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.json"))

	rows, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLoadLegacyBothLayouts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")

	// One row per layout, plus one unreadable row that must be skipped.
	data := `[
		["alice", "a.mp3", "/music", 100, 50, "Finished"],
		["bob", "b.mp3", 200, 0, "Paused"],
		[42]
	]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	rows, err := LoadLegacy(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, Row{
		Username: "alice", VirtualPath: "a.mp3", FolderPath: "/music",
		Size: 100, CurrentByteOffset: 50, Status: StatusFinished,
	}, rows[0])

	// The older layout has no folder column.
	assert.Equal(t, Row{
		Username: "bob", VirtualPath: "b.mp3",
		Size: 200, Status: StatusPaused,
	}, rows[1])
}

func TestRowForNormalizesInFlightStatuses(t *testing.T) {
	tr := New("alice", "a.mp3", "/music", 100)
	tr.Status = StatusTransferring
	tr.CurrentByteOffset = 42

	row := RowFor(tr)
	assert.Equal(t, StatusUserLoggedOff, row.Status)
	assert.Equal(t, int64(42), row.CurrentByteOffset)

	tr.Status = StatusFinished
	assert.Equal(t, StatusFinished, RowFor(tr).Status)
}

func TestFromRowNormalizesQueued(t *testing.T) {
	for _, status := range []Status{StatusQueued, StatusGettingStatus, StatusTransferring} {
		tr := FromRow(Row{Username: "alice", VirtualPath: "a.mp3", Status: status})
		assert.Equal(t, StatusUserLoggedOff, tr.Status, "status %q", status)
	}

	tr := FromRow(Row{Username: "alice", VirtualPath: "a.mp3", Status: StatusPaused})
	assert.Equal(t, StatusPaused, tr.Status)
}
