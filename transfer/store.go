package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Row is the persisted form of one transfer.
type Row struct {
	Username          string `json:"username"`
	VirtualPath       string `json:"virtual_path"`
	FolderPath        string `json:"folder_path"`
	Size              int64  `json:"size"`
	CurrentByteOffset int64  `json:"current_byte_offset"`
	Status            Status `json:"status"`
}

// Store reads and writes a transfer list file. The current layout is a JSON
// array of row objects; two prior layouts (positional JSON arrays, with and
// without a folder column) remain loadable.
type Store struct {
	path string
}

// NewStore creates a store around the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file the store writes to.
func (s *Store) Path() string {
	return s.path
}

// Save writes the rows atomically, via a temp file in the same directory.
func (s *Store) Save(rows []Row) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode transfer list: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data folder: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp transfer list: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write transfer list: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp transfer list: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace transfer list: %w", err)
	}

	return nil
}

// Load reads the current-format transfer list. A missing file yields no rows.
func (s *Store) Load() ([]Row, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transfer list: %w", err)
	}

	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode transfer list: %w", err)
	}

	return rows, nil
}

// LoadLegacy reads a prior-layout transfer list: a JSON array of positional
// arrays. Two variants existed, with and without a folder column:
//
//	[username, virtual_path, folder_path, size, offset, status]
//	[username, virtual_path, size, offset, status]
//
// Loading is best-effort; rows that do not parse are skipped with a warning.
func LoadLegacy(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy transfer list: %w", err)
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode legacy transfer list: %w", err)
	}

	rows := make([]Row, 0, len(raw))

	for i, fields := range raw {
		row, err := parseLegacyRow(fields)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"path":  path,
				"row":   i,
				"error": err.Error(),
			}).Warn("Skipping unreadable legacy transfer row")
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func parseLegacyRow(fields []json.RawMessage) (Row, error) {
	if len(fields) < 5 {
		return Row{}, fmt.Errorf("expected at least 5 columns, got %d", len(fields))
	}

	var row Row
	if err := json.Unmarshal(fields[0], &row.Username); err != nil {
		return Row{}, fmt.Errorf("bad username column: %w", err)
	}
	if err := json.Unmarshal(fields[1], &row.VirtualPath); err != nil {
		return Row{}, fmt.Errorf("bad path column: %w", err)
	}

	// The newer legacy layout carries a folder column at index 2; the older
	// one goes straight to the size column.
	rest := fields[2:]
	var folder string
	if json.Unmarshal(fields[2], &folder) == nil {
		row.FolderPath = folder
		rest = fields[3:]
	}

	if len(rest) < 2 {
		return Row{}, errors.New("missing size and offset columns")
	}
	if err := json.Unmarshal(rest[0], &row.Size); err != nil {
		return Row{}, fmt.Errorf("bad size column: %w", err)
	}
	if err := json.Unmarshal(rest[1], &row.CurrentByteOffset); err != nil {
		return Row{}, fmt.Errorf("bad offset column: %w", err)
	}

	row.Status = StatusUserLoggedOff
	if len(rest) >= 3 {
		var status string
		if json.Unmarshal(rest[2], &status) == nil && status != "" {
			row.Status = Status(status)
		}
	}

	return row, nil
}

// RowFor converts a transfer to its persisted form. In-flight statuses are
// normalized to "User logged off" so they resume cleanly after a restart.
func RowFor(t *Transfer) Row {
	status := t.Status
	if status == StatusTransferring || status == StatusGettingStatus {
		status = StatusUserLoggedOff
	}

	return Row{
		Username:          t.Username,
		VirtualPath:       t.VirtualPath,
		FolderPath:        t.FolderPath,
		Size:              t.Size,
		CurrentByteOffset: t.CurrentByteOffset,
		Status:            status,
	}
}

// FromRow reconstructs a transfer from its persisted form. Queued and
// in-flight statuses become "User logged off" so the transfer resumes
// through the failed partition once its user is seen online.
func FromRow(row Row) *Transfer {
	status := row.Status
	if status == StatusQueued || status == StatusTransferring || status == StatusGettingStatus {
		status = StatusUserLoggedOff
	}

	t := New(row.Username, row.VirtualPath, row.FolderPath, row.Size)
	t.CurrentByteOffset = row.CurrentByteOffset
	t.Status = status
	return t
}
