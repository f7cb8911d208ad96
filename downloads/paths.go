package downloads

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/crypto/blake2b"
)

// basenameLimitTTL bounds how long a folder's max-name-byte limit is cached.
const basenameLimitTTL = time.Hour

// fallbackNameMax is assumed when the filesystem cannot be queried.
const fallbackNameMax = 255

// newBasenameLimitCache builds the per-folder name-limit cache.
func newBasenameLimitCache() *ttlcache.Cache[string, int] {
	return ttlcache.New[string, int](
		ttlcache.WithTTL[string, int](basenameLimitTTL),
	)
}

// basenameByteLimit returns the destination filesystem's maximum file name
// length in bytes, queried once per folder and cached.
func (m *Manager) basenameByteLimit(folderPath string) int {
	if item := m.basenameLimits.Get(folderPath); item != nil {
		return item.Value()
	}

	maxBytes := statNameMax(folderPath)
	m.basenameLimits.Set(folderPath, maxBytes, ttlcache.DefaultTTL)
	return maxBytes
}

// cleanFilename strips characters that are unsafe in file names on common
// filesystems.
func cleanFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)
}

// truncateStringBytes cuts a string to at most maxBytes without splitting a
// multi-byte character.
func truncateStringBytes(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}

	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// virtualBasename extracts the file name portion of a virtual path, which
// uses backslash separators regardless of the local filesystem.
func virtualBasename(virtualPath string) string {
	normalized := strings.ReplaceAll(virtualPath, "/", "\\")
	if i := strings.LastIndexByte(normalized, '\\'); i >= 0 {
		return normalized[i+1:]
	}
	return normalized
}

// splitExtension splits a base name into stem and extension (including the
// dot), mirroring filepath.Ext semantics.
func splitExtension(basename string) (string, string) {
	ext := filepath.Ext(basename)
	return basename[:len(basename)-len(ext)], ext
}

// DefaultDownloadFolder returns the destination folder for a user's
// downloads, honoring per-user subfolders.
func (m *Manager) DefaultDownloadFolder(username string) string {
	folderPath := filepath.Clean(m.cfg.DownloadFolder)

	if username != "" && m.cfg.UsernameSubfolders {
		folderPath = filepath.Join(folderPath, cleanFilename(username))
	}

	return folderPath
}

// DownloadBasename returns the local file name for a virtual path, truncated
// to the destination filesystem's name byte limit while preserving the
// extension where possible. With avoidConflict set, " (n)" disambiguators
// are appended until the name is unused.
func (m *Manager) DownloadBasename(virtualPath, downloadFolderPath string, avoidConflict bool) string {
	maxBytes := m.basenameByteLimit(downloadFolderPath)

	basename := cleanFilename(virtualBasename(virtualPath))
	stem, ext := splitExtension(basename)

	stemLimit := maxBytes - len(ext)
	stem = truncateStringBytes(stem, max(0, stemLimit))

	if stemLimit < 0 {
		ext = truncateStringBytes(ext, maxBytes)
	}

	corrected := stem + ext

	if !avoidConflict {
		return corrected
	}

	for counter := 1; ; counter++ {
		if _, err := os.Stat(filepath.Join(downloadFolderPath, corrected)); err != nil {
			return corrected
		}
		corrected = fmt.Sprintf("%s (%d)%s", stem, counter, ext)
	}
}

// CompleteDownloadFilePath returns the path of an already completed download
// of the file, or the empty string if none exists. A same-named file whose
// size matches is treated as the finished download; mismatched sizes get
// " (n)" candidates probed in order.
func (m *Manager) CompleteDownloadFilePath(username, virtualPath string, size int64, downloadFolderPath string) string {
	if downloadFolderPath == "" {
		downloadFolderPath = m.DefaultDownloadFolder(username)
	}

	basename := m.DownloadBasename(virtualPath, downloadFolderPath, false)
	stem, ext := splitExtension(basename)
	downloadFilePath := filepath.Join(downloadFolderPath, basename)

	for counter := 1; ; counter++ {
		info, err := os.Stat(downloadFilePath)
		if err != nil || info.IsDir() {
			return ""
		}

		if info.Size() == size {
			return downloadFilePath
		}

		downloadFilePath = filepath.Join(downloadFolderPath, fmt.Sprintf("%s (%d)%s", stem, counter, ext))
	}
}

// IncompleteDownloadFilePath returns the temp path a download is written to
// while transferring: a hash-prefixed, collision-resistant name bounded by
// the incomplete folder's name byte limit.
func (m *Manager) IncompleteDownloadFilePath(username, virtualPath string) string {
	sum := blake2b.Sum256([]byte(virtualPath + username))
	prefix := fmt.Sprintf("INCOMPLETE%x", sum[:16])

	incompleteFolderPath := filepath.Clean(m.cfg.IncompleteFolder)
	maxBytes := m.basenameByteLimit(incompleteFolderPath)

	basename := cleanFilename(virtualBasename(virtualPath))
	stem, ext := splitExtension(basename)

	stemLimit := maxBytes - len(prefix) - len(ext)
	stem = truncateStringBytes(stem, max(0, stemLimit))

	if stemLimit < 0 {
		ext = truncateStringBytes(ext, max(0, maxBytes-len(prefix)))
	}

	return filepath.Join(incompleteFolderPath, prefix+stem+ext)
}

// CurrentDownloadFilePath returns where the file data lives right now:
// the finished destination if complete, the incomplete path otherwise.
func (m *Manager) CurrentDownloadFilePath(username, virtualPath, downloadFolderPath string, size int64) string {
	if path := m.CompleteDownloadFilePath(username, virtualPath, size, downloadFolderPath); path != "" {
		return path
	}
	return m.IncompleteDownloadFilePath(username, virtualPath)
}

// FolderDestination computes the local destination for files of a remote
// folder, stripping the shared parent prefix from the remote path and
// joining the remainder onto the local target.
func (m *Manager) FolderDestination(username, folderPath, rootFolderPath, downloadFolderPath string) string {
	parentFolderPath := folderPath
	if rootFolderPath != "" {
		parentFolderPath = rootFolderPath
	}

	removedParents := ""
	if i := strings.LastIndexByte(parentFolderPath, '\\'); i >= 0 {
		removedParents = parentFolderPath[:i]
	}

	targetFolders := strings.TrimPrefix(folderPath, removedParents)
	targetFolders = strings.TrimLeft(targetFolders, "\\")
	targetFolders = strings.ReplaceAll(targetFolders, "\\", string(os.PathSeparator))

	if downloadFolderPath == "" {
		if custom := m.requestedFolders[username][folderPath]; custom != "" {
			downloadFolderPath = custom
		} else {
			downloadFolderPath = m.DefaultDownloadFolder(username)
		}
	}

	return filepath.Join(downloadFolderPath, targetFolders)
}

// moveFile relocates a finished download into its destination, falling back
// to copy-and-remove when the rename crosses filesystems. The source is left
// intact if anything fails.
func moveFile(sourcePath, destPath string) error {
	if err := os.Rename(sourcePath, destPath); err == nil {
		return nil
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer source.Close()

	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dest, source); err != nil {
		dest.Close()
		os.Remove(destPath)
		return err
	}

	if err := dest.Close(); err != nil {
		os.Remove(destPath)
		return err
	}

	source.Close()
	return os.Remove(sourcePath)
}
