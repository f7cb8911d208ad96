package downloads

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanFilename(t *testing.T) {
	assert.Equal(t, "a_b_c_d", cleanFilename("a/b\\c:d"))
	assert.Equal(t, "name__", cleanFilename("name?*"))
	assert.Equal(t, "tab_here", cleanFilename("tab\there"))
	assert.Equal(t, "plain.mp3", cleanFilename("plain.mp3"))
}

func TestTruncateStringBytes(t *testing.T) {
	assert.Equal(t, "abc", truncateStringBytes("abcdef", 3))
	assert.Equal(t, "abcdef", truncateStringBytes("abcdef", 10))
	assert.Equal(t, "", truncateStringBytes("abc", 0))

	// Never split a multi-byte character.
	s := "aäöü" // 1 + 2 + 2 + 2 bytes
	truncated := truncateStringBytes(s, 4)
	assert.Equal(t, "aä", truncated)
	assert.LessOrEqual(t, len(truncated), 4)
}

func TestDownloadBasenameRespectsByteLimit(t *testing.T) {
	env := newTestEnv(t, nil)

	folder := t.TempDir()
	limit := env.manager.basenameByteLimit(folder)

	longStem := strings.Repeat("ü", limit) // two bytes per rune
	basename := env.manager.DownloadBasename("music\\"+longStem+".mp3", folder, false)

	assert.LessOrEqual(t, len(basename), limit)
	assert.True(t, strings.HasSuffix(basename, ".mp3"))
}

func TestDownloadBasenameAvoidsConflicts(t *testing.T) {
	env := newTestEnv(t, nil)

	folder := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(folder, "song.mp3"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "song (1).mp3"), []byte("x"), 0o644))

	basename := env.manager.DownloadBasename("music\\song.mp3", folder, true)
	assert.Equal(t, "song (2).mp3", basename)
}

func TestCompleteDownloadFilePathMatchesSize(t *testing.T) {
	env := newTestEnv(t, nil)

	folder := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(folder, "song.mp3"), []byte("xx"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "song (1).mp3"), []byte("xxxx"), 0o644))

	// The same name with a mismatched size is skipped in favor of the
	// numbered candidate whose size matches.
	path := env.manager.CompleteDownloadFilePath("alice", "music\\song.mp3", 4, folder)
	assert.Equal(t, filepath.Join(folder, "song (1).mp3"), path)

	assert.Empty(t, env.manager.CompleteDownloadFilePath("alice", "music\\other.mp3", 4, folder))
}

func TestIncompleteDownloadFilePath(t *testing.T) {
	env := newTestEnv(t, nil)

	path := env.manager.IncompleteDownloadFilePath("alice", "music\\song.mp3")

	basename := filepath.Base(path)
	assert.True(t, strings.HasPrefix(basename, "INCOMPLETE"))
	assert.True(t, strings.HasSuffix(basename, "song.mp3"))

	// Stable for the same user and path, distinct across users.
	assert.Equal(t, path, env.manager.IncompleteDownloadFilePath("alice", "music\\song.mp3"))
	assert.NotEqual(t, path, env.manager.IncompleteDownloadFilePath("bob", "music\\song.mp3"))
}

func TestDefaultDownloadFolderUsernameSubfolders(t *testing.T) {
	dir := t.TempDir()

	env := newTestEnv(t, &Config{
		DownloadFolder:     dir,
		UsernameSubfolders: true,
	})

	assert.Equal(t, filepath.Join(dir, "alice"), env.manager.DefaultDownloadFolder("alice"))
	assert.Equal(t, filepath.Join(dir, "a_b"), env.manager.DefaultDownloadFolder("a/b"))
	assert.Equal(t, dir, env.manager.DefaultDownloadFolder(""))
}

func TestFolderDestination(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, &Config{DownloadFolder: dir})

	dest := env.manager.FolderDestination("alice", "music\\albums\\best", "", "")
	assert.Equal(t, filepath.Join(dir, "best"), dest)

	// A root folder keeps the subtree below it.
	dest = env.manager.FolderDestination("alice", "music\\albums\\best", "music\\albums", "")
	assert.Equal(t, filepath.Join(dir, "albums", "best"), dest)

	// A custom destination requested for the folder wins.
	custom := filepath.Join(dir, "custom")
	env.manager.requestedFolders["alice"] = map[string]string{"music\\albums\\best": custom}

	dest = env.manager.FolderDestination("alice", "music\\albums\\best", "", "")
	assert.Equal(t, filepath.Join(custom, "best"), dest)
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "src.bin")
	dest := filepath.Join(dir, "dst.bin")

	require.NoError(t, os.WriteFile(source, []byte("payload"), 0o644))
	require.NoError(t, moveFile(source, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	_, err = os.Stat(source)
	assert.True(t, os.IsNotExist(err))
}

func TestVirtualBasename(t *testing.T) {
	assert.Equal(t, "song.mp3", virtualBasename("music\\album\\song.mp3"))
	assert.Equal(t, "song.mp3", virtualBasename("music/album/song.mp3"))
	assert.Equal(t, "song.mp3", virtualBasename("song.mp3"))
}
