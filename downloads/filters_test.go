package downloads

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFiltersEscapedPattern(t *testing.T) {
	env := newTestEnv(t, &Config{
		EnableFilters: true,
		Filters:       []Filter{{Pattern: "*.exe", Escaped: true}},
	})

	assert.True(t, env.manager.isFiltered("tools\\setup.exe"))
	assert.True(t, env.manager.isFiltered("tools\\SETUP.EXE"))
	assert.False(t, env.manager.isFiltered("music\\song.mp3"))
}

func TestFiltersRawPattern(t *testing.T) {
	env := newTestEnv(t, &Config{
		EnableFilters: true,
		Filters:       []Filter{{Pattern: `.*\.(exe|msi)`}},
	})

	assert.True(t, env.manager.isFiltered("tools\\setup.msi"))
	assert.False(t, env.manager.isFiltered("music\\song.mp3"))
}

func TestFiltersInvalidPatternSkipped(t *testing.T) {
	env := newTestEnv(t, &Config{
		EnableFilters: true,
		Filters: []Filter{
			{Pattern: `(*invalid`},
			{Pattern: "*.exe", Escaped: true},
		},
	})

	// The broken pattern is dropped, the valid one still applies.
	assert.True(t, env.manager.isFiltered("tools\\setup.exe"))
	assert.False(t, env.manager.isFiltered("music\\song.mp3"))
}

func TestFiltersDisabled(t *testing.T) {
	env := newTestEnv(t, &Config{
		Filters: []Filter{{Pattern: "*.exe", Escaped: true}},
	})

	assert.False(t, env.manager.isFiltered("tools\\setup.exe"))
}
