package downloads

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// compileFilters builds the combined case-insensitive filter expression from
// the configured patterns. Patterns flagged as escaped are treated literally.
// Individually broken patterns are reported and skipped; if the combined
// expression still fails to compile, filtering is disabled entirely so a bad
// pattern can never block downloads.
func (m *Manager) compileFilters() {
	m.filterRegexp = nil

	if !m.cfg.EnableFilters || len(m.cfg.Filters) == 0 {
		return
	}

	patterns := make([]string, 0, len(m.cfg.Filters))
	var failed []string

	for _, f := range m.cfg.Filters {
		pattern := f.Pattern
		if f.Escaped {
			pattern = regexp.QuoteMeta(pattern)
			pattern = strings.ReplaceAll(pattern, "\\*", ".*")
		}

		if _, err := regexp.Compile("(" + pattern + ")"); err != nil {
			logrus.WithFields(logrus.Fields{
				"pattern": f.Pattern,
				"error":   err,
			}).Warn("invalid download filter")
			failed = append(failed, f.Pattern)
			continue
		}
		patterns = append(patterns, pattern)
	}

	if len(patterns) == 0 {
		return
	}

	combined, err := regexp.Compile("(?i)(" + strings.Join(patterns, "|") + ")$")
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"error":  err,
			"failed": failed,
		}).Warn("download filters disabled, combined expression failed to compile")
		return
	}

	m.filterRegexp = combined
}

// isFiltered reports whether a virtual path matches the download filters.
func (m *Manager) isFiltered(virtualPath string) bool {
	return m.filterRegexp != nil && m.filterRegexp.MatchString(virtualPath)
}
