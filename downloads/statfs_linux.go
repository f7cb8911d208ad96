//go:build linux

package downloads

import (
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// statNameMax queries the maximum file name length supported by the
// filesystem holding folderPath.
func statNameMax(folderPath string) int {
	var st unix.Statfs_t
	if err := unix.Statfs(folderPath, &st); err != nil {
		return fallbackNameMax
	}
	if st.Namelen <= 0 {
		return fallbackNameMax
	}
	return int(st.Namelen)
}

// lockFile takes a non-blocking exclusive lock on an incomplete download
// file, guarding against a second client instance writing to it.
func lockFile(f *os.File) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		logrus.WithFields(logrus.Fields{
			"path":  f.Name(),
			"error": err,
		}).Warn("Cannot get an exclusive lock on file")
	}
}
