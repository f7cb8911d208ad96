//go:build !linux

package downloads

import "os"

// statNameMax returns a conservative file name length limit on platforms
// without a filesystem query.
func statNameMax(folderPath string) int {
	return fallbackNameMax
}

func lockFile(*os.File) {}
