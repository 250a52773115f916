//go:build !linux

package files

import (
	"os"
	"time"
)

// changeTime falls back to the modification time on platforms where the
// inode change time is not portably exposed.
func changeTime(fi os.FileInfo) time.Time {
	return fi.ModTime()
}
