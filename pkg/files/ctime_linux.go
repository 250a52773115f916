//go:build linux

package files

import (
	"os"
	"syscall"
	"time"
)

// changeTime extracts the inode change time, falling back to the
// modification time when the stat shape is unexpected.
func changeTime(fi os.FileInfo) time.Time {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return time.Unix(int64(st.Ctim.Sec), int64(st.Ctim.Nsec))
	}
	return fi.ModTime()
}
