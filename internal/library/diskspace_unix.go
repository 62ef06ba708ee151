//go:build unix

package library

import "golang.org/x/sys/unix"

// availableSpace returns the bytes available to unprivileged users on the
// filesystem holding dir, or -1 when it cannot be determined.
func availableSpace(dir string) int64 {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return -1
	}
	return int64(stat.Bavail) * int64(stat.Bsize)
}
