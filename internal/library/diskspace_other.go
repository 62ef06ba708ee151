//go:build !unix && !windows

package library

func availableSpace(string) int64 {
	return -1
}
