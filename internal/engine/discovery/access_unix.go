//go:build !windows

package discovery

import "golang.org/x/sys/unix"

// accessRW checks that the current user may read and write path.
func accessRW(path string) error {
	return unix.Access(path, unix.R_OK|unix.W_OK)
}
