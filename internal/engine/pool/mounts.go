package pool

import (
	"fmt"
	"os/user"

	"github.com/docker/docker/api/types/mount"
)

// BindMount returns a bind mount of a host path.
func BindMount(source, target string, readOnly bool) mount.Mount {
	return mount.Mount{
		Type:     mount.TypeBind,
		Source:   source,
		Target:   target,
		ReadOnly: readOnly,
	}
}

// VolumeMount returns a mount of a named volume.
func VolumeMount(name, target string, readOnly bool) mount.Mount {
	return mount.Mount{
		Type:     mount.TypeVolume,
		Source:   name,
		Target:   target,
		ReadOnly: readOnly,
	}
}

// TmpfsMount returns an ephemeral in-memory mount.
func TmpfsMount(target string) mount.Mount {
	return mount.Mount{
		Type:   mount.TypeTmpfs,
		Target: target,
	}
}

// userCurrent is a variable to allow mocking in tests.
var userCurrent = user.Current

// getUserString returns the "uid:gid" string for the current user.
func getUserString() (string, error) {
	u, err := userCurrent()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s", u.Uid, u.Gid), nil
}

// resolveUser maps "host" to the current user's uid:gid.
func resolveUser(u string) (string, error) {
	if u != "host" {
		return u, nil
	}
	// [SEC] Do not fall back to root on user lookup failure.
	s, err := getUserString()
	if err != nil {
		return "", fmt.Errorf("getting current user: %w", err)
	}
	return s, nil
}
