package pool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"maps"
	"slices"

	"github.com/docker/docker/api/types/mount"
)

// Request describes a container to provision.
type Request struct {
	Name       string
	Image      string
	Cmd        []string
	Entrypoint []string
	Env        map[string]string
	Labels     map[string]string
	// Ports are port specs as accepted by docker run -p. A bare container
	// port is published on 127.0.0.1 with a random host port.
	Ports       []string
	NetworkMode string
	Mounts      []mount.Mount
	Files       []FileEntry
	// User is "uid:gid", a user name, or "host" for the current host user.
	User string
	// Reuse asks for a running container with identical parameters to be
	// shared across sessions.
	Reuse bool
	// WaitFor is a shell command that must exit 0 before the container
	// counts as ready.
	WaitFor string
}

// reuseSpec is the normalized view of a request that decides reuse.
type reuseSpec struct {
	Name        string            `json:"name,omitempty"`
	Image       string            `json:"image"`
	Cmd         []string          `json:"cmd,omitempty"`
	Entrypoint  []string          `json:"entrypoint,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Ports       []string          `json:"ports,omitempty"`
	NetworkMode string            `json:"network_mode,omitempty"`
	Mounts      []mount.Mount     `json:"mounts,omitempty"`
	User        string            `json:"user,omitempty"`
	FilesHash   string            `json:"files_hash"`
}

// ReuseKey digests every parameter that affects the container, plus the
// hash of its copied files. Two requests with the same key may share a
// container.
func ReuseKey(req Request, filesHash string) string {
	ports := slices.Clone(req.Ports)
	slices.Sort(ports)
	labels := maps.Clone(req.Labels)
	for k := range labels {
		if isManagedLabel(k) {
			delete(labels, k)
		}
	}
	spec := reuseSpec{
		Name:        req.Name,
		Image:       req.Image,
		Cmd:         req.Cmd,
		Entrypoint:  req.Entrypoint,
		Env:         req.Env,
		Labels:      labels,
		Ports:       ports,
		NetworkMode: req.NetworkMode,
		Mounts:      req.Mounts,
		User:        req.User,
		FilesHash:   filesHash,
	}
	// Marshalling plain strings, slices and maps cannot fail.
	data, _ := json.Marshal(spec)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
