package strategies

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/discovery"
)

// DefaultSocket is the conventional rootful daemon socket.
const DefaultSocket = "/var/run/docker.sock"

func init() {
	discovery.Register(&UnixSocketStrategy{Path: DefaultSocket})
	discovery.Register(&RootlessStrategy{})
}

// UnixSocketStrategy connects to a local unix socket.
type UnixSocketStrategy struct {
	Path string
}

func (*UnixSocketStrategy) Name() string { return "unix-socket" }

func (s *UnixSocketStrategy) Description() string {
	return "local Unix socket (unix://" + s.Path + ")"
}

func (*UnixSocketStrategy) Priority() int { return 80 }

func (*UnixSocketStrategy) Applicable(env *discovery.Environment) bool {
	return env.GOOS != "windows"
}

func (*UnixSocketStrategy) Persistable(*discovery.Environment) bool { return true }

func (s *UnixSocketStrategy) Test(ctx context.Context, env *discovery.Environment) (daemon.Endpoint, error) {
	return testSocket(ctx, env, s.Path)
}

// testSocket checks that path is an accessible socket and pings it.
func testSocket(ctx context.Context, env *discovery.Environment, path string) (daemon.Endpoint, error) {
	info, err := env.Stat(path)
	if err != nil {
		return daemon.Endpoint{}, err
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return daemon.Endpoint{}, fmt.Errorf("%s is not a unix socket", path)
	}
	if env.Access != nil {
		if err := env.Access(path); err != nil {
			return daemon.Endpoint{}, fmt.Errorf("access %s: %w", path, err)
		}
	}
	ep := daemon.Endpoint{Host: "unix://" + path}
	if err := env.Ping(ctx, ep); err != nil {
		return daemon.Endpoint{}, err
	}
	return ep, nil
}

// RootlessStrategy looks for the socket of a rootless daemon.
type RootlessStrategy struct{}

func (*RootlessStrategy) Name() string { return "rootless-docker" }

func (*RootlessStrategy) Description() string {
	return "rootless Docker socket ($XDG_RUNTIME_DIR/docker.sock, ~/.docker/run/docker.sock or /run/user/<uid>/docker.sock)"
}

func (*RootlessStrategy) Priority() int { return 60 }

func (*RootlessStrategy) Applicable(env *discovery.Environment) bool {
	return env.GOOS == "linux"
}

func (*RootlessStrategy) Persistable(*discovery.Environment) bool { return true }

func (s *RootlessStrategy) Test(ctx context.Context, env *discovery.Environment) (daemon.Endpoint, error) {
	candidates := s.Candidates(env)
	for _, path := range candidates {
		if env.IsSocket(path) {
			return testSocket(ctx, env, path)
		}
	}
	return daemon.Endpoint{}, fmt.Errorf("no rootless Docker socket at %s: %w",
		strings.Join(candidates, ", "), fs.ErrNotExist)
}

// Candidates returns the socket paths checked, in order.
func (*RootlessStrategy) Candidates(env *discovery.Environment) []string {
	var paths []string
	if dir := env.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		paths = append(paths, filepath.Join(dir, "docker.sock"))
	}
	if env.HomeDir != "" {
		paths = append(paths, filepath.Join(env.HomeDir, ".docker", "run", "docker.sock"))
	}
	return append(paths, filepath.Join("/run/user", strconv.Itoa(env.UID), "docker.sock"))
}
