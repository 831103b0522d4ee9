package strategies

import (
	"context"

	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/discovery"
)

// DefaultPipe is the named pipe of Docker Desktop on Windows.
const DefaultPipe = "//./pipe/docker_engine"

func init() {
	discovery.Register(&NpipeStrategy{Path: DefaultPipe})
}

// NpipeStrategy connects to a Windows named pipe.
type NpipeStrategy struct {
	Path string
}

func (*NpipeStrategy) Name() string { return "npipe" }

func (s *NpipeStrategy) Description() string {
	return "named pipe (npipe://" + s.Path + ")"
}

func (*NpipeStrategy) Priority() int { return 80 }

func (*NpipeStrategy) Applicable(env *discovery.Environment) bool {
	return env.GOOS == "windows"
}

func (*NpipeStrategy) Persistable(*discovery.Environment) bool { return true }

func (s *NpipeStrategy) Test(ctx context.Context, env *discovery.Environment) (daemon.Endpoint, error) {
	if _, err := env.Stat(s.Path); err != nil {
		return daemon.Endpoint{}, err
	}
	ep := daemon.Endpoint{Host: "npipe://" + s.Path}
	if err := env.Ping(ctx, ep); err != nil {
		return daemon.Endpoint{}, err
	}
	return ep, nil
}
