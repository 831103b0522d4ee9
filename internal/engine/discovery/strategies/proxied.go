package strategies

import (
	"context"
	"fmt"
	"io/fs"
	"sync"

	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/discovery"
)

func init() {
	discovery.Register(&ProxiedSocketStrategy{Path: DefaultSocket})
}

// ProxiedSocketStrategy reaches the local socket through a loopback TCP
// bridge, for hosts where containers cannot use the socket path directly.
type ProxiedSocketStrategy struct {
	Path string

	mu     sync.Mutex
	bridge *Bridge
}

func (*ProxiedSocketStrategy) Name() string { return "proxied-socket" }

func (s *ProxiedSocketStrategy) Description() string {
	return "local Unix socket (unix://" + s.Path + ") proxied over tcp://127.0.0.1"
}

func (*ProxiedSocketStrategy) Priority() int { return 50 }

func (*ProxiedSocketStrategy) Applicable(env *discovery.Environment) bool {
	return env.GOOS == "darwin"
}

func (*ProxiedSocketStrategy) Persistable(*discovery.Environment) bool { return true }

func (s *ProxiedSocketStrategy) Test(ctx context.Context, env *discovery.Environment) (daemon.Endpoint, error) {
	if !env.IsSocket(s.Path) {
		return daemon.Endpoint{}, fmt.Errorf("%s: %w", s.Path, fs.ErrNotExist)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bridge == nil {
		b, err := StartBridge(s.Path)
		if err != nil {
			return daemon.Endpoint{}, fmt.Errorf("starting socket bridge: %w", err)
		}
		s.bridge = b
	}

	ep := daemon.Endpoint{Host: "tcp://" + s.bridge.Addr()}
	if err := env.Ping(ctx, ep); err != nil {
		_ = s.bridge.Close()
		s.bridge = nil
		return daemon.Endpoint{}, err
	}
	return ep, nil
}

// Close stops the bridge, if running.
func (s *ProxiedSocketStrategy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bridge == nil {
		return nil
	}
	err := s.bridge.Close()
	s.bridge = nil
	return err
}
