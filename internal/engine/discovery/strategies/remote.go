package strategies

import (
	"context"
	"fmt"

	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/discovery"
)

func init() {
	discovery.Register(&RemoteHostStrategy{})
}

// RemoteHostStrategy honours an explicit dockhand.host setting. It is a
// directive: when set, nothing else is tried first.
type RemoteHostStrategy struct{}

func (*RemoteHostStrategy) Name() string { return "remote-host" }

func (*RemoteHostStrategy) Description() string {
	return "host named by the dockhand.host setting"
}

// DescribeFor names the configured host.
func (*RemoteHostStrategy) DescribeFor(env *discovery.Environment) string {
	if env.Config == nil || env.Config.RemoteHost == "" {
		return "host named by the dockhand.host setting (unset)"
	}
	return "remote host " + env.Config.RemoteHost + " (dockhand.host)"
}

func (*RemoteHostStrategy) Priority() int { return 0 }

func (*RemoteHostStrategy) Directive() {}

func (*RemoteHostStrategy) Applicable(env *discovery.Environment) bool {
	return env.Config != nil && env.Config.RemoteHost != ""
}

func (*RemoteHostStrategy) Persistable(*discovery.Environment) bool { return false }

func (*RemoteHostStrategy) Test(ctx context.Context, env *discovery.Environment) (daemon.Endpoint, error) {
	ep := daemon.Endpoint{
		Host:      env.Config.RemoteHost,
		TLSVerify: env.Config.TLSVerify,
		CertPath:  env.Config.CertPath,
	}
	if err := ep.Validate(); err != nil {
		return daemon.Endpoint{}, fmt.Errorf("%s: %w", ep.Host, err)
	}
	if err := env.Ping(ctx, ep); err != nil {
		return daemon.Endpoint{}, fmt.Errorf("%s: %w", ep.Host, err)
	}
	return ep, nil
}
