package strategies

import (
	"context"

	"github.com/docker/docker/client"
	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/discovery"
)

func init() {
	discovery.Register(&EnvironmentStrategy{})
}

// EnvironmentStrategy uses DOCKER_HOST and friends, then the docker.* keys
// of the user configuration, then the SDK default host.
type EnvironmentStrategy struct{}

func (*EnvironmentStrategy) Name() string { return "environment" }

func (*EnvironmentStrategy) Description() string {
	return "Environment variables DOCKER_HOST, DOCKER_TLS_VERIFY and DOCKER_CERT_PATH, the docker.host config key, or " + client.DefaultDockerHost
}

func (*EnvironmentStrategy) Priority() int { return 100 }

func (*EnvironmentStrategy) Applicable(*discovery.Environment) bool { return true }

func (*EnvironmentStrategy) Persistable(*discovery.Environment) bool { return true }

func (s *EnvironmentStrategy) Test(ctx context.Context, env *discovery.Environment) (daemon.Endpoint, error) {
	ep := s.Endpoint(env)
	if err := ep.Validate(); err != nil {
		return daemon.Endpoint{}, err
	}
	if err := env.Ping(ctx, ep); err != nil {
		return daemon.Endpoint{}, err
	}
	return ep, nil
}

// Endpoint builds the endpoint without contacting the daemon.
func (*EnvironmentStrategy) Endpoint(env *discovery.Environment) daemon.Endpoint {
	if host := env.Getenv("DOCKER_HOST"); host != "" {
		return daemon.Endpoint{
			Host:      host,
			TLSVerify: env.Getenv("DOCKER_TLS_VERIFY") != "",
			CertPath:  env.Getenv("DOCKER_CERT_PATH"),
		}
	}
	if cfg := env.Config; cfg != nil && cfg.DockerHost != "" {
		return daemon.Endpoint{
			Host:      cfg.DockerHost,
			TLSVerify: cfg.TLSVerify,
			CertPath:  cfg.CertPath,
		}
	}
	return daemon.Endpoint{Host: client.DefaultDockerHost}
}
