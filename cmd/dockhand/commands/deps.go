package commands

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/irahardianto/dockhand/internal/engine/config"
	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/discovery"
	_ "github.com/irahardianto/dockhand/internal/engine/discovery/strategies"
	"github.com/irahardianto/dockhand/internal/engine/session"
	"github.com/irahardianto/dockhand/internal/platform/logger"
	"github.com/irahardianto/dockhand/internal/platform/shutdown"
)

// Infrastructure constructors. Tests replace them to run commands without a
// daemon.
var (
	newResolver   = defaultResolver
	connectClient = daemon.ConnectClient
)

func defaultResolver(cfg *config.GlobalConfig, persist discovery.PersistFunc) *discovery.Resolver {
	return discovery.NewResolver(discovery.Registered(), discovery.DefaultEnvironment(cfg),
		discovery.WithPersisted(cfg.Strategy),
		discovery.WithPersist(persist),
	)
}

// persistTo records discovery winners in the config file at path.
func persistTo(loader *config.Loader, path string) discovery.PersistFunc {
	if loader == nil || path == "" {
		return nil
	}
	return func(ctx context.Context, name string) error {
		return loader.PersistStrategy(ctx, path, name)
	}
}

// openDaemon resolves and checks a daemon without starting a session.
// Closing the returned client also releases the resolver.
func openDaemon(ctx context.Context) (daemon.Client, discovery.Resolution, error) {
	cfg, loader, path, err := globalConfig(ctx)
	if err != nil {
		return nil, discovery.Resolution{}, err
	}
	resolver := newResolver(cfg, persistTo(loader, path))
	res, err := resolver.Resolve(ctx)
	if err != nil {
		return nil, res, err
	}
	c, err := connectClient(res.Endpoint)
	if err != nil {
		_ = resolver.Close()
		return nil, res, fmt.Errorf("connecting to %s: %w", res.Endpoint.Host, err)
	}
	client := &resolvedClient{Client: daemon.NewAudited(c, logger.FromContext(ctx)), resolver: resolver}
	if err := daemon.CheckDocker(ctx, client); err != nil {
		_ = client.Close()
		return nil, res, err
	}
	return client, res, nil
}

// resolvedClient ties the resolver's lifetime to the client.
type resolvedClient struct {
	daemon.Client
	resolver *discovery.Resolver
}

func (c *resolvedClient) Close() error {
	var errs *multierror.Error
	if err := c.Client.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := c.resolver.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// openSession starts a session that closes with scope.
func openSession(ctx context.Context, scope *shutdown.Scope) (*session.Session, error) {
	cfg, loader, path, err := globalConfig(ctx)
	if err != nil {
		return nil, err
	}
	return session.Open(ctx, session.Options{
		Config:   cfg,
		Resolver: newResolver(cfg, persistTo(loader, path)),
		Connect:  connectClient,
		Scope:    scope,
	})
}
