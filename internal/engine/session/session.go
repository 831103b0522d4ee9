// Package session ties together everything one process needs to provision
// Docker resources: a discovered daemon, a reaper and a container pool.
package session

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/google/uuid"
	"github.com/irahardianto/dockhand/internal/engine/config"
	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/discovery"
	_ "github.com/irahardianto/dockhand/internal/engine/discovery/strategies"
	"github.com/irahardianto/dockhand/internal/engine/pool"
	"github.com/irahardianto/dockhand/internal/engine/reaper"
	"github.com/irahardianto/dockhand/internal/platform/logger"
	"github.com/irahardianto/dockhand/internal/platform/shutdown"
)

// Options configures Open. Zero values select the process defaults.
type Options struct {
	Config *config.GlobalConfig
	// Resolver is shared by every session of the process. When nil, Open
	// builds one over the registered strategies.
	Resolver *discovery.Resolver
	// Persist records the winning strategy. Only used when Resolver is nil.
	Persist discovery.PersistFunc
	// Connect opens the client for the resolved endpoint.
	Connect func(ep daemon.Endpoint) (daemon.Client, error)
	// Scope, if set, closes the session on orderly process exit.
	Scope *shutdown.Scope
	// ID overrides the generated session id.
	ID string
	// KillReaperOnClose prunes locally and kills the sidecar on Close.
	KillReaperOnClose bool
}

// Session is the process-scoped facade over the daemon.
type Session struct {
	ID         string
	Resolution discovery.Resolution
	Client     daemon.Client
	Reaper     reaper.Reaper
	Pool       *pool.Pool

	scope     *shutdown.Scope
	closeOnce sync.Once
	closeErr  error
}

// Open discovers the daemon, checks it and prepares the reaper and pool.
// The reaper container, if any, starts with the first registration.
func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.GlobalConfig{
			ReaperImage:   config.DefaultReaperImage,
			ReaperTimeout: config.DefaultReaperTimeout,
			ReaperRate:    config.DefaultReaperRate,
			PingTimeout:   config.DefaultPingTimeout,
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	log := logger.FromContext(ctx).With("session_id", id)
	ctx = logger.WithContext(ctx, log)

	resolver := opts.Resolver
	if resolver == nil {
		resolver = discovery.NewResolver(discovery.Registered(), discovery.DefaultEnvironment(cfg),
			discovery.WithPersisted(cfg.Strategy),
			discovery.WithPersist(opts.Persist),
		)
	}
	res, err := resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	closeResolver := func(context.Context) error { return resolver.Close() }
	log.Info("docker daemon resolved", "strategy", res.Strategy, "host", res.Endpoint.Host)

	connect := opts.Connect
	if connect == nil {
		connect = daemon.ConnectClient
	}
	raw, err := connect(res.Endpoint)
	if err != nil {
		_ = resolver.Close()
		return nil, fmt.Errorf("connecting to %s: %w", res.Endpoint.Host, err)
	}
	client := daemon.NewAudited(raw, log)
	if err := daemon.CheckDocker(ctx, client); err != nil {
		_ = client.Close()
		_ = resolver.Close()
		return nil, err
	}

	s := &Session{
		ID:         id,
		Resolution: res,
		Client:     client,
		scope:      shutdown.New(),
	}
	s.scope.Register("discovery", closeResolver)
	s.scope.Register("daemon client", func(context.Context) error { return client.Close() })

	if cfg.ReaperDisabled {
		log.Warn("reaper sidecar disabled; resources are only removed on orderly exit")
		s.Reaper = reaper.NewShutdownReaper(client, s.scope)
	} else {
		r := reaper.NewSidecarReaper(client, reaper.SidecarConfig{
			SessionID:   id,
			Image:       cfg.ReaperImage,
			Privileged:  cfg.ReaperPrivileged,
			Timeout:     cfg.ReaperTimeout,
			Rate:        cfg.ReaperRate,
			Endpoint:    res.Endpoint,
			KillOnClose: opts.KillReaperOnClose,
		})
		s.scope.Register("reaper", r.Close)
		s.Reaper = r
	}

	s.Pool = pool.New(client, pool.Options{
		SessionID:    id,
		Reaper:       s.Reaper,
		ReuseEnabled: cfg.ReuseEnable,
	})

	if opts.Scope != nil {
		opts.Scope.Register("session "+id, s.Close)
	}
	return s, nil
}

// Labels returns the labels every resource of this session carries.
func (s *Session) Labels() map[string]string {
	return reaper.SessionLabels(s.ID)
}

func (s *Session) withLabels(extra map[string]string) map[string]string {
	labels := maps.Clone(extra)
	if labels == nil {
		labels = make(map[string]string)
	}
	maps.Copy(labels, s.Labels())
	return labels
}

// register protects the session's resources before one is created.
func (s *Session) register(ctx context.Context) error {
	if err := s.Reaper.Register(ctx, reaper.SessionFilters(s.ID)); err != nil {
		return fmt.Errorf("registering session for cleanup: %w", err)
	}
	return nil
}

// CreateNetwork creates a session-labelled network and returns its id.
func (s *Session) CreateNetwork(ctx context.Context, name string, opts network.CreateOptions) (string, error) {
	if err := s.register(ctx); err != nil {
		return "", err
	}
	opts.Labels = s.withLabels(opts.Labels)
	resp, err := s.Client.NetworkCreate(ctx, name, opts)
	if err != nil {
		return "", fmt.Errorf("creating network %s: %w", name, err)
	}
	return resp.ID, nil
}

// CreateVolume creates a session-labelled volume and returns its name.
func (s *Session) CreateVolume(ctx context.Context, opts volume.CreateOptions) (string, error) {
	if err := s.register(ctx); err != nil {
		return "", err
	}
	opts.Labels = s.withLabels(opts.Labels)
	v, err := s.Client.VolumeCreate(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("creating volume %s: %w", opts.Name, err)
	}
	return v.Name, nil
}

// Close releases the reaper and the client. With the sidecar reaper the
// session's resources are removed by the sidecar once the connection drops.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.scope.Run(ctx)
	})
	return s.closeErr
}
