package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/irahardianto/dockhand/internal/engine/config"
	"github.com/irahardianto/dockhand/internal/engine/formatter"
	"github.com/irahardianto/dockhand/internal/engine/pool"
	"github.com/irahardianto/dockhand/internal/engine/runner"
	"github.com/irahardianto/dockhand/internal/engine/session"
	"github.com/irahardianto/dockhand/internal/platform/logger"
)

// ErrProvisionFailed is returned when one or more containers could not be provisioned.
var ErrProvisionFailed = errors.New("provisioning failed")

// projectOpts holds per-invocation options for provisioning.
type projectOpts struct {
	FailFast bool
	Limit    int
	JSON     bool
}

// provision creates the project's networks and volumes, then brings up
// its containers in parallel.
func provision(ctx context.Context, s *session.Session, cfg *config.ProjectConfig, opts projectOpts, stderr io.Writer) (*formatter.UpReport, error) {
	log := logger.FromContext(ctx)

	tasks, err := runner.Tasks(cfg)
	if err != nil {
		return nil, err
	}

	names, err := createResources(ctx, s, cfg)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		rename(&tasks[i].Request, names)
	}

	engine := runner.NewEngine(s.Pool, pool.NewExecutor(s.Client))
	engine.Progress = runner.NewProgress(stderr, opts.JSON, len(tasks))
	engine.FailFast = opts.FailFast
	engine.Limit = opts.Limit

	report, err := engine.UpAll(ctx, s.ID, tasks)
	if err != nil {
		return report, err
	}
	log.Info("project provisioned", "ok", report.OK, "containers", len(report.Containers))
	return report, nil
}

// resourceNames maps project-level names to the session's actual names.
type resourceNames struct {
	networks map[string]string
	volumes  map[string]string
}

func createResources(ctx context.Context, s *session.Session, cfg *config.ProjectConfig) (resourceNames, error) {
	names := resourceNames{networks: map[string]string{}, volumes: map[string]string{}}
	suffix := s.ID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	for _, n := range cfg.Networks {
		actual := n + "-" + suffix
		if _, err := s.CreateNetwork(ctx, actual, network.CreateOptions{}); err != nil {
			return names, err
		}
		names.networks[n] = actual
	}
	for _, v := range cfg.Volumes {
		actual := v + "-" + suffix
		if _, err := s.CreateVolume(ctx, volume.CreateOptions{Name: actual}); err != nil {
			return names, err
		}
		names.volumes[v] = actual
	}
	return names, nil
}

func rename(req *pool.Request, names resourceNames) {
	if actual, ok := names.networks[req.NetworkMode]; ok {
		req.NetworkMode = actual
	}
	for i, m := range req.Mounts {
		if m.Type != mount.TypeVolume {
			continue
		}
		if actual, ok := names.volumes[m.Source]; ok {
			req.Mounts[i].Source = actual
		}
	}
}

// loadProject reads the project file. A missing file is only an error when
// required is set.
func loadProject(ctx context.Context, path string, required bool) (*config.ProjectConfig, error) {
	cfg, err := config.LoadProject(ctx, path)
	if errors.Is(err, config.ErrProjectNotFound) && !required {
		return &config.ProjectConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
