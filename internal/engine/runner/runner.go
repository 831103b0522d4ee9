// Package runner provisions the containers of a project in parallel.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/irahardianto/dockhand/internal/engine/config"
	"github.com/irahardianto/dockhand/internal/engine/formatter"
	"github.com/irahardianto/dockhand/internal/engine/pool"
	"github.com/irahardianto/dockhand/internal/platform/logger"
	"golang.org/x/sync/errgroup"
)

// Provisioner returns a running container for a request.
type Provisioner interface {
	GetOrCreate(ctx context.Context, req pool.Request) (pool.Result, error)
}

// ReadinessProbe blocks until a command succeeds inside a container.
type ReadinessProbe interface {
	WaitReady(ctx context.Context, containerID, command string, timeout, interval time.Duration) error
}

// Task is one container to bring up.
type Task struct {
	Request     pool.Request
	WaitTimeout time.Duration
}

const waitInterval = 500 * time.Millisecond

// Engine orchestrates parallel provisioning.
type Engine struct {
	Pool  Provisioner
	Probe ReadinessProbe
	// Progress is an optional progress tracker. If nil, no progress output is produced.
	Progress *Progress
	// FailFast cancels the remaining containers once one fails.
	FailFast bool
	// Limit caps concurrent provisioning; zero or less means no limit.
	Limit int
}

// NewEngine creates a new provisioning engine.
func NewEngine(p Provisioner, probe ReadinessProbe) *Engine {
	return &Engine{Pool: p, Probe: probe}
}

// UpAll provisions every task and reports results in task order. Individual
// failures are recorded in the report; the returned error is only set when
// ctx was cancelled by the caller.
func (e *Engine) UpAll(ctx context.Context, sessionID string, tasks []Task) (*formatter.UpReport, error) {
	log := logger.FromContext(ctx)
	log.Info("Engine.UpAll started", "containers", len(tasks), "fail_fast", e.FailFast)
	start := time.Now()

	report := &formatter.UpReport{SessionID: sessionID, OK: true}
	if len(tasks) == 0 {
		report.Containers = []formatter.ContainerResult{}
		return report, nil
	}

	var g *errgroup.Group
	gctx := ctx
	if e.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	if e.Limit > 0 {
		g.SetLimit(e.Limit)
	}

	results := make([]formatter.ContainerResult, len(tasks))
	for i, t := range tasks {
		g.Go(func() error {
			results[i] = e.up(gctx, t)
			if results[i].Error != "" && e.FailFast {
				log.Info("fail-fast: cancelling remaining containers", "failed", t.Request.Name)
				return fmt.Errorf("%s: %s", t.Request.Name, results[i].Error)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Error != "" {
			report.OK = false
		}
	}
	report.Containers = results
	report.DurationMs = time.Since(start).Milliseconds()

	if e.Progress != nil {
		e.Progress.Finish()
	}

	log.Info("Engine.UpAll completed", "ok", report.OK, "duration_ms", report.DurationMs)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (e *Engine) up(ctx context.Context, t Task) formatter.ContainerResult {
	res := formatter.ContainerResult{Name: t.Request.Name, Image: t.Request.Image}
	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return res
	}
	if e.Progress != nil {
		e.Progress.OnStart(t.Request.Name)
	}

	start := time.Now()
	out, err := e.Pool.GetOrCreate(ctx, t.Request)
	if err == nil {
		res.ID, res.Reused = out.ID, out.Reused
		if t.Request.WaitFor != "" && e.Probe != nil {
			err = e.Probe.WaitReady(ctx, out.ID, t.Request.WaitFor, t.WaitTimeout, waitInterval)
		}
	}
	dur := time.Since(start)
	res.DurationMs = dur.Milliseconds()
	if err != nil {
		res.Error = err.Error()
	}

	if e.Progress != nil {
		e.Progress.OnComplete(t.Request.Name, res.Reused, res.Error, dur)
	}
	return res
}

// Tasks converts a project file into provisioning tasks.
func Tasks(p *config.ProjectConfig) ([]Task, error) {
	tasks := make([]Task, 0, len(p.Containers))
	for _, c := range p.Containers {
		req := pool.Request{
			Name:        c.Name,
			Image:       c.Image,
			Cmd:         c.Cmd,
			Entrypoint:  c.Entrypoint,
			Env:         c.Env,
			Labels:      c.Labels,
			Ports:       c.Ports,
			NetworkMode: c.NetworkMode,
			User:        c.User,
			Reuse:       c.IsReusable(),
			WaitFor:     c.WaitFor,
		}
		for _, m := range c.Mounts {
			switch m.Type {
			case "bind":
				req.Mounts = append(req.Mounts, pool.BindMount(m.Source, m.Target, m.ReadOnly))
			case "volume":
				req.Mounts = append(req.Mounts, pool.VolumeMount(m.Source, m.Target, m.ReadOnly))
			case "tmpfs":
				req.Mounts = append(req.Mounts, pool.TmpfsMount(m.Target))
			default:
				return nil, fmt.Errorf("container %q: unknown mount type %q", c.Name, m.Type)
			}
		}
		for _, f := range c.Files {
			mode, err := f.FileMode()
			if err != nil {
				return nil, fmt.Errorf("container %q: %w", c.Name, err)
			}
			entry := pool.FileEntry{Destination: f.Target, HostPath: f.Source, Mode: mode}
			if f.Source == "" {
				entry.Content = []byte(f.Content)
			}
			req.Files = append(req.Files, entry)
		}
		tasks = append(tasks, Task{Request: req, WaitTimeout: c.WaitTimeout})
	}
	return tasks, nil
}
