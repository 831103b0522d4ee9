// Package pool provisions containers, sharing reusable ones across sessions
// and registering the rest with the reaper before they are created.
package pool

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/go-connections/nat"
	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/reaper"
	"github.com/irahardianto/dockhand/internal/platform/logger"
)

const (
	LabelHash      = "org.dockhand.hash"
	LabelFilesHash = "org.dockhand.copied_files.hash"
	labelImage     = "org.dockhand.image"
)

func isManagedLabel(k string) bool {
	return k == reaper.LabelMarker || strings.HasPrefix(k, reaper.LabelMarker+".")
}

// Options configures a Pool.
type Options struct {
	SessionID string
	// Reaper receives the session filter set before any non-reusable
	// container is created. Nil disables registration.
	Reaper reaper.Reaper
	// ReuseEnabled is the user-level switch; a request's Reuse flag only
	// takes effect when it is set.
	ReuseEnabled bool
}

// Result describes a provisioned container.
type Result struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Reused    bool   `json:"reused"`
	Key       string `json:"key,omitempty"`
	FilesHash string `json:"files_hash"`
}

// Pool provisions containers on one daemon.
type Pool struct {
	client daemon.Client
	opts   Options
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a pool on c.
func New(c daemon.Client, opts Options) *Pool {
	return &Pool{
		client: c,
		opts:   opts,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// keyLock serializes provisioning of identical reusable requests.
func (p *Pool) keyLock(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	return l
}

// GetOrCreate returns a running container for req. A reusable request whose
// key matches a running container returns that container without creating
// or copying anything.
func (p *Pool) GetOrCreate(ctx context.Context, req Request) (Result, error) {
	log := logger.FromContext(ctx).With("image", req.Image, "name", req.Name)
	log.Info("GetOrCreate started", "reuse", req.Reuse)

	filesHash, err := HashFiles(req.Files)
	if err != nil {
		return Result{}, err
	}
	res := Result{Name: req.Name, FilesHash: filesHash}

	labels := maps.Clone(req.Labels)
	if labels == nil {
		labels = make(map[string]string)
	}
	labels[reaper.LabelMarker] = "true"
	labels[reaper.LabelCreated] = p.now().UTC().Format(time.RFC3339)
	labels[labelImage] = req.Image

	reusable := req.Reuse && p.opts.ReuseEnabled
	if req.Reuse && !p.opts.ReuseEnabled {
		log.Warn("reuse was requested but is not enabled; the container will be removed with the session")
	}

	if reusable {
		res.Key = ReuseKey(req, filesHash)
		l := p.keyLock(res.Key)
		l.Lock()
		defer l.Unlock()

		id, err := p.findReusable(ctx, res.Key, filesHash)
		if err != nil {
			return Result{}, fmt.Errorf("finding reusable container: %w", err)
		}
		if id != "" {
			log.Info("GetOrCreate reused existing container", "container_id", id)
			res.ID, res.Reused = id, true
			return res, nil
		}
		labels[LabelHash] = res.Key
		labels[LabelFilesHash] = filesHash
	} else {
		maps.Copy(labels, reaper.SessionLabels(p.opts.SessionID))
		if p.opts.Reaper != nil {
			if err := p.opts.Reaper.Register(ctx, reaper.SessionFilters(p.opts.SessionID)); err != nil {
				return Result{}, fmt.Errorf("registering container for cleanup: %w", err)
			}
		}
	}

	id, err := p.create(ctx, req, labels)
	if err != nil {
		return Result{}, err
	}
	log.Info("GetOrCreate created new container", "container_id", id)
	res.ID = id
	return res, nil
}

// findReusable searches for a running container with the matching key.
func (p *Pool) findReusable(ctx context.Context, key, filesHash string) (string, error) {
	opts := container.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("label", LabelHash+"="+key),
			filters.Arg("label", LabelFilesHash+"="+filesHash),
			filters.Arg("status", "running"),
		),
		Limit: 1,
	}
	containers, err := p.client.ContainerList(ctx, opts)
	if err != nil {
		return "", err
	}
	if len(containers) > 0 {
		return containers[0].ID, nil
	}
	return "", nil
}

// portSpecs publishes bare container ports on loopback only.
func portSpecs(ports []string) []string {
	out := make([]string, len(ports))
	for i, p := range ports {
		if strings.Contains(p, ":") {
			out[i] = p
			continue
		}
		out[i] = "127.0.0.1::" + p
	}
	return out
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}

// create pulls the image, creates the container, copies files and starts it.
func (p *Pool) create(ctx context.Context, req Request, labels map[string]string) (string, error) {
	log := logger.FromContext(ctx)

	exposed, bindings, err := nat.ParsePortSpecs(portSpecs(req.Ports))
	if err != nil {
		return "", fmt.Errorf("parsing ports: %w", err)
	}
	usr, err := resolveUser(req.User)
	if err != nil {
		return "", err
	}

	if err := daemon.PullImage(ctx, p.client, req.Image); err != nil {
		return "", err
	}

	config := &container.Config{
		Image:        req.Image,
		Cmd:          req.Cmd,
		Entrypoint:   req.Entrypoint,
		Env:          envList(req.Env),
		Labels:       labels,
		ExposedPorts: exposed,
		User:         usr,
	}
	hostConfig := &container.HostConfig{
		PortBindings: bindings,
		NetworkMode:  container.NetworkMode(req.NetworkMode),
		Mounts:       req.Mounts,
	}

	resp, err := p.client.ContainerCreate(ctx, config, hostConfig, nil, nil, req.Name)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	log.Debug("container created", "container_id", resp.ID)

	if len(req.Files) > 0 {
		var buf bytes.Buffer
		if err := writeArchive(&buf, req.Files); err != nil {
			p.discard(ctx, resp.ID)
			return "", fmt.Errorf("archiving files: %w", err)
		}
		if err := p.client.CopyToContainer(ctx, resp.ID, "/", &buf, container.CopyToContainerOptions{}); err != nil {
			p.discard(ctx, resp.ID)
			return "", fmt.Errorf("copying files: %w", err)
		}
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.discard(ctx, resp.ID)
		return "", fmt.Errorf("starting container: %w", err)
	}
	log.Info("container started", "container_id", resp.ID, "image", req.Image)
	return resp.ID, nil
}

func (p *Pool) discard(ctx context.Context, id string) {
	if err := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		logger.FromContext(ctx).Warn("failed to remove container", "container_id", id, "error", err)
	}
}

// managed lists every container this tool created, except reaper sidecars.
func (p *Pool) managed(ctx context.Context) ([]container.Summary, error) {
	opts := container.ListOptions{
		All:     true,
		Filters: reaper.MarkerFilters().Args(),
	}
	all, err := p.client.ContainerList(ctx, opts)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(c container.Summary) bool {
		_, sidecar := c.Labels[reaper.LabelReaperSession]
		return sidecar
	}), nil
}

// CleanupStale removes managed containers created more than ttl ago and
// returns their ids.
func (p *Pool) CleanupStale(ctx context.Context, ttl time.Duration) ([]string, error) {
	log := logger.FromContext(ctx)
	log.Info("CleanupStale started", "ttl", ttl)

	containers, err := p.managed(ctx)
	if err != nil {
		return nil, err
	}

	threshold := p.now().Add(-ttl)
	stale := slices.DeleteFunc(containers, func(c container.Summary) bool {
		created, err := time.Parse(time.RFC3339, c.Labels[reaper.LabelCreated])
		// Skip containers with missing or invalid timestamps
		return err != nil || !created.Before(threshold)
	})
	removed := p.remove(ctx, stale)

	log.Info("CleanupStale completed", "removed_count", len(removed))
	return removed, nil
}

// CleanupAll removes all managed containers, reusable ones included, and
// returns their ids.
func (p *Pool) CleanupAll(ctx context.Context) ([]string, error) {
	log := logger.FromContext(ctx)
	log.Info("CleanupAll started")

	containers, err := p.managed(ctx)
	if err != nil {
		return nil, err
	}
	removed := p.remove(ctx, containers)

	log.Info("CleanupAll completed", "removed_count", len(removed))
	return removed, nil
}

func (p *Pool) remove(ctx context.Context, containers []container.Summary) []string {
	removed := []string{}
	for _, c := range containers {
		if err := p.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			logger.FromContext(ctx).Error("failed to remove container", "container_id", c.ID, "error", err)
			continue
		}
		removed = append(removed, c.ID)
	}
	return removed
}
