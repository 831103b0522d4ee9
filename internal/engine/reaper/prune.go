package reaper

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/volume"
	"github.com/hashicorp/go-multierror"
	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/platform/logger"
)

// PruneReport counts what a prune removed.
type PruneReport struct {
	Containers     []string `json:"containers"`
	Networks       []string `json:"networks"`
	Volumes        []string `json:"volumes"`
	Images         []string `json:"images"`
	SpaceReclaimed uint64   `json:"space_reclaimed"`
}

// Add merges o into r.
func (r *PruneReport) Add(o PruneReport) {
	r.Containers = append(r.Containers, o.Containers...)
	r.Networks = append(r.Networks, o.Networks...)
	r.Volumes = append(r.Volumes, o.Volumes...)
	r.Images = append(r.Images, o.Images...)
	r.SpaceReclaimed += o.SpaceReclaimed
}

// Empty reports whether nothing was removed.
func (r PruneReport) Empty() bool {
	return len(r.Containers)+len(r.Networks)+len(r.Volumes)+len(r.Images) == 0
}

// Pruner removes every resource matching a filter set.
type Pruner struct {
	client daemon.Client
}

// NewPruner creates a pruner over c.
func NewPruner(c daemon.Client) *Pruner {
	return &Pruner{client: c}
}

// Prune removes containers first so that networks and volumes are free,
// then networks, volumes and images. Every kind is attempted; errors are
// aggregated.
func (p *Pruner) Prune(ctx context.Context, fs FilterSet) (PruneReport, error) {
	log := logger.FromContext(ctx).With("filters", fs.Encode())
	args := fs.Args()
	var report PruneReport
	var errs *multierror.Error

	removed, err := p.containers(ctx, args)
	report.Containers = removed
	errs = multierror.Append(errs, err)

	nets, err := p.client.NetworksPrune(ctx, args)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("pruning networks: %w", err))
	}
	report.Networks = nets.NetworksDeleted

	vols, err := p.volumes(ctx, args)
	report.Volumes = vols
	errs = multierror.Append(errs, err)

	imgArgs := fs.Args()
	imgArgs.Add("dangling", "false")
	imgs, err := p.client.ImagesPrune(ctx, imgArgs)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("pruning images: %w", err))
	}
	for _, d := range imgs.ImagesDeleted {
		if d.Deleted != "" {
			report.Images = append(report.Images, d.Deleted)
		}
	}
	report.SpaceReclaimed = imgs.SpaceReclaimed

	log.Info("pruned resources",
		"containers", len(report.Containers),
		"networks", len(report.Networks),
		"volumes", len(report.Volumes),
		"images", len(report.Images))
	return report, errs.ErrorOrNil()
}

// PruneAll prunes each set in turn.
func (p *Pruner) PruneAll(ctx context.Context, sets []FilterSet) (PruneReport, error) {
	var report PruneReport
	var errs *multierror.Error
	for _, fs := range sets {
		r, err := p.Prune(ctx, fs)
		report.Add(r)
		errs = multierror.Append(errs, err)
	}
	return report, errs.ErrorOrNil()
}

func (p *Pruner) containers(ctx context.Context, args filters.Args) ([]string, error) {
	list, err := p.client.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	var removed []string
	var errs *multierror.Error
	for _, c := range list {
		err := p.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
		switch {
		case err == nil:
			removed = append(removed, c.ID)
		case errdefs.IsNotFound(err):
		default:
			errs = multierror.Append(errs, fmt.Errorf("removing container %s: %w", c.ID, err))
		}
	}
	return removed, errs.ErrorOrNil()
}

func (p *Pruner) volumes(ctx context.Context, args filters.Args) ([]string, error) {
	list, err := p.client.VolumeList(ctx, volume.ListOptions{Filters: args})
	if err != nil {
		return nil, fmt.Errorf("listing volumes: %w", err)
	}
	var removed []string
	var errs *multierror.Error
	for _, v := range list.Volumes {
		if v == nil {
			continue
		}
		err := p.client.VolumeRemove(ctx, v.Name, true)
		switch {
		case err == nil:
			removed = append(removed, v.Name)
		case errdefs.IsNotFound(err):
		default:
			errs = multierror.Append(errs, fmt.Errorf("removing volume %s: %w", v.Name, err))
		}
	}
	return removed, errs.ErrorOrNil()
}
