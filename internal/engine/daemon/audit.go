package daemon

import (
	"context"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// Audited wraps a Client and logs every mutating call: container, network
// and volume create/start/stop/kill/remove. Read-only calls and prunes pass
// straight through to the embedded Client.
type Audited struct {
	Client
	log *slog.Logger
}

// NewAudited wraps c, logging mutations to log.
func NewAudited(c Client, log *slog.Logger) *Audited {
	return &Audited{Client: c, log: log}
}

func (a *Audited) audit(op, id string, err error, attrs ...any) {
	attrs = append([]any{"op", op, "id", id}, attrs...)
	if err != nil {
		a.log.Warn("daemon mutation failed", append(attrs, "error", err)...)
		return
	}
	a.log.Info("daemon mutation", attrs...)
}

func (a *Audited) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, name string) (container.CreateResponse, error) {
	resp, err := a.Client.ContainerCreate(ctx, config, hostConfig, networkingConfig, platform, name)
	img := ""
	if config != nil {
		img = config.Image
	}
	a.audit("container.create", resp.ID, err, "image", img, "name", name)
	return resp, err
}

func (a *Audited) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	err := a.Client.ContainerStart(ctx, containerID, options)
	a.audit("container.start", containerID, err)
	return err
}

func (a *Audited) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	err := a.Client.ContainerStop(ctx, containerID, options)
	a.audit("container.stop", containerID, err)
	return err
}

func (a *Audited) ContainerKill(ctx context.Context, containerID, signal string) error {
	err := a.Client.ContainerKill(ctx, containerID, signal)
	a.audit("container.kill", containerID, err, "signal", signal)
	return err
}

func (a *Audited) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	err := a.Client.ContainerRemove(ctx, containerID, options)
	a.audit("container.remove", containerID, err, "force", options.Force)
	return err
}

func (a *Audited) NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error) {
	resp, err := a.Client.NetworkCreate(ctx, name, options)
	a.audit("network.create", resp.ID, err, "name", name)
	return resp, err
}

func (a *Audited) NetworkRemove(ctx context.Context, networkID string) error {
	err := a.Client.NetworkRemove(ctx, networkID)
	a.audit("network.remove", networkID, err)
	return err
}

func (a *Audited) VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error) {
	vol, err := a.Client.VolumeCreate(ctx, options)
	a.audit("volume.create", vol.Name, err)
	return vol, err
}

func (a *Audited) VolumeRemove(ctx context.Context, volumeID string, force bool) error {
	err := a.Client.VolumeRemove(ctx, volumeID, force)
	a.audit("volume.remove", volumeID, err, "force", force)
	return err
}
