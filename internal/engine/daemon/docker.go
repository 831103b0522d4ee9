package daemon

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// DockerClient implements Client using the Docker SDK.
type DockerClient struct {
	client client.APIClient
}

// NewDockerClientFrom creates a DockerClient with the given API client.
func NewDockerClientFrom(cli client.APIClient) *DockerClient {
	return &DockerClient{client: cli}
}

// Connect creates a DockerClient talking to the given endpoint with API
// version negotiation. No request is made until the first call.
func Connect(ep Endpoint) (*DockerClient, error) {
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	opts := append([]client.Opt{client.WithAPIVersionNegotiation()}, ep.ClientOpts()...)
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client for %s: %w", ep.Host, err)
	}
	return NewDockerClientFrom(cli), nil
}

// ConnectClient is Connect returning the Client interface, suitable as a
// connect function for discovery.
func ConnectClient(ep Endpoint) (Client, error) {
	c, err := Connect(ep)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Ping checks if the Docker daemon is available and responsive.
func (d *DockerClient) Ping(ctx context.Context) (types.Ping, error) {
	return d.client.Ping(ctx)
}

// Info returns system-wide information about the daemon.
func (d *DockerClient) Info(ctx context.Context) (system.Info, error) {
	return d.client.Info(ctx)
}

// ContainerExecCreate creates a new exec configuration to run an exec process.
func (d *DockerClient) ContainerExecCreate(ctx context.Context, ctr string, config container.ExecOptions) (container.ExecCreateResponse, error) {
	return d.client.ContainerExecCreate(ctx, ctr, config)
}

// ContainerExecAttach attaches a connection to an exec process.
func (d *DockerClient) ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error) {
	return d.client.ContainerExecAttach(ctx, execID, config)
}

// ContainerExecInspect returns information about a specific exec process.
func (d *DockerClient) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	return d.client.ContainerExecInspect(ctx, execID)
}

// ImagePull requests the Docker host to pull an image from a remote registry.
func (d *DockerClient) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	return d.client.ImagePull(ctx, ref, options)
}

// ContainerCreate creates a new container based on the given configuration.
func (d *DockerClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, name string) (container.CreateResponse, error) {
	return d.client.ContainerCreate(ctx, config, hostConfig, networkingConfig, platform, name)
}

// ContainerStart sends a request to the Docker daemon to start a container.
func (d *DockerClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return d.client.ContainerStart(ctx, containerID, options)
}

// ContainerStop stops a container.
func (d *DockerClient) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	return d.client.ContainerStop(ctx, containerID, options)
}

// ContainerKill sends a signal to a container.
func (d *DockerClient) ContainerKill(ctx context.Context, containerID, signal string) error {
	return d.client.ContainerKill(ctx, containerID, signal)
}

// ContainerRemove kills and removes a container from the Docker host.
func (d *DockerClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	return d.client.ContainerRemove(ctx, containerID, options)
}

// ContainerInspect returns low-level information about a container.
func (d *DockerClient) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	return d.client.ContainerInspect(ctx, containerID)
}

// ContainerList returns the list of containers in the Docker host.
func (d *DockerClient) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	return d.client.ContainerList(ctx, options)
}

// ContainerLogs streams the logs of a container.
func (d *DockerClient) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	return d.client.ContainerLogs(ctx, containerID, options)
}

// CopyToContainer extracts a tar stream into the container's filesystem.
func (d *DockerClient) CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error {
	return d.client.CopyToContainer(ctx, containerID, dstPath, content, options)
}

// ContainersPrune removes stopped containers matching the filters.
func (d *DockerClient) ContainersPrune(ctx context.Context, pruneFilters filters.Args) (container.PruneReport, error) {
	return d.client.ContainersPrune(ctx, pruneFilters)
}

// NetworkCreate creates a network.
func (d *DockerClient) NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error) {
	return d.client.NetworkCreate(ctx, name, options)
}

// NetworkRemove removes a network.
func (d *DockerClient) NetworkRemove(ctx context.Context, networkID string) error {
	return d.client.NetworkRemove(ctx, networkID)
}

// NetworkList returns the networks matching the options.
func (d *DockerClient) NetworkList(ctx context.Context, options network.ListOptions) ([]network.Summary, error) {
	return d.client.NetworkList(ctx, options)
}

// NetworksPrune removes unused networks matching the filters.
func (d *DockerClient) NetworksPrune(ctx context.Context, pruneFilters filters.Args) (network.PruneReport, error) {
	return d.client.NetworksPrune(ctx, pruneFilters)
}

// VolumeCreate creates a volume.
func (d *DockerClient) VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error) {
	return d.client.VolumeCreate(ctx, options)
}

// VolumeList returns the volumes matching the options.
func (d *DockerClient) VolumeList(ctx context.Context, options volume.ListOptions) (volume.ListResponse, error) {
	return d.client.VolumeList(ctx, options)
}

// VolumeRemove removes a volume.
func (d *DockerClient) VolumeRemove(ctx context.Context, volumeID string, force bool) error {
	return d.client.VolumeRemove(ctx, volumeID, force)
}

// VolumesPrune removes unused volumes matching the filters.
func (d *DockerClient) VolumesPrune(ctx context.Context, pruneFilters filters.Args) (volume.PruneReport, error) {
	return d.client.VolumesPrune(ctx, pruneFilters)
}

// ImagesPrune removes unused images matching the filters.
func (d *DockerClient) ImagesPrune(ctx context.Context, pruneFilters filters.Args) (image.PruneReport, error) {
	return d.client.ImagesPrune(ctx, pruneFilters)
}

// Close releases the underlying transport.
func (d *DockerClient) Close() error {
	return d.client.Close()
}
