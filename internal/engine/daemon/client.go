// Package daemon is the narrow port to the Docker Engine API used by
// discovery, the reaper and the reuse pool.
package daemon

import (
	"context"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/api/types/volume"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// Client abstracts Docker operations for testability.
// Production code uses DockerClient; tests use MockClient.
type Client interface {
	// Ping checks if the Docker daemon is available and responsive.
	Ping(ctx context.Context) (types.Ping, error)

	// Info returns system-wide information about the daemon.
	Info(ctx context.Context) (system.Info, error)

	// ImagePull requests the docker host to pull an image from a remote registry.
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)

	// ContainerCreate creates a new container based on the given configuration.
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, name string) (container.CreateResponse, error)

	// ContainerStart starts a container.
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error

	// ContainerStop stops a container.
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error

	// ContainerKill sends a signal to a container.
	ContainerKill(ctx context.Context, containerID, signal string) error

	// ContainerRemove kills and removes a container from the docker host.
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error

	// ContainerInspect returns the container information.
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)

	// ContainerList returns the list of containers in the docker host.
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)

	// ContainerLogs streams the logs of a container.
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)

	// CopyToContainer extracts a tar stream into the container's filesystem.
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error

	// ContainersPrune removes stopped containers matching the filters.
	ContainersPrune(ctx context.Context, pruneFilters filters.Args) (container.PruneReport, error)

	// NetworkCreate creates a network.
	NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)

	// NetworkRemove removes a network.
	NetworkRemove(ctx context.Context, networkID string) error

	// NetworkList returns the networks matching the options.
	NetworkList(ctx context.Context, options network.ListOptions) ([]network.Summary, error)

	// NetworksPrune removes unused networks matching the filters.
	NetworksPrune(ctx context.Context, pruneFilters filters.Args) (network.PruneReport, error)

	// VolumeCreate creates a volume.
	VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error)

	// VolumeList returns the volumes matching the options.
	VolumeList(ctx context.Context, options volume.ListOptions) (volume.ListResponse, error)

	// VolumeRemove removes a volume.
	VolumeRemove(ctx context.Context, volumeID string, force bool) error

	// VolumesPrune removes unused volumes matching the filters.
	VolumesPrune(ctx context.Context, pruneFilters filters.Args) (volume.PruneReport, error)

	// ImagesPrune removes unused images matching the filters.
	ImagesPrune(ctx context.Context, pruneFilters filters.Args) (image.PruneReport, error)

	// ContainerExecCreate creates a new exec configuration to run an exec process.
	ContainerExecCreate(ctx context.Context, container string, config container.ExecOptions) (container.ExecCreateResponse, error)

	// ContainerExecAttach attaches a connection to an exec process.
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)

	// ContainerExecInspect returns information about a specific exec process.
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)

	// Close releases the underlying transport.
	Close() error
}
