package daemon

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/api/types/volume"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// MockClient is a test double for Client. Canned responses are returned
// unless the matching Fn hook is set. Every call is recorded in Calls.
type MockClient struct {
	PingResp        types.Ping
	PingErr         error
	PingFn          func(ctx context.Context) (types.Ping, error)
	InfoResp        system.Info
	InfoErr         error
	ImagePullErr    error
	ImagePullReader io.ReadCloser
	CreateResp      container.CreateResponse
	CreateErr       error
	StartErr        error
	StopErr         error
	KillErr         error
	InspectResp     container.InspectResponse
	InspectErr      error
	InspectFn       func(ctx context.Context, id string) (container.InspectResponse, error)
	ListResp        []container.Summary
	ListErr         error
	ListFn          func(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	RemoveErr       error
	RemoveFn        func(ctx context.Context, id string, options container.RemoveOptions) error
	LogsBody        string
	LogsErr         error
	CopyErr         error
	PruneContainers container.PruneReport
	PruneNetworks   network.PruneReport
	PruneVolumes    volume.PruneReport
	PruneImages     image.PruneReport
	PruneErr        error
	NetworkResp     network.CreateResponse
	NetworkErr      error
	NetworkListResp []network.Summary
	VolumeResp      volume.Volume
	VolumeErr       error
	VolumeListResp  volume.ListResponse
	VolumeRemoveErr error
	ExecCreateResp  container.ExecCreateResponse
	ExecCreateErr   error
	ExecAttachResp  types.HijackedResponse
	ExecAttachErr   error
	ExecAttachFn    func(ctx context.Context, execID string) (types.HijackedResponse, error)
	ExecInspectResp container.ExecInspect
	ExecInspectErr  error

	mu      sync.Mutex
	calls   []string
	configs []*container.Config
	hosts   []*container.HostConfig
	copies  []Copy
	filters map[string][]filters.Args
	closed  bool
}

// Copy records one CopyToContainer call.
type Copy struct {
	ContainerID string
	Dst         string
	Data        []byte
}

func (m *MockClient) record(op string, args ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(args) > 0 {
		op += ":" + strings.Join(args, ",")
	}
	m.calls = append(m.calls, op)
}

func (m *MockClient) recordFilters(op string, f filters.Args) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.filters == nil {
		m.filters = make(map[string][]filters.Args)
	}
	m.filters[op] = append(m.filters[op], f)
}

// Calls returns the recorded calls as "Op" or "Op:arg,...".
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns how many recorded calls start with op.
func (m *MockClient) CallCount(op string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == op || strings.HasPrefix(c, op+":") {
			n++
		}
	}
	return n
}

// CreatedConfigs returns the container configs passed to ContainerCreate.
func (m *MockClient) CreatedConfigs() []*container.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*container.Config(nil), m.configs...)
}

// CreatedHostConfigs returns the host configs passed to ContainerCreate.
func (m *MockClient) CreatedHostConfigs() []*container.HostConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*container.HostConfig(nil), m.hosts...)
}

// Copies returns the recorded CopyToContainer calls.
func (m *MockClient) Copies() []Copy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Copy(nil), m.copies...)
}

// Filters returns the filter args passed to op ("ContainerList", "NetworksPrune", ...).
func (m *MockClient) Filters(op string) []filters.Args {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]filters.Args(nil), m.filters[op]...)
}

// Closed reports whether Close was called.
func (m *MockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockClient) Ping(ctx context.Context) (types.Ping, error) {
	m.record("Ping")
	if m.PingFn != nil {
		return m.PingFn(ctx)
	}
	return m.PingResp, m.PingErr
}

func (m *MockClient) Info(_ context.Context) (system.Info, error) {
	m.record("Info")
	return m.InfoResp, m.InfoErr
}

func (m *MockClient) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	m.record("ImagePull", ref)
	return m.ImagePullReader, m.ImagePullErr
}

func (m *MockClient) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *v1.Platform, name string) (container.CreateResponse, error) {
	m.record("ContainerCreate", name)
	m.mu.Lock()
	m.configs = append(m.configs, config)
	m.hosts = append(m.hosts, hostConfig)
	m.mu.Unlock()
	return m.CreateResp, m.CreateErr
}

func (m *MockClient) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	m.record("ContainerStart", id)
	return m.StartErr
}

func (m *MockClient) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	m.record("ContainerStop", id)
	return m.StopErr
}

func (m *MockClient) ContainerKill(_ context.Context, id, signal string) error {
	m.record("ContainerKill", id, signal)
	return m.KillErr
}

func (m *MockClient) ContainerRemove(ctx context.Context, id string, options container.RemoveOptions) error {
	m.record("ContainerRemove", id)
	if m.RemoveFn != nil {
		return m.RemoveFn(ctx, id, options)
	}
	return m.RemoveErr
}

func (m *MockClient) ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error) {
	m.record("ContainerInspect", id)
	if m.InspectFn != nil {
		return m.InspectFn(ctx, id)
	}
	return m.InspectResp, m.InspectErr
}

func (m *MockClient) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	m.record("ContainerList")
	m.recordFilters("ContainerList", options.Filters)
	if m.ListFn != nil {
		return m.ListFn(ctx, options)
	}
	return m.ListResp, m.ListErr
}

func (m *MockClient) ContainerLogs(_ context.Context, id string, _ container.LogsOptions) (io.ReadCloser, error) {
	m.record("ContainerLogs", id)
	if m.LogsErr != nil {
		return nil, m.LogsErr
	}
	return io.NopCloser(strings.NewReader(m.LogsBody)), nil
}

func (m *MockClient) CopyToContainer(_ context.Context, id, dst string, content io.Reader, _ container.CopyToContainerOptions) error {
	m.record("CopyToContainer", id, dst)
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.copies = append(m.copies, Copy{ContainerID: id, Dst: dst, Data: data})
	m.mu.Unlock()
	return m.CopyErr
}

func (m *MockClient) ContainersPrune(_ context.Context, f filters.Args) (container.PruneReport, error) {
	m.record("ContainersPrune")
	m.recordFilters("ContainersPrune", f)
	return m.PruneContainers, m.PruneErr
}

func (m *MockClient) NetworkCreate(_ context.Context, name string, _ network.CreateOptions) (network.CreateResponse, error) {
	m.record("NetworkCreate", name)
	return m.NetworkResp, m.NetworkErr
}

func (m *MockClient) NetworkRemove(_ context.Context, id string) error {
	m.record("NetworkRemove", id)
	return nil
}

func (m *MockClient) NetworkList(_ context.Context, options network.ListOptions) ([]network.Summary, error) {
	m.record("NetworkList")
	m.recordFilters("NetworkList", options.Filters)
	return m.NetworkListResp, nil
}

func (m *MockClient) NetworksPrune(_ context.Context, f filters.Args) (network.PruneReport, error) {
	m.record("NetworksPrune")
	m.recordFilters("NetworksPrune", f)
	return m.PruneNetworks, m.PruneErr
}

func (m *MockClient) VolumeCreate(_ context.Context, options volume.CreateOptions) (volume.Volume, error) {
	m.record("VolumeCreate", options.Name)
	return m.VolumeResp, m.VolumeErr
}

func (m *MockClient) VolumeList(_ context.Context, options volume.ListOptions) (volume.ListResponse, error) {
	m.record("VolumeList")
	m.recordFilters("VolumeList", options.Filters)
	return m.VolumeListResp, nil
}

func (m *MockClient) VolumeRemove(_ context.Context, id string, _ bool) error {
	m.record("VolumeRemove", id)
	return m.VolumeRemoveErr
}

func (m *MockClient) VolumesPrune(_ context.Context, f filters.Args) (volume.PruneReport, error) {
	m.record("VolumesPrune")
	m.recordFilters("VolumesPrune", f)
	return m.PruneVolumes, m.PruneErr
}

func (m *MockClient) ImagesPrune(_ context.Context, f filters.Args) (image.PruneReport, error) {
	m.record("ImagesPrune")
	m.recordFilters("ImagesPrune", f)
	return m.PruneImages, m.PruneErr
}

func (m *MockClient) Close() error {
	m.record("Close")
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MockClient) ContainerExecCreate(_ context.Context, id string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	m.record("ContainerExecCreate", append([]string{id}, options.Cmd...)...)
	return m.ExecCreateResp, m.ExecCreateErr
}

func (m *MockClient) ContainerExecAttach(ctx context.Context, execID string, _ container.ExecAttachOptions) (types.HijackedResponse, error) {
	m.record("ContainerExecAttach", execID)
	if m.ExecAttachFn != nil {
		return m.ExecAttachFn(ctx, execID)
	}
	return m.ExecAttachResp, m.ExecAttachErr
}

func (m *MockClient) ContainerExecInspect(_ context.Context, execID string) (container.ExecInspect, error) {
	m.record("ContainerExecInspect", execID)
	return m.ExecInspectResp, m.ExecInspectErr
}
