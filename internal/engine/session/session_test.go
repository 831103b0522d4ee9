package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/irahardianto/dockhand/internal/engine/config"
	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/discovery"
	"github.com/irahardianto/dockhand/internal/engine/reaper"
	"github.com/irahardianto/dockhand/internal/platform/shutdown"
)

type fixedStrategy struct {
	host string
	err  error
}

func (f fixedStrategy) Name() string                            { return "fixed" }
func (f fixedStrategy) Description() string                     { return "fixed endpoint " + f.host }
func (f fixedStrategy) Priority() int                           { return 1 }
func (f fixedStrategy) Applicable(*discovery.Environment) bool  { return true }
func (f fixedStrategy) Persistable(*discovery.Environment) bool { return false }
func (f fixedStrategy) Test(context.Context, *discovery.Environment) (daemon.Endpoint, error) {
	return daemon.Endpoint{Host: f.host}, f.err
}

type closableStrategy struct {
	fixedStrategy
	closed *int
}

func (c closableStrategy) Close() error {
	*c.closed++
	return nil
}

type recordingReaper struct {
	client *daemon.MockClient
	err    error
	sets   []reaper.FilterSet
	before [][]string
}

func (r *recordingReaper) Register(_ context.Context, fs reaper.FilterSet) error {
	r.sets = append(r.sets, fs)
	r.before = append(r.before, r.client.Calls())
	return r.err
}

func (r *recordingReaper) Close(context.Context) error { return nil }

func openWith(t *testing.T, mock *daemon.MockClient, cfg *config.GlobalConfig, scope *shutdown.Scope) *Session {
	t.Helper()
	resolver := discovery.NewResolver([]discovery.Strategy{fixedStrategy{host: "tcp://daemon.test:2375"}}, &discovery.Environment{GOOS: "linux"})
	s, err := Open(context.Background(), Options{
		Config:   cfg,
		Resolver: resolver,
		Connect:  func(daemon.Endpoint) (daemon.Client, error) { return mock, nil },
		Scope:    scope,
		ID:       "s1",
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestOpen_SidecarByDefault(t *testing.T) {
	mock := &daemon.MockClient{PingResp: types.Ping{OSType: "linux"}}
	s := openWith(t, mock, nil, nil)

	if s.Resolution.Strategy != "fixed" || s.Resolution.Endpoint.Host != "tcp://daemon.test:2375" {
		t.Errorf("unexpected resolution %+v", s.Resolution)
	}
	if _, ok := s.Reaper.(*reaper.SidecarReaper); !ok {
		t.Errorf("expected sidecar reaper, got %T", s.Reaper)
	}
	if mock.CallCount("ContainerCreate") != 0 {
		t.Error("sidecar must not start before the first registration")
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !mock.Closed() {
		t.Error("Close must close the client")
	}
}

func TestOpen_GeneratesID(t *testing.T) {
	mock := &daemon.MockClient{}
	resolver := discovery.NewResolver([]discovery.Strategy{fixedStrategy{host: "tcp://daemon.test:2375"}}, &discovery.Environment{GOOS: "linux"})
	s, err := Open(context.Background(), Options{
		Resolver: resolver,
		Connect:  func(daemon.Endpoint) (daemon.Client, error) { return mock, nil },
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(s.ID) != 36 {
		t.Errorf("expected a uuid session id, got %q", s.ID)
	}
}

func TestOpen_ShutdownReaperWhenDisabled(t *testing.T) {
	mock := &daemon.MockClient{}
	scope := shutdown.New()
	s := openWith(t, mock, &config.GlobalConfig{ReaperDisabled: true}, scope)

	sr, ok := s.Reaper.(*reaper.ShutdownReaper)
	if !ok {
		t.Fatalf("expected shutdown reaper, got %T", s.Reaper)
	}
	if _, err := s.CreateVolume(context.Background(), volume.CreateOptions{Name: "data"}); err != nil {
		t.Fatalf("CreateVolume failed: %v", err)
	}

	if err := scope.Run(context.Background()); err != nil {
		t.Fatalf("scope run failed: %v", err)
	}
	if sr.DeathNote().Len() != 1 {
		t.Errorf("expected one registered set, got %d", sr.DeathNote().Len())
	}
	if mock.CallCount("ContainerList") != 1 || !mock.Closed() {
		t.Errorf("expected sweep then close, got %v", mock.Calls())
	}
	calls := mock.Calls()
	if slices.Index(calls, "Close") < slices.Index(calls, "ImagesPrune") {
		t.Error("client closed before the sweep")
	}
}

func TestOpen_ResolveError(t *testing.T) {
	resolver := discovery.NewResolver([]discovery.Strategy{fixedStrategy{err: errors.New("nothing here")}}, &discovery.Environment{GOOS: "linux"})
	_, err := Open(context.Background(), Options{Resolver: resolver})
	var nd *discovery.NoDaemonFoundError
	if !errors.As(err, &nd) {
		t.Fatalf("expected NoDaemonFoundError, got %v", err)
	}

	_, err = Open(context.Background(), Options{Resolver: resolver})
	if !errors.Is(err, discovery.ErrFailFast) {
		t.Errorf("expected fail-fast on second open, got %v", err)
	}
}

func TestOpen_PreflightError(t *testing.T) {
	mock := &daemon.MockClient{PingResp: types.Ping{OSType: "windows"}}
	resolver := discovery.NewResolver([]discovery.Strategy{fixedStrategy{host: "tcp://daemon.test:2375"}}, &discovery.Environment{GOOS: "linux"})
	_, err := Open(context.Background(), Options{
		Resolver: resolver,
		Connect:  func(daemon.Endpoint) (daemon.Client, error) { return mock, nil },
	})
	var pe *daemon.PreflightError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PreflightError, got %v", err)
	}
	if !mock.Closed() {
		t.Error("client must be closed when the preflight fails")
	}
}

func TestCreateNetwork_RegistersFirst(t *testing.T) {
	mock := &daemon.MockClient{NetworkResp: network.CreateResponse{ID: "net-1"}}
	s := openWith(t, mock, nil, nil)
	r := &recordingReaper{client: mock}
	s.Reaper = r

	id, err := s.CreateNetwork(context.Background(), "backend", network.CreateOptions{Labels: map[string]string{"team": "qa"}})
	if err != nil {
		t.Fatalf("CreateNetwork failed: %v", err)
	}
	if id != "net-1" {
		t.Errorf("expected net-1, got %q", id)
	}
	if len(r.sets) != 1 || slices.Contains(r.before[0], "NetworkCreate:backend") {
		t.Fatalf("network created before registration: %v", r.before)
	}
	if !slices.Contains(mock.Calls(), "NetworkCreate:backend") {
		t.Errorf("expected NetworkCreate, got %v", mock.Calls())
	}
}

func TestCreateVolume_RegistrationFailure(t *testing.T) {
	mock := &daemon.MockClient{}
	s := openWith(t, mock, nil, nil)
	s.Reaper = &recordingReaper{client: mock, err: errors.New("reaper down")}

	_, err := s.CreateVolume(context.Background(), volume.CreateOptions{Name: "data"})
	if err == nil || !strings.Contains(err.Error(), "registering session for cleanup") {
		t.Fatalf("expected registration error, got %v", err)
	}
	if mock.CallCount("VolumeCreate") != 0 {
		t.Error("volume created without registration")
	}
}

func TestLabels(t *testing.T) {
	s := &Session{ID: "s1"}
	labels := s.withLabels(map[string]string{"team": "qa", reaper.LabelSession: "spoofed"})
	if labels["team"] != "qa" || labels[reaper.LabelSession] != "s1" || labels[reaper.LabelMarker] != "true" {
		t.Errorf("unexpected labels %v", labels)
	}
	if !reaper.SessionFilters("s1").Matches(s.Labels()) {
		t.Error("session filters must match session labels")
	}
}

func TestClose_Once(t *testing.T) {
	mock := &daemon.MockClient{}
	scope := shutdown.New()
	s := openWith(t, mock, nil, scope)

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := scope.Run(context.Background()); err != nil {
		t.Fatalf("scope run failed: %v", err)
	}
	if got := mock.CallCount("Close"); got != 1 {
		t.Errorf("expected client closed once, got %d", got)
	}
}

func TestClose_ReleasesResolver(t *testing.T) {
	closed := 0
	strategy := closableStrategy{fixedStrategy: fixedStrategy{host: "tcp://127.0.0.1:40000"}, closed: &closed}
	mock := &daemon.MockClient{}
	s, err := Open(context.Background(), Options{
		Resolver: discovery.NewResolver([]discovery.Strategy{strategy}, &discovery.Environment{GOOS: "darwin"}),
		Connect:  func(daemon.Endpoint) (daemon.Client, error) { return mock, nil },
		ID:       "s1",
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if closed != 0 {
		t.Fatal("the endpoint must stay usable while the session is open")
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if closed != 1 || !mock.Closed() {
		t.Errorf("expected resolver and client released, closed=%d client=%v", closed, mock.Closed())
	}
}

func TestOpen_PreflightErrorReleasesResolver(t *testing.T) {
	closed := 0
	strategy := closableStrategy{fixedStrategy: fixedStrategy{host: "tcp://daemon.test:2375"}, closed: &closed}
	mock := &daemon.MockClient{PingResp: types.Ping{OSType: "windows"}}
	_, err := Open(context.Background(), Options{
		Resolver: discovery.NewResolver([]discovery.Strategy{strategy}, &discovery.Environment{GOOS: "linux"}),
		Connect:  func(daemon.Endpoint) (daemon.Client, error) { return mock, nil },
	})
	if err == nil {
		t.Fatal("expected preflight error")
	}
	if closed != 1 {
		t.Errorf("resolver must be released when Open fails, closed=%d", closed)
	}
}
