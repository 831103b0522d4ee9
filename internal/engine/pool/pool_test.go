package pool

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/reaper"
)

// recordingReaper captures the daemon calls made before each registration.
type recordingReaper struct {
	client *daemon.MockClient
	err    error

	mu     sync.Mutex
	sets   []reaper.FilterSet
	before [][]string
}

func (r *recordingReaper) Register(_ context.Context, fs reaper.FilterSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, fs)
	r.before = append(r.before, r.client.Calls())
	return r.err
}

func (r *recordingReaper) Close(context.Context) error { return nil }

func newRequest() Request {
	return Request{
		Name:  "db",
		Image: "postgres:16",
		Env:   map[string]string{"POSTGRES_PASSWORD": "secret"},
		Ports: []string{"5432/tcp"},
	}
}

func TestGetOrCreate_New(t *testing.T) {
	mock := &daemon.MockClient{CreateResp: container.CreateResponse{ID: "new-id"}}
	p := New(mock, Options{SessionID: "s1"})

	res, err := p.GetOrCreate(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ID != "new-id" || res.Reused {
		t.Errorf("unexpected result %+v", res)
	}

	cfg := mock.CreatedConfigs()[0]
	if !reaper.SessionFilters("s1").Matches(cfg.Labels) {
		t.Errorf("session filter does not cover labels %v", cfg.Labels)
	}
	if _, ok := cfg.Labels[LabelHash]; ok {
		t.Error("non-reusable container must not carry the reuse hash")
	}
	if !slices.Equal(cfg.Env, []string{"POSTGRES_PASSWORD=secret"}) {
		t.Errorf("env = %v", cfg.Env)
	}
	host := mock.CreatedHostConfigs()[0]
	b := host.PortBindings[nat.Port("5432/tcp")]
	if len(b) != 1 || b[0].HostIP != "127.0.0.1" || b[0].HostPort != "" {
		t.Errorf("port bindings = %v", host.PortBindings)
	}
	if mock.CallCount("ContainerList") != 0 {
		t.Error("non-reusable requests must not look for existing containers")
	}
}

func TestGetOrCreate_RegistersBeforeCreate(t *testing.T) {
	mock := &daemon.MockClient{CreateResp: container.CreateResponse{ID: "new-id"}}
	r := &recordingReaper{client: mock}
	p := New(mock, Options{SessionID: "s1", Reaper: r})

	if _, err := p.GetOrCreate(context.Background(), newRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.sets) != 1 || r.sets[0].Encode() != reaper.SessionFilters("s1").Encode() {
		t.Fatalf("registered %v", r.sets)
	}
	if slices.Contains(r.before[0], "ContainerCreate:db") {
		t.Errorf("container created before registration: %v", r.before[0])
	}
	if !reaper.SessionFilters("s1").Matches(mock.CreatedConfigs()[0].Labels) {
		t.Error("registered filters do not match the created container")
	}
}

func TestGetOrCreate_RegistrationFailureBlocksCreate(t *testing.T) {
	mock := &daemon.MockClient{}
	r := &recordingReaper{client: mock, err: errors.New("reaper down")}
	p := New(mock, Options{SessionID: "s1", Reaper: r})

	_, err := p.GetOrCreate(context.Background(), newRequest())
	if err == nil || !strings.Contains(err.Error(), "registering container for cleanup") {
		t.Fatalf("expected registration error, got %v", err)
	}
	if mock.CallCount("ContainerCreate") != 0 {
		t.Error("no container may be created without a registration")
	}
}

func TestGetOrCreate_ReuseHit(t *testing.T) {
	mock := &daemon.MockClient{ListResp: []container.Summary{{ID: "existing-id"}}}
	r := &recordingReaper{client: mock}
	p := New(mock, Options{SessionID: "s1", Reaper: r, ReuseEnabled: true})

	req := newRequest()
	req.Reuse = true
	req.Files = []FileEntry{{Destination: "/init.sql", Content: []byte("select 1")}}
	res, err := p.GetOrCreate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ID != "existing-id" || !res.Reused {
		t.Errorf("unexpected result %+v", res)
	}
	for _, op := range []string{"ContainerCreate", "CopyToContainer", "ImagePull"} {
		if mock.CallCount(op) != 0 {
			t.Errorf("reuse hit must not call %s", op)
		}
	}
	if len(r.sets) != 0 {
		t.Error("reusable containers are not registered with the reaper")
	}

	f := mock.Filters("ContainerList")[0]
	labels := f.Get("label")
	if !slices.Contains(labels, LabelHash+"="+res.Key) || !slices.Contains(labels, LabelFilesHash+"="+res.FilesHash) {
		t.Errorf("lookup filters = %v", labels)
	}
	if !slices.Contains(f.Get("status"), "running") {
		t.Error("lookup must only match running containers")
	}
}

func TestGetOrCreate_ReuseMiss(t *testing.T) {
	mock := &daemon.MockClient{CreateResp: container.CreateResponse{ID: "new-id"}}
	p := New(mock, Options{SessionID: "s1", ReuseEnabled: true})

	req := newRequest()
	req.Reuse = true
	res, err := p.GetOrCreate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := mock.CreatedConfigs()[0]
	if cfg.Labels[LabelHash] != res.Key || cfg.Labels[LabelFilesHash] != res.FilesHash {
		t.Errorf("reuse labels missing: %v", cfg.Labels)
	}
	if _, ok := cfg.Labels[reaper.LabelSession]; ok {
		t.Error("reusable container must not carry the session label")
	}
	if cfg.Labels[reaper.LabelMarker] != "true" {
		t.Error("reusable container must carry the marker label")
	}
}

func TestGetOrCreate_ReuseDisabled(t *testing.T) {
	mock := &daemon.MockClient{
		ListResp:   []container.Summary{{ID: "existing-id"}},
		CreateResp: container.CreateResponse{ID: "new-id"},
	}
	p := New(mock, Options{SessionID: "s1"})

	req := newRequest()
	req.Reuse = true
	res, err := p.GetOrCreate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reused || res.ID != "new-id" {
		t.Errorf("reuse must be ignored when disabled: %+v", res)
	}
	if !reaper.SessionFilters("s1").Matches(mock.CreatedConfigs()[0].Labels) {
		t.Error("container must belong to the session when reuse is disabled")
	}
}

func TestReuseKey(t *testing.T) {
	base := newRequest()
	k := ReuseKey(base, "h")

	if ReuseKey(base, "h") != k {
		t.Error("key must be deterministic")
	}

	img := newRequest()
	img.Image = "postgres:17"
	env := newRequest()
	env.Env = map[string]string{"POSTGRES_PASSWORD": "other"}
	for name, key := range map[string]string{
		"image":      ReuseKey(img, "h"),
		"env":        ReuseKey(env, "h"),
		"files hash": ReuseKey(base, "other"),
	} {
		if key == k {
			t.Errorf("changing %s must change the key", name)
		}
	}

	ports := newRequest()
	ports.Ports = []string{"8080/tcp", "5432/tcp"}
	reordered := newRequest()
	reordered.Ports = []string{"5432/tcp", "8080/tcp"}
	if ReuseKey(ports, "h") != ReuseKey(reordered, "h") {
		t.Error("port order must not affect the key")
	}

	labelled := newRequest()
	labelled.Labels = map[string]string{reaper.LabelSession: "other-session"}
	if ReuseKey(labelled, "h") != k {
		t.Error("managed labels must not affect the key")
	}
}

func TestGetOrCreate_CopiesFiles(t *testing.T) {
	mock := &daemon.MockClient{CreateResp: container.CreateResponse{ID: "new-id"}}
	p := New(mock, Options{SessionID: "s1"})

	req := newRequest()
	req.Files = []FileEntry{{Destination: "/docker-entrypoint-initdb.d/init.sql", Content: []byte("select 1"), Mode: 0o600}}
	if _, err := p.GetOrCreate(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := mock.Calls()
	create := slices.Index(calls, "ContainerCreate:db")
	copyIdx := slices.Index(calls, "CopyToContainer:new-id,/")
	start := slices.Index(calls, "ContainerStart:new-id")
	if create < 0 || copyIdx < create || start < copyIdx {
		t.Errorf("expected create, copy, start in order: %v", calls)
	}

	copies := mock.Copies()
	tr := tar.NewReader(bytes.NewReader(copies[0].Data))
	hdr, err := tr.Next()
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if hdr.Name != "docker-entrypoint-initdb.d/init.sql" || hdr.Mode != 0o600 {
		t.Errorf("unexpected header %s %o", hdr.Name, hdr.Mode)
	}
	body, _ := io.ReadAll(tr)
	if string(body) != "select 1" {
		t.Errorf("unexpected content %q", body)
	}
}

func TestGetOrCreate_ImagePullError(t *testing.T) {
	mock := &daemon.MockClient{ImagePullErr: io.ErrUnexpectedEOF}
	_, err := New(mock, Options{}).GetOrCreate(context.Background(), newRequest())
	if err == nil || !strings.Contains(err.Error(), "pulling image") {
		t.Errorf("expected pulling image error, got %v", err)
	}
}

func TestGetOrCreate_ContainerCreateError(t *testing.T) {
	mock := &daemon.MockClient{
		ImagePullReader: io.NopCloser(strings.NewReader("ok")),
		CreateErr:       io.ErrClosedPipe,
	}
	_, err := New(mock, Options{}).GetOrCreate(context.Background(), newRequest())
	if err == nil || !strings.Contains(err.Error(), "creating container") {
		t.Errorf("expected creating container error, got %v", err)
	}
}

func TestGetOrCreate_StartErrorRemoves(t *testing.T) {
	mock := &daemon.MockClient{
		ImagePullReader: io.NopCloser(strings.NewReader("ok")),
		CreateResp:      container.CreateResponse{ID: "created-id"},
		StartErr:        io.ErrClosedPipe,
	}
	_, err := New(mock, Options{}).GetOrCreate(context.Background(), newRequest())
	if err == nil || !strings.Contains(err.Error(), "starting container") {
		t.Fatalf("expected starting container error, got %v", err)
	}
	if !slices.Contains(mock.Calls(), "ContainerRemove:created-id") {
		t.Error("failed start must remove the container")
	}
}

func TestGetOrCreate_BadPort(t *testing.T) {
	req := newRequest()
	req.Ports = []string{"not-a-port"}
	mock := &daemon.MockClient{}
	_, err := New(mock, Options{}).GetOrCreate(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "parsing ports") {
		t.Errorf("expected port error, got %v", err)
	}
	if mock.CallCount("ImagePull") != 0 {
		t.Error("invalid request must fail before pulling")
	}
}

func TestCleanupStale(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mock := &daemon.MockClient{
		ListResp: []container.Summary{
			{ID: "stale-1", Labels: map[string]string{reaper.LabelMarker: "true", reaper.LabelCreated: now.Add(-10 * time.Minute).Format(time.RFC3339)}},
			{ID: "fresh-1", Labels: map[string]string{reaper.LabelMarker: "true", reaper.LabelCreated: now.Add(-1 * time.Minute).Format(time.RFC3339)}},
			{ID: "no-time", Labels: map[string]string{reaper.LabelMarker: "true"}},
			{ID: "reaper", Labels: map[string]string{reaper.LabelMarker: "true", reaper.LabelReaperSession: "s", reaper.LabelCreated: now.Add(-time.Hour).Format(time.RFC3339)}},
		},
	}
	p := New(mock, Options{})
	p.now = func() time.Time { return now }

	removed, err := p.CleanupStale(context.Background(), 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(removed, []string{"stale-1"}) || mock.CallCount("ContainerRemove") != 1 {
		t.Errorf("expected only stale-1 removed, got %v: %v", removed, mock.Calls())
	}
}

func TestCleanupStale_RemoveError(t *testing.T) {
	mock := &daemon.MockClient{
		ListResp: []container.Summary{
			{ID: "stale-id", Labels: map[string]string{reaper.LabelCreated: time.Now().Add(-2 * time.Hour).Format(time.RFC3339)}},
		},
		RemoveErr: errors.New("remove failed"),
	}
	removed, err := New(mock, Options{}).CleanupStale(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("expected nothing removed, got %v", removed)
	}
}

func TestCleanupAll(t *testing.T) {
	mock := &daemon.MockClient{
		ListResp: []container.Summary{
			{ID: "c1", Labels: map[string]string{reaper.LabelMarker: "true"}},
			{ID: "c2", Labels: map[string]string{reaper.LabelMarker: "true", LabelHash: "k"}},
		},
	}
	removed, err := New(mock, Options{}).CleanupAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(removed, []string{"c1", "c2"}) {
		t.Errorf("expected c1 and c2 removed, got %v", removed)
	}
	if !slices.Contains(mock.Filters("ContainerList")[0].Get("label"), "org.dockhand=true") {
		t.Error("cleanup must list by the marker label")
	}
}
