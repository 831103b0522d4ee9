package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/retry"
)

type fakeStrategy struct {
	name        string
	priority    int
	applicable  bool
	persistable bool
	directive   bool
	host        string
	err         error
	tests       atomic.Int32
}

func (f *fakeStrategy) Name() string                    { return f.name }
func (f *fakeStrategy) Description() string             { return "fake " + f.name }
func (f *fakeStrategy) Priority() int                   { return f.priority }
func (f *fakeStrategy) Applicable(_ *Environment) bool  { return f.applicable }
func (f *fakeStrategy) Persistable(_ *Environment) bool { return f.persistable }
func (f *fakeStrategy) Test(_ context.Context, _ *Environment) (daemon.Endpoint, error) {
	f.tests.Add(1)
	if f.err != nil {
		return daemon.Endpoint{}, f.err
	}
	return daemon.Endpoint{Host: f.host}, nil
}

type fakeDirective struct{ *fakeStrategy }

func (fakeDirective) Directive() {}

func ok(name string, priority int) *fakeStrategy {
	return &fakeStrategy{name: name, priority: priority, applicable: true, persistable: true, host: "unix:///" + name + ".sock"}
}

func failing(name string, priority int, err error) *fakeStrategy {
	return &fakeStrategy{name: name, priority: priority, applicable: true, persistable: true, err: err}
}

func testEnv() *Environment {
	return &Environment{
		Getenv:       func(string) string { return "" },
		Limiter:      retry.Unlimited(),
		PingTimeout:  50 * time.Millisecond,
		PingInterval: time.Millisecond,
	}
}

func TestResolve_PriorityOrder(t *testing.T) {
	low := ok("low", 10)
	high := failing("high", 100, errors.New("connection refused"))
	mid := ok("mid", 50)

	r := NewResolver([]Strategy{low, high, mid}, testEnv())
	res, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != "mid" {
		t.Errorf("expected mid to win, got %q", res.Strategy)
	}
	if low.tests.Load() != 0 {
		t.Error("lower priority strategy should not be tested after a success")
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Strategy != "high" {
		t.Errorf("expected one failed attempt from high, got %v", res.Attempts)
	}
}

func TestResolve_EqualPriorityByName(t *testing.T) {
	b := ok("b", 80)
	a := ok("a", 80)

	res, err := NewResolver([]Strategy{b, a}, testEnv()).Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != "a" {
		t.Errorf("expected a on tie, got %q", res.Strategy)
	}
}

func TestResolve_SkipsInapplicable(t *testing.T) {
	skip := ok("skip", 100)
	skip.applicable = false
	use := ok("use", 1)

	res, err := NewResolver([]Strategy{skip, use}, testEnv()).Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != "use" || skip.tests.Load() != 0 {
		t.Errorf("inapplicable strategy was tested or won: %+v", res)
	}
}

func TestResolve_AllFailAggregates(t *testing.T) {
	a := failing("a", 100, errors.New("dial unix /var/run/docker.sock: connect: no such file or directory"))
	b := failing("b", 50, errors.New("connection refused"))

	r := NewResolver([]Strategy{a, b}, testEnv())
	_, err := r.Resolve(context.Background())

	var nd *NoDaemonFoundError
	if !errors.As(err, &nd) {
		t.Fatalf("expected NoDaemonFoundError, got %T: %v", err, err)
	}
	if len(nd.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(nd.Failures))
	}
	msg := err.Error()
	if !strings.Contains(msg, "2 attempt(s)") || !strings.Contains(msg, "a: failed with") || !strings.Contains(msg, "b: failed with") {
		t.Errorf("message does not list every failure:\n%s", msg)
	}
	if strings.Index(msg, "a: failed") > strings.Index(msg, "b: failed") {
		t.Error("failures are not in discovery order")
	}
	if !strings.Contains(msg, "hint:") {
		t.Error("expected remediation hints in message")
	}
	if !r.Failed() {
		t.Error("latch should be set after exhaustive failure")
	}
}

func TestResolve_FailFastLatch(t *testing.T) {
	a := failing("a", 100, errors.New("connection refused"))
	r := NewResolver([]Strategy{a}, testEnv())

	_, _ = r.Resolve(context.Background())
	if a.tests.Load() != 1 {
		t.Fatalf("expected 1 test, got %d", a.tests.Load())
	}

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background())
		if !errors.Is(err, ErrFailFast) {
			t.Fatalf("expected ErrFailFast, got %v", err)
		}
		var nd *NoDaemonFoundError
		if !errors.As(err, &nd) {
			t.Error("fail-fast error should wrap the original aggregate")
		}
	}
	if a.tests.Load() != 1 {
		t.Errorf("latched resolver tested again: %d tests", a.tests.Load())
	}
}

func TestResolve_NoApplicableStrategies(t *testing.T) {
	a := ok("a", 1)
	a.applicable = false

	_, err := NewResolver([]Strategy{a}, testEnv()).Resolve(context.Background())
	if err == nil || !strings.Contains(err.Error(), "0 attempts") {
		t.Errorf("expected graceful zero-attempt error, got %v", err)
	}
}

func TestResolve_Memoized(t *testing.T) {
	a := ok("a", 1)
	r := NewResolver([]Strategy{a}, testEnv())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if a.tests.Load() != 1 {
		t.Errorf("expected one test across concurrent callers, got %d", a.tests.Load())
	}
}

func TestResolve_PersistedTriedFirst(t *testing.T) {
	high := ok("high", 100)
	low := ok("low", 1)

	res, err := NewResolver([]Strategy{high, low}, testEnv(), WithPersisted("low")).Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != "low" || high.tests.Load() != 0 {
		t.Errorf("persisted strategy should win first, got %q", res.Strategy)
	}
}

func TestResolve_PersistedFailureFallsThrough(t *testing.T) {
	persisted := failing("persisted", 1, errors.New("connection refused"))
	other := ok("other", 100)

	res, err := NewResolver([]Strategy{persisted, other}, testEnv(), WithPersisted("persisted")).Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != "other" {
		t.Errorf("expected fallback to other, got %q", res.Strategy)
	}
	if persisted.tests.Load() != 1 {
		t.Errorf("persisted strategy should be tested exactly once, got %d", persisted.tests.Load())
	}
}

func TestResolve_UnknownPersistedName(t *testing.T) {
	a := ok("a", 1)

	res, err := NewResolver([]Strategy{a}, testEnv(), WithPersisted("gone")).Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != "a" {
		t.Errorf("expected a, got %q", res.Strategy)
	}
	if len(res.Attempts) != 1 || !errors.Is(res.Attempts[0], ErrUnknownStrategy) {
		t.Errorf("expected unknown-strategy attempt, got %v", res.Attempts)
	}
}

func TestResolve_PersistsWinner(t *testing.T) {
	a := ok("a", 1)
	var saved []string
	persist := func(_ context.Context, name string) error {
		saved = append(saved, name)
		return nil
	}

	if _, err := NewResolver([]Strategy{a}, testEnv(), WithPersist(persist)).Resolve(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(saved) != 1 || saved[0] != "a" {
		t.Errorf("expected a to be persisted, got %v", saved)
	}
}

func TestResolve_NotPersistable(t *testing.T) {
	a := ok("a", 1)
	a.persistable = false
	called := false
	persist := func(context.Context, string) error { called = true; return nil }

	if _, err := NewResolver([]Strategy{a}, testEnv(), WithPersist(persist)).Resolve(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("non-persistable winner must not be persisted")
	}
}

func TestResolve_PersistErrorIgnored(t *testing.T) {
	a := ok("a", 1)
	persist := func(context.Context, string) error { return errors.New("read-only fs") }

	if _, err := NewResolver([]Strategy{a}, testEnv(), WithPersist(persist)).Resolve(context.Background()); err != nil {
		t.Fatalf("persist failure must not fail resolution: %v", err)
	}
}

func TestResolve_DirectiveBeatsPersisted(t *testing.T) {
	d := fakeDirective{ok("remote", 0)}
	env := ok("env", 100)

	res, err := NewResolver([]Strategy{env, d}, testEnv(), WithPersisted("env")).Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != "remote" {
		t.Errorf("directive should win, got %q", res.Strategy)
	}
	if env.tests.Load() != 0 {
		t.Error("persisted strategy tested despite directive success")
	}
}

func TestResolve_PanicIsFailure(t *testing.T) {
	r := NewResolver([]Strategy{panicky{}, ok("b", 1)}, testEnv())
	res, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != "b" {
		t.Errorf("expected b after panic, got %q", res.Strategy)
	}
}

type panicky struct{}

func (panicky) Name() string                  { return "panicky" }
func (panicky) Description() string           { return "panics" }
func (panicky) Priority() int                 { return 100 }
func (panicky) Applicable(*Environment) bool  { return true }
func (panicky) Persistable(*Environment) bool { return true }
func (panicky) Test(context.Context, *Environment) (daemon.Endpoint, error) {
	panic("boom")
}

func TestResolve_CancelledDoesNotLatch(t *testing.T) {
	a := failing("a", 1, context.Canceled)
	r := NewResolver([]Strategy{a}, testEnv())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Resolve(ctx); err == nil {
		t.Fatal("expected error")
	}
	if r.Failed() {
		t.Error("cancelled resolution must not set the latch")
	}
}

func TestResolve_OnlyMiddleSucceeds(t *testing.T) {
	p10 := failing("ten", 10, errors.New("connection refused"))
	p5 := ok("five", 5)
	p1 := ok("one", 1)

	res, err := NewResolver([]Strategy{p1, p5, p10}, testEnv()).Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Endpoint.Host != "unix:///five.sock" {
		t.Errorf("expected the priority-5 endpoint, got %q", res.Endpoint.Host)
	}
	if p1.tests.Load() != 0 {
		t.Error("priority-1 strategy must not be tested")
	}
}

func TestResolve_EmptyList(t *testing.T) {
	_, err := NewResolver(nil, testEnv()).Resolve(context.Background())
	var nd *NoDaemonFoundError
	if !errors.As(err, &nd) {
		t.Fatalf("expected NoDaemonFoundError, got %v", err)
	}
	if len(nd.Failures) != 0 || !strings.Contains(err.Error(), "0 attempts") {
		t.Errorf("unexpected zero-attempt error: %v", err)
	}
	if errors.Unwrap(err) != nil {
		t.Error("zero-attempt error should not unwrap")
	}
}

type closingStrategy struct {
	*fakeStrategy
	closed atomic.Int32
	err    error
}

func (c *closingStrategy) Close() error {
	c.closed.Add(1)
	return c.err
}

func TestResolver_CloseReleasesStrategies(t *testing.T) {
	winner := &closingStrategy{fakeStrategy: ok("bridge", 10)}
	broken := &closingStrategy{fakeStrategy: failing("other", 5, errors.New("nope")), err: errors.New("close failed")}
	r := NewResolver([]Strategy{winner, broken, ok("plain", 1)}, testEnv())

	if _, err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := r.Close()
	if winner.closed.Load() != 1 || broken.closed.Load() != 1 {
		t.Errorf("every closable strategy must be closed: %d %d", winner.closed.Load(), broken.closed.Load())
	}
	if err == nil || !strings.Contains(err.Error(), "other: close failed") {
		t.Errorf("expected aggregated close error, got %v", err)
	}
}
