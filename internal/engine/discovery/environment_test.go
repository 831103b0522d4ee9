package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/retry"
)

func mockEnv(m *daemon.MockClient) *Environment {
	env := testEnv()
	env.Connect = func(daemon.Endpoint) (daemon.Client, error) { return m, nil }
	return env
}

func TestPing_Success(t *testing.T) {
	m := &daemon.MockClient{PingResp: types.Ping{OSType: "linux"}}
	if err := mockEnv(m).Ping(context.Background(), daemon.Endpoint{Host: "unix:///x.sock"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Closed() {
		t.Error("client should be closed after ping")
	}
}

func TestPing_RetriesTransient(t *testing.T) {
	var n atomic.Int32
	m := &daemon.MockClient{PingFn: func(context.Context) (types.Ping, error) {
		if n.Add(1) < 3 {
			return types.Ping{}, errors.New("connection refused")
		}
		return types.Ping{OSType: "linux"}, nil
	}}
	env := mockEnv(m)
	env.PingTimeout = time.Second
	if err := env.Ping(context.Background(), daemon.Endpoint{Host: "unix:///x.sock"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Load() != 3 {
		t.Errorf("expected 3 pings, got %d", n.Load())
	}
}

func TestPing_PermanentStopsEarly(t *testing.T) {
	m := &daemon.MockClient{PingErr: errors.New("dial unix /var/run/docker.sock: connect: permission denied")}
	env := mockEnv(m)
	env.PingTimeout = 5 * time.Second

	start := time.Now()
	err := env.Ping(context.Background(), daemon.Endpoint{Host: "unix:///x.sock"})
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("expected permission error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("permanent failure should not be retried until timeout")
	}
	if m.CallCount("Ping") != 1 {
		t.Errorf("expected one ping, got %d", m.CallCount("Ping"))
	}
}

func TestPing_NotLinux(t *testing.T) {
	m := &daemon.MockClient{PingResp: types.Ping{OSType: "windows"}}
	err := mockEnv(m).Ping(context.Background(), daemon.Endpoint{Host: "npipe:////./pipe/docker_engine"})
	if !errors.Is(err, daemon.ErrNotLinux) {
		t.Errorf("expected ErrNotLinux, got %v", err)
	}
}

func TestPing_Timeout(t *testing.T) {
	m := &daemon.MockClient{PingErr: errors.New("connection refused")}
	err := mockEnv(m).Ping(context.Background(), daemon.Endpoint{Host: "unix:///x.sock"})

	var te *retry.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %T: %v", err, err)
	}
}

func TestPing_ConnectError(t *testing.T) {
	env := testEnv()
	env.Connect = func(daemon.Endpoint) (daemon.Client, error) { return nil, daemon.ErrTLSWithoutCerts }
	if err := env.Ping(context.Background(), daemon.Endpoint{}); !errors.Is(err, daemon.ErrTLSWithoutCerts) {
		t.Errorf("expected connect error, got %v", err)
	}
}

func TestDiscoveryFailure_Message(t *testing.T) {
	root := errors.New("connect: no such file or directory")
	f := newFailure(ok("unix-socket", 80), nil, fmt.Errorf("ping: %w", root), time.Millisecond)

	msg := f.Error()
	if !strings.HasPrefix(msg, "unix-socket: failed with ping:") {
		t.Errorf("unexpected prefix: %s", msg)
	}
	if !strings.Contains(msg, "(root cause: connect: no such file or directory)") {
		t.Errorf("missing root cause: %s", msg)
	}
	if f.Hint == "" {
		t.Error("expected a hint")
	}
	if !errors.Is(f, root) {
		t.Error("failure should unwrap to its cause")
	}
}
