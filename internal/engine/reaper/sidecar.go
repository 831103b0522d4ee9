package reaper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/hashicorp/go-multierror"
	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/retry"
	"github.com/irahardianto/dockhand/internal/platform/logger"
)

const (
	sidecarPort     = nat.Port("8080/tcp")
	dialTimeout     = 5 * time.Second
	portPollTimeout = 5 * time.Second
	portPollEvery   = 50 * time.Millisecond
	reconnectDelay  = 250 * time.Millisecond
	logTail         = 64 << 10
	containerSocket = "/var/run/docker.sock"
)

// SidecarConfig configures the reaper container.
type SidecarConfig struct {
	SessionID  string
	Image      string
	Privileged bool
	// Timeout bounds the wait for the first acknowledgement.
	Timeout time.Duration
	// Rate limits filter sends per second.
	Rate float64
	// Endpoint is the daemon the sidecar runs on; its hostname is where the
	// published port is dialed.
	Endpoint daemon.Endpoint
	// SocketPath is the daemon socket on the daemon host. Defaults to the
	// endpoint's unix path or /var/run/docker.sock.
	SocketPath string
	// KillOnClose prunes locally and kills the sidecar on Close instead of
	// leaving the sidecar to prune after the connection drops.
	KillOnClose bool
}

// SidecarReaper ships the death note to a reaper container over TCP. The
// container is started lazily by the first registration, which blocks until
// the container acknowledges; later registrations only append.
type SidecarReaper struct {
	client  daemon.Client
	cfg     SidecarConfig
	note    *DeathNote
	limiter *retry.RateLimiter
	logs    *tailBuffer
	dial    func(ctx context.Context, addr string) (net.Conn, error)

	startOnce sync.Once
	startErr  error

	mu          sync.Mutex
	containerID string
	addr        string
	lastErr     error
	cancel      context.CancelFunc
	workerDone  chan struct{}
	closed      bool
}

// NewSidecarReaper creates a reaper that will run its container on c.
func NewSidecarReaper(c daemon.Client, cfg SidecarConfig) *SidecarReaper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 4
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = containerSocket
		if cfg.Endpoint.Scheme() == "unix" {
			cfg.SocketPath = strings.TrimPrefix(cfg.Endpoint.Host, "unix://")
		}
	}
	return &SidecarReaper{
		client:  c,
		cfg:     cfg,
		note:    NewDeathNote(),
		limiter: retry.NewRateLimiter(cfg.Rate, 1),
		logs:    newTailBuffer(logTail),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: dialTimeout}
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// DeathNote exposes the registered filter sets.
func (r *SidecarReaper) DeathNote() *DeathNote {
	return r.note
}

// ContainerID returns the sidecar container id, once started.
func (r *SidecarReaper) ContainerID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.containerID
}

// Addr returns the host:port the sidecar is dialed on, once started.
func (r *SidecarReaper) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// LastError returns the most recent transport error of the worker.
func (r *SidecarReaper) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Logs returns the tail of the sidecar's output captured during startup.
func (r *SidecarReaper) Logs() string {
	return r.logs.String()
}

// Register appends fs to the death note. The first call starts the sidecar
// and blocks until it acknowledges; a startup failure is returned by this
// and every later call.
func (r *SidecarReaper) Register(ctx context.Context, fs FilterSet) error {
	if r.isClosed() {
		return errors.New("reaper is closed")
	}
	if idx, added := r.note.Append(fs); added {
		logger.FromContext(ctx).Debug("registered filters for cleanup", "index", idx, "filters", fs.Encode())
	}
	r.startOnce.Do(func() {
		r.startErr = r.start(ctx)
	})
	return r.startErr
}

// RegisterAndWait registers fs and blocks until the sidecar has
// acknowledged it.
func (r *SidecarReaper) RegisterAndWait(ctx context.Context, fs FilterSet) error {
	if err := r.Register(ctx, fs); err != nil {
		return err
	}
	idx, _ := r.note.Append(fs)
	return r.note.WaitAcked(ctx, idx+1)
}

func (r *SidecarReaper) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *SidecarReaper) start(ctx context.Context) error {
	log := logger.FromContext(ctx)

	if err := daemon.PullImage(ctx, r.client, r.cfg.Image); err != nil {
		return err
	}

	cfg := &container.Config{
		Image:        r.cfg.Image,
		ExposedPorts: nat.PortSet{sidecarPort: struct{}{}},
		Labels: map[string]string{
			LabelMarker:        "true",
			LabelReaperSession: r.cfg.SessionID,
		},
	}
	hostCfg := &container.HostConfig{
		AutoRemove:   true,
		Binds:        []string{r.cfg.SocketPath + ":" + containerSocket},
		PortBindings: nat.PortMap{sidecarPort: []nat.PortBinding{{}}},
		Privileged:   r.cfg.Privileged,
	}
	resp, err := r.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "dockhand-reaper-"+r.cfg.SessionID)
	if err != nil {
		return fmt.Errorf("creating reaper container: %w", err)
	}
	r.mu.Lock()
	r.containerID = resp.ID
	r.mu.Unlock()

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		r.discard(ctx, resp.ID)
		return fmt.Errorf("starting reaper container: %w", err)
	}

	logCtx, stopLogs := context.WithCancel(ctx)
	defer stopLogs()
	r.followLogs(logCtx, resp.ID)

	port, err := r.waitForPort(ctx, resp.ID)
	if err != nil {
		log.Warn("reaper container did not publish its port", "logs", r.logs.String())
		r.discard(ctx, resp.ID)
		return fmt.Errorf("reaper container failed to start: %w", err)
	}
	addr := net.JoinHostPort(r.cfg.Endpoint.Hostname(), port)

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	r.mu.Lock()
	r.addr = addr
	r.cancel = cancel
	r.workerDone = done
	r.mu.Unlock()
	go r.run(workerCtx, done)

	waitCtx, cancelWait := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancelWait()
	if err := r.note.WaitAcked(waitCtx, 1); err != nil {
		cancel()
		<-done
		cause := r.LastError()
		if cause == nil {
			cause = err
		}
		log.Error("timed out waiting for reaper", "addr", addr, "logs", r.logs.String())
		return &StartupTimeoutError{Endpoint: addr, Timeout: r.cfg.Timeout, Logs: r.logs.String(), Cause: cause}
	}
	log.Info("reaper started", "container_id", resp.ID, "addr", addr)
	return nil
}

// discard force-removes a reaper container that never became usable.
// AutoRemove does not cover containers that were never started.
func (r *SidecarReaper) discard(ctx context.Context, id string) {
	err := r.client.ContainerRemove(context.WithoutCancel(ctx), id, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		logger.FromContext(ctx).Error("failed to remove reaper container", "container_id", id, "error", err)
	}
}

func (r *SidecarReaper) followLogs(ctx context.Context, id string) {
	rc, err := r.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		logger.FromContext(ctx).Debug("cannot follow reaper logs", "error", err)
		return
	}
	go func() {
		defer func() { _ = rc.Close() }()
		_, _ = stdcopy.StdCopy(r.logs, r.logs, rc)
	}()
	context.AfterFunc(ctx, func() { _ = rc.Close() })
}

// waitForPort polls inspect until the sidecar port has a host binding.
func (r *SidecarReaper) waitForPort(ctx context.Context, id string) (string, error) {
	var port string
	err := retry.UntilSuccess(ctx, portPollTimeout, portPollEvery, func(ctx context.Context) error {
		info, err := r.client.ContainerInspect(ctx, id)
		if err != nil {
			if errdefs.IsNotFound(err) {
				return retry.Permanent(err)
			}
			return err
		}
		if info.NetworkSettings == nil {
			return errors.New("no network settings yet")
		}
		for _, b := range info.NetworkSettings.Ports[sidecarPort] {
			if b.HostPort != "" {
				port = b.HostPort
				return nil
			}
		}
		return errors.New("port not mapped yet")
	})
	return port, err
}

// run keeps a connection to the sidecar, replaying unacknowledged entries
// after every reconnect.
func (r *SidecarReaper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	log := logger.FromContext(ctx)
	for {
		err := r.session(ctx)
		if ctx.Err() != nil {
			return
		}
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		log.Debug("reaper connection lost, reconnecting", "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (r *SidecarReaper) session(ctx context.Context) error {
	addr := r.Addr()
	conn, err := r.dial(ctx, addr)
	if err != nil {
		return &TransportError{Addr: addr, Op: "dial", Err: err}
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log := logger.FromContext(ctx)
	reg := NewFilterRegistry(conn, conn)
	idx := r.note.Acked()
	for {
		fs, err := r.note.Next(ctx, idx)
		if err != nil {
			return err
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		ok, err := reg.Register(fs)
		if err != nil {
			return &TransportError{Addr: addr, Op: "register", Err: err}
		}
		if !ok {
			log.Debug("reaper did not acknowledge, resending", "index", idx)
			continue
		}
		idx++
		r.note.Ack(idx)
	}
}

// Close stops the worker, which drops the connection; the sidecar then
// prunes every registered set after its reconnection timeout. With
// KillOnClose the sets are pruned here and the sidecar is killed.
func (r *SidecarReaper) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel, done, id := r.cancel, r.workerDone, r.containerID
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if !r.cfg.KillOnClose || id == "" {
		return nil
	}

	var errs *multierror.Error
	if _, err := NewPruner(r.client).PruneAll(ctx, r.note.Entries()); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := r.client.ContainerKill(ctx, id, "SIGKILL"); err != nil && !errdefs.IsNotFound(err) {
		errs = multierror.Append(errs, fmt.Errorf("killing reaper container: %w", err))
	}
	return errs.ErrorOrNil()
}
