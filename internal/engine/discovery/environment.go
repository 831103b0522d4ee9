package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/irahardianto/dockhand/internal/engine/config"
	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/retry"
)

// Environment is the view of the host that strategies consult. Every
// function is injectable so strategies can be tested without a daemon.
type Environment struct {
	Getenv   func(string) string
	GOOS     string
	UID      int
	HomeDir  string
	Stat     func(name string) (fs.FileInfo, error)
	Access   func(path string) error
	LookPath func(file string) (string, error)
	Command  func(ctx context.Context, name string, args ...string) ([]byte, error)
	Connect  func(ep daemon.Endpoint) (daemon.Client, error)
	Config   *config.GlobalConfig

	// Limiter is shared by every ping in the process.
	Limiter      *retry.RateLimiter
	PingTimeout  time.Duration
	PingInterval time.Duration
}

const (
	defaultPingRate     = 10
	defaultPingInterval = 100 * time.Millisecond
)

// DefaultEnvironment returns the environment of the running process.
func DefaultEnvironment(cfg *config.GlobalConfig) *Environment {
	if cfg == nil {
		cfg = &config.GlobalConfig{PingTimeout: config.DefaultPingTimeout}
	}
	home, _ := os.UserHomeDir()
	return &Environment{
		Getenv:       os.Getenv,
		GOOS:         runtime.GOOS,
		UID:          os.Getuid(),
		HomeDir:      home,
		Stat:         os.Stat,
		Access:       accessRW,
		LookPath:     exec.LookPath,
		Command:      runCommand,
		Connect:      daemon.ConnectClient,
		Config:       cfg,
		Limiter:      retry.NewRateLimiter(defaultPingRate, 1),
		PingTimeout:  cfg.PingTimeout,
		PingInterval: defaultPingInterval,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output() // #nosec G204 -- fixed executables chosen by strategies.
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%s %v: %w: %s", name, args, err, exitErr.Stderr)
		}
		return out, fmt.Errorf("%s %v: %w", name, args, err)
	}
	return out, nil
}

// IsSocket reports whether path exists and is a unix socket.
func (e *Environment) IsSocket(path string) bool {
	info, err := e.Stat(path)
	return err == nil && info.Mode()&fs.ModeSocket != 0
}

// Ping connects to ep and pings it through the shared rate limiter until it
// answers or the ping timeout elapses. Failures that retrying cannot fix
// (missing socket, permissions, TLS, API version, a non-linux engine) end
// the loop at once.
func (e *Environment) Ping(ctx context.Context, ep daemon.Endpoint) error {
	cli, err := e.Connect(ep)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	timeout := e.PingTimeout
	if timeout <= 0 {
		timeout = config.DefaultPingTimeout
	}
	interval := e.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	limiter := e.Limiter
	if limiter == nil {
		limiter = retry.Unlimited()
	}

	return retry.UntilSuccess(ctx, timeout, interval, func(ctx context.Context) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		ping, err := cli.Ping(ctx)
		if err != nil {
			if !daemon.Classify(err).Transient() {
				return retry.Permanent(err)
			}
			return err
		}
		if ping.OSType != "" && ping.OSType != "linux" {
			return retry.Permanent(fmt.Errorf("%w: OSType %q", daemon.ErrNotLinux, ping.OSType))
		}
		return nil
	})
}
