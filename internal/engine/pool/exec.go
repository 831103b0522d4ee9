package pool

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/retry"
	"github.com/irahardianto/dockhand/internal/platform/logger"
)

// ExecResult holds the result of a command run inside a container.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Executor runs commands inside containers.
type Executor struct {
	client daemon.Client
}

// NewExecutor creates a new Executor.
func NewExecutor(c daemon.Client) *Executor {
	return &Executor{client: c}
}

// Run executes command with sh -c inside a running container and returns
// its output. The timeout bounds the wait for the output to end.
func (e *Executor) Run(ctx context.Context, containerID, command string, timeout time.Duration) (*ExecResult, error) {
	log := logger.FromContext(ctx)
	log.Debug("exec started", "container_id", containerID, "command", command, "timeout", timeout)
	start := time.Now()

	// Tty must be false for stdcopy to separate stdout and stderr.
	execConfig := container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}
	created, err := e.client.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		return nil, fmt.Errorf("creating exec: %w", err)
	}

	resp, err := e.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: false})
	if err != nil {
		return nil, fmt.Errorf("attaching to exec: %w", err)
	}
	defer resp.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	outputDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, resp.Reader)
		outputDone <- err
	}()

	select {
	case err := <-outputDone:
		if err != nil {
			return nil, fmt.Errorf("reading output: %w", err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, context.DeadlineExceeded
	}

	inspect, err := e.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("inspecting exec: %w", err)
	}

	result := &ExecResult{
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.Bytes(),
		ExitCode: inspect.ExitCode,
		Duration: time.Since(start),
	}
	log.Debug("exec completed", "container_id", containerID, "exit_code", result.ExitCode, "duration", result.Duration)
	return result, nil
}

// WaitReady runs command every interval until it exits 0 or timeout passes.
func (e *Executor) WaitReady(ctx context.Context, containerID, command string, timeout, interval time.Duration) error {
	err := retry.UntilSuccess(ctx, timeout, interval, func(ctx context.Context) error {
		res, err := e.Run(ctx, containerID, command, timeout)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("readiness check exited %d: %s", res.ExitCode, bytes.TrimSpace(res.Stderr))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("waiting for container %s: %w", containerID, err)
	}
	return nil
}
