package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotLinux is returned when the daemon answers but does not run Linux containers.
var ErrNotLinux = errors.New("daemon is not running linux containers")

// Kind groups daemon failures by what the operator has to fix.
type Kind string

const (
	KindNotInstalled Kind = "not-installed"
	KindPermission   Kind = "permission"
	KindNotRunning   Kind = "not-running"
	KindTLS          Kind = "tls"
	KindAPIVersion   Kind = "api-version"
	KindNotLinux     Kind = "not-linux"
	KindTimeout      Kind = "timeout"
	KindUnknown      Kind = "unknown"
)

// PreflightError wraps a Docker connectivity error with a user-friendly message.
type PreflightError struct {
	Kind  Kind
	Hint  string
	Cause error
}

// Transient reports whether retrying the same endpoint may succeed.
func (e *PreflightError) Transient() bool {
	return e.Kind == KindNotRunning || e.Kind == KindTimeout || e.Kind == KindUnknown
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("❌ %s", e.Hint)
}

func (e *PreflightError) Unwrap() error {
	return e.Cause
}

// CheckDocker verifies the Docker daemon is available and runs Linux containers.
// Returns a PreflightError with context-specific hints on failure.
func CheckDocker(ctx context.Context, c Client) error {
	ping, err := c.Ping(ctx)
	if err == nil && ping.OSType != "" && ping.OSType != "linux" {
		err = fmt.Errorf("%w: OSType %q", ErrNotLinux, ping.OSType)
	}
	if err == nil {
		return nil
	}
	return Classify(err)
}

// Classify inspects the error to produce an actionable operator hint. It
// tells apart a missing daemon, a stopped one, a TLS problem and an API
// version mismatch.
func Classify(err error) *PreflightError {
	if errors.Is(err, ErrNotLinux) {
		return &PreflightError{
			Kind:  KindNotLinux,
			Hint:  "Docker answered but is not running Linux containers. Switch the engine to Linux containers.",
			Cause: err,
		}
	}
	if errors.Is(err, ErrTLSWithoutCerts) {
		return &PreflightError{
			Kind:  KindTLS,
			Hint:  "Docker TLS is enabled but DOCKER_CERT_PATH is not set.",
			Cause: err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &PreflightError{
			Kind:  KindTimeout,
			Hint:  "Docker did not answer in time. Check that the daemon is healthy and reachable.",
			Cause: err,
		}
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "x509") || strings.Contains(msg, "tls") || strings.Contains(msg, "certificate"):
		return &PreflightError{
			Kind:  KindTLS,
			Hint:  "Docker is reachable but TLS is misconfigured. Check DOCKER_TLS_VERIFY and the certificates in DOCKER_CERT_PATH.",
			Cause: err,
		}
	case strings.Contains(msg, "client version") || strings.Contains(msg, "api version") ||
		strings.Contains(msg, "too new") || strings.Contains(msg, "too old"):
		return &PreflightError{
			Kind:  KindAPIVersion,
			Hint:  "Docker is reachable but its API version is not supported. Upgrade the Docker engine.",
			Cause: err,
		}
	case strings.Contains(msg, "permission denied"):
		return &PreflightError{
			Kind:  KindPermission,
			Hint:  "Docker permission denied. Run: sudo usermod -aG docker $USER, then re-login.",
			Cause: err,
		}
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "is the docker daemon running"):
		return &PreflightError{
			Kind:  KindNotRunning,
			Hint:  "Docker is not running. Start it with: sudo systemctl start docker",
			Cause: err,
		}
	case strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded"):
		return &PreflightError{
			Kind:  KindTimeout,
			Hint:  "Docker did not answer in time. Check that the daemon is healthy and reachable.",
			Cause: err,
		}
	case strings.Contains(msg, "no such file or directory") || strings.Contains(msg, "not found") ||
		strings.Contains(msg, "does not exist") || strings.Contains(msg, "cannot find the file"):
		return &PreflightError{
			Kind:  KindNotInstalled,
			Hint:  "Docker is required but not found. Install it from https://docker.com",
			Cause: err,
		}
	default:
		return &PreflightError{
			Kind:  KindUnknown,
			Hint:  "Docker is required but not found. Install it from https://docker.com",
			Cause: err,
		}
	}
}
