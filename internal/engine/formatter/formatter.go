// Package formatter renders dockhand reports for the terminal and as JSON.
package formatter

import (
	"errors"
	"fmt"
	"time"

	"github.com/irahardianto/dockhand/internal/engine/discovery"
	"github.com/irahardianto/dockhand/internal/engine/reaper"
)

// Attempt is one failed discovery strategy.
type Attempt struct {
	Strategy    string `json:"strategy"`
	Description string `json:"description"`
	Error       string `json:"error"`
	RootCause   string `json:"root_cause,omitempty"`
	Hint        string `json:"hint,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

// DiscoveryReport is the outcome of the discover command.
type DiscoveryReport struct {
	Found       bool      `json:"found"`
	Strategy    string    `json:"strategy,omitempty"`
	Description string    `json:"description,omitempty"`
	Host        string    `json:"host,omitempty"`
	TLSVerify   bool      `json:"tls_verify,omitempty"`
	Attempts    []Attempt `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
}

// ContainerResult is one provisioned project container.
type ContainerResult struct {
	Name       string `json:"name"`
	Image      string `json:"image"`
	ID         string `json:"id,omitempty"`
	Reused     bool   `json:"reused"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// UpReport is the outcome of provisioning a project.
type UpReport struct {
	SessionID  string            `json:"session_id"`
	OK         bool              `json:"ok"`
	DurationMs int64             `json:"duration_ms"`
	Containers []ContainerResult `json:"containers"`
}

// CleanupReport lists what a cleanup removed.
type CleanupReport struct {
	Scope          string   `json:"scope"`
	Containers     []string `json:"containers"`
	Networks       []string `json:"networks"`
	Volumes        []string `json:"volumes"`
	Images         []string `json:"images"`
	SpaceReclaimed uint64   `json:"space_reclaimed"`
	Error          string   `json:"error,omitempty"`
}

// Formatter renders reports as text.
type Formatter interface {
	FormatDiscovery(r DiscoveryReport) string
	FormatUp(r UpReport) string
	FormatCleanup(r CleanupReport) string
}

// NewDiscoveryReport builds a report from a resolution or its error.
func NewDiscoveryReport(res discovery.Resolution, err error, took time.Duration) DiscoveryReport {
	r := DiscoveryReport{DurationMs: took.Milliseconds()}
	failures := res.Attempts
	if err != nil {
		r.Error = err.Error()
		var nd *discovery.NoDaemonFoundError
		if errors.As(err, &nd) {
			failures = nd.Failures
			switch {
			case errors.Is(err, discovery.ErrFailFast):
				r.Error = discovery.ErrFailFast.Error()
			case len(failures) > 0:
				r.Error = fmt.Sprintf("could not find a valid Docker environment after %d attempt(s)", len(failures))
			}
		}
	} else {
		r.Found = true
		r.Strategy = res.Strategy
		r.Description = res.Description
		r.Host = res.Endpoint.Host
		r.TLSVerify = res.Endpoint.TLSVerify
	}
	r.Attempts = make([]Attempt, 0, len(failures))
	for _, f := range failures {
		a := Attempt{
			Strategy:    f.Strategy,
			Description: f.Description,
			Hint:        f.Hint,
			DurationMs:  f.Duration.Milliseconds(),
		}
		if f.Err != nil {
			a.Error = f.Err.Error()
			if root := discovery.RootCause(f.Err); root != nil && root.Error() != a.Error {
				a.RootCause = root.Error()
			}
		}
		r.Attempts = append(r.Attempts, a)
	}
	return r
}

// NewCleanupReport builds a report from a prune result.
func NewCleanupReport(scope string, p reaper.PruneReport, err error) CleanupReport {
	r := CleanupReport{
		Scope:          scope,
		Containers:     nonNil(p.Containers),
		Networks:       nonNil(p.Networks),
		Volumes:        nonNil(p.Volumes),
		Images:         nonNil(p.Images),
		SpaceReclaimed: p.SpaceReclaimed,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
