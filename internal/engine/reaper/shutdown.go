package reaper

import (
	"context"
	"sync"

	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/platform/logger"
	"github.com/irahardianto/dockhand/internal/platform/shutdown"
)

// ShutdownReaper prunes registered filter sets from this process on orderly
// exit. It is the fallback when the sidecar is disabled and protects nothing
// if the process is killed.
type ShutdownReaper struct {
	note   *DeathNote
	pruner *Pruner

	once   sync.Once
	report PruneReport
	err    error
}

// NewShutdownReaper creates the reaper and registers its sweep with scope.
func NewShutdownReaper(c daemon.Client, scope *shutdown.Scope) *ShutdownReaper {
	r := &ShutdownReaper{note: NewDeathNote(), pruner: NewPruner(c)}
	if scope != nil {
		scope.Register("reaper sweep", r.Close)
	}
	return r
}

// DeathNote exposes the registered filter sets.
func (r *ShutdownReaper) DeathNote() *DeathNote {
	return r.note
}

// Register records fs for the sweep.
func (r *ShutdownReaper) Register(ctx context.Context, fs FilterSet) error {
	if idx, added := r.note.Append(fs); added {
		logger.FromContext(ctx).Debug("registered filters for shutdown sweep", "index", idx, "filters", fs.Encode())
	}
	return nil
}

// Close sweeps every registered set once.
func (r *ShutdownReaper) Close(ctx context.Context) error {
	r.once.Do(func() {
		r.report, r.err = r.pruner.PruneAll(ctx, r.note.Entries())
	})
	return r.err
}

// Report returns what the sweep removed.
func (r *ShutdownReaper) Report() PruneReport {
	return r.report
}
