package reaper

import (
	"context"
	"sync"
)

// DeathNote is the append-only log of filter sets to prune when the session
// ends. Appenders may be many; one worker reads entries in order and moves
// the acknowledged cursor forward.
type DeathNote struct {
	mu      sync.Mutex
	entries []FilterSet
	index   map[string]int
	acked   int
	// changed is closed and replaced on every append and ack.
	changed chan struct{}
}

// NewDeathNote returns an empty death note.
func NewDeathNote() *DeathNote {
	return &DeathNote{
		index:   make(map[string]int),
		changed: make(chan struct{}),
	}
}

// Append records fs and returns its index. A set whose encoding is already
// present is not added again; its existing index is returned with added false.
func (d *DeathNote) Append(fs FilterSet) (idx int, added bool) {
	key := fs.Encode()

	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.index[key]; ok {
		return i, false
	}
	d.entries = append(d.entries, append(FilterSet(nil), fs...))
	idx = len(d.entries) - 1
	d.index[key] = idx
	d.broadcast()
	return idx, true
}

func (d *DeathNote) broadcast() {
	close(d.changed)
	d.changed = make(chan struct{})
}

// Len returns the number of entries.
func (d *DeathNote) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Entries returns a copy of every entry in order.
func (d *DeathNote) Entries() []FilterSet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]FilterSet(nil), d.entries...)
}

// Next blocks until entry idx exists or ctx is done.
func (d *DeathNote) Next(ctx context.Context, idx int) (FilterSet, error) {
	for {
		d.mu.Lock()
		if idx < len(d.entries) {
			fs := d.entries[idx]
			d.mu.Unlock()
			return fs, nil
		}
		wait := d.changed
		d.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ack marks every entry below n as acknowledged. The cursor never moves back.
func (d *DeathNote) Ack(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > len(d.entries) {
		n = len(d.entries)
	}
	if n > d.acked {
		d.acked = n
		d.broadcast()
	}
}

// Acked returns how many leading entries are acknowledged.
func (d *DeathNote) Acked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked
}

// WaitAcked blocks until at least n entries are acknowledged or ctx is done.
func (d *DeathNote) WaitAcked(ctx context.Context, n int) error {
	for {
		d.mu.Lock()
		if d.acked >= n {
			d.mu.Unlock()
			return nil
		}
		wait := d.changed
		d.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
