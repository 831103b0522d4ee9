// Package sidecar implements the reaper container's side of the filter
// protocol: it stores filter sets sent by client sessions and prunes them
// once every client has gone away.
package sidecar

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/irahardianto/dockhand/internal/engine/reaper"
	"github.com/irahardianto/dockhand/internal/platform/logger"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultAddr                = ":8080"
	DefaultConnectionTimeout   = 60 * time.Second
	DefaultReconnectionTimeout = 10 * time.Second
)

var errExpired = errors.New("no client connected before the deadline")

// Pruner removes resources matching filter sets.
type Pruner interface {
	PruneAll(ctx context.Context, sets []reaper.FilterSet) (reaper.PruneReport, error)
}

// Config tunes the server.
type Config struct {
	// ConnectionTimeout is how long to wait for the first client.
	ConnectionTimeout time.Duration
	// ReconnectionTimeout is how long to wait after the last client left.
	ReconnectionTimeout time.Duration
}

// Server accepts filter sets and prunes them on expiry.
type Server struct {
	cfg    Config
	pruner Pruner
	note   *reaper.DeathNote

	mu       sync.Mutex
	active   int
	ever     bool
	lastSeen time.Time
}

// New creates a server that prunes with p.
func New(p Pruner, cfg Config) *Server {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}
	if cfg.ReconnectionTimeout <= 0 {
		cfg.ReconnectionTimeout = DefaultReconnectionTimeout
	}
	return &Server{cfg: cfg, pruner: p, note: reaper.NewDeathNote()}
}

// Filters returns the stored filter sets in arrival order.
func (s *Server) Filters() []reaper.FilterSet {
	return s.note.Entries()
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) (reaper.PruneReport, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return reaper.PruneReport{}, err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts clients on ln until no client has been connected for the
// configured timeout or ctx is done, then prunes every stored filter set.
func (s *Server) Serve(ctx context.Context, ln net.Listener) (reaper.PruneReport, error) {
	log := logger.FromContext(ctx)
	log.Info("reaper listening", "addr", ln.Addr().String())

	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = ln.Close() })
	defer stop()

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			s.connected()
			g.Go(func() error {
				defer s.disconnected()
				s.handle(gctx, conn)
				return nil
			})
		}
	})
	g.Go(func() error { return s.watch(gctx) })

	err := g.Wait()
	if errors.Is(err, errExpired) || (err == nil && ctx.Err() != nil) {
		err = nil
	}
	if err != nil {
		return reaper.PruneReport{}, err
	}

	sets := s.note.Entries()
	log.Info("pruning registered filters", "count", len(sets))
	return s.pruner.PruneAll(context.WithoutCancel(ctx), sets)
}

func (s *Server) connected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active++
	s.ever = true
}

func (s *Server) disconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	s.lastSeen = time.Now()
}

// expired reports whether the server should shut down at now.
func (s *Server) expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active > 0 {
		return false
	}
	if !s.ever {
		return now.Sub(s.lastSeen) >= s.cfg.ConnectionTimeout
	}
	return now.Sub(s.lastSeen) >= s.cfg.ReconnectionTimeout
}

func (s *Server) watch(ctx context.Context) error {
	interval := min(s.cfg.ConnectionTimeout, s.cfg.ReconnectionTimeout) / 10
	interval = max(interval, 10*time.Millisecond)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if s.expired(now) {
				logger.FromContext(ctx).Info("no clients connected, shutting down")
				return errExpired
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	log := logger.FromContext(ctx).With("remote", conn.RemoteAddr().String())
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log.Debug("client connected")
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Debug("client read failed", "error", err)
			}
			log.Debug("client disconnected")
			return
		}
		fs, err := reaper.ParseFilterSet(line)
		if err != nil {
			log.Warn("ignoring malformed filter line", "error", err)
			if _, err := io.WriteString(conn, "ERR\n"); err != nil {
				return
			}
			continue
		}
		if idx, added := s.note.Append(fs); added {
			log.Info("adding filter", "index", idx, "filters", fs.Encode())
		}
		if _, err := io.WriteString(conn, reaper.AckToken+"\n"); err != nil {
			return
		}
	}
}
