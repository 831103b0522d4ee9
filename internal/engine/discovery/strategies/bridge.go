package strategies

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Bridge forwards TCP connections on a loopback port to a unix socket.
type Bridge struct {
	ln     net.Listener
	target string

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
	done  chan struct{}
}

// StartBridge listens on 127.0.0.1 on a free port and forwards every
// connection to the unix socket at target.
func StartBridge(target string) (*Bridge, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		ln:     ln,
		target: target,
		conns:  make(map[net.Conn]struct{}),
		done:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.serve()
	return b, nil
}

// Addr returns the listening address.
func (b *Bridge) Addr() string {
	return b.ln.Addr().String()
}

// Close stops accepting and tears down every forwarded connection.
func (b *Bridge) Close() error {
	select {
	case <-b.done:
		return nil
	default:
		close(b.done)
	}
	err := b.ln.Close()
	b.mu.Lock()
	for c := range b.conns {
		_ = c.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
	return err
}

func (b *Bridge) serve() {
	defer b.wg.Done()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-b.done:
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}
		if !b.track(conn) {
			_ = conn.Close()
			return
		}
		b.wg.Add(1)
		go b.forward(conn)
	}
}

func (b *Bridge) track(c net.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.done:
		return false
	default:
	}
	b.conns[c] = struct{}{}
	return true
}

func (b *Bridge) untrack(c net.Conn) {
	b.mu.Lock()
	delete(b.conns, c)
	b.mu.Unlock()
	_ = c.Close()
}

func (b *Bridge) forward(client net.Conn) {
	defer b.wg.Done()
	defer b.untrack(client)

	var d net.Dialer
	upstream, err := d.DialContext(context.Background(), "unix", b.target)
	if err != nil {
		return
	}
	if !b.track(upstream) {
		_ = upstream.Close()
		return
	}
	defer b.untrack(upstream)

	var g errgroup.Group
	g.Go(func() error { return pipe(upstream, client) })
	g.Go(func() error { return pipe(client, upstream) })
	_ = g.Wait()
}

// pipe copies src to dst and half-closes dst so the peer sees EOF.
func pipe(dst, src net.Conn) error {
	_, err := io.Copy(dst, src)
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	} else {
		_ = dst.Close()
	}
	return err
}
