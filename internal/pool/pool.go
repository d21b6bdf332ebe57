// Package pool manages reusable TCP connections to printer backends. Each
// printer gets its own bounded pool so a flood of jobs for one device can
// never exhaust sockets for another, and fragile embedded hardware never sees
// more than a handful of simultaneous connections.
package pool

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"
)

var (
	// ErrExhausted means every permitted connection was busy for the whole
	// acquire wait.
	ErrExhausted = errors.New("connection pool exhausted")
	// ErrClosed means the manager was shut down.
	ErrClosed = errors.New("connection pool closed")
)

// DialFunc opens a backend connection. Swapped out in tests.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Options tune every per-printer pool. Zero fields fall back to defaults.
type Options struct {
	MaxPerPrinter  int           // live connections per printer (default 5)
	MaxAge         time.Duration // connection lifetime bound (default 5m)
	IdleTimeout    time.Duration // idle eviction bound (default 1m)
	AcquireTimeout time.Duration // wait bound at capacity (default 5s)
	Dial           DialFunc
}

func (o Options) withDefaults() Options {
	if o.MaxPerPrinter <= 0 {
		o.MaxPerPrinter = 5
	}
	if o.MaxAge <= 0 {
		o.MaxAge = 5 * time.Minute
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = time.Minute
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 5 * time.Second
	}
	if o.Dial == nil {
		d := &net.Dialer{}
		o.Dial = d.DialContext
	}
	return o
}

// Conn is a pooled transport handle. It is checked out by exactly one request
// at a time and must go back through Manager.Release.
type Conn struct {
	net.Conn
	createdAt time.Time
	lastUsed  time.Time
	pool      *printerPool
}

func (c *Conn) expired(now time.Time, maxAge, maxIdle time.Duration) bool {
	return now.Sub(c.createdAt) > maxAge || now.Sub(c.lastUsed) > maxIdle
}

// printerPool is the per-printer bounded set. The permits channel caps live
// connections: every open connection is either checked out (its permit held
// by a request) or sitting in idle.
type printerPool struct {
	id      string
	permits chan struct{}

	mu     sync.Mutex
	idle   []*Conn
	closed bool
}

// Manager keys pools by printer id. The map lock covers only pool lookup;
// unrelated printers never contend past it.
type Manager struct {
	opts Options

	mu     sync.RWMutex
	pools  map[string]*printerPool
	closed bool
}

// NewManager creates an empty manager. Pools appear lazily on first acquire.
func NewManager(opts Options) *Manager {
	return &Manager{
		opts:  opts.withDefaults(),
		pools: make(map[string]*printerPool),
	}
}

func (m *Manager) pool(id string) (*printerPool, error) {
	m.mu.RLock()
	p, ok := m.pools[id]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return p, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if p, ok = m.pools[id]; ok {
		return p, nil
	}
	p = &printerPool{
		id:      id,
		permits: make(chan struct{}, m.opts.MaxPerPrinter),
	}
	for i := 0; i < m.opts.MaxPerPrinter; i++ {
		p.permits <- struct{}{}
	}
	m.pools[id] = p
	return p, nil
}

// Acquire returns a connection for printer id, reusing an idle one when a
// valid one exists and dialing addr otherwise. At capacity the caller blocks
// until a connection is released or the acquire wait elapses (ErrExhausted).
func (m *Manager) Acquire(ctx context.Context, id, addr string) (*Conn, error) {
	p, err := m.pool(id)
	if err != nil {
		return nil, err
	}

	wait := time.NewTimer(m.opts.AcquireTimeout)
	defer wait.Stop()

	select {
	case <-p.permits:
	case <-wait.C:
		log.Printf("[POOL] 🚫 Acquire for '%s' timed out at capacity", id)
		return nil, ErrExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Permit held from here on: give it back on every failure path.
	now := time.Now()
	if c := p.popIdle(now, m.opts.MaxAge, m.opts.IdleTimeout); c != nil {
		return c, nil
	}

	netConn, err := m.opts.Dial(ctx, "tcp", addr)
	if err != nil {
		p.permits <- struct{}{}
		return nil, err
	}
	log.Printf("[POOL] 🔌 New connection for '%s' -> %s", id, addr)
	return &Conn{
		Conn:      netConn,
		createdAt: now,
		lastUsed:  now,
		pool:      p,
	}, nil
}

// popIdle returns the most recently used valid idle connection, closing any
// expired ones it walks past.
func (p *printerPool) popIdle(now time.Time, maxAge, maxIdle time.Duration) *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.closed || c.expired(now, maxAge, maxIdle) {
			_ = c.Close()
			continue
		}
		c.pool = p // cleared at release time; restore for the new checkout
		return c
	}
	return nil
}

// Release returns a connection after use. Healthy connections go back to the
// idle set with a fresh last-used stamp; unhealthy ones are closed and
// discarded. A pool never knowingly holds a broken handle.
func (m *Manager) Release(c *Conn, healthy bool) {
	if c == nil || c.pool == nil {
		return
	}
	p := c.pool
	c.pool = nil // a second Release is a no-op

	if healthy {
		p.mu.Lock()
		if p.closed {
			healthy = false
		} else {
			c.lastUsed = time.Now()
			p.idle = append(p.idle, c)
		}
		p.mu.Unlock()
	}
	if !healthy {
		if err := c.Close(); err != nil {
			log.Printf("[POOL] ⚠️ Error closing connection for '%s': %v", p.id, err)
		}
		log.Printf("[POOL] 🗑️ Discarded connection for '%s'", p.id)
	}

	p.permits <- struct{}{}
}

// ReapAll closes idle connections past their age or idle bound in every pool.
// Close errors are logged and swallowed; the reaper must never die over one
// socket.
func (m *Manager) ReapAll(now time.Time) int {
	m.mu.RLock()
	pools := make([]*printerPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	reaped := 0
	for _, p := range pools {
		p.mu.Lock()
		kept := p.idle[:0]
		for _, c := range p.idle {
			if c.expired(now, m.opts.MaxAge, m.opts.IdleTimeout) {
				if err := c.Close(); err != nil {
					log.Printf("[POOL] ⚠️ Error closing expired connection for '%s': %v", p.id, err)
				}
				reaped++
				continue
			}
			kept = append(kept, c)
		}
		p.idle = kept
		p.mu.Unlock()
	}
	if reaped > 0 {
		log.Printf("[POOL] 🧹 Reaped %d expired connection(s)", reaped)
	}
	return reaped
}

// Stats summarizes the pools for the service health endpoint.
type Stats struct {
	Printers  int `json:"printers"`
	IdleConns int `json:"idle_connections"`
}

// Stats counts pools and their idle connections.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{Printers: len(m.pools)}
	for _, p := range m.pools {
		p.mu.Lock()
		s.IdleConns += len(p.idle)
		p.mu.Unlock()
	}
	return s
}

// Shutdown closes every idle connection and fails all future acquires.
// Checked-out connections are closed when released.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	pools := make([]*printerPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	for _, p := range pools {
		p.mu.Lock()
		p.closed = true
		for _, c := range p.idle {
			_ = c.Close()
		}
		p.idle = nil
		p.mu.Unlock()
	}
}
