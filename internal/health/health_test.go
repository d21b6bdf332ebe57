package health

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheReadWrite(t *testing.T) {
	c := NewCache(5 * time.Minute)

	if _, ok := c.Read("kasir_1"); ok {
		t.Fatal("empty cache returned a record")
	}

	now := time.Now()
	c.Write("kasir_1", StatusOnline, now)

	r, ok := c.Read("kasir_1")
	if !ok {
		t.Fatal("record missing after Write")
	}
	if r.Status != StatusOnline || !r.ObservedAt.Equal(now) {
		t.Errorf("record = %+v", r)
	}

	// overwrite
	later := now.Add(time.Second)
	c.Write("kasir_1", StatusOffline, later)
	r, _ = c.Read("kasir_1")
	if r.Status != StatusOffline || !r.ObservedAt.Equal(later) {
		t.Errorf("record after overwrite = %+v", r)
	}
}

func TestRecordFreshness(t *testing.T) {
	ttl := 30 * time.Second
	now := time.Now()

	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"just written", 0, true},
		{"within ttl", 29 * time.Second, true},
		{"exactly ttl", 30 * time.Second, true},
		{"past ttl", 31 * time.Second, false},
		{"ancient", time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Record{Status: StatusOnline, ObservedAt: now.Add(-tt.age)}
			if got := r.FreshAt(now, ttl); got != tt.want {
				t.Errorf("FreshAt(age %v) = %v; want %v", tt.age, got, tt.want)
			}
		})
	}
}

func TestCacheSweep(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Now()

	c.Write("fresh", StatusOnline, now)
	c.Write("stale_but_retained", StatusOffline, now.Add(-45*time.Second))
	c.Write("expired", StatusOffline, now.Add(-2*time.Minute))

	removed := c.Sweep(now)
	if removed != 1 {
		t.Errorf("Sweep removed %d; want 1", removed)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d; want 2", c.Len())
	}
	// retention is independent of the freshness TTL: the stale record stays
	if _, ok := c.Read("stale_but_retained"); !ok {
		t.Error("sweep dropped a record inside the retention bound")
	}
	if _, ok := c.Read("expired"); ok {
		t.Error("sweep kept a record past the retention bound")
	}
}

func TestProbeOnline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	p := NewProber()
	if got := p.Probe(context.Background(), "p1", ln.Addr().String(), 2*time.Second); got != StatusOnline {
		t.Errorf("Probe = %v; want online", got)
	}
}

func TestProbeRefusedIsOffline(t *testing.T) {
	// grab a port and close it so the connect is refused
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	p := NewProber()
	start := time.Now()
	if got := p.Probe(context.Background(), "p1", addr, 2*time.Second); got != StatusOffline {
		t.Errorf("Probe = %v; want offline", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("refused probe took %v; want fail-fast", elapsed)
	}
}

func TestProbeTimeoutIsOffline(t *testing.T) {
	p := NewProberWithDial(func(ctx context.Context, _, _ string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	got := p.Probe(context.Background(), "p1", "10.255.255.1:9100", 50*time.Millisecond)
	if got != StatusOffline {
		t.Errorf("Probe = %v; want offline on timeout", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("probe overran its bound: %v", elapsed)
	}
}

func TestProbeDedupPerPrinter(t *testing.T) {
	var dials atomic.Int32
	release := make(chan struct{})

	p := NewProberWithDial(func(ctx context.Context, _, _ string) (net.Conn, error) {
		dials.Add(1)
		<-release
		return nil, errors.New("refused")
	})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Status, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Probe(context.Background(), "kasir_1", "192.168.10.21:9100", time.Second)
		}(i)
	}

	// let all callers pile up on the single in-flight probe
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := dials.Load(); n != 1 {
		t.Errorf("concurrent burst issued %d dials; want 1", n)
	}
	for i, r := range results {
		if r != StatusOffline {
			t.Errorf("caller %d got %v; want shared offline result", i, r)
		}
	}
}

func TestProbeDifferentPrintersDoNotShare(t *testing.T) {
	var dials atomic.Int32
	p := NewProberWithDial(func(ctx context.Context, _, _ string) (net.Conn, error) {
		dials.Add(1)
		return nil, errors.New("refused")
	})

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			p.Probe(context.Background(), id, "10.0.0.1:9100", time.Second)
		}(id)
	}
	wg.Wait()

	if n := dials.Load(); n != 3 {
		t.Errorf("3 distinct printers issued %d dials; want 3", n)
	}
}
