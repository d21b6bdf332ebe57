package health

import (
	"context"
	"log"
	"net"
	"time"

	"golang.org/x/sync/singleflight"
)

// DialFunc opens a transport connection. Swapped out in tests.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Prober classifies a backend as online or offline with a single bounded
// connect attempt. One failed attempt is conclusive (no retries), so the
// worst case added to a request is exactly one timeout interval.
//
// Concurrent probes for the same printer id are collapsed into one network
// attempt; latecomers wait for the in-flight result instead of piling onto an
// offline device.
type Prober struct {
	dial  DialFunc
	group singleflight.Group
}

// NewProber builds a prober over the default TCP dialer.
func NewProber() *Prober {
	d := &net.Dialer{}
	return &Prober{dial: d.DialContext}
}

// NewProberWithDial builds a prober with a custom dialer (tests).
func NewProberWithDial(dial DialFunc) *Prober {
	return &Prober{dial: dial}
}

// Probe checks whether addr accepts TCP connections within timeout. Refusal
// and timeout both mean offline. The id keys the in-flight dedup.
func (p *Prober) Probe(ctx context.Context, id, addr string, timeout time.Duration) Status {
	v, _, shared := p.group.Do(id, func() (interface{}, error) {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		conn, err := p.dial(dialCtx, "tcp", addr)
		if err != nil {
			if dialCtx.Err() != nil {
				// timeout logged apart from refusal, both count as offline
				log.Printf("[HEALTH] ⏰ Probe timeout for '%s' (%s)", id, addr)
			} else {
				log.Printf("[HEALTH] ❌ Probe failed for '%s' (%s): %v", id, addr, err)
			}
			return StatusOffline, nil
		}
		_ = conn.Close()
		return StatusOnline, nil
	})

	if shared {
		log.Printf("[HEALTH] 🔁 Probe for '%s' joined in-flight check", id)
	}
	return v.(Status)
}
