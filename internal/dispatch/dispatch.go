// Package dispatch drives one print request end to end: registry lookup,
// health gate, encode, pooled send. Every failure becomes a typed rejection;
// nothing in here ever takes the process down.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adcondev/printer-proxy/internal/config"
	"github.com/adcondev/printer-proxy/internal/escpos"
	"github.com/adcondev/printer-proxy/internal/health"
	"github.com/adcondev/printer-proxy/internal/pool"
	"github.com/adcondev/printer-proxy/internal/registry"
)

// Reason classifies why a request was rejected.
type Reason string

const (
	ReasonNotFound      Reason = "not_found"
	ReasonOffline       Reason = "offline"
	ReasonEncoding      Reason = "encoding_error"
	ReasonPoolExhausted Reason = "pool_exhausted"
	ReasonTransport     Reason = "transport_error"
)

// Rejection is the one error type Dispatch returns. Err carries the cause for
// logs; Reason is what callers branch on.
type Rejection struct {
	Reason Reason
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("rejected (%s): %v", r.Reason, r.Err)
	}
	return fmt.Sprintf("rejected (%s)", r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Err }

func reject(reason Reason, err error) *Rejection {
	return &Rejection{Reason: reason, Err: err}
}

// ReasonOf extracts the rejection reason from an error, if it is one.
func ReasonOf(err error) (Reason, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// Options tune the dispatcher's timeouts.
type Options struct {
	HealthTTL        time.Duration // cached health trust window (default 30s)
	ProbeTimeout     time.Duration // request-path probe bound (default 2s)
	BulkProbeTimeout time.Duration // background/bulk probe bound (default 500ms)
	SendTimeout      time.Duration // write deadline per payload (default 30s)
}

func (o Options) withDefaults() Options {
	if o.HealthTTL <= 0 {
		o.HealthTTL = 30 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 2 * time.Second
	}
	if o.BulkProbeTimeout <= 0 {
		o.BulkProbeTimeout = 500 * time.Millisecond
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 30 * time.Second
	}
	return o
}

// Dispatcher composes the registry, health gate, encoder, and pools.
type Dispatcher struct {
	registry *registry.Registry
	cache    *health.Cache
	prober   *health.Prober
	pools    *pool.Manager
	opts     Options
}

// New wires a dispatcher over already-constructed collaborators.
func New(reg *registry.Registry, cache *health.Cache, prober *health.Prober, pools *pool.Manager, opts Options) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		cache:    cache,
		prober:   prober,
		pools:    pools,
		opts:     opts.withDefaults(),
	}
}

// Dispatch runs one request through the state machine:
//
//	Received → Validated → HealthChecked → Encoded → Sent → Completed
//
// A nil return is Completed; every other outcome is a *Rejection. An offline
// printer is rejected before any pool or transport work happens.
func (d *Dispatcher) Dispatch(ctx context.Context, id string, doc escpos.Document) error {
	// Received → Validated
	printer, err := d.registry.Lookup(id)
	if err != nil {
		return reject(ReasonNotFound, err)
	}

	// Validated → HealthChecked
	rec := d.freshen(ctx, printer, d.opts.ProbeTimeout)
	if rec.Status != health.StatusOnline {
		log.Printf("[DISPATCH] 🔴 Printer '%s' offline, rejecting without send", id)
		return reject(ReasonOffline, fmt.Errorf("printer %q is offline", id))
	}

	// HealthChecked → Encoded
	payload, err := escpos.Encode(doc)
	if err != nil {
		return reject(ReasonEncoding, err)
	}

	// Encoded → Sent
	if err := d.send(ctx, printer, payload); err != nil {
		return err
	}

	// Sent → Completed
	log.Printf("[DISPATCH] ✅ Sent %d bytes to '%s' (%s)", len(payload), id, printer.Backend.Addr())
	return nil
}

// freshen returns a trustworthy health record for the printer, probing and
// writing back when the cached one is missing or stale.
func (d *Dispatcher) freshen(ctx context.Context, p config.Printer, probeTimeout time.Duration) health.Record {
	now := time.Now()
	if rec, ok := d.cache.Read(p.ID); ok && rec.FreshAt(now, d.opts.HealthTTL) {
		return rec
	}

	status := d.prober.Probe(ctx, p.ID, p.Backend.Addr(), probeTimeout)
	observed := time.Now()
	d.cache.Write(p.ID, status, observed)
	return health.Record{Status: status, ObservedAt: observed}
}

// send acquires a pooled connection, writes the payload, and releases the
// connection: back to the pool on success, closed on any transport error.
func (d *Dispatcher) send(ctx context.Context, p config.Printer, payload []byte) error {
	conn, err := d.pools.Acquire(ctx, p.ID, p.Backend.Addr())
	if err != nil {
		if errors.Is(err, pool.ErrExhausted) {
			return reject(ReasonPoolExhausted, err)
		}
		return reject(ReasonTransport, err)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(d.opts.SendTimeout)); err != nil {
		d.pools.Release(conn, false)
		return reject(ReasonTransport, err)
	}
	if _, err := conn.Write(payload); err != nil {
		d.pools.Release(conn, false)
		return reject(ReasonTransport, fmt.Errorf("write to %s: %w", p.Backend.Addr(), err))
	}
	_ = conn.SetWriteDeadline(time.Time{})

	d.pools.Release(conn, true)
	return nil
}

// HealthOf reports the printer's status, probing with the request-path bound
// when the cached record is stale.
func (d *Dispatcher) HealthOf(ctx context.Context, id string) (health.Record, error) {
	printer, err := d.registry.Lookup(id)
	if err != nil {
		return health.Record{}, reject(ReasonNotFound, err)
	}
	return d.freshen(ctx, printer, d.opts.ProbeTimeout), nil
}

// HealthOfAll reports every registered printer, refreshing stale entries with
// concurrent short-bound probes and joining on completion.
func (d *Dispatcher) HealthOfAll(ctx context.Context) map[string]health.Record {
	printers := d.registry.ListAll()
	records := make([]health.Record, len(printers))

	var g errgroup.Group
	for i, p := range printers {
		g.Go(func() error {
			records[i] = d.freshen(ctx, p, d.opts.BulkProbeTimeout)
			return nil
		})
	}
	_ = g.Wait() // freshen never fails, only classifies

	out := make(map[string]health.Record, len(printers))
	for i, p := range printers {
		out[p.ID] = records[i]
	}
	return out
}
