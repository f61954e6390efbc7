// Package housekeeper implements the pool's periodic maintenance cycle:
// maxLifetime eviction, idle-timeout eviction, keep-alive validation, and
// refill, all gated by an exclusive CAS claim so overlapping cycles (a slow
// cycle still running when the next tick fires) can never double-handle the
// same connection.
package housekeeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quillsql/quill/driverapi"
	"github.com/quillsql/quill/pool/bag"
	"github.com/quillsql/quill/pool/breaker"
	"github.com/quillsql/quill/pool/metrics"
	"github.com/quillsql/quill/pool/pconn"
)

// maxConcurrentValidations bounds how many keep-alive probes run at once per
// cycle, so a large idle set can't spawn an unbounded goroutine fan-out.
const maxConcurrentValidations = 8

// Config carries the timing knobs the housekeeper needs from pool config.
type Config struct {
	MaxLifetime         time.Duration
	IdleTimeout         time.Duration
	MinConnections      int
	ValidationTimeout   time.Duration
	KeepaliveTime       time.Duration
	MaintenanceInterval time.Duration
}

// Factory creates a replacement connection during refill.
type Factory interface {
	Create(ctx context.Context, connCfg driverapi.Config) (*pconn.PooledConnection, error)
}

// HouseKeeper runs the periodic maintenance cycle against a shared bag.
type HouseKeeper struct {
	cfg     Config
	bag     *bag.Bag[*pconn.PooledConnection]
	breaker *breaker.Breaker
	factory Factory
	connCfg driverapi.Config
	tracker metrics.Tracker
	log     *slog.Logger

	lastValidated sync.Map // connID uint64 -> time.Time

	stop chan struct{}
	done chan struct{}
}

// New builds a HouseKeeper. It does not start running until Start is called.
func New(cfg Config, b *bag.Bag[*pconn.PooledConnection], br *breaker.Breaker, factory Factory, connCfg driverapi.Config, tracker metrics.Tracker, log *slog.Logger) *HouseKeeper {
	if tracker == nil {
		tracker = metrics.NoopTracker{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &HouseKeeper{
		cfg:     cfg,
		bag:     b,
		breaker: br,
		factory: factory,
		connCfg: connCfg,
		tracker: tracker,
		log:     log,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the maintenance loop until Stop is called.
func (h *HouseKeeper) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.MaintenanceInterval)
	go func() {
		defer close(h.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.runCycle(ctx)
			case <-h.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the maintenance loop and waits for the in-flight cycle, if any,
// to finish.
func (h *HouseKeeper) Stop() {
	close(h.stop)
	<-h.done
}

// runCycle performs one maintenance pass over every tracked connection.
// max-lifetime eviction always replaces the connection it removes, since it
// is a mandatory health action, not a capacity decision. idle-timeout
// eviction is a deliberate shrink and is never replaced one-for-one; the
// pool is only topped back up to MinConnections once at the end of the
// cycle, so idle-timeout eviction above the floor actually shrinks the pool.
func (h *HouseKeeper) runCycle(ctx context.Context) {
	entries := h.bag.Values()
	healthRefills := 0

	sem := make(chan struct{}, maxConcurrentValidations)
	var wg sync.WaitGroup

	for _, pc := range entries {
		// The exclusive Idle->Reserved CAS gate: whichever goroutine wins it
		// — this cycle, a concurrently overlapping cycle, or a borrower —
		// is the only one allowed to touch this entry until it releases it.
		if !pc.CompareAndSetState(bag.StateNotInUse, bag.StateReserved) {
			continue
		}

		if pc.IsExpired(h.cfg.MaxLifetime) {
			h.evict(pc, "max_lifetime_exceeded")
			healthRefills++
			continue
		}

		if h.bag.Len() > h.cfg.MinConnections && pc.IsIdleTimedOut(h.cfg.IdleTimeout) {
			h.evict(pc, "idle_timeout")
			continue
		}

		if !h.dueForValidation(pc) {
			h.bag.Release(pc)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(pc *pconn.PooledConnection) {
			defer wg.Done()
			defer func() { <-sem }()
			h.validate(ctx, pc)
		}(pc)
	}

	wg.Wait()

	for i := 0; i < healthRefills; i++ {
		h.refill(ctx)
	}
	for deficit := h.cfg.MinConnections - h.bag.Len(); deficit > 0; deficit-- {
		h.refill(ctx)
	}

	h.tracker.SetGauge("pool_size", float64(h.bag.Len()))
}

func (h *HouseKeeper) dueForValidation(pc *pconn.PooledConnection) bool {
	v, ok := h.lastValidated.Load(pc.ID())
	if !ok {
		return true
	}
	return time.Since(v.(time.Time)) >= h.cfg.KeepaliveTime
}

func (h *HouseKeeper) validate(ctx context.Context, pc *pconn.PooledConnection) {
	start := time.Now()
	valid := pc.Validate(ctx, h.cfg.ValidationTimeout)
	h.tracker.RecordValidation(time.Since(start))
	h.lastValidated.Store(pc.ID(), time.Now())

	if !valid {
		h.log.Warn("keepalive validation failed", "conn_id", pc.ID())
		h.evict(pc, "validation_failed")
		h.refill(ctx)
		return
	}
	h.bag.Release(pc)
}

func (h *HouseKeeper) evict(pc *pconn.PooledConnection, reason string) {
	pc.MarkRemoved()
	h.bag.Remove(pc, func(e *pconn.PooledConnection) bool { return e.ID() == pc.ID() })
	if err := pc.Close(); err != nil {
		h.log.Warn("error closing evicted connection", "conn_id", pc.ID(), "reason", reason, "error", err)
	} else {
		h.log.Info("connection evicted", "conn_id", pc.ID(), "reason", reason)
	}
	h.tracker.IncrementRemovals()
	h.lastValidated.Delete(pc.ID())
}

// refill attempts to create one replacement connection through the circuit
// breaker. A breaker-open or creation failure is logged and swallowed — the
// next cycle will try again.
func (h *HouseKeeper) refill(ctx context.Context) {
	err := h.breaker.Call(ctx, func(ctx context.Context) error {
		start := time.Now()
		pc, err := h.factory.Create(ctx, h.connCfg)
		if err != nil {
			return err
		}
		h.tracker.RecordCreation(time.Since(start))
		h.bag.Add(pc)
		return nil
	})
	if err != nil {
		h.log.Warn("housekeeper refill failed", "error", err)
	}
}
