// Package pool ties the connection-pool components together behind a single
// public façade, PooledDataSource: the entry point an application actually
// constructs and borrows connections from.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quillsql/quill/driverapi"
	"github.com/quillsql/quill/pool/bag"
	"github.com/quillsql/quill/pool/breaker"
	"github.com/quillsql/quill/pool/housekeeper"
	"github.com/quillsql/quill/pool/metrics"
	"github.com/quillsql/quill/pool/pconn"
	"github.com/quillsql/quill/pool/poolcfg"
	"github.com/quillsql/quill/pool/poolerr"
	"github.com/quillsql/quill/pool/sizer"
	"github.com/quillsql/quill/pool/telemetry"
)

// Options customizes a DataSource beyond the required Config and Factory.
type Options struct {
	Tracker   metrics.Tracker
	Telemetry *telemetry.Tracer
	Logger    *slog.Logger
}

// DataSource is the pool's public façade: PooledDataSource from the
// component design, generalized over any driverapi.Factory (in practice
// driverapi/mysqldriver.Factory).
type DataSource struct {
	cfg     *poolcfg.Config
	connCfg driverapi.Config
	factory driverapi.Factory

	bag     *bag.Bag[*pconn.PooledConnection]
	breaker *breaker.Breaker
	hk      *housekeeper.HouseKeeper
	sizer   *sizer.Sizer
	tracker metrics.Tracker
	trace   *telemetry.Tracer
	log     *slog.Logger

	nextID atomic.Uint64
	closed atomic.Bool

	localLists sync.Pool

	hkCancel context.CancelFunc
}

// hkFactoryAdapter adapts a driverapi.Factory + driverapi.Config into the
// housekeeper.Factory interface, assigning fresh identities. It calls the
// factory directly: the housekeeper already runs each refill through the
// shared circuit breaker.
type hkFactoryAdapter struct {
	ds *DataSource
}

func (a hkFactoryAdapter) Create(ctx context.Context, connCfg driverapi.Config) (*pconn.PooledConnection, error) {
	c, err := a.ds.factory.Create(ctx, connCfg)
	if err != nil {
		return nil, err
	}
	a.ds.tracker.IncrementCreations()
	return pconn.New(a.ds.nextID.Add(1), c), nil
}

// FromConfig builds and warms up a DataSource from cfg and factory.
func FromConfig(ctx context.Context, cfg *poolcfg.Config, factory driverapi.Factory, opts Options) (*DataSource, error) {
	if err := poolcfg.Validate(cfg); err != nil {
		return nil, err
	}

	tracker := opts.Tracker
	if tracker == nil {
		tracker = metrics.NoopTracker{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	trace := opts.Telemetry
	if trace == nil {
		trace = telemetry.New(telemetry.Config{Enabled: false})
	}

	ds := &DataSource{
		cfg:     cfg,
		connCfg: toDriverConfig(cfg),
		factory: factory,
		bag:     bag.New[*pconn.PooledConnection](),
		tracker: tracker,
		trace:   trace,
		log:     log,
		localLists: sync.Pool{
			New: func() any { return bag.NewFastList[*pconn.PooledConnection]() },
		},
	}
	ds.breaker = breaker.New(breaker.Config{
		FailureThreshold: 5,
		ResetTimeout:     time.Second,
		MaxResetTimeout:  time.Minute,
	}, log)

	for i := 0; i < cfg.MinConnections; i++ {
		pc, err := ds.createConn(ctx)
		if err != nil {
			log.Warn("warm-up connection failed", "error", err)
			continue
		}
		ds.bag.Add(pc)
	}

	ds.hk = housekeeper.New(housekeeper.Config{
		MaxLifetime:         cfg.MaxLifetime,
		IdleTimeout:         cfg.IdleTimeout,
		MinConnections:      cfg.MinConnections,
		ValidationTimeout:   cfg.ValidationTimeout,
		KeepaliveTime:       cfg.KeepaliveTime,
		MaintenanceInterval: cfg.MaintenanceInterval,
	}, ds.bag, ds.breaker, hkFactoryAdapter{ds: ds}, ds.connCfg, tracker, log)

	hkCtx, cancel := context.WithCancel(context.Background())
	ds.hkCancel = cancel
	ds.hk.Start(hkCtx)

	if cfg.AdaptiveSizing {
		ds.sizer = sizer.New(sizer.Config{
			MinConnections:              cfg.MinConnections,
			MaxConnections:              cfg.MaxConnections,
			HighUtilization:             0.75,
			LowUtilization:              0.2,
			CriticalUtilization:         1.0,
			ConsecutiveReadingsRequired: 3,
			Cooldown:                    2 * time.Minute,
			Step:                        2,
			CriticalStep:                4,
		}, cfg.MinConnections, log)
		go ds.runAdaptiveSizing(hkCtx)
	}

	return ds, nil
}

func toDriverConfig(cfg *poolcfg.Config) driverapi.Config {
	return driverapi.Config{
		Host:                    cfg.Host,
		Port:                    cfg.Port,
		User:                    cfg.User,
		Password:                cfg.Password,
		Database:                cfg.Database,
		SSL:                     cfg.SSL,
		ConnectTimeout:          cfg.ConnectionTimeout,
		ReadTimeout:             cfg.ReadTimeout,
		AllowPublicKeyRetrieval: cfg.AllowPublicKeyRetrieval,
		MaxPacketSize:           cfg.MaxPacketSize,
		SocketOptions:           cfg.SocketOptions,
	}
}

func (ds *DataSource) createConn(ctx context.Context) (*pconn.PooledConnection, error) {
	var pc *pconn.PooledConnection
	err := ds.breaker.Call(ctx, func(ctx context.Context) error {
		start := time.Now()
		c, err := ds.factory.Create(ctx, ds.connCfg)
		if err != nil {
			return err
		}
		ds.tracker.RecordCreation(time.Since(start))
		ds.tracker.IncrementCreations()
		pc = pconn.New(ds.nextID.Add(1), c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// GetConnection borrows a connection, preferring the caller's own recently
// used entries, then the shared pool, growing the pool if room remains, and
// finally waiting up to cfg.ConnectionTimeout for one to free up.
func (ds *DataSource) GetConnection(ctx context.Context) (*pconn.Proxy, error) {
	if ds.closed.Load() {
		return nil, poolerr.ErrPoolClosed
	}

	ctx, span := ds.trace.StartSpan(ctx, "pool.get_connection")
	start := time.Now()
	var finalErr error
	defer func() { ds.trace.FinishSpan(span, finalErr) }()

	acquireCtx, cancel := context.WithTimeout(ctx, ds.cfg.ConnectionTimeout)
	defer cancel()

	// The list stays with this borrow until release, so no other goroutine
	// can take it from localLists while the release closure still uses it.
	local, _ := ds.localLists.Get().(*bag.FastList[*pconn.PooledConnection])

	// Steps 1-2: an entry may already be sitting in the caller's own list
	// or the shared bag; try that without waiting.
	immediateCtx, immediateCancel := context.WithCancel(acquireCtx)
	immediateCancel()
	pc, err := ds.bag.Borrow(immediateCtx, local)

	// Step 3: grow if there is still room under maxConnections.
	if err != nil && ds.bag.Len() < ds.cfg.MaxConnections {
		if created, cerr := ds.createConn(acquireCtx); cerr == nil {
			ds.bag.AddBorrowed(created)
			pc, err = created, nil
		}
	}

	// Step 4: wait for a direct handoff until the acquisition deadline.
	if err != nil {
		pc, err = ds.bag.Borrow(acquireCtx, local)
	}

	if err != nil {
		ds.localLists.Put(local)
		ds.tracker.IncrementTimeouts()
		finalErr = fmt.Errorf("%w", poolerr.ErrAcquisitionTimeout)
		return nil, finalErr
	}

	pc.MarkBorrowed()
	ds.tracker.RecordAcquisition(time.Since(start))
	ds.tracker.IncrementAcquisitions()

	var leakTimer *time.Timer
	if ds.cfg.LeakDetectionThreshold > 0 {
		connID := pc.ID()
		leakTimer = time.AfterFunc(ds.cfg.LeakDetectionThreshold, func() {
			ds.tracker.IncrementLeaksDetected()
			ds.log.Warn("possible connection leak", "conn_id", connID, "held_for", ds.cfg.LeakDetectionThreshold)
		})
	}

	var released atomic.Bool
	release := func() {
		if leakTimer != nil {
			leakTimer.Stop()
		}
		if !released.CompareAndSwap(false, true) {
			return
		}
		ds.tracker.RecordUsage(pc.HeldDuration())
		ds.tracker.IncrementReleases()
		pc.MarkIdle()
		ds.bag.Return(pc, local)
		ds.localLists.Put(local)
	}

	return pconn.NewProxy(pc, release), nil
}

// Status is a point-in-time description of pool health, for the admin
// surface and for tests.
type Status struct {
	Size          int
	BreakerState  string
	TargetSize    int
	MetricsSample metrics.Snapshot
}

// Status reports the pool's current state.
func (ds *DataSource) Status() Status {
	targetSize := ds.cfg.MaxConnections
	if ds.sizer != nil {
		targetSize = ds.sizer.TargetSize()
	}
	return Status{
		Size:          ds.bag.Len(),
		BreakerState:  ds.breaker.State().String(),
		TargetSize:    targetSize,
		MetricsSample: ds.tracker.Snapshot(),
	}
}

// Metrics exposes the configured Tracker directly, for an HTTP handler that
// wants to read it without going through Status.
func (ds *DataSource) Metrics() metrics.Tracker { return ds.tracker }

func (ds *DataSource) runAdaptiveSizing(ctx context.Context) {
	ticker := time.NewTicker(ds.cfg.AdaptiveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			size := ds.bag.Len()
			// Active connections approximate as size minus however many are
			// presently sitting idle/available in shared bookkeeping.
			idle := 0
			for _, e := range ds.bag.Values() {
				if e.Lifecycle() == pconn.Idle {
					idle++
				}
			}
			active := size - idle
			waiters := ds.bag.WaiterCount()
			newTarget, changed := ds.sizer.Observe(size, active, waiters)
			if changed {
				ds.reconcileSize(ctx, newTarget)
			}
		case <-ctx.Done():
			return
		}
	}
}

// reconcileSize grows or shrinks the pool toward target. Shrinking only
// removes idle connections; it never interrupts one in use.
func (ds *DataSource) reconcileSize(ctx context.Context, target int) {
	current := ds.bag.Len()
	if target > current {
		for i := 0; i < target-current; i++ {
			pc, err := ds.createConn(ctx)
			if err != nil {
				ds.log.Warn("adaptive grow failed", "error", err)
				return
			}
			ds.bag.Add(pc)
		}
		return
	}
	toRemove := current - target
	for _, e := range ds.bag.Values() {
		if toRemove <= 0 {
			break
		}
		if !e.CompareAndSetState(bag.StateNotInUse, bag.StateReserved) {
			continue
		}
		e.MarkRemoved()
		ds.bag.Remove(e, func(x *pconn.PooledConnection) bool { return x.ID() == e.ID() })
		e.Close()
		ds.tracker.IncrementRemovals()
		toRemove--
	}
}

// Close stops background maintenance and closes every tracked connection.
// Subsequent GetConnection calls return poolerr.ErrPoolClosed.
func (ds *DataSource) Close() error {
	if !ds.closed.CompareAndSwap(false, true) {
		return nil
	}
	if ds.hkCancel != nil {
		ds.hkCancel()
	}
	ds.hk.Stop()
	ds.bag.Close()
	for _, e := range ds.bag.Values() {
		e.Close()
	}
	return nil
}
