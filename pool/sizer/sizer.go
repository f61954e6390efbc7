// Package sizer implements the pool's AdaptivePoolSizer: hysteresis-based
// target-size adjustment driven by consecutive high/low utilization
// readings, rate-limited by a cooldown window.
package sizer

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls the sizer's thresholds and pacing.
type Config struct {
	MinConnections int
	MaxConnections int

	// HighUtilization and LowUtilization are the readings that count
	// toward a grow or shrink decision, respectively.
	HighUtilization float64
	LowUtilization  float64

	// CriticalUtilization, reached while at least one borrower is waiting,
	// triggers an immediate larger jump without waiting for
	// ConsecutiveReadingsRequired, bypassing hysteresis (but not Cooldown)
	// for a pool that is clearly about to run out of connections.
	CriticalUtilization float64

	// ConsecutiveReadingsRequired is how many back-to-back high (or low)
	// readings are needed before the sizer acts, to avoid reacting to a
	// single noisy sample.
	ConsecutiveReadingsRequired int

	// Cooldown is the minimum time between adjustments.
	Cooldown time.Duration

	// Step is the normal grow increment. CriticalStep is used instead when
	// CriticalUtilization is hit. Shrinks always remove one connection.
	Step         int
	CriticalStep int
}

// snapshot is the sizer's lock-light, atomically-swapped read state —
// adapted from the idiom of swapping an immutable struct behind atomic.Value
// so Status() reads never contend with an in-flight Observe.
type snapshot struct {
	targetSize     int
	lastAdjustment time.Time
}

// Sizer tracks utilization readings and decides when the pool's target size
// should change.
type Sizer struct {
	cfg Config
	log *slog.Logger

	mu              sync.Mutex
	consecutiveHigh int
	consecutiveLow  int

	current atomic.Value // snapshot
}

// New builds a Sizer starting at initialSize.
func New(cfg Config, initialSize int, log *slog.Logger) *Sizer {
	if log == nil {
		log = slog.Default()
	}
	s := &Sizer{cfg: cfg, log: log}
	s.current.Store(snapshot{targetSize: initialSize})
	return s
}

// TargetSize returns the sizer's current recommended pool size.
func (s *Sizer) TargetSize() int {
	return s.current.Load().(snapshot).targetSize
}

// Observe records one utilization reading (activeCount out of currentSize,
// with waiters borrowers currently blocked waiting for a direct handoff) and
// returns the new target size and whether it changed from the previous one.
// A nonzero waiter count counts as a high reading on its own, and arms the
// critical jump alongside CriticalUtilization, since waiters mean the pool
// is already too small regardless of the instantaneous utilization ratio.
func (s *Sizer) Observe(currentSize, activeCount, waiters int) (newSize int, changed bool) {
	if currentSize <= 0 {
		return s.TargetSize(), false
	}
	utilization := float64(activeCount) / float64(currentSize)

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.current.Load().(snapshot)

	if s.cfg.CriticalUtilization > 0 && utilization >= s.cfg.CriticalUtilization && waiters > 0 && s.cooldownElapsed(snap) {
		s.consecutiveHigh = 0
		s.consecutiveLow = 0
		return s.adjust(snap, s.cfg.CriticalStep)
	}

	switch {
	case utilization >= s.cfg.HighUtilization || waiters > 0:
		s.consecutiveHigh++
		s.consecutiveLow = 0
		if s.consecutiveHigh >= s.cfg.ConsecutiveReadingsRequired && s.cooldownElapsed(snap) {
			s.consecutiveHigh = 0
			return s.adjust(snap, s.cfg.Step)
		}
	case utilization <= s.cfg.LowUtilization:
		s.consecutiveLow++
		s.consecutiveHigh = 0
		if s.consecutiveLow >= s.cfg.ConsecutiveReadingsRequired && s.cooldownElapsed(snap) {
			s.consecutiveLow = 0
			// A shrink resets the cooldown exactly like a grow does, so the
			// pool can't immediately grow back right after shrinking. Shrink
			// by exactly one connection at a time, never the grow Step.
			return s.adjust(snap, -1)
		}
	default:
		s.consecutiveHigh = 0
		s.consecutiveLow = 0
	}

	return snap.targetSize, false
}

func (s *Sizer) cooldownElapsed(snap snapshot) bool {
	return snap.lastAdjustment.IsZero() || time.Since(snap.lastAdjustment) >= s.cfg.Cooldown
}

// adjust applies delta to the current target size, clamped to
// [MinConnections, MaxConnections], and stores the new snapshot.
func (s *Sizer) adjust(snap snapshot, delta int) (int, bool) {
	next := snap.targetSize + delta
	if next < s.cfg.MinConnections {
		next = s.cfg.MinConnections
	}
	if next > s.cfg.MaxConnections {
		next = s.cfg.MaxConnections
	}
	changed := next != snap.targetSize
	newSnap := snapshot{targetSize: next, lastAdjustment: time.Now()}
	s.current.Store(newSnap)
	if changed {
		s.log.Info("pool target size adjusted", "from", snap.targetSize, "to", next)
	}
	return next, changed
}
