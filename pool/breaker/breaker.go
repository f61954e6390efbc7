// Package breaker implements a three-state circuit breaker guarding
// connection creation: Closed (normal), Open (fast-failing), and HalfOpen
// (a single trial call deciding whether to close again or reopen).
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quillsql/quill/pool/poolerr"
)

// State is one of Closed, Open, or HalfOpen.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config controls trip thresholds and backoff.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from Closed to Open.
	FailureThreshold int

	// ResetTimeout is the initial Open duration before a HalfOpen trial is
	// allowed.
	ResetTimeout time.Duration

	// MaxResetTimeout caps the exponential backoff applied to ResetTimeout
	// across repeated trips.
	MaxResetTimeout time.Duration
}

// Breaker is a mutex-guarded circuit breaker. Call wraps any fallible
// operation; the breaker decides whether to let it through.
type Breaker struct {
	cfg Config
	log *slog.Logger

	mu               sync.Mutex
	state            State
	consecutiveFails int
	currentTimeout   time.Duration
	openedAt         time.Time
	trialInFlight    bool
}

// New builds a Breaker starting in the Closed state.
func New(cfg Config, log *slog.Logger) *Breaker {
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{
		cfg:            cfg,
		log:            log,
		state:          Closed,
		currentTimeout: cfg.ResetTimeout,
	}
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call runs fn if the breaker permits it, and records the outcome. It
// returns poolerr.ErrBreakerOpen without calling fn when the breaker is Open
// and the reset timeout has not yet elapsed, or when a HalfOpen trial is
// already in flight.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return poolerr.ErrBreakerOpen
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// allow decides whether a call may proceed, transitioning Open to HalfOpen
// once the backoff window has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) < b.currentTimeout {
			return false
		}
		b.state = HalfOpen
		b.trialInFlight = true
		b.log.Info("breaker half-open trial starting")
		return true
	case HalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return false
	}
}

// record applies the outcome of a permitted call to the state machine.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tripWorthy := err != nil && isTripWorthy(err)

	switch b.state {
	case HalfOpen:
		b.trialInFlight = false
		if tripWorthy {
			b.trip()
			return
		}
		b.closeBreaker()
	default: // Closed
		if !tripWorthy {
			b.consecutiveFails = 0
			return
		}
		b.consecutiveFails++
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

// trip opens the breaker, doubling the backoff window up to MaxResetTimeout
// on a HalfOpen->Open reopen. The first trip from Closed uses the base
// ResetTimeout.
func (b *Breaker) trip() {
	if b.state == HalfOpen {
		b.currentTimeout *= 2
	}
	if b.currentTimeout > b.cfg.MaxResetTimeout {
		b.currentTimeout = b.cfg.MaxResetTimeout
	}
	b.state = Open
	b.openedAt = time.Now()
	b.consecutiveFails = 0
	b.log.Warn("breaker open", "reset_timeout", b.currentTimeout)
}

func (b *Breaker) closeBreaker() {
	b.state = Closed
	b.consecutiveFails = 0
	b.currentTimeout = b.cfg.ResetTimeout
	b.log.Info("breaker closed")
}

// Reset forces the breaker back to Closed, clearing all trip state. Intended
// for operator/admin use, not the normal recovery path.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeBreaker()
	b.trialInFlight = false
}

// isTripWorthy reports whether err should count against the breaker. Only
// unreachability counts — validation or transient driver errors unrelated to
// reachability should not trip the breaker on their own.
func isTripWorthy(err error) bool {
	return errors.Is(err, poolerr.ErrUnreachable)
}
