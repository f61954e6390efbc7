// Package pconn implements the pooled-connection lifecycle (PooledConnection)
// and the ephemeral handle callers actually operate on (Proxy).
package pconn

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/quillsql/quill/driverapi"
	"github.com/quillsql/quill/pool/bag"
)

// LifecycleState tracks what a PooledConnection is doing right now, which is
// independent of the bag's own NotInUse/InUse/Removed/Reserved bookkeeping —
// a connection borrowed by a caller is InUse in both state machines, but a
// connection the housekeeper is validating is Reserved only in the bag's
// machine, not the lifecycle one.
type LifecycleState int32

const (
	Idle LifecycleState = iota
	InUse
	Reserved
	Removed
)

func (s LifecycleState) String() string {
	switch s {
	case Idle:
		return "idle"
	case InUse:
		return "in_use"
	case Reserved:
		return "reserved"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// PooledConnection wraps a driverapi.Conn with the identity, timestamps, and
// lifecycle bookkeeping the pool needs. It implements bag.StatefulEntry so a
// *PooledConnection can live directly in a bag.Bag.
type PooledConnection struct {
	id   uint64
	conn driverapi.Conn

	createdAt time.Time

	lastUsedNano   atomic.Int64
	lifecycle      atomic.Int32
	bagState       atomic.Int32
	usageCount     atomic.Uint64
	borrowedAtNano atomic.Int64
}

// New wraps conn as a PooledConnection with the given identity.
func New(id uint64, conn driverapi.Conn) *PooledConnection {
	pc := &PooledConnection{
		id:        id,
		conn:      conn,
		createdAt: time.Now(),
	}
	pc.lastUsedNano.Store(pc.createdAt.UnixNano())
	pc.lifecycle.Store(int32(Idle))
	pc.bagState.Store(bag.StateNotInUse)
	return pc
}

// ID returns the connection's stable identity, used in log fields, metrics
// labels, and leak diagnostics.
func (pc *PooledConnection) ID() uint64 { return pc.id }

// Conn returns the underlying driver connection.
func (pc *PooledConnection) Conn() driverapi.Conn { return pc.conn }

// CreatedAt reports when the physical connection was established.
func (pc *PooledConnection) CreatedAt() time.Time { return pc.createdAt }

// LastUsedAt reports when the connection was last borrowed or returned.
func (pc *PooledConnection) LastUsedAt() time.Time {
	return time.Unix(0, pc.lastUsedNano.Load())
}

// Lifecycle reports the connection's current LifecycleState.
func (pc *PooledConnection) Lifecycle() LifecycleState {
	return LifecycleState(pc.lifecycle.Load())
}

// UsageCount reports how many times this connection has been borrowed.
func (pc *PooledConnection) UsageCount() uint64 { return pc.usageCount.Load() }

// MarkBorrowed transitions the connection to InUse and records borrow time
// for leak detection and idle-duration accounting.
func (pc *PooledConnection) MarkBorrowed() {
	now := time.Now()
	pc.lifecycle.Store(int32(InUse))
	pc.lastUsedNano.Store(now.UnixNano())
	pc.borrowedAtNano.Store(now.UnixNano())
	pc.usageCount.Add(1)
}

// MarkIdle transitions the connection back to Idle.
func (pc *PooledConnection) MarkIdle() {
	pc.lifecycle.Store(int32(Idle))
	pc.lastUsedNano.Store(time.Now().UnixNano())
}

// MarkReserved transitions the connection to Reserved. The pool's own
// components do not call it: the housekeeper claims a connection through the
// bag state (bag.StateReserved) and leaves the lifecycle state untouched.
func (pc *PooledConnection) MarkReserved() {
	pc.lifecycle.Store(int32(Reserved))
}

// MarkRemoved transitions the connection to Removed. Terminal.
func (pc *PooledConnection) MarkRemoved() {
	pc.lifecycle.Store(int32(Removed))
}

// HeldDuration reports how long the connection has been continuously
// borrowed, for usage-duration metrics on release. Meaningless when not InUse.
func (pc *PooledConnection) HeldDuration() time.Duration {
	return time.Since(time.Unix(0, pc.borrowedAtNano.Load()))
}

// IdleDuration reports how long the connection has sat unused.
func (pc *PooledConnection) IdleDuration() time.Duration {
	return time.Since(pc.LastUsedAt())
}

// Age reports how long ago the physical connection was established.
func (pc *PooledConnection) Age() time.Duration {
	return time.Since(pc.createdAt)
}

// IsExpired reports whether the connection has exceeded maxLifetime. A
// non-positive maxLifetime disables the check.
func (pc *PooledConnection) IsExpired(maxLifetime time.Duration) bool {
	return maxLifetime > 0 && pc.Age() >= maxLifetime
}

// IsIdleTimedOut reports whether the connection has been idle longer than
// idleTimeout. A non-positive idleTimeout disables the check.
func (pc *PooledConnection) IsIdleTimedOut(idleTimeout time.Duration) bool {
	return idleTimeout > 0 && pc.Lifecycle() == Idle && pc.IdleDuration() >= idleTimeout
}

// Validate performs a lightweight liveness probe bounded by timeout.
func (pc *PooledConnection) Validate(ctx context.Context, timeout time.Duration) bool {
	return pc.conn.IsValid(ctx, timeout)
}

// Close closes the underlying driver connection.
func (pc *PooledConnection) Close() error {
	return pc.conn.Close()
}

// --- bag.StatefulEntry ---

// CompareAndSetState implements bag.StatefulEntry.
func (pc *PooledConnection) CompareAndSetState(expect, newState int32) bool {
	return pc.bagState.CompareAndSwap(expect, newState)
}

// SetState implements bag.StatefulEntry.
func (pc *PooledConnection) SetState(newState int32) {
	pc.bagState.Store(newState)
}

// GetState implements bag.StatefulEntry.
func (pc *PooledConnection) GetState() int32 {
	return pc.bagState.Load()
}
