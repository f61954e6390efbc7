package bag

import (
	"context"
	"sync"

	"github.com/quillsql/quill/pool/poolerr"
)

// Entry states. These are independent of any connection-lifecycle state a
// caller layers on top (pool/pconn tracks Idle/InUse/Reserved/Removed for
// that purpose) — a Bag only ever reasons about whether an entry is
// available to hand out.
const (
	StateNotInUse int32 = iota
	StateInUse
	StateRemoved
	StateReserved
)

// StatefulEntry is anything a Bag can hold. State transitions happen via
// compare-and-swap so a borrower and a concurrent housekeeping sweep can
// never both win the same entry.
type StatefulEntry interface {
	CompareAndSetState(expect, newState int32) bool
	SetState(newState int32)
	GetState() int32
}

// Bag is a lock-minimized container of StatefulEntry values shared by many
// goroutines. Borrow prefers a caller-local FastList before touching shared,
// mutex-guarded bookkeeping, and a returned/added entry is handed directly
// to one waiting borrower rather than broadcast to all of them.
type Bag[T StatefulEntry] struct {
	mu      sync.Mutex
	shared  []T
	waiters []chan T
	closed  bool
}

// New returns an empty Bag.
func New[T StatefulEntry]() *Bag[T] {
	return &Bag[T]{}
}

// Borrow returns an available entry, preferring local (the caller's own
// FastList) before the shared bag, and finally waiting for a direct handoff
// until ctx is done.
func (b *Bag[T]) Borrow(ctx context.Context, local *FastList[T]) (T, error) {
	var zero T

	for {
		item, ok := local.PopLast()
		if !ok {
			break
		}
		if item.CompareAndSetState(StateNotInUse, StateInUse) {
			return item, nil
		}
		// Entry moved on (removed, or already claimed elsewhere); drop it
		// from this goroutine's local list and keep looking.
	}

	b.mu.Lock()
	for i := len(b.shared) - 1; i >= 0; i-- {
		item := b.shared[i]
		if item.CompareAndSetState(StateNotInUse, StateInUse) {
			b.mu.Unlock()
			return item, nil
		}
	}
	if b.closed {
		b.mu.Unlock()
		return zero, poolerr.ErrPoolClosed
	}

	ch := make(chan T, 1)
	b.waiters = append(b.waiters, ch)
	b.mu.Unlock()

	select {
	case item, ok := <-ch:
		if !ok {
			return zero, poolerr.ErrPoolClosed
		}
		return item, nil
	case <-ctx.Done():
		if b.removeWaiter(ch) {
			return zero, poolerr.ErrAcquisitionTimeout
		}
		// A handoff was already in flight when we gave up; take the entry
		// rather than let it vanish, and return it unclaimed via Return.
		select {
		case item, ok := <-ch:
			if ok {
				b.Return(item, local)
			}
		default:
		}
		return zero, poolerr.ErrAcquisitionTimeout
	}
}

// Add makes a brand-new entry available, offering it directly to a waiter
// first.
func (b *Bag[T]) Add(item T) {
	item.SetState(StateNotInUse)
	b.offer(item)
}

// Return makes a borrowed entry available again. If a FastList is supplied
// and no waiter is waiting, the entry is stashed there for thread-local
// reuse rather than the shared bag.
func (b *Bag[T]) Return(item T, local *FastList[T]) {
	item.SetState(StateNotInUse)

	b.mu.Lock()
	for len(b.waiters) > 0 {
		w := b.waiters[0]
		b.waiters = b.waiters[1:]
		if !item.CompareAndSetState(StateNotInUse, StateInUse) {
			continue
		}
		b.mu.Unlock()
		w <- item
		return
	}
	b.mu.Unlock()

	if local != nil {
		local.Add(item)
		return
	}
	b.offer(item)
}

// Release makes an entry already resident in shared bookkeeping available
// again, handing it directly to a waiter if one is registered. Unlike
// Return, it never appends to shared — for use by housekeeping code that
// claimed the entry via CompareAndSetState without removing it from shared.
func (b *Bag[T]) Release(item T) {
	item.SetState(StateNotInUse)

	b.mu.Lock()
	for len(b.waiters) > 0 {
		w := b.waiters[0]
		b.waiters = b.waiters[1:]
		if !item.CompareAndSetState(StateNotInUse, StateInUse) {
			continue
		}
		b.mu.Unlock()
		w <- item
		return
	}
	b.mu.Unlock()
}

// AddBorrowed registers a brand-new entry that the caller has already
// claimed (e.g. just created to satisfy an immediate request), skipping the
// waiter-handoff path since there is nothing to offer — the caller already
// holds it.
func (b *Bag[T]) AddBorrowed(item T) {
	item.SetState(StateInUse)
	b.mu.Lock()
	b.shared = append(b.shared, item)
	b.mu.Unlock()
}

// Remove marks an entry Removed and drops it from shared bookkeeping. match
// identifies the entry within the shared slice. A copy of the entry stashed in
// some caller's FastList is not removed; a later Borrow from that list fails
// the NotInUse CAS on the Removed entry and discards it.
func (b *Bag[T]) Remove(item T, match func(T) bool) {
	item.SetState(StateRemoved)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.shared {
		if match(e) {
			b.shared = append(b.shared[:i], b.shared[i+1:]...)
			return
		}
	}
}

// Values returns a snapshot of the shared entries, for housekeeping sweeps.
func (b *Bag[T]) Values() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, len(b.shared))
	copy(out, b.shared)
	return out
}

// Len reports the number of entries currently tracked in shared bookkeeping.
func (b *Bag[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.shared)
}

// WaiterCount reports how many borrowers are currently blocked waiting for a
// direct handoff, for the adaptive sizer's waiter-driven triggers.
func (b *Bag[T]) WaiterCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

// Close marks the bag closed; subsequent Borrow calls fail fast with
// poolerr.ErrPoolClosed once shared and waiters are drained.
func (b *Bag[T]) Close() {
	b.mu.Lock()
	b.closed = true
	waiters := b.waiters
	b.waiters = nil
	b.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// offer hands item directly to a waiter if one is registered, otherwise adds
// it to the shared slice.
func (b *Bag[T]) offer(item T) {
	b.mu.Lock()
	for len(b.waiters) > 0 {
		w := b.waiters[0]
		b.waiters = b.waiters[1:]
		if !item.CompareAndSetState(StateNotInUse, StateInUse) {
			continue
		}
		b.mu.Unlock()
		w <- item
		return
	}
	b.shared = append(b.shared, item)
	b.mu.Unlock()
}

func (b *Bag[T]) removeWaiter(ch chan T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.waiters {
		if w == ch {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return true
		}
	}
	return false
}
