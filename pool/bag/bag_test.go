package bag

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type testEntry struct {
	id    int
	state atomic.Int32
}

func newTestEntry(id int) *testEntry {
	e := &testEntry{id: id}
	e.state.Store(StateRemoved) // caller sets real state before use
	return e
}

func (e *testEntry) CompareAndSetState(expect, newState int32) bool {
	return e.state.CompareAndSwap(expect, newState)
}

func (e *testEntry) SetState(newState int32) { e.state.Store(newState) }
func (e *testEntry) GetState() int32         { return e.state.Load() }

func TestBagAddBorrowReturn(t *testing.T) {
	b := New[*testEntry]()
	local := NewFastList[*testEntry]()

	e := newTestEntry(1)
	b.Add(e)

	got, err := b.Borrow(context.Background(), local)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if got.id != 1 {
		t.Fatalf("got id %d, want 1", got.id)
	}
	if got.GetState() != StateInUse {
		t.Fatalf("state = %d, want InUse", got.GetState())
	}

	b.Return(got, local)
	if got.GetState() != StateNotInUse {
		t.Fatalf("state after return = %d, want NotInUse", got.GetState())
	}
	if local.Len() != 1 {
		t.Fatalf("expected entry stashed in local list, local.Len()=%d", local.Len())
	}
}

func TestBagBorrowPrefersLocal(t *testing.T) {
	b := New[*testEntry]()
	local := NewFastList[*testEntry]()

	sharedEntry := newTestEntry(1)
	b.Add(sharedEntry)

	localEntry := newTestEntry(2)
	localEntry.SetState(StateNotInUse)
	local.Add(localEntry)

	got, err := b.Borrow(context.Background(), local)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if got.id != 2 {
		t.Fatalf("expected local entry 2 to be preferred, got %d", got.id)
	}
}

func TestBagBorrowWaitsForDirectHandoff(t *testing.T) {
	b := New[*testEntry]()
	local := NewFastList[*testEntry]()

	type result struct {
		e   *testEntry
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		e, err := b.Borrow(ctx, local)
		resCh <- result{e, err}
	}()

	time.Sleep(20 * time.Millisecond) // let the borrower register as a waiter
	e := newTestEntry(7)
	b.Add(e)

	select {
	case r := <-resCh:
		if r.err != nil {
			t.Fatalf("Borrow: %v", r.err)
		}
		if r.e.id != 7 {
			t.Fatalf("got id %d, want 7", r.e.id)
		}
	case <-time.After(time.Second):
		t.Fatal("borrower never received handoff")
	}
}

func TestBagBorrowTimesOut(t *testing.T) {
	b := New[*testEntry]()
	local := NewFastList[*testEntry]()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Borrow(ctx, local)
	if err == nil {
		t.Fatal("expected ErrAcquisitionTimeout, got nil")
	}
}

func TestBagRemove(t *testing.T) {
	b := New[*testEntry]()
	e := newTestEntry(1)
	b.Add(e)

	b.Remove(e, func(x *testEntry) bool { return x.id == 1 })
	if e.GetState() != StateRemoved {
		t.Fatalf("state = %d, want Removed", e.GetState())
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after removal", b.Len())
	}
}

func TestBagCloseFailsBorrow(t *testing.T) {
	b := New[*testEntry]()
	local := NewFastList[*testEntry]()
	b.Close()

	_, err := b.Borrow(context.Background(), local)
	if err == nil {
		t.Fatal("expected error after Close, got nil")
	}
}
