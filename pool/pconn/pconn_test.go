package pconn

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/quillsql/quill/pool/bag"
)

type fakeConn struct {
	valid  bool
	closed bool
}

func (f *fakeConn) IsValid(ctx context.Context, timeout time.Duration) bool { return f.valid }
func (f *fakeConn) Close() error                                           { f.closed = true; return nil }
func (f *fakeConn) IsClosed() bool                                         { return f.closed }
func (f *fakeConn) CreateStatement(ctx context.Context) (*sql.Stmt, error) { return nil, nil }
func (f *fakeConn) PrepareStatement(ctx context.Context, query string) (*sql.Stmt, error) {
	return nil, nil
}
func (f *fakeConn) SetAutoCommit(ctx context.Context, autocommit bool) error { return nil }
func (f *fakeConn) Commit(ctx context.Context) error                        { return nil }
func (f *fakeConn) Rollback(ctx context.Context) error                      { return nil }
func (f *fakeConn) SetSavepoint(ctx context.Context, name string) error     { return nil }
func (f *fakeConn) RollbackToSavepoint(ctx context.Context, name string) error {
	return nil
}
func (f *fakeConn) ReleaseSavepoint(ctx context.Context, name string) error { return nil }
func (f *fakeConn) SetTransactionIsolation(level sql.IsolationLevel) error  { return nil }
func (f *fakeConn) TransactionIsolation() sql.IsolationLevel                { return sql.LevelDefault }
func (f *fakeConn) SetReadOnly(ctx context.Context, readOnly bool) error    { return nil }
func (f *fakeConn) ReadOnly() bool                                         { return false }
func (f *fakeConn) Metadata(ctx context.Context) (map[string]string, error) { return nil, nil }
func (f *fakeConn) SetCatalog(ctx context.Context, catalog string) error    { return nil }

func TestPooledConnectionLifecycle(t *testing.T) {
	pc := New(1, &fakeConn{valid: true})
	if pc.Lifecycle() != Idle {
		t.Fatalf("new connection should start Idle, got %v", pc.Lifecycle())
	}

	pc.MarkBorrowed()
	if pc.Lifecycle() != InUse {
		t.Fatalf("expected InUse after MarkBorrowed, got %v", pc.Lifecycle())
	}
	if pc.UsageCount() != 1 {
		t.Fatalf("UsageCount() = %d, want 1", pc.UsageCount())
	}

	pc.MarkIdle()
	if pc.Lifecycle() != Idle {
		t.Fatalf("expected Idle after MarkIdle, got %v", pc.Lifecycle())
	}
}

func TestPooledConnectionExpiry(t *testing.T) {
	pc := New(1, &fakeConn{valid: true})
	if pc.IsExpired(time.Hour) {
		t.Fatal("fresh connection should not be expired")
	}
	if pc.IsExpired(0) {
		t.Fatal("zero maxLifetime should disable the expiry check")
	}
	time.Sleep(5 * time.Millisecond)
	if !pc.IsExpired(1 * time.Millisecond) {
		t.Fatal("connection should be expired after maxLifetime elapsed")
	}
}

func TestPooledConnectionBagState(t *testing.T) {
	var pc *PooledConnection = New(1, &fakeConn{valid: true})
	var entry bag.StatefulEntry = pc
	if entry.GetState() != bag.StateNotInUse {
		t.Fatalf("initial bag state = %d, want NotInUse", entry.GetState())
	}
	if !entry.CompareAndSetState(bag.StateNotInUse, bag.StateInUse) {
		t.Fatal("expected CAS to succeed")
	}
	if entry.CompareAndSetState(bag.StateNotInUse, bag.StateInUse) {
		t.Fatal("expected second CAS from the same expected state to fail")
	}
}

func TestProxyCloseReleasesEveryCall(t *testing.T) {
	pc := New(1, &fakeConn{valid: true})
	releases := 0
	proxy := NewProxy(pc, func() { releases++ })

	proxy.Close()
	proxy.Close()

	if releases != 2 {
		t.Fatalf("release called %d times, want 2 (no idempotency dampening)", releases)
	}
}

func TestProxyDelegatesValidity(t *testing.T) {
	fc := &fakeConn{valid: true}
	pc := New(1, fc)
	proxy := NewProxy(pc, func() {})

	if !proxy.IsValid(context.Background(), time.Second) {
		t.Fatal("expected proxy to delegate IsValid to the underlying conn")
	}
	fc.valid = false
	if proxy.IsValid(context.Background(), time.Second) {
		t.Fatal("expected proxy to reflect underlying conn's updated validity")
	}
}
