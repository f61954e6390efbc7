package pconn

import (
	"context"
	"database/sql"
	"time"

	"github.com/quillsql/quill/driverapi"
)

// Proxy is the ephemeral handle a caller actually receives from
// GetConnection. It delegates every driverapi.Conn operation verbatim to the
// underlying PooledConnection's driver connection, except Close, which
// releases the connection back to the pool instead of closing the physical
// connection.
//
// Close invokes its release callback on every call, not just the first —
// there is no idempotency dampening at this layer. Closing a Proxy twice
// invokes release twice; de-duplication is left to the release callback
// (the one pool.DataSource supplies ignores every call after the first).
type Proxy struct {
	pc      *PooledConnection
	release func()
}

// NewProxy wraps pc, invoking release exactly once per Close call.
func NewProxy(pc *PooledConnection, release func()) *Proxy {
	return &Proxy{pc: pc, release: release}
}

// Unwrap returns the PooledConnection backing this proxy, for housekeeping
// and metrics code that needs the real identity/lifecycle state.
func (p *Proxy) Unwrap() *PooledConnection { return p.pc }

func (p *Proxy) IsValid(ctx context.Context, timeout time.Duration) bool {
	return p.pc.conn.IsValid(ctx, timeout)
}

// Close releases this handle back to the pool. It does not close the
// physical connection.
func (p *Proxy) Close() error {
	p.release()
	return nil
}

func (p *Proxy) IsClosed() bool {
	return p.pc.conn.IsClosed()
}

func (p *Proxy) CreateStatement(ctx context.Context) (*sql.Stmt, error) {
	return p.pc.conn.CreateStatement(ctx)
}

func (p *Proxy) PrepareStatement(ctx context.Context, query string) (*sql.Stmt, error) {
	return p.pc.conn.PrepareStatement(ctx, query)
}

func (p *Proxy) SetAutoCommit(ctx context.Context, autocommit bool) error {
	return p.pc.conn.SetAutoCommit(ctx, autocommit)
}

func (p *Proxy) Commit(ctx context.Context) error {
	return p.pc.conn.Commit(ctx)
}

func (p *Proxy) Rollback(ctx context.Context) error {
	return p.pc.conn.Rollback(ctx)
}

func (p *Proxy) SetSavepoint(ctx context.Context, name string) error {
	return p.pc.conn.SetSavepoint(ctx, name)
}

func (p *Proxy) RollbackToSavepoint(ctx context.Context, name string) error {
	return p.pc.conn.RollbackToSavepoint(ctx, name)
}

func (p *Proxy) ReleaseSavepoint(ctx context.Context, name string) error {
	return p.pc.conn.ReleaseSavepoint(ctx, name)
}

func (p *Proxy) SetTransactionIsolation(level sql.IsolationLevel) error {
	return p.pc.conn.SetTransactionIsolation(level)
}

func (p *Proxy) TransactionIsolation() sql.IsolationLevel {
	return p.pc.conn.TransactionIsolation()
}

func (p *Proxy) SetReadOnly(ctx context.Context, readOnly bool) error {
	return p.pc.conn.SetReadOnly(ctx, readOnly)
}

func (p *Proxy) ReadOnly() bool {
	return p.pc.conn.ReadOnly()
}

func (p *Proxy) Metadata(ctx context.Context) (map[string]string, error) {
	return p.pc.conn.Metadata(ctx)
}

func (p *Proxy) SetCatalog(ctx context.Context, catalog string) error {
	return p.pc.conn.SetCatalog(ctx, catalog)
}

var _ driverapi.Conn = (*Proxy)(nil)
