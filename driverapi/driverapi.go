// Package driverapi describes the MySQL driver surface the connection pool
// consumes. The wire-protocol codec (framing, authentication plugins,
// result-set decoding) that actually implements Conn is out of scope for
// this module; driverapi only names the contract the pool relies on, plus
// the one concrete adapter in driverapi/mysqldriver.
package driverapi

import (
	"context"
	"database/sql"
	"time"
)

// Conn is a single physical database connection, as handed out by a
// Factory. Every method is delegated verbatim by pool/pconn.Proxy — the
// proxy must never alter observable semantics.
type Conn interface {
	// IsValid performs a lightweight round-trip to confirm the connection
	// is still usable, bounded by timeout.
	IsValid(ctx context.Context, timeout time.Duration) bool

	// Close releases the underlying connection. Idempotent.
	Close() error

	// IsClosed reports whether Close has been called.
	IsClosed() bool

	CreateStatement(ctx context.Context) (*sql.Stmt, error)
	PrepareStatement(ctx context.Context, query string) (*sql.Stmt, error)

	SetAutoCommit(ctx context.Context, autocommit bool) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	SetSavepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error

	SetTransactionIsolation(level sql.IsolationLevel) error
	TransactionIsolation() sql.IsolationLevel

	SetReadOnly(ctx context.Context, readOnly bool) error
	ReadOnly() bool

	Metadata(ctx context.Context) (map[string]string, error)
	SetCatalog(ctx context.Context, catalog string) error
}

// Config carries the connection parameters a Factory needs to dial a new
// backend connection. Field names mirror the config keys named in
// SPEC_FULL.md §6.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSL      bool

	ConnectTimeout          time.Duration
	ReadTimeout             time.Duration
	AllowPublicKeyRetrieval bool
	MaxPacketSize           int
	SocketOptions           map[string]string
}

// Factory creates new backend connections. A Factory implementation must
// return an error wrapping poolerr.ErrUnreachable when the server cannot be
// reached at all, so the circuit breaker can distinguish that case from
// other connection failures.
type Factory interface {
	Create(ctx context.Context, cfg Config) (Conn, error)
}

// FactoryFunc adapts a plain function to a Factory.
type FactoryFunc func(ctx context.Context, cfg Config) (Conn, error)

// Create implements Factory.
func (f FactoryFunc) Create(ctx context.Context, cfg Config) (Conn, error) {
	return f(ctx, cfg)
}
