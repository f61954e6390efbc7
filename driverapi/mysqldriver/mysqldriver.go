// Package mysqldriver is the one concrete driverapi.Factory in this module.
// It adapts database/sql plus github.com/go-sql-driver/mysql so the pool has
// a real MySQL backend to drive without this module reimplementing the wire
// protocol itself (out of scope per SPEC_FULL.md §1).
package mysqldriver

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/quillsql/quill/driverapi"
	"github.com/quillsql/quill/pool/poolerr"
)

// Factory creates driverapi.Conn values backed by MySQL.
type Factory struct{}

// NewFactory returns the default MySQL-backed driverapi.Factory.
func NewFactory() Factory { return Factory{} }

// Create dials a single physical MySQL connection. It pins the underlying
// *sql.DB to exactly one open connection (SetMaxOpenConns(1)) so each
// driverapi.Conn maps 1:1 to one physical backend connection — the pool,
// not database/sql, owns pooling.
func (Factory) Create(ctx context.Context, cfg driverapi.Config) (driverapi.Conn, error) {
	dsnCfg := mysql.NewConfig()
	dsnCfg.User = cfg.User
	dsnCfg.Passwd = cfg.Password
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dsnCfg.DBName = cfg.Database
	dsnCfg.Timeout = cfg.ConnectTimeout
	dsnCfg.ReadTimeout = cfg.ReadTimeout
	dsnCfg.AllowNativePasswords = true
	dsnCfg.AllowCleartextPasswords = cfg.SSL
	dsnCfg.ParseTime = true
	if cfg.SSL {
		dsnCfg.TLSConfig = "preferred"
	}
	if cfg.MaxPacketSize > 0 {
		dsnCfg.MaxAllowedPacket = cfg.MaxPacketSize
	}

	db, err := sql.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		return nil, poolerr.NewDriverError("create", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // the pool manages lifetime itself

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", poolerr.ErrUnreachable, err)
	}

	return &conn{db: db}, nil
}

// conn adapts a *sql.DB pinned to one connection to driverapi.Conn.
type conn struct {
	mu       sync.Mutex
	db       *sql.DB
	closed   bool
	readOnly bool
	isoLevel sql.IsolationLevel
	tx       *sql.Tx
}

func (c *conn) IsValid(ctx context.Context, timeout time.Duration) bool {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.PingContext(pingCtx) == nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func (c *conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) CreateStatement(ctx context.Context) (*sql.Stmt, error) {
	return nil, fmt.Errorf("quill/mysqldriver: CreateStatement requires a query; use PrepareStatement")
}

func (c *conn) PrepareStatement(ctx context.Context, query string) (*sql.Stmt, error) {
	return c.db.PrepareContext(ctx, query)
}

func (c *conn) SetAutoCommit(ctx context.Context, autocommit bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if autocommit {
		if c.tx != nil {
			tx := c.tx
			c.tx = nil
			return tx.Commit()
		}
		return nil
	}
	if c.tx != nil {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: c.readOnly, Isolation: c.isoLevel})
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (c *conn) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx == nil {
		return fmt.Errorf("quill/mysqldriver: no active transaction")
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

func (c *conn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx == nil {
		return fmt.Errorf("quill/mysqldriver: no active transaction")
	}
	tx := c.tx
	c.tx = nil
	return tx.Rollback()
}

func (c *conn) SetSavepoint(ctx context.Context, name string) error {
	_, err := c.db.ExecContext(ctx, "SAVEPOINT "+name)
	return err
}

func (c *conn) RollbackToSavepoint(ctx context.Context, name string) error {
	_, err := c.db.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

func (c *conn) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := c.db.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

func (c *conn) SetTransactionIsolation(level sql.IsolationLevel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isoLevel = level
	return nil
}

func (c *conn) TransactionIsolation() sql.IsolationLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isoLevel
}

func (c *conn) SetReadOnly(ctx context.Context, readOnly bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readOnly = readOnly
	return nil
}

func (c *conn) ReadOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOnly
}

func (c *conn) Metadata(ctx context.Context) (map[string]string, error) {
	row := c.db.QueryRowContext(ctx, "SELECT VERSION()")
	var version string
	if err := row.Scan(&version); err != nil {
		return nil, err
	}
	return map[string]string{"version": version}, nil
}

func (c *conn) SetCatalog(ctx context.Context, catalog string) error {
	_, err := c.db.ExecContext(ctx, "USE "+catalog)
	return err
}
