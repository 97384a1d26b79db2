package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// TxManager runs fn inside a transaction carried by ctx. Implementations
// must join an enclosing transaction instead of nesting.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

type hooksKey struct{}

// Hooks collects callbacks that run only after the outermost transaction commits.
type Hooks struct {
	mu  sync.Mutex
	fns []func()
}

// WithHooks attaches a fresh hook list to ctx.
func WithHooks(ctx context.Context) (context.Context, *Hooks) {
	h := &Hooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// HooksFrom returns the hook list attached to ctx, if any.
func HooksFrom(ctx context.Context) *Hooks {
	h, _ := ctx.Value(hooksKey{}).(*Hooks)
	return h
}

// Run executes the collected callbacks in registration order.
func (h *Hooks) Run() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// AfterCommit defers fn until the transaction in ctx commits. Outside a
// transaction fn runs immediately. A rolled back transaction drops fn.
func AfterCommit(ctx context.Context, fn func()) {
	h := HooksFrom(ctx)
	if h == nil {
		fn()
		return
	}
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

// SQLTxManager is the Postgres TxManager.
type SQLTxManager struct {
	db   *sqlx.DB
	opts *sql.TxOptions
}

func NewTxManager(db *sqlx.DB) *SQLTxManager {
	return &SQLTxManager{db: db, opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted}}
}

func (m *SQLTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if TxFrom(ctx) != nil {
		return fn(ctx)
	}
	tx, err := m.db.BeginTxx(ctx, m.opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	ctx = context.WithValue(ctx, txKey{}, tx)
	ctx, hooks := WithHooks(ctx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if err = tx.Commit(); err != nil {
			err = fmt.Errorf("commit tx: %w", err)
			return
		}
		hooks.Run()
	}()

	return fn(ctx)
}

// TxFrom returns the transaction carried by ctx, if any.
func TxFrom(ctx context.Context) *sqlx.Tx {
	tx, _ := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx
}

// Conn returns the transaction in ctx or falls back to db.
func Conn(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx := TxFrom(ctx); tx != nil {
		return tx
	}
	return db
}

// Savepoint runs fn under a SAVEPOINT when ctx carries a transaction so a
// failure inside fn rolls back only its own writes and leaves the
// enclosing transaction usable. Without a transaction fn runs directly.
func Savepoint(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	tx := TxFrom(ctx)
	if tx == nil {
		return fn(ctx)
	}
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	if err := fn(ctx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("rollback to savepoint %s: %w (after %v)", name, rbErr, err)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}
