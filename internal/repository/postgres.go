package repository

import (
	"context"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/reprog-billing/db"
	"github.com/xenking/reprog-billing/internal/domain/reconcile"
)

// migrationLockID serializes schema application across replicas.
const migrationLockID = 0x62696c6c

// querier is satisfied by *pgxpool.Pool and pgx.Tx, so every repository
// works both standalone and inside a Transactor transaction.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool while
// holding an advisory lock.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
			return fmt.Errorf("acquiring migration lock: %w", err)
		}
		_, err := tx.Exec(ctx, db.Schema)
		return err
	})
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

var _ reconcile.Transactor = (*Transactor)(nil)

// Transactor runs reconciliation work in READ COMMITTED transactions.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor returns a Transactor that uses the given pool.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// InTx begins a transaction, binds every store to it and commits when fn
// succeeds.
func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context, s reconcile.Stores) error) error {
	return pgx.BeginTxFunc(ctx, t.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, bindStores(tx))
	})
}

// bindStores binds every store to q.
func bindStores(q querier) reconcile.Stores {
	return reconcile.Stores{
		Orders:    &OrderRepository{db: q},
		Credits:   &CreditRepository{db: q},
		Bills:     &BillRepository{db: q},
		Customers: &CustomerRepository{db: q},
		Outbox:    &OutboxRepository{db: q},
		Captures:  &CaptureRepository{db: q},
	}
}
