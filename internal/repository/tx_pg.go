package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type txKey struct{}

// querier is what both *pgxpool.Pool and pgx.Tx provide.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func conn(ctx context.Context, db *pgxpool.Pool) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db
}

type PGTxManager struct {
	db *pgxpool.Pool
}

func NewTxManager(db *pgxpool.Pool) TxManager {
	return &PGTxManager{db: db}
}

// WithinTx joins an outer transaction when ctx already carries one.
func (m *PGTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return storeError("commit tx", tx.Commit(ctx))
}

// NewPostgres wires every repository to the same pool. Live feeds use one extra
// connection of their own.
func NewPostgres(db *pgxpool.Pool, logger *zap.Logger, opts ...SlotOption) Repositories {
	return Repositories{
		Slots:    NewSlotRepository(db, logger, opts...),
		Bookings: NewBookingRepository(db),
		Games:    NewGameRepository(db),
		Tx:       NewTxManager(db),
	}
}

var _ TxManager = (*PGTxManager)(nil)
