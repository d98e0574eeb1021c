package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	countPendingNoticesSQL = `SELECT count(*) FROM notice_outbox WHERE sent_at IS NULL`
	countPendingOrdersSQL  = `SELECT count(*) FROM orders WHERE status = 'PENDING'`
)

// StatsRepository reports backlog sizes.
type StatsRepository struct {
	db querier
}

// NewStatsRepository returns a StatsRepository that uses the given pool.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{db: pool}
}

// PendingNotices returns the number of undelivered notices.
func (r *StatsRepository) PendingNotices(ctx context.Context) (int64, error) {
	return r.count(ctx, countPendingNoticesSQL)
}

// PendingOrders returns the number of orders awaiting a gateway outcome.
func (r *StatsRepository) PendingOrders(ctx context.Context) (int64, error) {
	return r.count(ctx, countPendingOrdersSQL)
}

func (r *StatsRepository) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting backlog: %w", err)
	}
	return n, nil
}
