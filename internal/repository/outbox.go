package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/reprog-billing/internal/domain/notice"
)

const (
	enqueueNoticeSQL = `INSERT INTO notice_outbox (id, kind, payload, created_at) VALUES ($1, $2, $3, $4)`

	fetchPendingNoticesSQL = `SELECT seq, payload, attempts FROM notice_outbox
		WHERE sent_at IS NULL ORDER BY seq LIMIT $1`

	markNoticeSentSQL = `UPDATE notice_outbox SET sent_at = $2 WHERE seq = $1`

	markNoticeFailedSQL = `UPDATE notice_outbox SET attempts = attempts + 1, last_error = $2 WHERE seq = $1`
)

var (
	_ notice.Outbox = (*OutboxRepository)(nil)
	_ notice.Queue  = (*OutboxRepository)(nil)
)

// OutboxRepository stores notices for the relay.
type OutboxRepository struct {
	db querier
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{db: pool}
}

// Enqueue stores n. Inside a Transactor transaction the row only becomes
// visible to the relay on commit.
func (r *OutboxRepository) Enqueue(ctx context.Context, n notice.Notice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notice: %w", err)
	}
	if _, err := r.db.Exec(ctx, enqueueNoticeSQL, n.ID, n.Kind, payload, n.CreatedAt); err != nil {
		return fmt.Errorf("enqueuing notice %s: %w", n.ID, err)
	}
	return nil
}

// FetchPending returns up to limit unsent notices, oldest first.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]notice.Pending, error) {
	rows, err := r.db.Query(ctx, fetchPendingNoticesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching pending notices: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (notice.Pending, error) {
		var (
			p       notice.Pending
			payload []byte
		)
		if err := row.Scan(&p.Seq, &payload, &p.Attempts); err != nil {
			return p, err
		}
		if err := json.Unmarshal(payload, &p.Notice); err != nil {
			return p, fmt.Errorf("unmarshaling notice %d: %w", p.Seq, err)
		}
		return p, nil
	})
}

// MarkSent records a successful delivery.
func (r *OutboxRepository) MarkSent(ctx context.Context, seq int64, at time.Time) error {
	if _, err := r.db.Exec(ctx, markNoticeSentSQL, seq, at); err != nil {
		return fmt.Errorf("marking notice %d sent: %w", seq, err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt.
func (r *OutboxRepository) MarkFailed(ctx context.Context, seq int64, reason string) error {
	if _, err := r.db.Exec(ctx, markNoticeFailedSQL, seq, reason); err != nil {
		return fmt.Errorf("marking notice %d failed: %w", seq, err)
	}
	return nil
}
