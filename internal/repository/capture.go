package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/xenking/reprog-billing/internal/domain/reconcile"
)

const (
	claimCaptureSQL = `INSERT INTO capture_claims (order_id, expires_at) VALUES ($1, $3)
		ON CONFLICT (order_id) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE capture_claims.expires_at <= $2`

	releaseCaptureSQL = `DELETE FROM capture_claims WHERE order_id = $1`
)

var _ reconcile.CaptureStore = (*CaptureRepository)(nil)

// CaptureRepository records synchronous captures in flight.
type CaptureRepository struct {
	db querier
}

// ClaimCapture inserts the claim, or takes over an expired one.
func (r *CaptureRepository) ClaimCapture(ctx context.Context, orderID int64, now, expires time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, claimCaptureSQL, orderID, now, expires)
	if err != nil {
		return false, fmt.Errorf("claiming capture of order %d: %w", orderID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseCapture deletes the claim of the order.
func (r *CaptureRepository) ReleaseCapture(ctx context.Context, orderID int64) error {
	if _, err := r.db.Exec(ctx, releaseCaptureSQL, orderID); err != nil {
		return fmt.Errorf("releasing capture of order %d: %w", orderID, err)
	}
	return nil
}
