package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/reprog-billing/internal/domain/notice"
)

// RelayConfig configures outbox polling.
type RelayConfig struct {
	Interval  time.Duration `default:"2s" usage:"Outbox poll interval"`
	BatchSize int           `default:"50" usage:"Notices fetched per poll"`
}

// Relay drains the notice outbox into a Publisher. Delivery is
// at-least-once: a crash between publish and MarkSent republishes.
type Relay struct {
	queue     notice.Queue
	publisher notice.Publisher
	cfg       RelayConfig
	now       func() time.Time
}

// NewRelay creates a Relay.
func NewRelay(queue notice.Queue, publisher notice.Publisher, cfg RelayConfig) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Relay{queue: queue, publisher: publisher, cfg: cfg, now: time.Now}
}

// Run polls until ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		n, err := r.Flush(ctx)
		if err != nil && ctx.Err() == nil {
			lg.Warn("Notice relay flush failed", zap.Error(err))
		}
		if n > 0 {
			lg.Debug("Notices relayed", zap.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch and returns the number of notices sent. It
// stops at the first publish failure so notices keep their order.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	pending, err := r.queue.FetchPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "fetch pending")
	}

	sent := 0
	for _, p := range pending {
		if err := r.publisher.Publish(ctx, p.Notice); err != nil {
			if markErr := r.queue.MarkFailed(ctx, p.Seq, err.Error()); markErr != nil {
				zctx.From(ctx).Warn("Mark notice failed", zap.Int64("seq", p.Seq), zap.Error(markErr))
			}
			return sent, errors.Wrapf(err, "publish notice %s", p.Notice.ID)
		}
		if err := r.queue.MarkSent(ctx, p.Seq, r.now().UTC()); err != nil {
			return sent, errors.Wrapf(err, "mark notice %s sent", p.Notice.ID)
		}
		sent++
	}
	return sent, nil
}
