// Package credit awards purchased credits to customers exactly once per paid
// order.
package credit

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/reprog-billing/internal/domain/order"
)

// ErrNotPaid is returned when an award is requested for an order that has
// not reached PAID.
var ErrNotPaid = errors.New("order is not paid")

// Entry records one credit award in the ledger.
type Entry struct {
	CustomerID int64
	OrderID    int64
	Amount     int64
	AppliedAt  time.Time
}

// Store persists awards. All three calls run in the caller's transaction.
type Store interface {
	// MarkCredited flips the order's credited flag from false to true while
	// the order is PAID. It reports whether the flag was flipped.
	MarkCredited(ctx context.Context, orderID int64) (bool, error)
	// AppendEntry inserts a ledger row. At most one row exists per order.
	AppendEntry(ctx context.Context, e Entry) error
	// IncrementBalance adds amount to the customer's credit balance.
	IncrementBalance(ctx context.Context, customerID, amount int64) error
}

// Award is the result of Ledger.Award. Applied is false when the order had
// already been credited.
type Award struct {
	Entry   Entry
	Applied bool
}

// Ledger awards credits for paid orders.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger creates a Ledger backed by store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Award credits the customer with the order's credits. Repeated calls for
// the same order leave the balance unchanged and report Applied=false.
func (l *Ledger) Award(ctx context.Context, o *order.Order) (Award, error) {
	if o.Status != order.StatusPaid {
		return Award{}, errors.Wrapf(ErrNotPaid, "order %s is %s", o.Reference, o.Status)
	}

	entry := Entry{
		CustomerID: o.CustomerID,
		OrderID:    o.ID,
		Amount:     o.Credits(),
		AppliedAt:  l.now().UTC(),
	}
	if o.Credited {
		return Award{Entry: entry}, nil
	}

	flipped, err := l.store.MarkCredited(ctx, o.ID)
	if err != nil {
		return Award{}, errors.Wrap(err, "mark credited")
	}
	if !flipped {
		o.Credited = true
		return Award{Entry: entry}, nil
	}

	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return Award{}, errors.Wrap(err, "append ledger entry")
	}
	if entry.Amount != 0 {
		if err := l.store.IncrementBalance(ctx, o.CustomerID, entry.Amount); err != nil {
			return Award{}, errors.Wrap(err, "increment balance")
		}
	}

	o.Credited = true
	return Award{Entry: entry, Applied: true}, nil
}
