package bill

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/reprog-billing/internal/domain/customer"
	"github.com/xenking/reprog-billing/internal/domain/order"
)

// Sequencer issues and cancels bills.
type Sequencer struct {
	store Store
	now   func() time.Time
}

// NewSequencer creates a Sequencer backed by store.
func NewSequencer(store Store) *Sequencer {
	return &Sequencer{store: store, now: time.Now}
}

// Issue returns the bill of a PAID order, creating it with the next number
// if it does not exist yet. The boolean reports whether a bill was created.
func (s *Sequencer) Issue(ctx context.Context, o *order.Order, c *customer.Customer) (*Bill, bool, error) {
	if o.Status != order.StatusPaid {
		return nil, false, errors.Wrapf(ErrOrderNotPaid, "order %s is %s", o.Reference, o.Status)
	}

	existing, err := s.store.FindByOrder(ctx, o.ID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, errors.Wrap(err, "find bill")
	}

	number, err := s.store.NextNumber(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "allocate bill number")
	}

	b := &Bill{
		Number:         number,
		OrderID:        o.ID,
		OrderReference: o.Reference,
		Customer:       SnapshotOf(c),
		Price:          o.Price,
		PaidAt:         s.now().UTC(),
	}
	if err := s.store.Insert(ctx, b); err != nil {
		return nil, false, errors.Wrapf(err, "insert bill %s", b.Label())
	}
	return b, true, nil
}

// Get returns a bill by label.
func (s *Sequencer) Get(ctx context.Context, label string) (*Bill, error) {
	number, err := ParseLabel(label)
	if err != nil {
		return nil, err
	}
	b, err := s.store.GetByNumber(ctx, number)
	if err != nil {
		return nil, errors.Wrap(err, "get bill")
	}
	return b, nil
}

// Cancel marks a bill as canceled. The number stays allocated.
func (s *Sequencer) Cancel(ctx context.Context, label string) (*Bill, error) {
	number, err := ParseLabel(label)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.Cancel(ctx, number, s.now().UTC())
	if err != nil {
		return nil, errors.Wrap(err, "cancel bill")
	}

	b, err := s.store.GetByNumber(ctx, number)
	if err != nil {
		return nil, errors.Wrap(err, "get bill")
	}
	if !ok {
		return b, ErrAlreadyCanceled
	}
	return b, nil
}
