package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Transition is the outcome of a lifecycle operation. Changed is false when
// the order was already in the target state and nothing was written.
type Transition struct {
	From    Status
	To      Status
	Changed bool
}

// InstructionOpener opens a payment instruction with the gateway and returns
// its opaque identifier.
type InstructionOpener interface {
	OpenInstruction(ctx context.Context, o *Order) (string, error)
}

// StateMachine owns order lifecycle transitions:
//
//	CARTED -> PENDING -> PAID
//	                  \-> CANCELED
//
// PAID and CANCELED are terminal and mutually exclusive. Callers must hold
// the order row lock while calling any method.
type StateMachine struct {
	store Store
	now   func() time.Time
}

// NewStateMachine creates a StateMachine persisting through store.
func NewStateMachine(store Store) *StateMachine {
	return &StateMachine{store: store, now: time.Now}
}

// BeginCheckout opens a payment instruction and moves a CARTED order to
// PENDING.
func (m *StateMachine) BeginCheckout(ctx context.Context, o *Order, opener InstructionOpener) (Transition, error) {
	if o.Status != StatusCarted {
		return Transition{}, &InvalidTransitionError{Reference: o.Reference, From: o.Status, To: StatusPending}
	}
	if !o.HasItems() {
		return Transition{}, &EmptyOrderError{Reference: o.Reference}
	}

	id, err := opener.OpenInstruction(ctx, o)
	if err != nil {
		return Transition{}, errors.Wrap(err, "open payment instruction")
	}
	prev := o.InstructionID
	o.InstructionID = id

	tr, err := m.apply(ctx, o, StatusPending)
	if err != nil {
		o.InstructionID = prev
		return Transition{}, err
	}
	return tr, nil
}

// MarkPaid moves a PENDING order to PAID after checking the settled amount.
// Calling it on a PAID order is a successful no-op.
func (m *StateMachine) MarkPaid(ctx context.Context, o *Order, settled decimal.Decimal) (Transition, error) {
	switch o.Status {
	case StatusPaid:
		return Transition{From: StatusPaid, To: StatusPaid}, nil
	case StatusPending:
	default:
		return Transition{}, &InvalidTransitionError{Reference: o.Reference, From: o.Status, To: StatusPaid}
	}

	if !settled.Equal(o.Total()) {
		return Transition{}, &AmountMismatchError{
			Reference: o.Reference,
			Expected:  o.Total(),
			Settled:   settled,
		}
	}
	return m.apply(ctx, o, StatusPaid)
}

// MarkCanceled moves a PENDING order to CANCELED. Calling it on a CANCELED
// order is a successful no-op.
func (m *StateMachine) MarkCanceled(ctx context.Context, o *Order) (Transition, error) {
	switch o.Status {
	case StatusCanceled:
		return Transition{From: StatusCanceled, To: StatusCanceled}, nil
	case StatusPending:
		return m.apply(ctx, o, StatusCanceled)
	default:
		return Transition{}, &InvalidTransitionError{Reference: o.Reference, From: o.Status, To: StatusCanceled}
	}
}

func (m *StateMachine) apply(ctx context.Context, o *Order, to Status) (Transition, error) {
	from := o.Status
	updatedAt := o.UpdatedAt

	o.Status = to
	o.UpdatedAt = m.now().UTC()

	ok, err := m.store.SaveTransition(ctx, o, from)
	if err == nil && !ok {
		err = ErrConcurrentUpdate
	}
	if err != nil {
		o.Status = from
		o.UpdatedAt = updatedAt
		return Transition{}, errors.Wrapf(err, "save %s -> %s", from, to)
	}

	o.Version++
	return Transition{From: from, To: to, Changed: true}, nil
}
