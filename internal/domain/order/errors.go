package order

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no order matches the reference.
	ErrNotFound = errors.New("order not found")
	// ErrEmptyItems is returned when a cart is requested without items.
	ErrEmptyItems = errors.New("items required")
	// ErrConcurrentUpdate is returned when the stored status changed under
	// a transition. It cannot happen while the row lock is held.
	ErrConcurrentUpdate = errors.New("order modified concurrently")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ArticleID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for article %s", e.ArticleID)
}

// ArticleNotFoundError indicates a requested article does not exist.
type ArticleNotFoundError struct {
	ArticleID string
}

func (e *ArticleNotFoundError) Error() string {
	return fmt.Sprintf("article %s not found", e.ArticleID)
}

// EmptyOrderError is returned when checkout is attempted on an order
// without any positive-quantity line.
type EmptyOrderError struct {
	Reference uuid.UUID
}

func (e *EmptyOrderError) Error() string {
	return fmt.Sprintf("order %s has no items", e.Reference)
}

// InvalidTransitionError is returned when the order is not in a state the
// requested transition can start from.
type InvalidTransitionError struct {
	Reference uuid.UUID
	From      Status
	To        Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: invalid transition %s -> %s", e.Reference, e.From, e.To)
}

// FromTerminal reports whether the order had already reached a terminal
// state. Such rejections are replays of a decided outcome; the others are
// programming errors.
func (e *InvalidTransitionError) FromTerminal() bool {
	return e.From.Terminal()
}

// AmountMismatchError is returned when the settled amount differs from the
// order total. It is an integrity failure and must never be accepted.
type AmountMismatchError struct {
	Reference uuid.UUID
	Expected  decimal.Decimal
	Settled   decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("order %s: settled %s, expected %s", e.Reference, e.Settled, e.Expected)
}
