package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/reprog-billing/internal/domain/money"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusCarted   Status = "CARTED"
	StatusPending  Status = "PENDING"
	StatusPaid     Status = "PAID"
	StatusCanceled Status = "CANCELED"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCanceled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCarted, StatusPending, StatusPaid, StatusCanceled:
		return true
	}
	return false
}

// OrderedArticle is a line item. Unit price and credits are copied from the
// catalog when the cart is created and never re-read afterwards.
type OrderedArticle struct {
	ArticleID   string
	Name        string
	Quantity    int
	UnitPrice   money.Money
	UnitCredits int64
}

// Line returns the price of the whole line.
func (a OrderedArticle) Line() money.Money {
	return a.UnitPrice.Times(a.Quantity)
}

// Order is a customer's purchase request.
type Order struct {
	ID            int64
	Reference     uuid.UUID
	CustomerID    int64
	Status        Status
	Items         []OrderedArticle
	Price         money.Money
	Credited      bool
	InstructionID string
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Total is the amount the gateway is expected to settle.
func (o *Order) Total() decimal.Decimal {
	return o.Price.Total()
}

// Credits returns the credit amount the order awards once paid.
func (o *Order) Credits() int64 {
	var sum int64
	for _, item := range o.Items {
		sum += item.UnitCredits * int64(item.Quantity)
	}
	return sum
}

// HasItems reports whether at least one line has a positive quantity.
func (o *Order) HasItems() bool {
	for _, item := range o.Items {
		if item.Quantity > 0 {
			return true
		}
	}
	return false
}

// Reprice recomputes the aggregate price from the line snapshots.
func (o *Order) Reprice() {
	total := money.Zero
	for _, item := range o.Items {
		total = total.Add(item.Line())
	}
	o.Price = total
}

// Store persists lifecycle transitions.
type Store interface {
	// SaveTransition writes o.Status (and InstructionID) only if the stored
	// status still equals from. It reports whether a row was updated.
	SaveTransition(ctx context.Context, o *Order, from Status) (bool, error)
}

// Repository defines persistence operations for orders.
type Repository interface {
	Store
	Create(ctx context.Context, o *Order) error
	GetByReference(ctx context.Context, ref uuid.UUID) (*Order, error)
	// LockByReference loads the order and holds a row lock on it until the
	// surrounding transaction ends.
	LockByReference(ctx context.Context, ref uuid.UUID) (*Order, error)
}
