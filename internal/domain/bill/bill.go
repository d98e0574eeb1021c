// Package bill issues gap-free sequential bills for paid orders.
package bill

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/reprog-billing/internal/domain/customer"
	"github.com/xenking/reprog-billing/internal/domain/money"
)

const labelPrefix = "WEB"

var (
	// ErrNotFound is returned when no bill matches the number or order.
	ErrNotFound = errors.New("bill not found")
	// ErrOrderNotPaid is returned when a bill is requested for an order that
	// is not PAID.
	ErrOrderNotPaid = errors.New("order is not paid")
	// ErrInvalidLabel is returned by ParseLabel for malformed labels.
	ErrInvalidLabel = errors.New("invalid bill label")
	// ErrAlreadyCanceled is returned when canceling a canceled bill.
	ErrAlreadyCanceled = errors.New("bill already canceled")
)

// Snapshot is the customer identity printed on a bill. It is copied at
// issue time so later profile edits do not alter issued bills.
type Snapshot struct {
	CustomerID int64
	Name       string
	Company    string
	Email      string
	VATNumber  string
	Address    customer.Address
}

// SnapshotOf copies the billing identity of c.
func SnapshotOf(c *customer.Customer) Snapshot {
	return Snapshot{
		CustomerID: c.ID,
		Name:       c.Name,
		Company:    c.Company,
		Email:      c.Email,
		VATNumber:  c.VATNumber,
		Address:    c.Address,
	}
}

// Bill is an issued invoice. Only CanceledAt may change after insertion.
type Bill struct {
	ID             int64
	Number         int64
	OrderID        int64
	OrderReference uuid.UUID
	Customer       Snapshot
	Price          money.Money
	PaidAt         time.Time
	CanceledAt     *time.Time
}

// Label returns the printed bill label.
func (b *Bill) Label() string {
	return Label(b.Number)
}

// Canceled reports whether the bill was canceled.
func (b *Bill) Canceled() bool {
	return b.CanceledAt != nil
}

// Label formats a bill number as WEB followed by six zero-padded digits.
// Numbers past 999999 keep all their digits.
func Label(number int64) string {
	return fmt.Sprintf("%s%06d", labelPrefix, number)
}

// ParseLabel is the inverse of Label.
func ParseLabel(label string) (int64, error) {
	digits, ok := strings.CutPrefix(label, labelPrefix)
	if !ok || len(digits) < 6 || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, errors.Wrap(ErrInvalidLabel, label)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.Wrap(ErrInvalidLabel, label)
	}
	return n, nil
}

// Store persists bills. Issue calls run in the caller's transaction.
type Store interface {
	// FindByOrder returns the bill of an order or ErrNotFound.
	FindByOrder(ctx context.Context, orderID int64) (*Bill, error)
	// NextNumber allocates the next bill number. The allocation holds a lock
	// on the counter until the transaction ends, so numbers are gap-free
	// when every allocating transaction inserts its bill.
	NextNumber(ctx context.Context) (int64, error)
	Insert(ctx context.Context, b *Bill) error
	GetByNumber(ctx context.Context, number int64) (*Bill, error)
	// Cancel sets canceled_at if it is unset and reports whether it did.
	Cancel(ctx context.Context, number int64, at time.Time) (bool, error)
}
