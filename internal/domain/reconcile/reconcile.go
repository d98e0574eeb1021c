// Package reconcile settles orders against payment gateway outcomes.
//
// Both the synchronous capture path and the asynchronous notification path
// end in the same settle step: under the order row lock, in one
// transaction, the order moves PENDING -> PAID, credits are awarded, the
// bill is issued and the confirmation notice is queued.
package reconcile

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/reprog-billing/internal/domain/bill"
	"github.com/xenking/reprog-billing/internal/domain/credit"
	"github.com/xenking/reprog-billing/internal/domain/customer"
	"github.com/xenking/reprog-billing/internal/domain/notice"
	"github.com/xenking/reprog-billing/internal/domain/order"
)

var (
	// ErrGatewayUnavailable is returned when the gateway could not be
	// reached during capture. Nothing was committed; the customer may retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrCaptureDeclined is returned when the gateway refused the capture.
	ErrCaptureDeclined = errors.New("payment capture declined")
	// ErrNotOwner is returned when a customer acts on another customer's
	// order.
	ErrNotOwner = errors.New("order belongs to another customer")
	// ErrCaptureInProgress is returned when another capture of the same
	// order has not finished yet.
	ErrCaptureInProgress = errors.New("capture already in progress")
	// ErrCapturedCanceled is returned when the gateway captured funds for an
	// order that was canceled while the capture was in flight.
	ErrCapturedCanceled = errors.New("funds captured for a canceled order")
	// ErrCaptureUnverified is returned when the gateway answered a capture
	// in a way that could not be verified. Funds may have been captured.
	ErrCaptureUnverified = errors.New("capture outcome could not be verified")
)

// Stores groups the stores bound to one transaction.
type Stores struct {
	Orders    order.Repository
	Credits   credit.Store
	Bills     bill.Store
	Customers customer.Repository
	Outbox    notice.Outbox
	Captures  CaptureStore
}

// CaptureStore records synchronous captures in flight so that at most one
// of them reaches the gateway per order.
type CaptureStore interface {
	// ClaimCapture claims the order until expires. It reports false when a
	// claim that has not expired at now already exists.
	ClaimCapture(ctx context.Context, orderID int64, now, expires time.Time) (bool, error)
	// ReleaseCapture drops the claim of the order, if any.
	ReleaseCapture(ctx context.Context, orderID int64) error
}

// Transactor runs fn in a database transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// Settlement is the gateway's answer to a successful capture.
type Settlement struct {
	TransactionID string
	Amount        decimal.Decimal
}

// Gateway is the payment processor collaborator.
type Gateway interface {
	order.InstructionOpener
	// ApproveAndDeposit captures the order total synchronously. Transport
	// failures wrap ErrGatewayUnavailable and refusals wrap
	// ErrCaptureDeclined.
	ApproveAndDeposit(ctx context.Context, o *order.Order) (Settlement, error)
}

// Event is the gateway outcome carried by a notification.
type Event int

const (
	EventUnrecognized Event = iota
	EventConfirmed
	EventCanceled
)

func (e Event) String() string {
	switch e {
	case EventConfirmed:
		return "confirmed"
	case EventCanceled:
		return "canceled"
	default:
		return "unrecognized"
	}
}

// Notification is an authenticated gateway callback.
type Notification struct {
	// Reference is the order reference as sent by the gateway. It may be
	// stale or belong to another merchant.
	Reference     string
	Event         Event
	Amount        decimal.Decimal
	TransactionID string
}

// Outcome classifies how a reconciliation ended.
type Outcome string

const (
	OutcomePaid             Outcome = "paid"
	OutcomeCanceled         Outcome = "canceled"
	OutcomeReplay           Outcome = "replay"
	OutcomeAlreadySettled   Outcome = "already_settled"
	OutcomeUnknownReference Outcome = "unknown_reference"
	OutcomeUnrecognized     Outcome = "unrecognized"
	OutcomeFailed           Outcome = "failed"
)

// Accepted reports whether the gateway should be told the notification was
// taken into account.
func (o Outcome) Accepted() bool {
	switch o {
	case OutcomePaid, OutcomeCanceled, OutcomeReplay, OutcomeAlreadySettled:
		return true
	}
	return false
}

// Result describes a reconciliation. Award and Bill are set only on a fresh
// PENDING -> PAID transition.
type Result struct {
	Outcome Outcome
	Order   *order.Order
	Award   *credit.Award
	Bill    *bill.Bill
}
