// Package notice defines customer notices emitted by billing events.
package notice

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies the notice type. It is also the routing key suffix.
type Kind string

// KindOrderPaid confirms a paid order to the customer.
const KindOrderPaid Kind = "order.paid"

// Notice is a message for the mailer. ID is stable across redeliveries.
type Notice struct {
	ID             uuid.UUID       `json:"id"`
	Kind           Kind            `json:"kind"`
	OrderReference uuid.UUID       `json:"order_reference"`
	CustomerID     int64           `json:"customer_id"`
	Email          string          `json:"email"`
	BillLabel      string          `json:"bill_label"`
	Credits        int64           `json:"credits"`
	Total          decimal.Decimal `json:"total"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Outbox stores notices in the transaction that produced them.
type Outbox interface {
	Enqueue(ctx context.Context, n Notice) error
}

// Pending is a stored notice awaiting delivery.
type Pending struct {
	Seq      int64
	Notice   Notice
	Attempts int
}

// Queue is the relay side of the outbox.
type Queue interface {
	FetchPending(ctx context.Context, limit int) ([]Pending, error)
	MarkSent(ctx context.Context, seq int64, at time.Time) error
	MarkFailed(ctx context.Context, seq int64, reason string) error
}

// Publisher delivers a notice to the mailer.
type Publisher interface {
	Publish(ctx context.Context, n Notice) error
}
