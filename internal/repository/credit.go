package repository

import (
	"context"
	"fmt"

	"github.com/xenking/reprog-billing/internal/domain/credit"
	"github.com/xenking/reprog-billing/internal/domain/customer"
)

const (
	markCreditedSQL = `UPDATE orders SET credited = TRUE
		WHERE id = $1 AND status = 'PAID' AND credited = FALSE`

	appendLedgerEntrySQL = `INSERT INTO credit_ledger (order_id, customer_id, amount, applied_at)
		VALUES ($1, $2, $3, $4)`

	incrementBalanceSQL = `UPDATE customers SET credit_balance = credit_balance + $2 WHERE id = $1`
)

var _ credit.Store = (*CreditRepository)(nil)

// CreditRepository implements credit.Store. It is only used inside a
// Transactor transaction.
type CreditRepository struct {
	db querier
}

// MarkCredited flips the credited flag of a PAID order.
func (r *CreditRepository) MarkCredited(ctx context.Context, orderID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, markCreditedSQL, orderID)
	if err != nil {
		return false, fmt.Errorf("marking order %d credited: %w", orderID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendEntry inserts the ledger row. The UNIQUE order_id constraint
// rejects a second entry for the same order.
func (r *CreditRepository) AppendEntry(ctx context.Context, e credit.Entry) error {
	_, err := r.db.Exec(ctx, appendLedgerEntrySQL, e.OrderID, e.CustomerID, e.Amount, e.AppliedAt)
	if err != nil {
		return fmt.Errorf("appending ledger entry for order %d: %w", e.OrderID, err)
	}
	return nil
}

// IncrementBalance adds amount to the customer's balance.
func (r *CreditRepository) IncrementBalance(ctx context.Context, customerID, amount int64) error {
	tag, err := r.db.Exec(ctx, incrementBalanceSQL, customerID, amount)
	if err != nil {
		return fmt.Errorf("incrementing balance of customer %d: %w", customerID, err)
	}
	if tag.RowsAffected() != 1 {
		return customer.ErrNotFound
	}
	return nil
}
