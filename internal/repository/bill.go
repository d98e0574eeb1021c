package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/reprog-billing/internal/domain/bill"
	"github.com/xenking/reprog-billing/internal/domain/money"
)

const (
	billColumns = `id, number, order_id, order_reference, customer_id, customer_name, company, email, vat_number,
		street, postal_code, city, country, price, vat, paid_at, canceled_at`

	nextBillNumberSQL = `UPDATE bill_counter SET last_number = last_number + 1 RETURNING last_number`

	insertBillSQL = `INSERT INTO bills (number, order_id, order_reference, customer_id, customer_name, company, email, vat_number,
		street, postal_code, city, country, price, vat, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	getBillByOrderSQL = `SELECT ` + billColumns + ` FROM bills WHERE order_id = $1`

	getBillByNumberSQL = `SELECT ` + billColumns + ` FROM bills WHERE number = $1`

	listBillsPaidBetweenSQL = `SELECT ` + billColumns + ` FROM bills
		WHERE paid_at >= $1 AND paid_at < $2 ORDER BY number`

	cancelBillSQL = `UPDATE bills SET canceled_at = $2 WHERE number = $1 AND canceled_at IS NULL`
)

var _ bill.Store = (*BillRepository)(nil)

// BillRepository implements bill.Store backed by PostgreSQL.
type BillRepository struct {
	db querier
}

// NewBillRepository returns a BillRepository that uses the given pool.
func NewBillRepository(pool *pgxpool.Pool) *BillRepository {
	return &BillRepository{db: pool}
}

// FindByOrder returns the bill of an order.
func (r *BillRepository) FindByOrder(ctx context.Context, orderID int64) (*bill.Bill, error) {
	return r.getOne(ctx, getBillByOrderSQL, orderID)
}

// GetByNumber returns a bill by number.
func (r *BillRepository) GetByNumber(ctx context.Context, number int64) (*bill.Bill, error) {
	return r.getOne(ctx, getBillByNumberSQL, number)
}

// NextNumber increments the counter row. The row stays locked until the
// caller's transaction ends.
func (r *BillRepository) NextNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, nextBillNumberSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("allocating bill number: %w", err)
	}
	return n, nil
}

// Insert stores a new bill.
func (r *BillRepository) Insert(ctx context.Context, b *bill.Bill) error {
	c := b.Customer
	err := r.db.QueryRow(ctx, insertBillSQL,
		b.Number, b.OrderID, b.OrderReference, c.CustomerID, c.Name, c.Company, c.Email, c.VATNumber,
		c.Address.Street, c.Address.PostalCode, c.Address.City, c.Address.Country,
		b.Price.Amount, b.Price.VAT, b.PaidAt,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("inserting bill %s: %w", b.Label(), err)
	}
	return nil
}

// Cancel sets canceled_at once.
func (r *BillRepository) Cancel(ctx context.Context, number int64, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, cancelBillSQL, number, at)
	if err != nil {
		return false, fmt.Errorf("canceling bill %s: %w", bill.Label(number), err)
	}
	return tag.RowsAffected() == 1, nil
}

// EachPaidBetween calls fn for every bill paid in [from, to), in number
// order. Rows are streamed.
func (r *BillRepository) EachPaidBetween(ctx context.Context, from, to time.Time, fn func(bill.Bill) error) error {
	rows, err := r.db.Query(ctx, listBillsPaidBetweenSQL, from, to)
	if err != nil {
		return fmt.Errorf("listing bills: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return fmt.Errorf("scanning bill: %w", err)
		}
		if err := fn(*b); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing bills: %w", err)
	}
	return nil
}

func (r *BillRepository) getOne(ctx context.Context, query string, arg int64) (*bill.Bill, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting bill: %w", err)
	}
	b, err := pgx.CollectExactlyOneRow(rows, scanBill)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, bill.ErrNotFound
		}
		return nil, fmt.Errorf("getting bill: %w", err)
	}
	return b, nil
}

func scanBill(row pgx.CollectableRow) (*bill.Bill, error) {
	var (
		b          bill.Bill
		price, vat decimal.Decimal
	)
	c := &b.Customer
	err := row.Scan(
		&b.ID, &b.Number, &b.OrderID, &b.OrderReference, &c.CustomerID, &c.Name, &c.Company, &c.Email, &c.VATNumber,
		&c.Address.Street, &c.Address.PostalCode, &c.Address.City, &c.Address.Country,
		&price, &vat, &b.PaidAt, &b.CanceledAt,
	)
	if err != nil {
		return nil, err
	}
	b.Price = money.New(price, vat)
	return &b, nil
}
