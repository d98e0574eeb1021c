package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/reprog-billing/internal/domain/money"
	"github.com/xenking/reprog-billing/internal/domain/order"
)

const (
	orderColumns = `id, reference, customer_id, status, price, vat, credited, instruction_id, version, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (reference, customer_id, status, price, vat, credited, instruction_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	getOrderByReferenceSQL = `SELECT ` + orderColumns + ` FROM orders WHERE reference = $1`

	lockOrderByReferenceSQL = getOrderByReferenceSQL + ` FOR UPDATE`

	listOrderItemsSQL = `SELECT article_id, name, quantity, unit_price, unit_vat, unit_credits
		FROM ordered_articles WHERE order_id = $1 ORDER BY position`

	saveTransitionSQL = `UPDATE orders
		SET status = $2, instruction_id = $3, updated_at = $4, version = version + 1
		WHERE id = $1 AND status = $5`
)

var orderItemColumns = []string{"order_id", "article_id", "position", "name", "quantity", "unit_price", "unit_vat", "unit_credits"}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db querier
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: pool}
}

// Create persists a new order and its line snapshots in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, createOrderSQL,
			o.Reference, o.CustomerID, o.Status, o.Price.Amount, o.Price.VAT,
			o.Credited, o.InstructionID, o.Version, o.CreatedAt, o.UpdatedAt,
		).Scan(&o.ID)
		if err != nil {
			return fmt.Errorf("creating order %s: %w", o.Reference, err)
		}

		_, err = tx.CopyFrom(ctx, pgx.Identifier{"ordered_articles"}, orderItemColumns,
			pgx.CopyFromSlice(len(o.Items), func(i int) ([]any, error) {
				item := o.Items[i]
				return []any{
					o.ID, item.ArticleID, i, item.Name, item.Quantity,
					item.UnitPrice.Amount, item.UnitPrice.VAT, item.UnitCredits,
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("creating items of order %s: %w", o.Reference, err)
		}
		return nil
	})
}

// GetByReference returns an order with its items.
func (r *OrderRepository) GetByReference(ctx context.Context, ref uuid.UUID) (*order.Order, error) {
	return r.get(ctx, getOrderByReferenceSQL, ref)
}

// LockByReference returns an order with its items and holds a row lock on
// it until the surrounding transaction ends.
func (r *OrderRepository) LockByReference(ctx context.Context, ref uuid.UUID) (*order.Order, error) {
	return r.get(ctx, lockOrderByReferenceSQL, ref)
}

func (r *OrderRepository) get(ctx context.Context, query string, ref uuid.UUID) (*order.Order, error) {
	rows, err := r.db.Query(ctx, query, ref)
	if err != nil {
		return nil, fmt.Errorf("getting order %s: %w", ref, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %s: %w", ref, err)
	}

	rows, err = r.db.Query(ctx, listOrderItemsSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %s: %w", ref, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %s: %w", ref, err)
	}
	return o, nil
}

// SaveTransition writes the new status with a compare-and-set on the
// previous one.
func (r *OrderRepository) SaveTransition(ctx context.Context, o *order.Order, from order.Status) (bool, error) {
	tag, err := r.db.Exec(ctx, saveTransitionSQL, o.ID, o.Status, o.InstructionID, o.UpdatedAt, from)
	if err != nil {
		return false, fmt.Errorf("saving order %s transition: %w", o.Reference, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o          order.Order
		price, vat decimal.Decimal
	)
	err := row.Scan(
		&o.ID, &o.Reference, &o.CustomerID, &o.Status, &price, &vat,
		&o.Credited, &o.InstructionID, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Price = money.New(price, vat)
	return &o, nil
}

func scanOrderItem(row pgx.CollectableRow) (order.OrderedArticle, error) {
	var (
		item       order.OrderedArticle
		price, vat decimal.Decimal
	)
	err := row.Scan(&item.ArticleID, &item.Name, &item.Quantity, &price, &vat, &item.UnitCredits)
	if err != nil {
		return order.OrderedArticle{}, err
	}
	item.UnitPrice = money.New(price, vat)
	return item, nil
}
