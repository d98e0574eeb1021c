package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/reprog-billing/internal/domain/customer"
)

const getCustomerByIDSQL = `SELECT id, name, company, email, vat_number, street, postal_code, city, country, credit_balance
	FROM customers WHERE id = $1`

// upsertCustomerSQL never touches credit_balance, which only the ledger
// moves.
const upsertCustomerSQL = `INSERT INTO customers (id, name, company, email, vat_number, street, postal_code, city, country)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, company = EXCLUDED.company, email = EXCLUDED.email,
		vat_number = EXCLUDED.vat_number, street = EXCLUDED.street, postal_code = EXCLUDED.postal_code,
		city = EXCLUDED.city, country = EXCLUDED.country`

const syncCustomerSequenceSQL = `SELECT setval(pg_get_serial_sequence('customers', 'id'), GREATEST((SELECT max(id) FROM customers), 1))`

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	db querier
}

// NewCustomerRepository returns a CustomerRepository that uses the given
// pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{db: pool}
}

// GetByID returns a customer with its current credit balance.
func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*customer.Customer, error) {
	var c customer.Customer
	err := r.db.QueryRow(ctx, getCustomerByIDSQL, id).Scan(
		&c.ID, &c.Name, &c.Company, &c.Email, &c.VATNumber,
		&c.Address.Street, &c.Address.PostalCode, &c.Address.City, &c.Address.Country,
		&c.Credits,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("getting customer %d: %w", id, err)
	}
	return &c, nil
}

// Upsert writes the profile of c under its explicit id. It is used to mirror
// portal accounts in development.
func (r *CustomerRepository) Upsert(ctx context.Context, c customer.Customer) error {
	_, err := r.db.Exec(ctx, upsertCustomerSQL,
		c.ID, c.Name, c.Company, c.Email, c.VATNumber,
		c.Address.Street, c.Address.PostalCode, c.Address.City, c.Address.Country,
	)
	if err != nil {
		return fmt.Errorf("upserting customer %d: %w", c.ID, err)
	}
	if _, err := r.db.Exec(ctx, syncCustomerSequenceSQL); err != nil {
		return fmt.Errorf("syncing customer id sequence: %w", err)
	}
	return nil
}
