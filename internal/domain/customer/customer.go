package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a customer does not exist.
var ErrNotFound = errors.New("customer not found")

// Address is a postal address.
type Address struct {
	Street     string
	PostalCode string
	City       string
	Country    string
}

// Customer is the billing identity of a portal account. Profile management
// lives in the portal; this service only reads it and keeps the credit
// balance.
type Customer struct {
	ID        int64
	Name      string
	Company   string
	Email     string
	VATNumber string
	Address   Address
	Credits   int64
}

// Repository provides customer lookups.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Customer, error)
}
