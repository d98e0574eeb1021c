package article

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested article does not exist.
var ErrNotFound = errors.New("article not found")

// Article is a purchasable catalog entry, typically a pack of credits.
// Price is net of VAT.
type Article struct {
	ID      string
	Name    string
	Price   decimal.Decimal
	Credits int64
}

// Repository defines read operations for the article catalog.
type Repository interface {
	GetByIDs(ctx context.Context, ids []string) ([]Article, error)
}
