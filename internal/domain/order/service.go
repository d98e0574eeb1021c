package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/reprog-billing/internal/domain/article"
	"github.com/xenking/reprog-billing/internal/domain/money"
)

// CartItem is a requested article and quantity.
type CartItem struct {
	ArticleID string
	Quantity  int
}

// CreateCartRequest holds the input for creating a cart order.
type CreateCartRequest struct {
	CustomerID int64
	Items      []CartItem
}

// Service creates and reads cart orders.
type Service struct {
	articles article.Repository
	orders   Repository
	vatRate  decimal.Decimal
	now      func() time.Time
}

// NewService creates an order Service. vatRate is the percentage applied to
// net catalog prices when they are snapshotted into a cart.
func NewService(articles article.Repository, orders Repository, vatRate decimal.Decimal) *Service {
	return &Service{
		articles: articles,
		orders:   orders,
		vatRate:  vatRate,
		now:      time.Now,
	}
}

// CreateCart validates items, fetches articles in a single batch, freezes
// their prices into line snapshots, and persists a CARTED order. Repeated
// article ids are merged into one line.
func (s *Service) CreateCart(ctx context.Context, req CreateCartRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	// Validate quantities and merge duplicates, keeping request order.
	quantities := make(map[string]int, len(req.Items))
	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ArticleID: item.ArticleID}
		}
		if _, seen := quantities[item.ArticleID]; !seen {
			ids = append(ids, item.ArticleID)
		}
		quantities[item.ArticleID] += item.Quantity
	}

	fetched, err := s.articles.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get articles")
	}
	byID := make(map[string]article.Article, len(fetched))
	for _, a := range fetched {
		byID[a.ID] = a
	}

	items := make([]OrderedArticle, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			return nil, &ArticleNotFoundError{ArticleID: id}
		}
		items = append(items, OrderedArticle{
			ArticleID:   a.ID,
			Name:        a.Name,
			Quantity:    quantities[id],
			UnitPrice:   money.FromNet(a.Price, s.vatRate),
			UnitCredits: a.Credits,
		})
	}

	now := s.now().UTC()
	o := &Order{
		Reference:  uuid.New(),
		CustomerID: req.CustomerID,
		Status:     StatusCarted,
		Items:      items,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.Reprice()

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// Get returns the order with the given public reference.
func (s *Service) Get(ctx context.Context, ref uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByReference(ctx, ref)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}
