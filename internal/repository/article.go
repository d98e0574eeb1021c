package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/reprog-billing/internal/domain/article"
)

const (
	getArticlesByIDsSQL = `SELECT id, name, price, credits FROM articles WHERE id = ANY($1)`
	upsertArticleSQL    = `INSERT INTO articles (id, name, price, credits) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, credits = EXCLUDED.credits`
)

var _ article.Repository = (*ArticleRepository)(nil)

// ArticleRepository implements article.Repository backed by PostgreSQL.
type ArticleRepository struct {
	db querier
}

// NewArticleRepository returns an ArticleRepository that uses the given pool.
func NewArticleRepository(pool *pgxpool.Pool) *ArticleRepository {
	return &ArticleRepository{db: pool}
}

// GetByIDs returns the articles matching ids in a single query. Unknown ids
// are skipped.
func (r *ArticleRepository) GetByIDs(ctx context.Context, ids []string) ([]article.Article, error) {
	rows, err := r.db.Query(ctx, getArticlesByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting articles by ids: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (article.Article, error) {
		var a article.Article
		err := row.Scan(&a.ID, &a.Name, &a.Price, &a.Credits)
		return a, err
	})
}

// Upsert inserts or replaces a catalog entry. Orders keep the prices they
// snapshotted.
func (r *ArticleRepository) Upsert(ctx context.Context, a article.Article) error {
	if _, err := r.db.Exec(ctx, upsertArticleSQL, a.ID, a.Name, a.Price, a.Credits); err != nil {
		return fmt.Errorf("upserting article %s: %w", a.ID, err)
	}
	return nil
}
