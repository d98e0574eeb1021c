package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/reprog-billing/internal/auth"
	"github.com/xenking/reprog-billing/internal/domain/article"
	"github.com/xenking/reprog-billing/internal/domain/customer"
	"github.com/xenking/reprog-billing/internal/repository"
)

type catalogJSON struct {
	Articles []struct {
		ID      string          `json:"id"`
		Name    string          `json:"name"`
		Price   decimal.Decimal `json:"price"`
		Credits int64           `json:"credits"`
	} `json:"articles"`
	Customers []struct {
		ID        int64  `json:"id"`
		Name      string `json:"name"`
		Company   string `json:"company"`
		Email     string `json:"email"`
		VATNumber string `json:"vatNumber"`
		Address   struct {
			Street     string `json:"street"`
			PostalCode string `json:"postalCode"`
			City       string `json:"city"`
			Country    string `json:"country"`
		} `json:"address"`
	} `json:"customers"`
}

func main() {
	var (
		databaseURL string
		catalogFile string
		jwtSecret   string
		jwtIssuer   string
		jwtTTL      time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to articles and customers JSON file")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "print development tokens signed with this secret (or BILLING_AUTH_SECRET env)")
	flag.StringVar(&jwtIssuer, "jwt-issuer", "portal", "issuer of development tokens")
	flag.DurationVar(&jwtTTL, "jwt-ttl", 24*time.Hour, "lifetime of development tokens")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("BILLING_AUTH_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	customers, err := run(ctx, databaseURL, catalogFile)
	if err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")

	if jwtSecret != "" {
		if err := printTokens(customers, jwtSecret, jwtIssuer, jwtTTL); err != nil {
			slog.Error("token issue failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
}

func run(ctx context.Context, databaseURL, catalogFile string) ([]customer.Customer, error) {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog file")
	}
	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	articles := repository.NewArticleRepository(pool)
	for _, a := range catalog.Articles {
		if err := articles.Upsert(ctx, article.Article{
			ID:      a.ID,
			Name:    a.Name,
			Price:   a.Price,
			Credits: a.Credits,
		}); err != nil {
			return nil, errors.Wrapf(err, "upsert article %s", a.ID)
		}
		slog.Info("upserted article", slog.String("id", a.ID), slog.String("price", a.Price.StringFixed(2)))
	}

	repo := repository.NewCustomerRepository(pool)
	customers := make([]customer.Customer, 0, len(catalog.Customers))
	for _, c := range catalog.Customers {
		cust := customer.Customer{
			ID:        c.ID,
			Name:      c.Name,
			Company:   c.Company,
			Email:     c.Email,
			VATNumber: c.VATNumber,
			Address: customer.Address{
				Street:     c.Address.Street,
				PostalCode: c.Address.PostalCode,
				City:       c.Address.City,
				Country:    c.Address.Country,
			},
		}
		if err := repo.Upsert(ctx, cust); err != nil {
			return nil, errors.Wrapf(err, "upsert customer %d", c.ID)
		}
		customers = append(customers, cust)
		slog.Info("upserted customer", slog.Int64("id", c.ID), slog.String("email", c.Email))
	}
	return customers, nil
}

// printTokens issues one token per seeded customer. The first customer is
// the operator account.
func printTokens(customers []customer.Customer, secret, issuer string, ttl time.Duration) error {
	verifier, err := auth.NewVerifier([]byte(secret), issuer)
	if err != nil {
		return err
	}
	for i, c := range customers {
		role := auth.RoleCustomer
		if i == 0 {
			role = auth.RoleAdmin
		}
		token, err := verifier.Sign(auth.Principal{CustomerID: c.ID, Role: role}, ttl)
		if err != nil {
			return errors.Wrapf(err, "sign token for customer %d", c.ID)
		}
		slog.Info("development token",
			slog.String("customer", strconv.FormatInt(c.ID, 10)),
			slog.String("role", string(role)),
			slog.String("token", token),
		)
	}
	return nil
}
