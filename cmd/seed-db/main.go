package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderdesk/internal/domain/product"
	"github.com/xenking/orderdesk/internal/repository"
)

type productJSON struct {
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Price        decimal.Decimal     `json:"price"`
	Available    *bool               `json:"available"`
	Category     string              `json:"category"`
	IsKit        bool                `json:"is_kit"`
	Stock        *int                `json:"stock"`
	MinUnitPrice decimal.NullDecimal `json:"min_unit_price"`
	MaxUnitPrice decimal.NullDecimal `json:"max_unit_price"`
}

func (p productJSON) toDomain() *product.Product {
	available := true
	if p.Available != nil {
		available = *p.Available
	}
	return &product.Product{
		Name:         p.Name,
		Description:  p.Description,
		Price:        p.Price,
		Available:    available,
		Category:     p.Category,
		IsKit:        p.IsKit,
		Stock:        p.Stock,
		MinUnitPrice: p.MinUnitPrice,
		MaxUnitPrice: p.MaxUnitPrice,
	}
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("running migrations")
	if err := repository.RunMigrations(databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL, repository.PoolConfig{MaxConns: 2})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	products, err := readProducts(productsFile)
	if err != nil {
		return err
	}
	return seedProducts(ctx, repository.NewProductRepository(pool), products)
}

func readProducts(path string) ([]productJSON, error) {
	slog.Info("reading products file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read products file")
	}
	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}
	for i, p := range products {
		if p.Name == "" {
			return nil, errors.Errorf("product #%d: name is required", i)
		}
		if p.Price.IsNegative() {
			return nil, errors.Errorf("product %q: negative price", p.Name)
		}
	}
	return products, nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, products []productJSON) error {
	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		dp := p.toDomain()
		created, err := repo.Upsert(ctx, dp)
		if err != nil {
			return errors.Wrapf(err, "upsert product %q", p.Name)
		}
		slog.Info("upserted product",
			slog.Int64("id", dp.ID),
			slog.String("name", dp.Name),
			slog.Bool("created", created),
		)
	}
	return nil
}
