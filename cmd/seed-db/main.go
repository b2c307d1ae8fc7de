// Command seed-db loads a product catalog into the database from a JSON file
// (optionally gzip-compressed) and optionally creates an admin user.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/unwindlabs/storefront/internal/storage/postgres"
)

type productJSON struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Brand       string          `json:"brand"`
	Category    string          `json:"category"`
	Images      []string        `json:"images"`
	Variants    []struct {
		Size  string `json:"size"`
		Stock int32  `json:"stock"`
	} `json:"variants"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		adminEmail   string
		adminPass    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file (.json or .json.gz)")
	flag.StringVar(&adminEmail, "admin-email", "", "admin user to seed (or SEED_ADMIN_EMAIL env)")
	flag.StringVar(&adminPass, "admin-password", "", "admin password (or SEED_ADMIN_PASSWORD env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminEmail == "" {
		adminEmail = os.Getenv("SEED_ADMIN_EMAIL")
	}
	if adminPass == "" {
		adminPass = os.Getenv("SEED_ADMIN_PASSWORD")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, adminEmail, adminPass); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, adminEmail, adminPass string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if adminEmail != "" {
		if err := seedAdmin(ctx, pool, adminEmail, adminPass); err != nil {
			return errors.Wrap(err, "seed admin")
		}
	}

	return nil
}

func readProducts(path string) ([]productJSON, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open products file")
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer gz.Close()
		r = gz
	}

	var products []productJSON
	if err := json.NewDecoder(r).Decode(&products); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}
	return products, nil
}

const upsertProductSQL = `
INSERT INTO products (id, title, description, price, brand, category, images, is_active, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, now())
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title,
    description = EXCLUDED.description,
    price = EXCLUDED.price,
    brand = EXCLUDED.brand,
    category = EXCLUDED.category,
    images = EXCLUDED.images,
    is_active = TRUE,
    updated_at = now()`

const upsertVariantSQL = `
INSERT INTO product_variants (product_id, size, stock)
VALUES ($1, $2, $3)
ON CONFLICT (product_id, size) DO UPDATE SET stock = EXCLUDED.stock`

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	products, err := readProducts(productsFile)
	if err != nil {
		return err
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.Title, p.Description, p.Price, p.Brand, p.Category, p.Images,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		for _, v := range p.Variants {
			if _, err := pool.Exec(ctx, upsertVariantSQL, p.ID, v.Size, v.Stock); err != nil {
				return errors.Wrapf(err, "upsert variant %s/%s", p.ID, v.Size)
			}
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("title", p.Title))
	}

	return nil
}

const upsertAdminSQL = `
INSERT INTO users (id, email, name, role, password_hash, is_verified, created_at, updated_at)
VALUES ($1, $2, 'Admin', 'admin', $3, TRUE, now(), now())
ON CONFLICT (email) DO UPDATE SET role = 'admin', password_hash = EXCLUDED.password_hash, updated_at = now()`

func seedAdmin(ctx context.Context, pool *pgxpool.Pool, email, password string) error {
	if password == "" {
		return errors.New("admin password is required when admin email is set")
	}

	slog.Info("seeding admin user", slog.String("email", email))

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}

	id := "admin-" + time.Now().UTC().Format("20060102")
	if _, err := pool.Exec(ctx, upsertAdminSQL, id, strings.ToLower(email), string(hash)); err != nil {
		return errors.Wrap(err, "upsert admin user")
	}

	return nil
}
