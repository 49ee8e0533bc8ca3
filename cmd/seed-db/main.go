// Command seed-db loads catalog items and an API key into the database.
//
// The catalog file is a JSON array of {id, name, price, stock, active}
// objects. Files ending in .gz are decompressed on the fly.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/repository"
)

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
		userID       string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file, optionally gzipped")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or KART_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.StringVar(&userID, "user-id", "demo-user", "user the seeded API key authenticates as")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	databaseURL = orEnv(databaseURL, "DATABASE_URL")
	apiKey = orEnv(apiKey, "KART_SEED_API_KEY")
	apiKeyPepper = orEnv(apiKeyPepper, "KART_API_KEY_PEPPER")
	switch {
	case databaseURL == "":
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	case apiKey == "":
		lg.Fatal("API key is required: set --api-key or KART_SEED_API_KEY")
	case apiKeyPepper == "":
		lg.Fatal("API key pepper is required: set --api-key-pepper or KART_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, catalogFile, auth.KeyRecord{
		ID:      "default",
		KeyHash: handler.HashAPIKey([]byte(apiKeyPepper), apiKey),
		Name:    "Default key",
		UserID:  userID,
	}); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func orEnv(v, env string) string {
	if v != "" {
		return v
	}
	return os.Getenv(env)
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, catalogFile string, key auth.KeyRecord) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	items, err := readCatalog(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}
	lg.Info("Upserting catalog", zap.Int("count", len(items)), zap.String("path", catalogFile))

	catalogRepo := repository.NewCatalogRepository(pool)
	for _, it := range items {
		if err := catalogRepo.Upsert(ctx, it); err != nil {
			return errors.Wrapf(err, "upsert item %s", it.ID)
		}
		lg.Debug("Upserted item", zap.String("id", it.ID), zap.Int("stock", it.Stock))
	}

	if err := repository.NewAPIKeyRepository(pool).Upsert(ctx, key); err != nil {
		return errors.Wrap(err, "upsert api key")
	}
	lg.Info("Upserted API key", zap.String("id", key.ID), zap.String("user_id", key.UserID))
	return nil
}

func readCatalog(path string) ([]catalog.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return decodeCatalog(jx.Decode(r, 64*1024))
}

func decodeCatalog(d *jx.Decoder) ([]catalog.Item, error) {
	var items []catalog.Item
	err := d.Arr(func(d *jx.Decoder) error {
		it := catalog.Item{Active: true}
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "id":
				it.ID, err = d.Str()
			case "name":
				it.Name, err = d.Str()
			case "price":
				it.Price, err = decodePrice(d)
			case "stock":
				it.Stock, err = d.Int()
			case "active":
				it.Active, err = d.Bool()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		if it.ID == "" || it.Stock < 0 || it.Price.IsNegative() {
			return errors.Errorf("invalid catalog item %q", it.ID)
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

// decodePrice accepts both "10.00" and 10.00.
func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}
