// Command seed-db loads a demo catalog, promotions, a customer cart and an
// admin API key.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-ledger/internal/domain/auth"
	"github.com/xenking/kart-ledger/internal/domain/cart"
	"github.com/xenking/kart-ledger/internal/domain/product"
	"github.com/xenking/kart-ledger/internal/domain/promotion"
	"github.com/xenking/kart-ledger/internal/storage/postgres"
)

const demoCustomer = "cust-demo"

type productJSON struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	SellerID        string          `json:"seller_id"`
	CategoryID      string          `json:"category_id"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	ImageURL        string          `json:"image_url"`
	Variants        []struct {
		ID         string            `json:"id"`
		Name       string            `json:"name"`
		Price      decimal.Decimal   `json:"price"`
		Attributes map[string]string `json:"attributes"`
	} `json:"variants"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper string) error {
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

	store := postgres.New(pool)

	products, err := seedProducts(ctx, store, productsFile)
	if err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedPromotions(ctx, store); err != nil {
		return errors.Wrap(err, "seed promotions")
	}
	if err := seedCart(ctx, store, products); err != nil {
		return errors.Wrap(err, "seed cart")
	}
	if apiKey == "" {
		slog.Info("no API key given, skipping")
		return nil
	}
	if err := seedAPIKey(ctx, store, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func seedProducts(ctx context.Context, store *postgres.Store, productsFile string) ([]product.Product, error) {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return nil, errors.Wrap(err, "read products file")
	}

	var raw []productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(raw)))

	products := make([]product.Product, 0, len(raw))
	for _, r := range raw {
		p := product.Product{
			ID:              r.ID,
			Name:            r.Name,
			SellerID:        r.SellerID,
			CategoryID:      r.CategoryID,
			Price:           r.Price,
			DiscountPercent: r.DiscountPercent,
			ImageURL:        r.ImageURL,
			Active:          true,
		}
		for _, v := range r.Variants {
			p.Variants = append(p.Variants, product.Variant{
				ID:         v.ID,
				Name:       v.Name,
				Price:      v.Price,
				Attributes: v.Attributes,
			})
		}
		if err := store.PutProduct(ctx, p); err != nil {
			return nil, errors.Wrapf(err, "upsert product %s", p.ID)
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
		products = append(products, p)
	}
	return products, nil
}

func seedPromotions(ctx context.Context, store *postgres.Store) error {
	start := time.Now().UTC().Add(-time.Hour)

	offers := []promotion.Offer{
		{
			Name:         "Kitchen week: 10% off kitchenware",
			DiscountType: promotion.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			MaxDiscount:  decimal.NewFromInt(200),
			MinPurchase:  decimal.NewFromInt(500),
			Priority:     10,
			Window:       promotion.Window{Start: start, End: start.AddDate(0, 0, 7)},
			Scope:        promotion.Scope{CategoryIDs: []string{"kitchen"}},
			Stackable:    true,
			Status:       promotion.StatusActive,
		},
		{
			Name:         "Flat 100 off above 2000",
			DiscountType: promotion.DiscountFlat,
			Value:        decimal.NewFromInt(100),
			MinPurchase:  decimal.NewFromInt(2000),
			Priority:     5,
			Window:       promotion.Window{Start: start},
			Status:       promotion.StatusActive,
		},
	}
	for i := range offers {
		if err := store.PutOffer(ctx, &offers[i]); err != nil {
			return errors.Wrapf(err, "upsert offer %q", offers[i].Name)
		}
		slog.Info("upserted offer", slog.Int64("id", offers[i].ID), slog.String("name", offers[i].Name))
	}

	coupons := []promotion.Coupon{
		{
			Code:            "WELCOME15",
			DiscountType:    promotion.DiscountPercentage,
			Value:           decimal.NewFromInt(15),
			MaxDiscount:     decimal.NewFromInt(300),
			MaxUsagePerUser: 1,
			Window:          promotion.Window{Start: start},
			Status:          promotion.StatusActive,
		},
		{
			Code:         "FLAT250",
			DiscountType: promotion.DiscountFlat,
			Value:        decimal.NewFromInt(250),
			MinAmount:    decimal.NewFromInt(1500),
			UsageLimit:   100,
			Window:       promotion.Window{Start: start, End: start.AddDate(0, 1, 0)},
			Stackable:    true,
			Status:       promotion.StatusActive,
		},
	}
	for i := range coupons {
		if err := store.PutCoupon(ctx, &coupons[i]); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", coupons[i].Code)
		}
		slog.Info("upserted coupon", slog.String("code", coupons[i].Code))
	}
	return nil
}

// seedCart fills the demo customer's cart with the first variant, or the
// product itself, of up to two products.
func seedCart(ctx context.Context, store *postgres.Store, products []product.Product) error {
	c := &cart.Cart{UserID: demoCustomer, UpdatedAt: time.Now().UTC()}
	for _, p := range products[:min(len(products), 2)] {
		item := cart.Item{ProductID: p.ID, Quantity: 1}
		if len(p.Variants) > 0 {
			item.VariantID = p.Variants[0].ID
		}
		c.Items = append(c.Items, item)
	}
	if err := store.SaveCart(ctx, c); err != nil {
		return errors.Wrapf(err, "save cart of %s", demoCustomer)
	}
	slog.Info("saved cart", slog.String("user_id", demoCustomer), slog.Int("items", len(c.Items)))
	return nil
}

func seedAPIKey(ctx context.Context, store *postgres.Store, apiKey, pepper string) error {
	k := auth.APIKey{
		ID:      "default",
		KeyHash: auth.NewKeys(store, []byte(pepper)).Hash(apiKey),
		Name:    "Default admin key",
		ActorID: "admin",
		Role:    auth.RoleAdmin,
	}
	if err := store.PutAPIKey(ctx, k); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}
	slog.Info("upserted API key", slog.String("id", k.ID), slog.String("name", k.Name))
	return nil
}
