package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/repository/discount"
	"commerce-provider/internal/repository/product"
)

type variantSeed struct {
	SKU        string
	Title      string
	PriceCents int64
	Inventory  int
}

type productSeed struct {
	Handle      string
	Title       string
	Description string
	Variants    []variantSeed
}

var demoCatalog = []productSeed{
	{
		Handle:      "demo-shirt",
		Title:       "Demo T-Shirt",
		Description: "Soft cotton tee for demo purposes",
		Variants: []variantSeed{
			{SKU: "SKU-DEMO-TSHIRT-S", Title: "Small", PriceCents: 1000, Inventory: 50},
			{SKU: "SKU-DEMO-TSHIRT-L", Title: "Large", PriceCents: 1500, Inventory: 50},
		},
	},
	{
		Handle:      "demo-mug",
		Title:       "Demo Mug",
		Description: "Ceramic mug with demo logo",
		Variants: []variantSeed{
			{SKU: "SKU-DEMO-MUG", Title: "Default", PriceCents: 1299, Inventory: 20},
		},
	},
}

// Apply loads a demo catalog and a 10% discount code into a self-hosted
// tenant database. Running it again updates the products in place.
func Apply(ctx context.Context, pool *pgxpool.Pool, tenantID, currency string, logger zerolog.Logger) error {
	products := product.NewPostgres(pool, logger)
	for _, s := range demoCatalog {
		p := domain.Product{
			TenantID:    tenantID,
			Handle:      s.Handle,
			Title:       s.Title,
			Description: s.Description,
			Status:      domain.ProductActive,
		}
		for i, v := range s.Variants {
			p.Variants = append(p.Variants, domain.Variant{
				SKU:               v.SKU,
				Title:             v.Title,
				Price:             domain.NewMoney(v.PriceCents, currency),
				InventoryQuantity: v.Inventory,
				Position:          i + 1,
			})
		}
		if _, err := products.Upsert(ctx, p); err != nil {
			return fmt.Errorf("upsert product %s: %w", s.Handle, err)
		}
	}

	_, err := discount.NewPostgres(pool, logger).Create(ctx, domain.DiscountCode{
		TenantID: tenantID,
		Code:     "DEMO10",
		Type:     domain.DiscountPercentage,
		Value:    1000,
		Active:   true,
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("create discount code: %w", err)
	}
	return nil
}
