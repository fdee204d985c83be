package importer

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"commerce-provider/internal/db"
	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
	"commerce-provider/internal/repository/customer"
	"commerce-provider/internal/repository/order"
	"commerce-provider/internal/repository/product"
)

// Destination is the self-hosted store records are imported into. Upserts
// are keyed by ExternalID so a replayed page overwrites instead of duplicating.
type Destination interface {
	UpsertProduct(ctx context.Context, p domain.Product) (*domain.Product, error)
	UpsertCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error)
	UpsertOrder(ctx context.Context, o domain.Order) (*domain.Order, error)
	CustomerByExternalID(ctx context.Context, externalID string) (*domain.Customer, error)
	Count(ctx context.Context, entity provider.Entity) (int, error)
	// The Sample methods return up to n randomly chosen imported records.
	SampleProducts(ctx context.Context, n int) ([]domain.Product, error)
	SampleCustomers(ctx context.Context, n int) ([]domain.Customer, error)
	SampleOrders(ctx context.Context, n int) ([]domain.Order, error)
}

type postgresDestination struct {
	tenantID  string
	pool      *pgxpool.Pool
	products  product.Repository
	customers customer.Repository
	orders    order.Repository
}

// NewPostgresDestination writes into the tenant's self-hosted database.
func NewPostgresDestination(tenantID string, pool *pgxpool.Pool, logger zerolog.Logger) Destination {
	return &postgresDestination{
		tenantID:  tenantID,
		pool:      pool,
		products:  product.NewPostgres(pool, logger),
		customers: customer.NewPostgres(pool, logger),
		orders:    order.NewPostgres(pool, logger),
	}
}

func (d *postgresDestination) UpsertProduct(ctx context.Context, p domain.Product) (*domain.Product, error) {
	p.TenantID = d.tenantID
	return d.products.Upsert(ctx, p)
}

func (d *postgresDestination) UpsertCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	c.TenantID = d.tenantID
	return d.customers.UpsertByExternalID(ctx, c)
}

func (d *postgresDestination) UpsertOrder(ctx context.Context, o domain.Order) (*domain.Order, error) {
	o.TenantID = d.tenantID
	return d.orders.UpsertByExternalID(ctx, o)
}

func (d *postgresDestination) CustomerByExternalID(ctx context.Context, externalID string) (*domain.Customer, error) {
	return d.customers.GetByExternalID(ctx, d.tenantID, externalID)
}

func (d *postgresDestination) Count(ctx context.Context, entity provider.Entity) (int, error) {
	switch entity {
	case provider.EntityProducts:
		return d.products.Count(ctx, d.tenantID)
	case provider.EntityCustomers:
		return d.customers.Count(ctx, d.tenantID)
	case provider.EntityOrders:
		return d.orders.Count(ctx, d.tenantID)
	}
	return 0, fmt.Errorf("count %s: %w", entity, domain.ErrUnsupported)
}

var sampleTables = map[provider.Entity]string{
	provider.EntityProducts:  "products",
	provider.EntityCustomers: "customers",
	provider.EntityOrders:    "orders",
}

func (d *postgresDestination) sampleIDs(ctx context.Context, entity provider.Entity, n int) ([]string, error) {
	q := `SELECT id::text FROM ` + sampleTables[entity] + `
WHERE tenant_id = $1 AND external_id IS NOT NULL
ORDER BY random()
LIMIT $2`
	rows, err := db.Conn(ctx, d.pool).Query(ctx, q, d.tenantID, n)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", entity, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *postgresDestination) SampleProducts(ctx context.Context, n int) ([]domain.Product, error) {
	ids, err := d.sampleIDs(ctx, provider.EntityProducts, n)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		p, err := d.products.GetByID(ctx, d.tenantID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (d *postgresDestination) SampleCustomers(ctx context.Context, n int) ([]domain.Customer, error) {
	ids, err := d.sampleIDs(ctx, provider.EntityCustomers, n)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Customer, 0, len(ids))
	for _, id := range ids {
		c, err := d.customers.GetByID(ctx, d.tenantID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (d *postgresDestination) SampleOrders(ctx context.Context, n int) ([]domain.Order, error) {
	ids, err := d.sampleIDs(ctx, provider.EntityOrders, n)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		o, err := d.orders.Get(ctx, d.tenantID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}
