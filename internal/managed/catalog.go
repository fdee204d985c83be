package managed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"commerce-provider/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

type productEnvelope struct {
	Product restProduct `json:"product"`
}

type productsEnvelope struct {
	Products []restProduct `json:"products"`
}

func (a *Adapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var out productEnvelope
	if _, err := a.rest(ctx, resty.MethodGet, "get product", "/products/"+fromGID(id)+".json", nil, &out); err != nil {
		return nil, err
	}
	p := toProduct(out.Product, a.cfg.Currency)
	p.TenantID = a.cfg.TenantID
	return &p, nil
}

func (a *Adapter) GetProductByHandle(ctx context.Context, handle string) (*domain.Product, error) {
	if handle == "" {
		return nil, domain.Invalid("handle", "required")
	}
	products, err := a.listProducts(ctx, "get product by handle", map[string]string{"handle": handle, "limit": "1"})
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("product %q: %w", handle, domain.ErrNotFound)
	}
	return &products[0], nil
}

// SearchProducts matches on title. The Admin API has no relevance search.
func (a *Adapter) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if query == "" {
		return nil, domain.Invalid("query", "required")
	}
	limit = domain.ListOptions{Limit: limit}.PageLimit(defaultPageSize, maxPageSize)
	return a.listProducts(ctx, "search products", map[string]string{
		"title":  query,
		"status": "active",
		"limit":  strconv.Itoa(limit),
	})
}

// ListProducts pages by ascending id; the cursor is the last id returned.
func (a *Adapter) ListProducts(ctx context.Context, opts domain.ListOptions) (domain.Page[domain.Product], error) {
	limit := opts.PageLimit(defaultPageSize, maxPageSize)
	params := pageParams(opts, limit)
	products, err := a.listProducts(ctx, "list products", params)
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}
	page := domain.Page[domain.Product]{Items: products}
	if len(products) == limit {
		page.NextCursor = products[len(products)-1].ID
	}
	return page, nil
}

func pageParams(opts domain.ListOptions, limit int) map[string]string {
	params := map[string]string{
		"limit":    strconv.Itoa(limit),
		"order":    "id asc",
		"since_id": "0",
	}
	if opts.Cursor != "" {
		params["since_id"] = fromGID(opts.Cursor)
	}
	if opts.UpdatedSince != nil {
		params["updated_at_min"] = opts.UpdatedSince.UTC().Format(time.RFC3339)
	}
	return params
}

func (a *Adapter) listProducts(ctx context.Context, op string, params map[string]string) ([]domain.Product, error) {
	var out productsEnvelope
	if _, err := a.rest(ctx, resty.MethodGet, op, "/products.json", nil, &out, func(r *resty.Request) {
		r.SetQueryParams(params)
	}); err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(out.Products))
	for _, p := range out.Products {
		dp := toProduct(p, a.cfg.Currency)
		dp.TenantID = a.cfg.TenantID
		products = append(products, dp)
	}
	return products, nil
}
