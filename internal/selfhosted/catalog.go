package selfhosted

import (
	"context"
	"strings"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

func (a *Adapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return a.products.GetByID(ctx, a.cfg.TenantID, id)
}

func (a *Adapter) GetProductByHandle(ctx context.Context, handle string) (*domain.Product, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, domain.Invalid("handle", "required")
	}
	return a.products.GetByHandle(ctx, a.cfg.TenantID, handle)
}

func (a *Adapter) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.Invalid("query", "required")
	}
	limit = provider.ListOptions{Limit: limit}.PageLimit(defaultPageSize, maxPageSize)
	return a.products.Search(ctx, a.cfg.TenantID, query, limit)
}

func (a *Adapter) ListProducts(ctx context.Context, opts provider.ListOptions) (domain.Page[domain.Product], error) {
	opts.Limit = opts.PageLimit(defaultPageSize, maxPageSize)
	return a.products.List(ctx, a.cfg.TenantID, opts)
}
