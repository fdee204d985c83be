package override

import "context"

// Repository persists per-tenant backend overrides. Values are provider
// kinds ("managed" or "self_hosted").
type Repository interface {
	Get(ctx context.Context, tenantID string) (string, error)
	Set(ctx context.Context, tenantID, kind string) error
	Delete(ctx context.Context, tenantID string) error
	List(ctx context.Context) (map[string]string, error)
}
