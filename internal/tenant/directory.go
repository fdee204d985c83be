package tenant

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"commerce-provider/internal/domain"
)

// OverrideStore persists backend overrides; override.Repository satisfies it.
type OverrideStore interface {
	Get(ctx context.Context, tenantID string) (string, error)
	Set(ctx context.Context, tenantID, kind string) error
	Delete(ctx context.Context, tenantID string) error
	List(ctx context.Context) (map[string]string, error)
}

// Directory serves tenant configs and overrides from memory and notifies
// listeners when either changes for a tenant.
type Directory struct {
	mu        sync.RWMutex
	tenants   map[string]Config
	byDomain  map[string]string
	byToken   map[string]string
	overrides map[string]string
	listeners []func(tenantID string)

	store  OverrideStore
	logger zerolog.Logger
}

func NewDirectory(cfgs []Config, store OverrideStore, logger zerolog.Logger) *Directory {
	if store == nil {
		store = NewMemoryOverrides()
	}
	d := &Directory{
		overrides: map[string]string{},
		store:     store,
		logger:    logger.With().Str("component", "tenant_directory").Logger(),
	}
	d.index(cfgs)
	return d
}

func (d *Directory) index(cfgs []Config) {
	d.tenants = make(map[string]Config, len(cfgs))
	d.byDomain = map[string]string{}
	d.byToken = map[string]string{}
	for _, c := range cfgs {
		d.tenants[c.ID] = c
		if c.Managed.ShopDomain != "" {
			d.byDomain[strings.ToLower(c.Managed.ShopDomain)] = c.ID
		}
		if c.WebhookToken != "" {
			d.byToken[c.WebhookToken] = c.ID
		}
	}
}

// OnChange registers fn to run after a tenant's config or override changes.
func (d *Directory) OnChange(fn func(tenantID string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

func (d *Directory) notify(ids []string) {
	d.mu.RLock()
	listeners := slices.Clone(d.listeners)
	d.mu.RUnlock()
	for _, id := range ids {
		d.logger.Info().Str("tenant", id).Msg("tenant configuration changed")
		for _, fn := range listeners {
			fn(id)
		}
	}
}

func (d *Directory) Get(tenantID string) (Config, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.tenants[tenantID]
	if !ok {
		return Config{}, fmt.Errorf("tenant %s: %w", tenantID, domain.ErrNotFound)
	}
	return c, nil
}

// Tenants returns the configured tenant ids, sorted.
func (d *Directory) Tenants() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Sorted(maps.Keys(d.tenants))
}

func (d *Directory) ByShopDomain(shopDomain string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byDomain[strings.ToLower(strings.TrimSpace(shopDomain))]
	return id, ok
}

func (d *Directory) ByWebhookToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byToken[token]
	return id, ok
}

// Override returns the backend the tenant is pinned to, or "" when the
// choice is left to flag evaluation. A persisted override wins over the
// directory file.
func (d *Directory) Override(tenantID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if kind, ok := d.overrides[tenantID]; ok {
		return kind
	}
	return d.tenants[tenantID].Provider
}

// SetOverride persists kind for the tenant.
func (d *Directory) SetOverride(ctx context.Context, tenantID, kind string) error {
	if err := d.store.Set(ctx, tenantID, kind); err != nil {
		return fmt.Errorf("persist override for %s: %w", tenantID, err)
	}
	d.mu.Lock()
	changed := d.overrides[tenantID] != kind
	d.overrides[tenantID] = kind
	d.mu.Unlock()
	if changed {
		d.notify([]string{tenantID})
	}
	return nil
}

func (d *Directory) ClearOverride(ctx context.Context, tenantID string) error {
	if err := d.store.Delete(ctx, tenantID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("clear override for %s: %w", tenantID, err)
	}
	d.mu.Lock()
	_, had := d.overrides[tenantID]
	delete(d.overrides, tenantID)
	d.mu.Unlock()
	if had {
		d.notify([]string{tenantID})
	}
	return nil
}

// RefreshOverrides reloads persisted overrides, picking up changes made by
// other instances.
func (d *Directory) RefreshOverrides(ctx context.Context) error {
	latest, err := d.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list overrides: %w", err)
	}
	d.mu.Lock()
	var changed []string
	for id, kind := range latest {
		if d.overrides[id] != kind {
			changed = append(changed, id)
		}
	}
	for id := range d.overrides {
		if _, ok := latest[id]; !ok {
			changed = append(changed, id)
		}
	}
	d.overrides = latest
	d.mu.Unlock()
	slices.Sort(changed)
	d.notify(changed)
	return nil
}

// Replace swaps in a reloaded directory file and notifies every tenant
// that was added, removed or changed.
func (d *Directory) Replace(cfgs []Config) {
	d.mu.Lock()
	old := d.tenants
	d.index(cfgs)
	var changed []string
	for id, c := range d.tenants {
		if prev, ok := old[id]; !ok || prev.Hash("") != c.Hash("") {
			changed = append(changed, id)
		}
	}
	for id := range old {
		if _, ok := d.tenants[id]; !ok {
			changed = append(changed, id)
		}
	}
	d.mu.Unlock()
	slices.Sort(changed)
	d.notify(changed)
}

// MemoryOverrides is an OverrideStore for tests and single-instance runs.
type MemoryOverrides struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemoryOverrides() *MemoryOverrides {
	return &MemoryOverrides{m: map[string]string{}}
}

func (s *MemoryOverrides) Get(_ context.Context, tenantID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := s.m[tenantID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return kind, nil
}

func (s *MemoryOverrides) Set(_ context.Context, tenantID, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[tenantID] = kind
	return nil
}

func (s *MemoryOverrides) Delete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[tenantID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.m, tenantID)
	return nil
}

func (s *MemoryOverrides) List(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.m), nil
}
