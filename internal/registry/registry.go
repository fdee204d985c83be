// Package registry resolves a tenant to its commerce backend and caches one
// adapter per tenant configuration.
package registry

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/flags"
	"commerce-provider/internal/provider"
	"commerce-provider/internal/tenant"
)

// ErrClosed is returned by Resolve and Do after Close.
var ErrClosed = errors.New("registry closed")

// Factory builds an adapter for a tenant config and backend kind.
type Factory func(ctx context.Context, cfg tenant.Config, kind provider.Kind) (provider.Provider, error)

// Directory is the tenant lookup the registry needs.
type Directory interface {
	Get(tenantID string) (tenant.Config, error)
	Override(tenantID string) string
	OnChange(fn func(tenantID string))
}

type Config struct {
	Capacity int
	IdleTTL  time.Duration
	// DefaultKind applies when neither an override nor the flag selects a backend.
	DefaultKind provider.Kind
	// Decorators wrap every adapter after construction, innermost first.
	Decorators []func(provider.Provider) provider.Provider
}

type entry struct {
	tenantID string
	hash     string
	p        provider.Provider
	lastUsed time.Time
	refs     int
	// retired entries are out of the cache and close once refs drops to zero.
	retired bool
}

type Registry struct {
	cfg     Config
	dir     Directory
	flags   flags.Evaluator
	factory Factory
	logger  zerolog.Logger
	now     func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	byTenant map[string]*list.Element
	lru      *list.List
	closed   bool
	inflight sync.WaitGroup
}

func New(cfg Config, dir Directory, evaluator flags.Evaluator, factory Factory, logger zerolog.Logger) *Registry {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 256
	}
	if cfg.DefaultKind == "" {
		cfg.DefaultKind = provider.KindManaged
	}
	r := &Registry{
		cfg:      cfg,
		dir:      dir,
		flags:    evaluator,
		factory:  factory,
		logger:   logger.With().Str("component", "registry").Logger(),
		now:      time.Now,
		byTenant: map[string]*list.Element{},
		lru:      list.New(),
	}
	dir.OnChange(r.Invalidate)
	return r
}

// SelectKind applies override > flag > default.
func (r *Registry) SelectKind(ctx context.Context, tenantID string) (provider.Kind, error) {
	if o := r.dir.Override(tenantID); o != "" {
		kind, ok := provider.ParseKind(o)
		if !ok {
			return "", &domain.ConfigurationError{TenantID: tenantID, Reason: "unknown provider override " + o}
		}
		return kind, nil
	}
	if r.flags != nil {
		v, err := r.flags.Evaluate(ctx, flags.ProviderFlag, tenantID)
		if err != nil {
			return "", &domain.ConfigurationError{TenantID: tenantID, Reason: "evaluate provider flag", Err: err}
		}
		if v != "" {
			kind, ok := provider.ParseKind(v)
			if !ok {
				return "", &domain.ConfigurationError{TenantID: tenantID, Reason: "unknown provider flag variant " + v}
			}
			return kind, nil
		}
	}
	return r.cfg.DefaultKind, nil
}

// Resolve returns the tenant's adapter, building it on first use.
// Concurrent calls for the same config share one construction.
func (r *Registry) Resolve(ctx context.Context, tenantID string) (provider.Provider, error) {
	e, err := r.acquire(ctx, tenantID, false)
	if err != nil {
		return nil, err
	}
	return e.p, nil
}

// Do runs fn with the tenant's adapter. Close waits for fn to return, and
// the adapter is not closed underneath it by eviction or invalidation.
func (r *Registry) Do(ctx context.Context, tenantID string, fn func(provider.Provider) error) error {
	e, err := r.acquire(ctx, tenantID, true)
	if err != nil {
		return err
	}
	defer r.release(e)
	return fn(e.p)
}

func (r *Registry) acquire(ctx context.Context, tenantID string, hold bool) (*entry, error) {
	cfg, err := r.dir.Get(tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.ConfigurationError{TenantID: tenantID, Reason: "unknown tenant", Err: err}
		}
		return nil, err
	}
	kind, err := r.SelectKind(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	hash := cfg.Hash(string(kind))

	if e, ok := r.lookup(tenantID, hash, hold); ok {
		return e, nil
	}
	if r.isClosed() {
		return nil, ErrClosed
	}

	_, err, _ = r.group.Do(tenantID+":"+hash, func() (any, error) {
		if e, ok := r.lookup(tenantID, hash, false); ok {
			return e, nil
		}
		// The adapter outlives the request that triggered its construction.
		p, err := r.factory(context.WithoutCancel(ctx), cfg, kind)
		if err != nil {
			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) {
				err = &domain.ConfigurationError{TenantID: tenantID, Reason: "build " + string(kind) + " adapter", Err: err}
			}
			r.logger.Error().Err(err).Str("tenant", tenantID).Str("kind", string(kind)).Msg("adapter construction failed")
			return nil, err
		}
		for _, d := range r.cfg.Decorators {
			p = d(p)
		}
		r.logger.Info().Str("tenant", tenantID).Str("kind", string(kind)).Msg("adapter constructed")
		return r.insert(tenantID, hash, p)
	})
	if err != nil {
		return nil, err
	}
	if e, ok := r.lookup(tenantID, hash, hold); ok {
		return e, nil
	}
	// Invalidated between construction and this lookup; build again.
	return r.acquire(ctx, tenantID, hold)
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Registry) lookup(tenantID, hash string, hold bool) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	el, ok := r.byTenant[tenantID]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if e.hash != hash {
		return nil, false
	}
	e.lastUsed = r.now()
	r.lru.MoveToFront(el)
	if hold {
		e.refs++
		r.inflight.Add(1)
	}
	return e, true
}

func (r *Registry) insert(tenantID, hash string, p provider.Provider) (*entry, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = p.Close()
		return nil, ErrClosed
	}
	var toClose []provider.Provider
	if el, ok := r.byTenant[tenantID]; ok {
		toClose = append(toClose, r.retireLocked(el)...)
	}
	e := &entry{tenantID: tenantID, hash: hash, p: p, lastUsed: r.now()}
	r.byTenant[tenantID] = r.lru.PushFront(e)
	for r.lru.Len() > r.cfg.Capacity {
		toClose = append(toClose, r.retireLocked(r.lru.Back())...)
	}
	r.mu.Unlock()
	r.closeAll(toClose)
	return e, nil
}

// retireLocked drops el from the cache and returns the adapter if it can
// be closed now.
func (r *Registry) retireLocked(el *list.Element) []provider.Provider {
	e := el.Value.(*entry)
	r.lru.Remove(el)
	if cur, ok := r.byTenant[e.tenantID]; ok && cur == el {
		delete(r.byTenant, e.tenantID)
	}
	e.retired = true
	if e.refs > 0 {
		return nil
	}
	return []provider.Provider{e.p}
}

func (r *Registry) release(e *entry) {
	r.mu.Lock()
	e.refs--
	closeNow := e.retired && e.refs == 0
	r.mu.Unlock()
	r.inflight.Done()
	if closeNow {
		r.closeAll([]provider.Provider{e.p})
	}
}

func (r *Registry) closeAll(ps []provider.Provider) {
	for _, p := range ps {
		if err := p.Close(); err != nil {
			r.logger.Warn().Err(err).Str("tenant", p.TenantID()).Msg("close adapter")
		}
	}
}

// Invalidate drops the tenant's cached adapter; the next Resolve rebuilds it.
func (r *Registry) Invalidate(tenantID string) {
	r.mu.Lock()
	var toClose []provider.Provider
	if el, ok := r.byTenant[tenantID]; ok {
		toClose = r.retireLocked(el)
	}
	r.mu.Unlock()
	r.closeAll(toClose)
	r.logger.Debug().Str("tenant", tenantID).Msg("adapter invalidated")
}

// Sweep evicts adapters idle for longer than IdleTTL and returns how many
// were dropped.
func (r *Registry) Sweep() int {
	if r.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.cfg.IdleTTL)
	r.mu.Lock()
	var toClose []provider.Provider
	n := 0
	for el := r.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if e.refs == 0 && e.lastUsed.Before(cutoff) {
			toClose = append(toClose, r.retireLocked(el)...)
			n++
		}
		el = prev
	}
	r.mu.Unlock()
	r.closeAll(toClose)
	return n
}

// Run sweeps idle adapters every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug().Int("evicted", n).Msg("idle adapters evicted")
			}
		}
	}
}

// Len returns the number of cached adapters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}

// Each calls fn for every cached adapter.
func (r *Registry) Each(fn func(provider.Provider)) {
	r.mu.Lock()
	ps := make([]provider.Provider, 0, r.lru.Len())
	for el := r.lru.Front(); el != nil; el = el.Next() {
		ps = append(ps, el.Value.(*entry).p)
	}
	r.mu.Unlock()
	for _, p := range ps {
		fn(p)
	}
}

// Close stops new resolutions, waits for in-flight Do calls, then closes
// every adapter.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("wait for in-flight calls: %w", ctx.Err())
	}

	r.mu.Lock()
	var ps []provider.Provider
	for el := r.lru.Front(); el != nil; el = el.Next() {
		ps = append(ps, el.Value.(*entry).p)
	}
	r.lru.Init()
	r.byTenant = map[string]*list.Element{}
	r.mu.Unlock()

	errs := []error{waitErr}
	for _, p := range ps {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
