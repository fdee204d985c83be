package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/flags"
	"commerce-provider/internal/provider"
	"commerce-provider/internal/provider/providertest"
	"commerce-provider/internal/tenant"
)

type countingFactory struct {
	builds atomic.Int32
	delay  time.Duration
	fail   atomic.Bool

	mu    sync.Mutex
	built []*providertest.Stub
}

func (f *countingFactory) build(_ context.Context, cfg tenant.Config, kind provider.Kind) (provider.Provider, error) {
	f.builds.Add(1)
	time.Sleep(f.delay)
	if f.fail.Load() {
		return nil, errors.New("boom")
	}
	s := &providertest.Stub{KindValue: kind, Tenant: cfg.ID}
	f.mu.Lock()
	f.built = append(f.built, s)
	f.mu.Unlock()
	return s, nil
}

func (f *countingFactory) stub(i int) *providertest.Stub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[i]
}

func newTestRegistry(t *testing.T, cfg Config, evaluator flags.Evaluator, tenants ...string) (*Registry, *tenant.Directory, *countingFactory) {
	t.Helper()
	var cfgs []tenant.Config
	for _, id := range tenants {
		cfgs = append(cfgs, tenant.Config{ID: id})
	}
	dir := tenant.NewDirectory(cfgs, nil, zerolog.Nop())
	f := &countingFactory{}
	r := New(cfg, dir, evaluator, f.build, zerolog.Nop())
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r, dir, f
}

func TestResolve_ConcurrentCallsBuildOnce(t *testing.T) {
	r, _, f := newTestRegistry(t, Config{}, nil, "acme")
	f.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]provider.Provider, 50)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := r.Resolve(context.Background(), "acme")
			assert.NoError(t, err)
			results[i] = p
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.builds.Load())
	for _, p := range results {
		assert.Same(t, results[0], p)
	}
}

func TestResolve_SelectionOrder(t *testing.T) {
	evaluator := flags.NewStatic(map[string][]flags.Rule{
		flags.ProviderFlag: {{Tenants: []string{"flagged", "pinned"}, Variant: "self_hosted"}},
	})
	r, dir, _ := newTestRegistry(t, Config{}, evaluator, "plain", "flagged", "pinned")
	ctx := context.Background()
	require.NoError(t, dir.SetOverride(ctx, "pinned", "managed"))

	p, err := r.Resolve(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, provider.KindManaged, p.Kind())

	p, err = r.Resolve(ctx, "flagged")
	require.NoError(t, err)
	assert.Equal(t, provider.KindSelfHosted, p.Kind())

	p, err = r.Resolve(ctx, "pinned")
	require.NoError(t, err)
	assert.Equal(t, provider.KindManaged, p.Kind())
}

func TestResolve_UnknownTenantAndFlagFailure(t *testing.T) {
	failing := flags.Func(func(context.Context, string, string) (string, error) {
		return "", errors.New("flag service down")
	})
	r, _, f := newTestRegistry(t, Config{}, failing, "acme")

	_, err := r.Resolve(context.Background(), "initech")
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "initech", cfgErr.TenantID)

	_, err = r.Resolve(context.Background(), "acme")
	require.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, f.builds.Load())
}

func TestResolve_BuildErrorIsNotCached(t *testing.T) {
	r, _, f := newTestRegistry(t, Config{}, nil, "acme")
	f.fail.Store(true)

	_, err := r.Resolve(context.Background(), "acme")
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, r.Len())

	f.fail.Store(false)
	_, err = r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.builds.Load())
}

func TestOverrideChange_RebuildsAndClosesOld(t *testing.T) {
	r, dir, f := newTestRegistry(t, Config{}, nil, "acme")
	ctx := context.Background()

	first, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	require.NoError(t, dir.SetOverride(ctx, "acme", "self_hosted"))
	assert.Equal(t, int32(1), f.stub(0).Closed.Load())

	second, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, provider.KindSelfHosted, second.Kind())
}

func TestCapacity_EvictsLeastRecentlyUsed(t *testing.T) {
	r, _, f := newTestRegistry(t, Config{Capacity: 2}, nil, "a", "b", "c")
	ctx := context.Background()
	for _, id := range []string{"a", "b", "a", "c"} {
		_, err := r.Resolve(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, int32(1), f.stub(1).Closed.Load(), "b was least recently used")
	assert.Zero(t, f.stub(0).Closed.Load())
}

func TestSweep_EvictsIdleButNotBusy(t *testing.T) {
	r, _, f := newTestRegistry(t, Config{IdleTTL: time.Minute}, nil, "idle", "busy")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := r.Resolve(ctx, "idle")
	require.NoError(t, err)

	started := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- r.Do(ctx, "busy", func(provider.Provider) error {
			close(started)
			<-finish
			return nil
		})
	}()
	<-started

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, int32(1), f.stub(0).Closed.Load())
	assert.Zero(t, f.stub(1).Closed.Load())

	close(finish)
	require.NoError(t, <-done)
}

func TestDo_InvalidateWaitsForInFlightCall(t *testing.T) {
	r, _, f := newTestRegistry(t, Config{}, nil, "acme")
	ctx := context.Background()
	started := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- r.Do(ctx, "acme", func(provider.Provider) error {
			close(started)
			<-finish
			return nil
		})
	}()
	<-started

	r.Invalidate("acme")
	assert.Zero(t, f.stub(0).Closed.Load())
	close(finish)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), f.stub(0).Closed.Load())
}

func TestClose_DrainsThenClosesAll(t *testing.T) {
	r, _, f := newTestRegistry(t, Config{}, nil, "a", "b")
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := r.Resolve(ctx, id)
		require.NoError(t, err)
	}

	started := make(chan struct{})
	var finished atomic.Bool
	go func() {
		_ = r.Do(ctx, "a", func(provider.Provider) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		})
	}()
	<-started

	require.NoError(t, r.Close(ctx))
	assert.True(t, finished.Load())
	for i := range 2 {
		assert.Equal(t, int32(1), f.stub(i).Closed.Load(), fmt.Sprintf("adapter %d", i))
	}
	_, err := r.Resolve(ctx, "a")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscriptionsOf_SeesThroughDecorators(t *testing.T) {
	r, _, _ := newTestRegistry(t, Config{Decorators: []func(provider.Provider) provider.Provider{
		func(p provider.Provider) provider.Provider { return provider.WithReadRetry(p, provider.DefaultRetryPolicy) },
	}}, nil, "acme")
	p, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	_, ok := provider.SubscriptionsOf(p)
	assert.False(t, ok)
	_, isSweeper := provider.SweeperOf(p)
	assert.False(t, isSweeper)
}
