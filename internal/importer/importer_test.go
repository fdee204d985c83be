package importer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
)

func newRunner(src *source, dst *memDestination, runs *memRuns, cut *recordingCutover, archive Archiver) *Runner {
	return NewRunner(runs, fixedEndpoints{src: src.stub(), dst: dst}, cut,
		Options{PageSize: 2, SampleSize: 10, Archive: archive}, zerolog.Nop())
}

func TestRunner_MigratesAndCutsOver(t *testing.T) {
	src := sampleSource()
	dst := newMemDestination()
	runs := newMemRuns()
	cut := &recordingCutover{}
	archive := &memArchive{}
	run := newRun("acme")
	require.NoError(t, runs.Create(context.Background(), *run))

	err := newRunner(src, dst, runs, cut, archive).Execute(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseDone, run.Phase)
	assert.Equal(t, domain.MigrationCompleted, run.State)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, 100, run.Percent())
	assert.Equal(t, string(provider.KindSelfHosted), cut.kind("acme"))

	require.Len(t, dst.products, 3)
	p := dst.products["2"]
	assert.Empty(t, p.Variants[0].ID)
	assert.Equal(t, "v2", p.Variants[0].ExternalID)
	assert.Equal(t, "SKU-2", p.Variants[0].SKU)
	assert.Equal(t, domain.NewMoney(1500, "USD"), p.Variants[0].Price)

	o := dst.orders["o1"]
	require.NotNil(t, o.CustomerID)
	assert.Equal(t, "local-c1", *o.CustomerID)
	assert.Equal(t, "#1001", o.Number)
	assert.Empty(t, o.Lines[0].ID)

	cp := run.Checkpoints["products"]
	assert.True(t, cp.Done)
	assert.Equal(t, 3, cp.Offset)
	assert.Equal(t, 3, cp.Total)
	assert.Equal(t, domain.EntityCount{Source: 3, Destination: 3}, run.Report.Counts["products"])
	assert.Equal(t, 6, run.Report.Sampled)
	assert.Empty(t, run.Report.Mismatches)

	stored, err := runs.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MigrationCompleted, stored.State)

	assert.Contains(t, archive.keys, "acme/run-1/products/00000000")
	assert.Contains(t, archive.keys, "acme/run-1/products/00000002")
}

func TestRunner_ResumesFromCheckpoint(t *testing.T) {
	src := sampleSource()
	dst := newMemDestination()
	runs := newMemRuns()
	run := newRun("acme")
	run.Checkpoints = map[string]domain.MigrationCheckpoint{"products": {Cursor: "2", Offset: 2, Total: 3}}
	// the first two products were imported before the interruption
	for _, p := range src.products[:2] {
		_, _ = dst.UpsertProduct(context.Background(), importedProduct(p))
	}

	require.NoError(t, newRunner(src, dst, runs, &recordingCutover{}, nil).Execute(context.Background(), run))
	require.NotEmpty(t, src.cursors)
	assert.Equal(t, "2", src.cursors[0])
	assert.Equal(t, 3, run.Checkpoints["products"].Offset)
	assert.Len(t, dst.products, 3)
}

func TestRunner_CatchUpReplaysRecentChanges(t *testing.T) {
	src := sampleSource()
	changed := product("1", "SKU-1", 1200)
	src.updated = []domain.Product{changed}
	src.products[0] = changed
	dst := newMemDestination()

	run := newRun("acme")
	require.NoError(t, newRunner(src, dst, newMemRuns(), &recordingCutover{}, nil).Execute(context.Background(), run))
	assert.Equal(t, 1, run.Report.CaughtUp)
	assert.Equal(t, domain.NewMoney(1200, "USD"), dst.products["1"].Variants[0].Price)
}

func TestRunner_CountMismatchHaltsBeforeCutover(t *testing.T) {
	src := sampleSource()
	dst := newMemDestination()
	dst.extra[provider.EntityCustomers] = 1
	cut := &recordingCutover{}

	run := newRun("acme")
	err := newRunner(src, dst, newMemRuns(), cut, nil).Execute(context.Background(), run)

	var ierr *domain.MigrationIntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "customers", ierr.Entity)
	assert.Equal(t, 2, ierr.Source)
	assert.Equal(t, 3, ierr.Dest)
	assert.Equal(t, domain.PhaseVerify, run.Phase)
	assert.Empty(t, cut.kind("acme"))
}

func TestRunner_SampleMismatchHalts(t *testing.T) {
	src := sampleSource()
	dst := newMemDestination()
	cut := &recordingCutover{}
	runner := newRunner(src, dst, newMemRuns(), cut, nil)

	run := newRun("acme")
	run.Phase = domain.PhaseCatchUp
	for _, p := range src.products {
		_, _ = dst.UpsertProduct(context.Background(), importedProduct(p))
	}
	for _, c := range src.customers {
		_, _ = dst.UpsertCustomer(context.Background(), importedCustomer(c))
	}
	for _, o := range src.orders {
		in, err := importedOrder(context.Background(), dst, o)
		require.NoError(t, err)
		_, _ = dst.UpsertOrder(context.Background(), in)
	}
	drifted := dst.products["3"]
	drifted.Variants[0].SKU = "SKU-3-OLD"
	dst.products["3"] = drifted

	err := runner.Execute(context.Background(), run)
	var ierr *domain.MigrationIntegrityError
	require.ErrorAs(t, err, &ierr)
	require.Len(t, ierr.Mismatch, 1)
	assert.Contains(t, ierr.Mismatch[0], `sku "SKU-3" != "SKU-3-OLD"`)
	assert.Empty(t, cut.kind("acme"))
}

func TestDiffOrder(t *testing.T) {
	a := domain.Order{ID: "o1", FinancialStatus: domain.FinancialPaid, Totals: domain.Totals{Total: domain.NewMoney(1000, "USD")}}
	b := a
	assert.Empty(t, diffOrder(a, b))

	b.FinancialStatus = domain.FinancialRefunded
	b.Totals.Total = domain.NewMoney(900, "USD")
	assert.Len(t, diffOrder(a, b), 2)
}

func TestController_StartPauseResume(t *testing.T) {
	src := sampleSource()
	src.block = true
	dst := newMemDestination()
	runs := newMemRuns()
	cut := &recordingCutover{}
	ctrl := NewController(newRunner(src, dst, runs, cut, nil), runs, zerolog.Nop())
	ctx := context.Background()

	run, err := ctrl.Start(ctx, "acme")
	require.NoError(t, err)

	_, err = ctrl.Start(ctx, "acme")
	var perr *domain.ProviderPermanentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "migration_active", perr.Code)

	// wait for the first page to land so the run is parked on the second
	require.Eventually(t, func() bool {
		got, _ := runs.Get(ctx, run.ID)
		return got.Checkpoints["products"].Offset == 2
	}, 2*time.Second, 10*time.Millisecond)

	paused, err := ctrl.Pause(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MigrationPaused, paused.State)
	assert.Equal(t, "2", paused.Checkpoints["products"].Cursor)

	src.setBlock(false)
	_, err = ctrl.Resume(ctx, run.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := ctrl.Status(ctx, run.ID)
		return got.State == domain.MigrationCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, string(provider.KindSelfHosted), cut.kind("acme"))
	require.NoError(t, ctrl.Close(ctx))
}

func TestController_ResumesFailedRunFromCheckpoint(t *testing.T) {
	src := sampleSource()
	src.setFail(errors.New("upstream 502"))
	dst := newMemDestination()
	runs := newMemRuns()
	cut := &recordingCutover{}
	ctrl := NewController(newRunner(src, dst, runs, cut, nil), runs, zerolog.Nop())
	ctx := context.Background()

	run, err := ctrl.Start(ctx, "acme")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := runs.Get(ctx, run.ID)
		return got.State == domain.MigrationFailed
	}, 2*time.Second, 10*time.Millisecond)

	failed, err := runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Contains(t, failed.Error, "upstream 502")
	assert.NotNil(t, failed.FinishedAt)
	assert.Equal(t, 2, failed.Checkpoints["products"].Offset)
	before := len(src.productCursors())

	src.setFail(nil)
	resumed, err := ctrl.Resume(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MigrationRunning, resumed.State)
	assert.Empty(t, resumed.Error)
	assert.Nil(t, resumed.FinishedAt)

	require.Eventually(t, func() bool {
		got, _ := ctrl.Status(ctx, run.ID)
		return got.State == domain.MigrationCompleted
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, ctrl.Close(ctx))

	after := src.productCursors()[before:]
	require.NotEmpty(t, after)
	assert.Equal(t, "2", after[0])
	assert.Len(t, dst.products, 3)
	assert.Equal(t, string(provider.KindSelfHosted), cut.kind("acme"))
}

func TestController_FailedRunYieldsToNewerRun(t *testing.T) {
	src := sampleSource()
	src.setFail(errors.New("upstream 502"))
	runs := newMemRuns()
	ctrl := NewController(newRunner(src, newMemDestination(), runs, &recordingCutover{}, nil), runs, zerolog.Nop())
	ctx := context.Background()

	run, err := ctrl.Start(ctx, "acme")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := runs.Get(ctx, run.ID)
		return got.State == domain.MigrationFailed
	}, 2*time.Second, 10*time.Millisecond)

	src.setFail(nil)
	src.setBlock(true)
	next, err := ctrl.Start(ctx, "acme")
	require.NoError(t, err)

	_, err = ctrl.Resume(ctx, run.ID)
	var perr *domain.ProviderPermanentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "migration_active", perr.Code)

	_, err = ctrl.Abort(ctx, next.ID)
	require.NoError(t, err)
	require.NoError(t, ctrl.Close(ctx))
}

func TestController_Abort(t *testing.T) {
	src := sampleSource()
	src.block = true
	runs := newMemRuns()
	cut := &recordingCutover{}
	ctrl := NewController(newRunner(src, newMemDestination(), runs, cut, nil), runs, zerolog.Nop())
	ctx := context.Background()

	run, err := ctrl.Start(ctx, "acme")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := runs.Get(ctx, run.ID)
		return got.Checkpoints["products"].Offset == 2
	}, 2*time.Second, 10*time.Millisecond)

	aborted, err := ctrl.Abort(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MigrationAborted, aborted.State)
	assert.NotNil(t, aborted.FinishedAt)
	assert.Empty(t, cut.kind("acme"))

	_, err = ctrl.Resume(ctx, run.ID)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	// an aborted run no longer blocks a new one
	next, err := ctrl.Start(ctx, "acme")
	require.NoError(t, err)
	assert.NotEqual(t, run.ID, next.ID)
	require.NoError(t, ctrl.Close(ctx))
}
