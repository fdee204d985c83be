// Package importer migrates a tenant from the managed platform to the
// self-hosted stack: paged export, checkpointed upsert, catch-up,
// verification and cutover.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
)

const (
	defaultPageSize   = 100
	defaultSampleSize = 25
)

// RunStore persists runs and their checkpoints.
type RunStore interface {
	Create(ctx context.Context, run domain.MigrationRun) error
	Get(ctx context.Context, id string) (*domain.MigrationRun, error)
	Save(ctx context.Context, run domain.MigrationRun) error
	Active(ctx context.Context, tenantID string) (*domain.MigrationRun, error)
}

// Endpoints opens the source adapter and destination store of a tenant.
// release frees both.
type Endpoints interface {
	Open(ctx context.Context, tenantID string) (src provider.Provider, dst Destination, release func(), err error)
}

// Cutover pins the tenant to a backend.
type Cutover interface {
	SetOverride(ctx context.Context, tenantID, kind string) error
}

type Options struct {
	PageSize   int
	SampleSize int
	// Archive is optional.
	Archive Archiver
}

// Runner executes one run from its current phase to completion.
type Runner struct {
	runs      RunStore
	endpoints Endpoints
	cutover   Cutover
	opts      Options
	logger    zerolog.Logger
}

func NewRunner(runs RunStore, endpoints Endpoints, cutover Cutover, opts Options, logger zerolog.Logger) *Runner {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaultSampleSize
	}
	return &Runner{
		runs:      runs,
		endpoints: endpoints,
		cutover:   cutover,
		opts:      opts,
		logger:    logger.With().Str("component", "importer").Logger(),
	}
}

var nextPhase = map[domain.MigrationPhase]domain.MigrationPhase{
	domain.PhaseProducts:  domain.PhaseCustomers,
	domain.PhaseCustomers: domain.PhaseOrders,
	domain.PhaseOrders:    domain.PhaseCatchUp,
	domain.PhaseCatchUp:   domain.PhaseVerify,
	domain.PhaseVerify:    domain.PhaseCutover,
	domain.PhaseCutover:   domain.PhaseDone,
}

var exportPhases = []domain.MigrationPhase{domain.PhaseProducts, domain.PhaseCustomers, domain.PhaseOrders}

// Execute advances run phase by phase, saving after every page. It stops
// with context.Cause(ctx) when ctx is cancelled; the saved checkpoints let a
// later Execute resume where it stopped.
func (r *Runner) Execute(ctx context.Context, run *domain.MigrationRun) error {
	src, dst, release, err := r.endpoints.Open(ctx, run.TenantID)
	if err != nil {
		return err
	}
	defer release()

	log := r.logger.With().Str("tenant", run.TenantID).Str("run_id", run.ID).Logger()
	if run.Checkpoints == nil {
		run.Checkpoints = map[string]domain.MigrationCheckpoint{}
	}
	if run.Report == nil {
		run.Report = &domain.MigrationReport{Counts: map[string]domain.EntityCount{}}
	}

	for run.Phase != domain.PhaseDone {
		if err := context.Cause(ctx); err != nil {
			return err
		}
		log.Info().Str("phase", string(run.Phase)).Int("percent", run.Percent()).Msg("migration phase")

		switch run.Phase {
		case domain.PhaseProducts, domain.PhaseCustomers, domain.PhaseOrders:
			err = r.export(ctx, run, src, dst, run.Phase, string(run.Phase), nil)
		case domain.PhaseCatchUp:
			err = r.catchUp(ctx, run, src, dst)
		case domain.PhaseVerify:
			err = r.verify(ctx, run, src, dst)
		case domain.PhaseCutover:
			err = r.cutover.SetOverride(ctx, run.TenantID, string(provider.KindSelfHosted))
		default:
			err = fmt.Errorf("unknown migration phase %q", run.Phase)
		}
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return cause
			}
			return err
		}

		run.Phase = nextPhase[run.Phase]
		if run.Phase == domain.PhaseDone {
			now := time.Now().UTC()
			run.State = domain.MigrationCompleted
			run.FinishedAt = &now
		}
		if err := r.save(ctx, run); err != nil {
			return err
		}
	}
	log.Info().Int("caught_up", run.Report.CaughtUp).Msg("migration completed")
	return nil
}

// catchUp re-exports everything modified since the run started, so writes
// that landed on the managed platform during the bulk export are carried over.
func (r *Runner) catchUp(ctx context.Context, run *domain.MigrationRun, src provider.Provider, dst Destination) error {
	since := run.StartedAt
	for _, entity := range exportPhases {
		key := string(domain.PhaseCatchUp) + ":" + string(entity)
		before := run.Checkpoints[key].Offset
		if err := r.export(ctx, run, src, dst, entity, key, &since); err != nil {
			return err
		}
		run.Report.CaughtUp += run.Checkpoints[key].Offset - before
	}
	return nil
}

// export pages through one entity from its checkpoint.
func (r *Runner) export(ctx context.Context, run *domain.MigrationRun, src provider.Provider, dst Destination,
	entity domain.MigrationPhase, key string, since *time.Time) error {
	cp := run.Checkpoints[key]
	if cp.Done {
		return nil
	}
	if cp.Total == 0 && since == nil {
		if total, err := src.Count(ctx, provider.Entity(entity)); err == nil {
			cp.Total = total
		}
	}

	for {
		opts := provider.ListOptions{Cursor: cp.Cursor, Limit: r.opts.PageSize, UpdatedSince: since}
		archiveKey := fmt.Sprintf("%s/%s/%s/%08d", run.TenantID, run.ID, key, cp.Offset)
		n, next, err := r.page(ctx, src, dst, entity, opts, archiveKey)
		if err != nil {
			return fmt.Errorf("%s page at offset %d: %w", key, cp.Offset, err)
		}
		cp.Offset += n
		cp.Cursor = next
		cp.Done = next == ""
		run.Checkpoints[key] = cp
		if err := r.save(ctx, run); err != nil {
			return err
		}
		if cp.Done {
			return nil
		}
		if err := context.Cause(ctx); err != nil {
			return err
		}
	}
}

func (r *Runner) page(ctx context.Context, src provider.Provider, dst Destination,
	entity domain.MigrationPhase, opts provider.ListOptions, archiveKey string) (int, string, error) {
	switch entity {
	case domain.PhaseProducts:
		page, err := src.ListProducts(ctx, opts)
		if err != nil {
			return 0, "", err
		}
		if err := archivePage(ctx, r.opts.Archive, archiveKey, page.Items); err != nil {
			return 0, "", err
		}
		for _, p := range page.Items {
			if _, err := dst.UpsertProduct(ctx, importedProduct(p)); err != nil {
				return 0, "", fmt.Errorf("product %s: %w", p.ID, err)
			}
		}
		return len(page.Items), page.NextCursor, nil

	case domain.PhaseCustomers:
		page, err := src.ListCustomers(ctx, opts)
		if err != nil {
			return 0, "", err
		}
		if err := archivePage(ctx, r.opts.Archive, archiveKey, page.Items); err != nil {
			return 0, "", err
		}
		for _, c := range page.Items {
			if _, err := dst.UpsertCustomer(ctx, importedCustomer(c)); err != nil {
				return 0, "", fmt.Errorf("customer %s: %w", c.ID, err)
			}
		}
		return len(page.Items), page.NextCursor, nil

	case domain.PhaseOrders:
		page, err := src.ListOrders(ctx, opts)
		if err != nil {
			return 0, "", err
		}
		if err := archivePage(ctx, r.opts.Archive, archiveKey, page.Items); err != nil {
			return 0, "", err
		}
		for _, o := range page.Items {
			in, err := importedOrder(ctx, dst, o)
			if err != nil {
				return 0, "", err
			}
			if _, err := dst.UpsertOrder(ctx, in); err != nil {
				return 0, "", fmt.Errorf("order %s: %w", o.ID, err)
			}
		}
		return len(page.Items), page.NextCursor, nil
	}
	return 0, "", fmt.Errorf("export %s: %w", entity, domain.ErrUnsupported)
}

func archivePage[T any](ctx context.Context, a Archiver, key string, items []T) error {
	if a == nil || len(items) == 0 {
		return nil
	}
	return a.Put(ctx, key, items)
}

func (r *Runner) save(ctx context.Context, run *domain.MigrationRun) error {
	run.UpdatedAt = time.Now().UTC()
	if err := r.runs.Save(context.WithoutCancel(ctx), *run); err != nil {
		return fmt.Errorf("save migration run %s: %w", run.ID, err)
	}
	return nil
}

// importedProduct keys a source product and its variants by their source ids.
func importedProduct(p domain.Product) domain.Product {
	out := p
	out.ExternalID = p.ID
	out.ID = ""
	out.Stale = false
	out.Variants = make([]domain.Variant, len(p.Variants))
	for i, v := range p.Variants {
		v.ExternalID = v.ID
		v.ID = ""
		v.ProductID = ""
		v.Position = i
		out.Variants[i] = v
	}
	return out
}

func importedCustomer(c domain.Customer) domain.Customer {
	out := c
	out.ExternalID = c.ID
	out.ID = ""
	out.PasswordHash = ""
	return out
}

// importedOrder links the order to the already imported customer. Line
// product and variant ids keep their source values.
func importedOrder(ctx context.Context, dst Destination, o domain.Order) (domain.Order, error) {
	out := o
	out.ExternalID = o.ID
	out.ID = ""
	out.CheckoutID = nil
	out.CustomerID = nil
	if o.CustomerID != nil && *o.CustomerID != "" {
		c, err := dst.CustomerByExternalID(ctx, *o.CustomerID)
		switch {
		case err == nil:
			out.CustomerID = &c.ID
		case !errors.Is(err, domain.ErrNotFound):
			return out, fmt.Errorf("order %s customer: %w", o.ID, err)
		}
	}
	out.Lines = make([]domain.OrderLine, len(o.Lines))
	for i, l := range o.Lines {
		l.ID = ""
		out.Lines[i] = l
	}
	return out, nil
}
