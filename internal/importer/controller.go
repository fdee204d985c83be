package importer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"commerce-provider/internal/domain"
)

var (
	errPaused  = errors.New("migration paused")
	errAborted = errors.New("migration aborted")
)

type handle struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Controller owns the background goroutines executing runs. At most one
// unfinished run exists per tenant.
type Controller struct {
	runner *Runner
	runs   RunStore
	logger zerolog.Logger

	mu      sync.Mutex
	active  map[string]*handle
	base    context.Context
	stopAll context.CancelCauseFunc
}

func NewController(runner *Runner, runs RunStore, logger zerolog.Logger) *Controller {
	base, stop := context.WithCancelCause(context.Background())
	return &Controller{
		runner:  runner,
		runs:    runs,
		logger:  logger.With().Str("component", "migration_controller").Logger(),
		active:  make(map[string]*handle),
		base:    base,
		stopAll: stop,
	}
}

// Start creates a run for the tenant and executes it in the background.
func (c *Controller) Start(ctx context.Context, tenantID string) (*domain.MigrationRun, error) {
	if tenantID == "" {
		return nil, domain.Invalid("tenantId", "is required")
	}
	existing, err := c.runs.Active(ctx, tenantID)
	switch {
	case err == nil:
		return nil, &domain.ProviderPermanentError{Op: "start migration", Code: "migration_active",
			Message: fmt.Sprintf("run %s is %s", existing.ID, existing.State)}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	now := time.Now().UTC()
	run := domain.MigrationRun{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Phase:       domain.PhaseProducts,
		State:       domain.MigrationRunning,
		StartedAt:   now,
		Checkpoints: map[string]domain.MigrationCheckpoint{},
		Report:      &domain.MigrationReport{Counts: map[string]domain.EntityCount{}},
		UpdatedAt:   now,
	}
	if err := c.runs.Create(ctx, run); err != nil {
		return nil, err
	}
	c.launch(run)
	return &run, nil
}

func (c *Controller) Status(ctx context.Context, runID string) (*domain.MigrationRun, error) {
	return c.runs.Get(ctx, runID)
}

// Pause stops the run after its current page. Its checkpoints are kept.
func (c *Controller) Pause(ctx context.Context, runID string) (*domain.MigrationRun, error) {
	run, err := c.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	switch run.State {
	case domain.MigrationPaused:
		return run, nil
	case domain.MigrationRunning:
	default:
		return nil, domain.Invalid("state", "cannot pause a "+string(run.State)+" run")
	}
	if !c.stop(ctx, runID, errPaused) {
		run.State = domain.MigrationPaused
		run.UpdatedAt = time.Now().UTC()
		if err := c.runs.Save(ctx, *run); err != nil {
			return nil, err
		}
		return run, nil
	}
	return c.runs.Get(ctx, runID)
}

// Resume continues a paused or failed run from its phase and checkpoints.
// A failed run is retried only while no newer run exists for the tenant.
func (c *Controller) Resume(ctx context.Context, runID string) (*domain.MigrationRun, error) {
	run, err := c.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	switch run.State {
	case domain.MigrationRunning:
		if c.isActive(runID) {
			return run, nil
		}
	case domain.MigrationPaused:
	case domain.MigrationFailed:
		if err := c.settle(ctx, runID); err != nil {
			return nil, err
		}
		other, err := c.runs.Active(ctx, run.TenantID)
		switch {
		case err == nil && other.ID != run.ID:
			return nil, &domain.ProviderPermanentError{Op: "resume migration", Code: "migration_active",
				Message: fmt.Sprintf("run %s is %s", other.ID, other.State)}
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	default:
		return nil, domain.Invalid("state", "cannot resume a "+string(run.State)+" run")
	}
	run.State = domain.MigrationRunning
	run.Error = ""
	run.FinishedAt = nil
	run.UpdatedAt = time.Now().UTC()
	if err := c.runs.Save(ctx, *run); err != nil {
		return nil, err
	}
	c.launch(*run)
	return run, nil
}

// Abort stops the run for good. The tenant stays on its current backend.
func (c *Controller) Abort(ctx context.Context, runID string) (*domain.MigrationRun, error) {
	run, err := c.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State.Finished() {
		if run.State == domain.MigrationAborted {
			return run, nil
		}
		return nil, domain.Invalid("state", "cannot abort a "+string(run.State)+" run")
	}
	if c.stop(ctx, runID, errAborted) {
		return c.runs.Get(ctx, runID)
	}
	now := time.Now().UTC()
	run.State = domain.MigrationAborted
	run.FinishedAt = &now
	run.UpdatedAt = now
	if err := c.runs.Save(ctx, *run); err != nil {
		return nil, err
	}
	return run, nil
}

// Recover relaunches runs left running by a previous process.
func (c *Controller) Recover(ctx context.Context, tenantIDs []string) error {
	for _, id := range tenantIDs {
		run, err := c.runs.Active(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if run.State == domain.MigrationRunning && !c.isActive(run.ID) {
			c.logger.Info().Str("tenant", id).Str("run_id", run.ID).Msg("resuming interrupted migration")
			c.launch(*run)
		}
	}
	return nil
}

// Close pauses every executing run and waits for them to stop.
func (c *Controller) Close(ctx context.Context) error {
	c.stopAll(errPaused)
	c.mu.Lock()
	handles := make([]*handle, 0, len(c.active))
	for _, h := range c.active {
		handles = append(handles, h)
	}
	c.mu.Unlock()
	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Controller) isActive(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[runID]
	return ok
}

// stop cancels an executing run and waits for it to persist its state. It
// reports false when the run is not executing in this process.
func (c *Controller) stop(ctx context.Context, runID string, cause error) bool {
	c.mu.Lock()
	h, ok := c.active[runID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel(cause)
	select {
	case <-h.done:
	case <-ctx.Done():
	}
	return true
}

// settle waits for a run that has already persisted a terminal state to
// release its slot.
func (c *Controller) settle(ctx context.Context, runID string) error {
	c.mu.Lock()
	h, ok := c.active[runID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) launch(run domain.MigrationRun) {
	// the goroutine owns its copy; callers keep reading theirs
	run.Checkpoints = maps.Clone(run.Checkpoints)
	if run.Report != nil {
		report := *run.Report
		report.Counts = maps.Clone(report.Counts)
		run.Report = &report
	}
	ctx, cancel := context.WithCancelCause(c.base)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.active[run.ID] = h
	c.mu.Unlock()

	go func() {
		defer close(h.done)
		defer func() {
			c.mu.Lock()
			if c.active[run.ID] == h {
				delete(c.active, run.ID)
			}
			c.mu.Unlock()
			cancel(nil)
		}()
		c.finish(&run, c.runner.Execute(ctx, &run))
	}()
}

func (c *Controller) finish(run *domain.MigrationRun, err error) {
	log := c.logger.With().Str("tenant", run.TenantID).Str("run_id", run.ID).Logger()
	now := time.Now().UTC()
	switch {
	case err == nil:
		return
	case errors.Is(err, errPaused):
		run.State = domain.MigrationPaused
		log.Info().Str("phase", string(run.Phase)).Msg("migration paused")
	case errors.Is(err, errAborted):
		run.State = domain.MigrationAborted
		run.FinishedAt = &now
		log.Info().Str("phase", string(run.Phase)).Msg("migration aborted")
	default:
		run.State = domain.MigrationFailed
		run.FinishedAt = &now
		run.Error = err.Error()
		log.Error().Err(err).Str("phase", string(run.Phase)).Msg("migration failed")
	}
	run.UpdatedAt = now
	if err := c.runs.Save(context.Background(), *run); err != nil {
		log.Error().Err(err).Msg("save migration run")
	}
}
