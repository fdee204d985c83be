package domain

import "time"

type MigrationPhase string

const (
	PhaseProducts  MigrationPhase = "products"
	PhaseCustomers MigrationPhase = "customers"
	PhaseOrders    MigrationPhase = "orders"
	PhaseCatchUp   MigrationPhase = "catch_up"
	PhaseVerify    MigrationPhase = "verify"
	PhaseCutover   MigrationPhase = "cutover"
	PhaseDone      MigrationPhase = "done"
)

type MigrationState string

const (
	MigrationRunning   MigrationState = "running"
	MigrationPaused    MigrationState = "paused"
	MigrationAborted   MigrationState = "aborted"
	MigrationFailed    MigrationState = "failed"
	MigrationCompleted MigrationState = "completed"
)

// Finished reports whether the run can no longer make progress.
func (s MigrationState) Finished() bool {
	return s == MigrationAborted || s == MigrationFailed || s == MigrationCompleted
}

// MigrationCheckpoint is the resume point of one entity export.
type MigrationCheckpoint struct {
	Cursor string `json:"cursor,omitempty"`
	Offset int    `json:"offset"`
	Total  int    `json:"total,omitempty"`
	Done   bool   `json:"done,omitempty"`
}

type EntityCount struct {
	Source      int `json:"source"`
	Destination int `json:"destination"`
}

type MigrationReport struct {
	Counts     map[string]EntityCount `json:"counts"`
	Sampled    int                    `json:"sampled"`
	Mismatches []string               `json:"mismatches,omitempty"`
	CaughtUp   int                    `json:"caughtUp"`
}

type MigrationRun struct {
	ID          string                         `json:"id"`
	TenantID    string                         `json:"tenantId"`
	Phase       MigrationPhase                 `json:"phase"`
	State       MigrationState                 `json:"state"`
	StartedAt   time.Time                      `json:"startedAt"`
	FinishedAt  *time.Time                     `json:"finishedAt,omitempty"`
	Checkpoints map[string]MigrationCheckpoint `json:"checkpoints"`
	Report      *MigrationReport               `json:"report,omitempty"`
	Error       string                         `json:"error,omitempty"`
	UpdatedAt   time.Time                      `json:"updatedAt"`
}

var phaseWeight = map[MigrationPhase]int{
	PhaseProducts:  0,
	PhaseCustomers: 25,
	PhaseOrders:    50,
	PhaseCatchUp:   75,
	PhaseVerify:    85,
	PhaseCutover:   95,
	PhaseDone:      100,
}

// Percent estimates progress from the phase and, during an export phase,
// from the entity checkpoint.
func (r *MigrationRun) Percent() int {
	base := phaseWeight[r.Phase]
	cp, ok := r.Checkpoints[string(r.Phase)]
	if !ok || cp.Total <= 0 || base >= 75 {
		return base
	}
	done := min(cp.Offset, cp.Total)
	return base + 25*done/cp.Total
}
