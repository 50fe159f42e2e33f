package domain

import "time"

const (
	WorkflowMoveToNew      = "move-to-new-container"
	WorkflowMoveToExisting = "move-to-existing-container"
	WorkflowDecommission   = "decommission-container"
	WorkflowBalance        = "balance-endpoint"
	WorkflowUnbalance      = "unbalance-endpoint"
)

// Outcome summarises how far a workflow got.
type Outcome string

const (
	// OutcomeSucceeded means every step completed.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomePartial means a step failed after at least one side effect was committed.
	OutcomePartial Outcome = "partial"
	// OutcomeFailed means a step failed before anything was committed.
	OutcomeFailed Outcome = "failed"
)

// StepRecord is the trace of one workflow step.
type StepRecord struct {
	Name     string        `json:"name"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Result is the structured report of one workflow run.
type Result struct {
	ID          string       `json:"id"`
	Workflow    string       `json:"workflow"`
	Outcome     Outcome      `json:"outcome"`
	ContainerID string       `json:"container_id,omitempty"`
	Route       *Route       `json:"route,omitempty"`
	Purged      int          `json:"purged,omitempty"`
	Steps       []StepRecord `json:"steps"`
	Committed   []string     `json:"committed,omitempty"`
	Orphans     []string     `json:"orphans,omitempty"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// Orphan is a container created by a migration that never received traffic.
type Orphan struct {
	ContainerID string    `json:"container_id"`
	Name        string    `json:"name"`
	MigrationID string    `json:"migration_id"`
	CreatedAt   time.Time `json:"created_at"`
}
