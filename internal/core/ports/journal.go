package ports

import (
	"context"
	"time"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
)

// Journal keeps workflow results and the containers they orphaned.
type Journal interface {
	SaveResult(ctx context.Context, res domain.Result) error
	GetResult(ctx context.Context, id string) (domain.Result, error)
	AddOrphan(ctx context.Context, o domain.Orphan) error
	Orphans(ctx context.Context) ([]domain.Orphan, error)
	ResolveOrphan(ctx context.Context, containerID string) error
}

// EventPublisher announces finished workflows to interested parties.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Recorder observes workflow and step timings.
type Recorder interface {
	ObserveWorkflow(workflow string, outcome domain.Outcome, d time.Duration)
	ObserveStep(workflow, step string, err error, d time.Duration)
}
