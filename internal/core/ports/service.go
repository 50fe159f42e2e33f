package ports

import (
	"context"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
)

// MoveRequest asks for ep to be served by a fresh clone of SourceID named NewName.
type MoveRequest struct {
	SourceID  string `json:"source_id"`
	ServiceID string `json:"service_id"`
	Function  string `json:"function"`
	NewName   string `json:"new_name"`
}

// RedirectRequest asks for ep to be served by the already running TargetID.
type RedirectRequest struct {
	ServiceID string `json:"service_id"`
	Function  string `json:"function"`
	TargetID  string `json:"target_id"`
	// SourceID is the container currently serving the endpoint. Proxy routers need it.
	SourceID string `json:"source_id,omitempty"`
}

// DecommissionRequest asks for ContainerID to be unrouted, stopped and removed.
type DecommissionRequest struct {
	ContainerID string          `json:"container_id"`
	Fallback    *domain.Backend `json:"fallback,omitempty"`
}

// BalanceRequest spreads the traffic for Target over an upstream group.
type BalanceRequest struct {
	Group   string   `json:"group"`
	Servers []string `json:"servers"`
	Target  string   `json:"target"`
}

// UnbalanceRequest removes Group and sends its traffic back to Target.
type UnbalanceRequest struct {
	Group  string `json:"group"`
	Target string `json:"target"`
}

// SweepReport lists what an orphan sweep did.
type SweepReport struct {
	Removed  []string `json:"removed"`
	Adopted  []string `json:"adopted"`
	Failures []string `json:"failures,omitempty"`
}

// MigrationService is the use-case surface driven by the HTTP API and the CLI.
type MigrationService interface {
	ListContainers(ctx context.Context) ([]domain.Container, error)
	MoveToNewContainer(ctx context.Context, req MoveRequest) (domain.Result, error)
	MoveToExistingContainer(ctx context.Context, req RedirectRequest) (domain.Result, error)
	Decommission(ctx context.Context, req DecommissionRequest) (domain.Result, error)
	UpdateResources(ctx context.Context, id string, res domain.Resources) (domain.ResourceUpdate, error)
	Balance(ctx context.Context, req BalanceRequest) (domain.Result, error)
	Unbalance(ctx context.Context, req UnbalanceRequest) (domain.Result, error)
	Migration(ctx context.Context, id string) (domain.Result, error)
	Sweep(ctx context.Context) (SweepReport, error)
}
