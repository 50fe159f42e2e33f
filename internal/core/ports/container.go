package ports

import (
	"context"
	"time"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
)

// ContainerRuntime defines the container operations a migration needs.
// This interface allows us to switch between Docker, Podman, or Kubernetes
// without changing the migration logic.
type ContainerRuntime interface {
	List(ctx context.Context) ([]domain.Container, error)
	Inspect(ctx context.Context, id string) (domain.Container, error)
	// Lookup finds a container by exact name, including stopped ones.
	Lookup(ctx context.Context, name string) (domain.Container, bool, error)
	// Clone creates and starts a copy of id named newName on the same application network.
	// When the copy was created but a later step failed, its id is returned with the error.
	Clone(ctx context.Context, id, newName string) (string, error)
	Stop(ctx context.Context, id string, timeout time.Duration) error
	Remove(ctx context.Context, id string) error
	UpdateResources(ctx context.Context, id string, res domain.Resources) (domain.ResourceUpdate, error)
}
