package ports

import (
	"context"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
)

// Router owns the persisted routing state of a gateway or proxy.
// Every method is one complete read-modify-persist cycle.
type Router interface {
	// Redirect points ep at to. from is the backend that served ep before, when known.
	Redirect(ctx context.Context, ep domain.Endpoint, from *domain.Backend, to domain.Backend) (domain.Route, error)
	// Purge drops every route referencing host. Routers that cannot leave a target
	// unset send its traffic to fallback instead.
	Purge(ctx context.Context, host string, fallback *domain.Backend) (int, error)
	// References reports whether any live route still targets host.
	References(ctx context.Context, host string) (bool, error)
}

// Reloader makes a running gateway or proxy pick up persisted routing changes.
type Reloader interface {
	Reload(ctx context.Context) (string, error)
}

// UpstreamEditor manages named upstream groups of a text-configured proxy.
type UpstreamEditor interface {
	AddUpstreamGroup(ctx context.Context, group domain.UpstreamGroup) error
	RemoveUpstreamGroup(ctx context.Context, name, replacement string) error
	ReplaceProxyPass(ctx context.Context, match, replacement string) (int, error)
}

// ConfigHistory records a persisted routing change, e.g. as a commit in the
// repository a config server reads from.
type ConfigHistory interface {
	Record(ctx context.Context, path, message string) error
}
