package routetable

import (
	"context"

	"github.com/melih/lighthouse-migrator/internal/adapters/filetx"
	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"github.com/melih/lighthouse-migrator/internal/core/ports"
	"go.uber.org/zap"
)

// Store is the persisted routing table at one path.
type Store struct {
	path    string
	section string
}

func NewStore(path, section string) *Store {
	if section == "" {
		section = DefaultSection
	}
	return &Store{path: path, section: section}
}

func (s *Store) Path() string { return s.path }

// Update loads the table, lets fn change it and persists the result in one
// locked cycle. fn returns false when it made no change, in which case nothing
// is written.
func (s *Store) Update(fn func(*Table) (bool, error)) (bool, error) {
	return filetx.Update(s.path, func(current []byte) ([]byte, error) {
		t, err := Parse(current, s.section)
		if err != nil {
			return nil, err
		}
		dirty, err := fn(t)
		if err != nil {
			return nil, err
		}
		if !dirty && current != nil {
			return current, nil
		}
		return t.Encode()
	})
}

// Snapshot returns the table as currently persisted.
func (s *Store) Snapshot() (*Table, error) {
	data, err := filetx.Read(s.path)
	if err != nil {
		return nil, err
	}
	return Parse(data, s.section)
}

// Router is the gateway implementation of ports.Router.
type Router struct {
	store   *Store
	history ports.ConfigHistory
	log     *zap.Logger
}

type RouterOption func(*Router)

// WithHistory records every persisted change, e.g. as a git commit.
func WithHistory(h ports.ConfigHistory) RouterOption {
	return func(r *Router) { r.history = h }
}

func WithLogger(log *zap.Logger) RouterOption {
	return func(r *Router) { r.log = log }
}

func NewRouter(store *Store, opts ...RouterOption) *Router {
	r := &Router{store: store, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Redirect makes the route for ep the only one serving its path. Routes for the
// same path to earlier targets are replaced, so from is not needed.
func (r *Router) Redirect(ctx context.Context, ep domain.Endpoint, _ *domain.Backend, to domain.Backend) (domain.Route, error) {
	route := domain.NewRoute(ep, to)
	var replaced []string
	changed, err := r.store.Update(func(t *Table) (bool, error) {
		var dirty bool
		replaced, dirty = t.PutForPath(route)
		return dirty, nil
	})
	if err != nil {
		return domain.Route{}, err
	}
	r.log.Info("route persisted",
		zap.String("key", route.Key),
		zap.String("path", route.Path),
		zap.String("url", route.URL),
		zap.Strings("replaced", replaced),
		zap.Bool("changed", changed),
	)
	if changed {
		if err := r.record(ctx, "Redirect "+route.Path+" to "+route.URL); err != nil {
			return route, err
		}
	}
	return route, nil
}

// Purge removes every route whose key mentions host. fallback is not needed by the gateway.
func (r *Router) Purge(ctx context.Context, host string, _ *domain.Backend) (int, error) {
	var removed []string
	_, err := r.store.Update(func(t *Table) (bool, error) {
		removed = t.RemoveRoutesMatching(host)
		return len(removed) > 0, nil
	})
	if err != nil {
		return 0, err
	}
	for _, key := range removed {
		r.log.Info("route removed", zap.String("key", key), zap.String("host", host))
	}
	if len(removed) > 0 {
		if err := r.record(ctx, "Remove routes to "+host); err != nil {
			return len(removed), err
		}
	}
	return len(removed), nil
}

func (r *Router) References(_ context.Context, host string) (bool, error) {
	t, err := r.store.Snapshot()
	if err != nil {
		return false, err
	}
	return t.References(host), nil
}

func (r *Router) record(ctx context.Context, msg string) error {
	if r.history == nil {
		return nil
	}
	if err := r.history.Record(ctx, r.store.Path(), msg); err != nil {
		return &domain.PersistedError{Err: err}
	}
	return nil
}
