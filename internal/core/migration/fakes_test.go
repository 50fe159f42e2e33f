package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"github.com/melih/lighthouse-migrator/internal/core/ports"
	"go.uber.org/zap"
)

// callLog is shared by the fakes so tests can assert on cross-port ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeRuntime struct {
	log        *callLog
	containers map[string]domain.Container

	cloneID    string
	cloneErr   error
	inspectErr []error
	stopErr    error
	removeErr  error
	onStop     func()
}

func newFakeRuntime(log *callLog, containers ...domain.Container) *fakeRuntime {
	rt := &fakeRuntime{log: log, containers: map[string]domain.Container{}, cloneID: "clone-id"}
	for _, c := range containers {
		rt.containers[c.ID] = c
	}
	return rt
}

func (f *fakeRuntime) List(context.Context) ([]domain.Container, error) {
	f.log.add("runtime.list")
	var out []domain.Container
	for _, c := range f.containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeRuntime) Inspect(_ context.Context, id string) (domain.Container, error) {
	f.log.add("runtime.inspect %s", id)
	if len(f.inspectErr) > 0 {
		err := f.inspectErr[0]
		f.inspectErr = f.inspectErr[1:]
		return domain.Container{}, err
	}
	c, ok := f.containers[id]
	if !ok {
		return domain.Container{}, domain.RuntimeError("inspect "+id, domain.ErrNotFound)
	}
	return c, nil
}

func (f *fakeRuntime) Lookup(_ context.Context, name string) (domain.Container, bool, error) {
	f.log.add("runtime.lookup %s", name)
	for _, c := range f.containers {
		if c.Name == name {
			return c, true, nil
		}
	}
	return domain.Container{}, false, nil
}

func (f *fakeRuntime) Clone(_ context.Context, id, newName string) (string, error) {
	f.log.add("runtime.clone %s %s", id, newName)
	if f.cloneErr != nil {
		return f.cloneID, f.cloneErr
	}
	f.containers[f.cloneID] = domain.Container{ID: f.cloneID, Name: newName}
	return f.cloneID, nil
}

func (f *fakeRuntime) Stop(_ context.Context, id string, _ time.Duration) error {
	f.log.add("runtime.stop %s", id)
	if f.onStop != nil {
		f.onStop()
	}
	return f.stopErr
}

func (f *fakeRuntime) Remove(_ context.Context, id string) error {
	f.log.add("runtime.remove %s", id)
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeRuntime) UpdateResources(_ context.Context, id string, res domain.Resources) (domain.ResourceUpdate, error) {
	f.log.add("runtime.update %s", id)
	if res.MemoryBytes > 0 && res.MemoryBytes < 6<<20 {
		return domain.ResourceUpdate{}, domain.ValidationError("update resources", errors.New("memory below floor"))
	}
	return domain.ResourceUpdate{ContainerID: id, Applied: res, Warnings: []string{"no swap limit"}}, nil
}

type fakeRouter struct {
	log         *callLog
	redirectErr error
	purgeErr    error
	purged      int
	refs        map[string]bool
	refsErr     map[string]error
}

func (f *fakeRouter) Redirect(_ context.Context, ep domain.Endpoint, from *domain.Backend, to domain.Backend) (domain.Route, error) {
	if from != nil {
		f.log.add("router.redirect %s %s->%s", ep.Function, from.Addr(), to.Addr())
	} else {
		f.log.add("router.redirect %s ->%s", ep.Function, to.Addr())
	}
	if f.redirectErr != nil && !domain.Persisted(f.redirectErr) {
		return domain.Route{}, f.redirectErr
	}
	return domain.NewRoute(ep, to), f.redirectErr
}

func (f *fakeRouter) Purge(_ context.Context, host string, _ *domain.Backend) (int, error) {
	f.log.add("router.purge %s", host)
	return f.purged, f.purgeErr
}

func (f *fakeRouter) References(_ context.Context, host string) (bool, error) {
	f.log.add("router.references %s", host)
	if err := f.refsErr[host]; err != nil {
		return false, err
	}
	return f.refs[host], nil
}

type fakeReloader struct {
	log  *callLog
	errs []error
}

func (f *fakeReloader) Reload(context.Context) (string, error) {
	f.log.add("reload")
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return `{"status":"refreshed"}`, nil
}

type fakeUpstreams struct {
	log      *callLog
	addErr   error
	replaced int
}

func (f *fakeUpstreams) AddUpstreamGroup(_ context.Context, g domain.UpstreamGroup) error {
	f.log.add("upstreams.add %s", g.Name)
	return f.addErr
}

func (f *fakeUpstreams) RemoveUpstreamGroup(_ context.Context, name, replacement string) error {
	f.log.add("upstreams.remove %s %s", name, replacement)
	return nil
}

func (f *fakeUpstreams) ReplaceProxyPass(_ context.Context, match, replacement string) (int, error) {
	f.log.add("upstreams.replace %s %s", match, replacement)
	return f.replaced, nil
}

type memJournal struct {
	mu      sync.Mutex
	results map[string]domain.Result
	orphans map[string]domain.Orphan
}

func newMemJournal() *memJournal {
	return &memJournal{results: map[string]domain.Result{}, orphans: map[string]domain.Orphan{}}
}

func (j *memJournal) SaveResult(_ context.Context, res domain.Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results[res.ID] = res
	return nil
}

func (j *memJournal) GetResult(_ context.Context, id string) (domain.Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	res, ok := j.results[id]
	if !ok {
		return domain.Result{}, domain.ErrNotFound
	}
	return res, nil
}

func (j *memJournal) AddOrphan(_ context.Context, o domain.Orphan) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.orphans[o.ContainerID] = o
	return nil
}

func (j *memJournal) Orphans(context.Context) ([]domain.Orphan, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.Orphan, 0, len(j.orphans))
	for _, o := range j.orphans {
		out = append(out, o)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ContainerID < out[k].ContainerID })
	return out, nil
}

func (j *memJournal) ResolveOrphan(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.orphans, id)
	return nil
}

type published struct {
	subject string
	payload []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, subject string, payload []byte) error {
	p.msgs = append(p.msgs, published{subject: subject, payload: payload})
	return p.err
}

type recorded struct {
	workflows map[string]domain.Outcome
	steps     []string
}

func (r *recorded) ObserveWorkflow(workflow string, outcome domain.Outcome, _ time.Duration) {
	if r.workflows == nil {
		r.workflows = map[string]domain.Outcome{}
	}
	r.workflows[workflow] = outcome
}

func (r *recorded) ObserveStep(workflow, step string, err error, _ time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.steps = append(r.steps, workflow+"/"+step+"="+status)
}

var (
	_ ports.ContainerRuntime = (*fakeRuntime)(nil)
	_ ports.Router           = (*fakeRouter)(nil)
	_ ports.Reloader         = (*fakeReloader)(nil)
	_ ports.UpstreamEditor   = (*fakeUpstreams)(nil)
	_ ports.Journal          = (*memJournal)(nil)
	_ ports.EventPublisher   = (*fakePublisher)(nil)
	_ ports.Recorder         = (*recorded)(nil)
)

// fastPolicy keeps retry tests quick.
var fastPolicy = Policy{StepTimeout: time.Second, MaxAttempts: 3, Backoff: time.Millisecond}

func ordersContainer() domain.Container {
	return domain.Container{
		ID:   "orders-id",
		Name: "orders",
		Ports: []domain.PortMapping{
			{Port: 9090, Protocol: "tcp"},
			{Port: 8080, Protocol: "tcp"},
		},
		Networks: []domain.NetworkAttachment{
			{NetworkID: "bridge-id", Name: "bridge"},
			{NetworkID: "shop-id", Name: "shop_net", Aliases: []string{"orders"}},
		},
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("mig-%d", n)
	}
}

func zapNop() *zap.Logger { return zap.NewNop() }
