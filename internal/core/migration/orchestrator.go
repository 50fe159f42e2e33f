package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"github.com/melih/lighthouse-migrator/internal/core/ports"
	"go.uber.org/zap"
)

// DefaultSubject prefixes the subjects finished workflows are published on.
const DefaultSubject = "lighthouse.migrations"

// DefaultStopTimeout is how long a decommissioned container gets to exit.
const DefaultStopTimeout = 10 * time.Second

// Orchestrator drives migrations one step at a time and keeps the runtime,
// the routing state and the reload in a consistent order.
type Orchestrator struct {
	runtime   ports.ContainerRuntime
	router    ports.Router
	reloader  ports.Reloader
	upstreams ports.UpstreamEditor
	journal   ports.Journal
	events    ports.EventPublisher
	recorder  ports.Recorder

	policy      Policy
	stopTimeout time.Duration
	subject     string
	log         *zap.Logger

	now   func() time.Time
	newID func() string
}

var _ ports.MigrationService = (*Orchestrator)(nil)

type Option func(*Orchestrator)

// WithUpstreams enables the balance workflows.
func WithUpstreams(u ports.UpstreamEditor) Option {
	return func(o *Orchestrator) { o.upstreams = u }
}

func WithJournal(j ports.Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

func WithEvents(p ports.EventPublisher, subject string) Option {
	return func(o *Orchestrator) {
		o.events = p
		if subject != "" {
			o.subject = subject
		}
	}
}

func WithRecorder(r ports.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func WithStopTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

func New(runtime ports.ContainerRuntime, router ports.Router, reloader ports.Reloader, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runtime:     runtime,
		router:      router,
		reloader:    reloader,
		recorder:    nopRecorder{},
		policy:      DefaultPolicy(),
		stopTimeout: DefaultStopTimeout,
		subject:     DefaultSubject,
		log:         zap.NewNop(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) ListContainers(ctx context.Context) ([]domain.Container, error) {
	return o.runtime.List(ctx)
}

// MoveToNewContainer clones the source container and points the endpoint at
// the clone. A clone that never receives traffic is reported as an orphan.
func (o *Orchestrator) MoveToNewContainer(ctx context.Context, req ports.MoveRequest) (domain.Result, error) {
	r := o.begin(domain.WorkflowMoveToNew)
	ep := domain.Endpoint{ServiceID: req.ServiceID, Function: req.Function}
	newName := strings.TrimPrefix(req.NewName, "/")

	err := r.step(ctx, StepValidate, false, func(context.Context) error {
		return validateMove(req.SourceID, ep, newName)
	})
	if err != nil {
		return o.finish(ctx, r, err)
	}

	var source domain.Container
	var from domain.Backend
	err = r.step(ctx, StepInspectSource, true, func(ctx context.Context) error {
		var err error
		if source, err = o.runtime.Inspect(ctx, req.SourceID); err != nil {
			return err
		}
		from, err = source.Backend()
		return err
	})
	if err != nil {
		return o.finish(ctx, r, err)
	}
	to := domain.Backend{Host: newName, Port: from.Port}

	err = r.step(ctx, StepCheckName, true, func(ctx context.Context) error {
		return o.clearName(ctx, newName)
	})
	if err != nil {
		return o.finish(ctx, r, err)
	}

	var cloneID string
	err = r.step(ctx, StepClone, false, func(ctx context.Context) error {
		id, err := o.runtime.Clone(ctx, source.ID, newName)
		if id != "" {
			cloneID = id
			r.res.ContainerID = id
			r.commit(StepClone + " " + newName)
		}
		return err
	})
	if err == nil {
		err = o.redirect(ctx, r, ep, &from, to)
	}
	if err != nil && cloneID != "" {
		o.orphan(ctx, r, cloneID, newName)
	}
	return o.finish(ctx, r, err)
}

// MoveToExistingContainer points the endpoint at a container that is already running.
func (o *Orchestrator) MoveToExistingContainer(ctx context.Context, req ports.RedirectRequest) (domain.Result, error) {
	r := o.begin(domain.WorkflowMoveToExisting)
	ep := domain.Endpoint{ServiceID: req.ServiceID, Function: req.Function}

	err := r.step(ctx, StepValidate, false, func(context.Context) error {
		if req.TargetID == "" {
			return domain.ValidationError("redirect", errors.New("target container is required"))
		}
		return validateEndpoint(ep)
	})
	if err != nil {
		return o.finish(ctx, r, err)
	}

	var from *domain.Backend
	if req.SourceID != "" {
		err = r.step(ctx, StepInspectSource, true, func(ctx context.Context) error {
			c, err := o.runtime.Inspect(ctx, req.SourceID)
			if err != nil {
				return err
			}
			b, err := c.Backend()
			if err != nil {
				return err
			}
			from = &b
			return nil
		})
		if err != nil {
			return o.finish(ctx, r, err)
		}
	}

	var to domain.Backend
	err = r.step(ctx, StepInspectTarget, true, func(ctx context.Context) error {
		c, err := o.runtime.Inspect(ctx, req.TargetID)
		if err != nil {
			return err
		}
		r.res.ContainerID = c.ID
		to, err = c.Backend()
		return err
	})
	if err != nil {
		return o.finish(ctx, r, err)
	}

	return o.finish(ctx, r, o.redirect(ctx, r, ep, from, to))
}

// redirect persists the new route and makes the gateway or proxy pick it up.
func (o *Orchestrator) redirect(ctx context.Context, r *run, ep domain.Endpoint, from *domain.Backend, to domain.Backend) error {
	err := r.step(ctx, StepPersist, true, func(ctx context.Context) error {
		route, err := o.router.Redirect(ctx, ep, from, to)
		if err != nil && !domain.Persisted(err) {
			return err
		}
		if r.res.Route == nil {
			r.commit(StepPersist + " " + route.Key)
		}
		r.res.Route = &route
		return err
	})
	if err != nil {
		return err
	}
	return o.reload(ctx, r)
}

func (o *Orchestrator) reload(ctx context.Context, r *run) error {
	err := r.step(ctx, StepReload, true, func(ctx context.Context) error {
		out, err := o.reloader.Reload(ctx)
		if err != nil {
			return err
		}
		r.log.Info("routing reloaded", zap.String("response", out))
		return nil
	})
	if err != nil {
		return err
	}
	r.commit(StepReload)
	return nil
}

// Decommission unroutes a container, waits for the reload, then stops and
// removes it. The runtime is only touched once the routing change is live.
func (o *Orchestrator) Decommission(ctx context.Context, req ports.DecommissionRequest) (domain.Result, error) {
	r := o.begin(domain.WorkflowDecommission)
	r.res.ContainerID = req.ContainerID

	err := r.step(ctx, StepValidate, false, func(context.Context) error {
		if req.ContainerID == "" {
			return domain.ValidationError("decommission", errors.New("container is required"))
		}
		return nil
	})
	if err != nil {
		return o.finish(ctx, r, err)
	}

	var target domain.Container
	err = r.step(ctx, StepInspect, true, func(ctx context.Context) error {
		var err error
		target, err = o.runtime.Inspect(ctx, req.ContainerID)
		return err
	})
	if err != nil {
		return o.finish(ctx, r, err)
	}
	r.res.ContainerID = target.ID

	err = r.step(ctx, StepPersist, true, func(ctx context.Context) error {
		n, err := o.router.Purge(ctx, target.Name, req.Fallback)
		if err != nil && !domain.Persisted(err) {
			return err
		}
		if n > 0 && r.res.Purged == 0 {
			r.res.Purged = n
			r.commit(fmt.Sprintf("%s %d routes to %s", StepPersist, n, target.Name))
		}
		return err
	})
	if err != nil {
		return o.finish(ctx, r, err)
	}

	if err := o.reload(ctx, r); err != nil {
		return o.finish(ctx, r, err)
	}

	err = r.step(ctx, StepStop, true, func(ctx context.Context) error {
		return o.runtime.Stop(ctx, target.ID, o.stopTimeout)
	})
	if err != nil {
		return o.finish(ctx, r, err)
	}
	r.commit(StepStop + " " + target.Name)

	err = r.step(ctx, StepRemove, true, func(ctx context.Context) error {
		return o.runtime.Remove(ctx, target.ID)
	})
	if err == nil {
		r.commit(StepRemove + " " + target.Name)
	}
	return o.finish(ctx, r, err)
}

func (o *Orchestrator) UpdateResources(ctx context.Context, id string, res domain.Resources) (domain.ResourceUpdate, error) {
	if id == "" {
		return domain.ResourceUpdate{}, domain.ValidationError("update resources", errors.New("container is required"))
	}
	begin := time.Now()
	upd, err := o.runtime.UpdateResources(ctx, id, res)
	o.recorder.ObserveStep("update-resources", "update", err, time.Since(begin))
	if err != nil {
		return domain.ResourceUpdate{}, err
	}
	for _, w := range upd.Warnings {
		o.log.Warn("resource update warning", zap.String("container", id), zap.String("warning", w))
	}
	return upd, nil
}

// Balance spreads the traffic aimed at req.Target over a new upstream group.
func (o *Orchestrator) Balance(ctx context.Context, req ports.BalanceRequest) (domain.Result, error) {
	r := o.begin(domain.WorkflowBalance)

	err := r.step(ctx, StepValidate, false, func(context.Context) error {
		if err := o.requireUpstreams("balance"); err != nil {
			return err
		}
		if req.Target == "" {
			return domain.ValidationError("balance", errors.New("target is required"))
		}
		return nil
	})
	if err != nil {
		return o.finish(ctx, r, err)
	}

	group := domain.UpstreamGroup{Name: req.Group, Servers: req.Servers}
	err = r.step(ctx, StepAddGroup, false, func(ctx context.Context) error {
		return o.upstreams.AddUpstreamGroup(ctx, group)
	})
	if err != nil {
		return o.finish(ctx, r, err)
	}
	r.commit(StepAddGroup + " " + req.Group)

	err = r.step(ctx, StepPersist, false, func(ctx context.Context) error {
		n, err := o.upstreams.ReplaceProxyPass(ctx, req.Target, req.Group)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ValidationError("balance", fmt.Errorf("no proxy_pass targets %s", req.Target))
		}
		return nil
	})
	if err != nil {
		return o.finish(ctx, r, err)
	}
	r.commit(StepPersist + " proxy_pass " + req.Group)

	return o.finish(ctx, r, o.reload(ctx, r))
}

// Unbalance removes an upstream group and sends its traffic back to req.Target.
func (o *Orchestrator) Unbalance(ctx context.Context, req ports.UnbalanceRequest) (domain.Result, error) {
	r := o.begin(domain.WorkflowUnbalance)

	err := r.step(ctx, StepValidate, false, func(context.Context) error {
		if err := o.requireUpstreams("unbalance"); err != nil {
			return err
		}
		if req.Group == "" || req.Target == "" {
			return domain.ValidationError("unbalance", errors.New("group and target are required"))
		}
		return nil
	})
	if err != nil {
		return o.finish(ctx, r, err)
	}

	err = r.step(ctx, StepRemoveGroup, false, func(ctx context.Context) error {
		return o.upstreams.RemoveUpstreamGroup(ctx, req.Group, req.Target)
	})
	if err != nil {
		return o.finish(ctx, r, err)
	}
	r.commit(StepRemoveGroup + " " + req.Group)

	return o.finish(ctx, r, o.reload(ctx, r))
}

// Migration returns the recorded result of a past workflow.
func (o *Orchestrator) Migration(ctx context.Context, id string) (domain.Result, error) {
	if o.journal == nil {
		return domain.Result{}, fmt.Errorf("migration %s: %w", id, domain.ErrNotFound)
	}
	return o.journal.GetResult(ctx, id)
}

func (o *Orchestrator) requireUpstreams(op string) error {
	if o.upstreams == nil {
		return domain.ValidationError(op, errors.New("upstream groups need proxy routing"))
	}
	return nil
}

// clearName makes sure name is free for a clone. A container left behind by
// an earlier failed migration is removed; any other owner is an error.
func (o *Orchestrator) clearName(ctx context.Context, name string) error {
	existing, found, err := o.runtime.Lookup(ctx, name)
	if err != nil || !found {
		return err
	}
	if o.journal != nil {
		orphans, err := o.journal.Orphans(ctx)
		if err != nil {
			return err
		}
		for _, orphan := range orphans {
			if orphan.ContainerID != existing.ID {
				continue
			}
			if err := o.runtime.Remove(ctx, existing.ID); err != nil {
				return err
			}
			o.log.Info("removed orphan clone before retry",
				zap.String("container", existing.ID),
				zap.String("name", name),
				zap.String("orphaned_by", orphan.MigrationID))
			return o.journal.ResolveOrphan(ctx, existing.ID)
		}
	}
	return domain.ValidationError("clone", fmt.Errorf("container name %q is already in use by %s", name, existing.ID))
}

func (o *Orchestrator) orphan(ctx context.Context, r *run, id, name string) {
	r.res.Orphans = append(r.res.Orphans, id)
	r.log.Warn("clone left without traffic", zap.String("container", id), zap.String("name", name))
	if o.journal == nil {
		return
	}
	err := o.journal.AddOrphan(ctx, domain.Orphan{
		ContainerID: id,
		Name:        name,
		MigrationID: r.res.ID,
		CreatedAt:   o.now(),
	})
	if err != nil {
		r.log.Error("failed to record orphan", zap.String("container", id), zap.Error(err))
	}
}

// finish closes the result and reports it. Journal and event failures are
// logged only; they never change what the workflow did.
func (o *Orchestrator) finish(ctx context.Context, r *run, err error) (domain.Result, error) {
	r.res.Outcome = r.outcome(err)
	r.res.FinishedAt = o.now()
	if err != nil {
		r.res.Error = err.Error()
	}
	o.recorder.ObserveWorkflow(r.res.Workflow, r.res.Outcome, r.res.FinishedAt.Sub(r.start))

	if err != nil {
		r.log.Error("workflow halted",
			zap.String("outcome", string(r.res.Outcome)),
			zap.Strings("committed", r.res.Committed),
			zap.Strings("orphans", r.res.Orphans),
			zap.Error(err))
	} else {
		r.log.Info("workflow finished", zap.String("container", r.res.ContainerID))
	}

	// reporting must not be cut short by the caller going away
	reportCtx := context.WithoutCancel(ctx)
	if o.journal != nil {
		if jerr := o.journal.SaveResult(reportCtx, r.res); jerr != nil {
			r.log.Error("failed to save migration result", zap.Error(jerr))
		}
	}
	if o.events != nil {
		o.publish(reportCtx, r)
	}
	return r.res, err
}

func (o *Orchestrator) publish(ctx context.Context, r *run) {
	payload, err := json.Marshal(r.res)
	if err != nil {
		r.log.Error("failed to encode migration event", zap.Error(err))
		return
	}
	subject := o.subject + "." + r.res.Workflow + "." + string(r.res.Outcome)
	if err := o.events.Publish(ctx, subject, payload); err != nil {
		r.log.Error("failed to publish migration event", zap.String("subject", subject), zap.Error(err))
	}
}

func validateMove(sourceID string, ep domain.Endpoint, newName string) error {
	if sourceID == "" {
		return domain.ValidationError("clone", errors.New("source container is required"))
	}
	if newName == "" {
		return domain.ValidationError("clone", errors.New("new container name is required"))
	}
	return validateEndpoint(ep)
}

func validateEndpoint(ep domain.Endpoint) error {
	if ep.ServiceID == "" || ep.Function == "" {
		return domain.ValidationError("endpoint", errors.New("service id and function are required"))
	}
	if strings.ContainsAny(ep.ServiceID+ep.Function, "/ ") {
		return domain.ValidationError("endpoint", fmt.Errorf("invalid endpoint %s/%s", ep.ServiceID, ep.Function))
	}
	return nil
}

type nopRecorder struct{}

func (nopRecorder) ObserveWorkflow(string, domain.Outcome, time.Duration) {}
func (nopRecorder) ObserveStep(string, string, error, time.Duration) {}
