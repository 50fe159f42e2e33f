package migration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"go.uber.org/zap"
)

// Step names as they appear in results, metrics and errors.
const (
	StepValidate      = "validate"
	StepInspectSource = "inspect-source"
	StepInspectTarget = "inspect-target"
	StepInspect       = "inspect"
	StepCheckName     = "check-name"
	StepClone         = "clone"
	StepPersist       = "persist"
	StepReload        = "reload"
	StepStop          = "stop"
	StepRemove        = "remove"
	StepAddGroup      = "add-upstream-group"
	StepRemoveGroup   = "remove-upstream-group"
)

// StepError reports the step a workflow halted on and the side effects that
// had already been committed when it did.
type StepError struct {
	Workflow  string
	Step      string
	Committed []string
	Err       error
}

func (e *StepError) Error() string {
	if len(e.Committed) == 0 {
		return fmt.Sprintf("%s: step %s failed, nothing committed: %v", e.Workflow, e.Step, e.Err)
	}
	return fmt.Sprintf("%s: step %s failed after %s: %v", e.Workflow, e.Step, strings.Join(e.Committed, ", "), e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// run is the bookkeeping of one workflow invocation.
type run struct {
	o     *Orchestrator
	res   domain.Result
	start time.Time
	log   *zap.Logger
}

func (o *Orchestrator) begin(workflow string) *run {
	start := o.now()
	id := o.newID()
	return &run{
		o:     o,
		start: start,
		res: domain.Result{
			ID:        id,
			Workflow:  workflow,
			Steps:     []domain.StepRecord{},
			StartedAt: start,
		},
		log: o.log.With(zap.String("migration_id", id), zap.String("workflow", workflow)),
	}
}

// step executes fn under the orchestrator's policy and records it. retry is
// only set for steps that are safe to repeat.
func (r *run) step(ctx context.Context, name string, retry bool, fn func(context.Context) error) error {
	begin := time.Now()
	attempts, err := r.o.policy.execute(ctx, retry, r.log.With(zap.String("step", name)), fn)
	elapsed := time.Since(begin)

	rec := domain.StepRecord{Name: name, Attempts: attempts, Duration: elapsed}
	if err != nil {
		rec.Error = err.Error()
	}
	r.res.Steps = append(r.res.Steps, rec)
	r.o.recorder.ObserveStep(r.res.Workflow, name, err, elapsed)

	if err != nil {
		r.log.Warn("step failed", zap.String("step", name), zap.Int("attempts", attempts), zap.Error(err))
		return &StepError{
			Workflow:  r.res.Workflow,
			Step:      name,
			Committed: append([]string(nil), r.res.Committed...),
			Err:       err,
		}
	}
	r.log.Debug("step done", zap.String("step", name), zap.Duration("duration", elapsed))
	return nil
}

// commit notes a side effect that is now visible outside the orchestrator.
func (r *run) commit(what string) {
	r.res.Committed = append(r.res.Committed, what)
}

func (r *run) outcome(err error) domain.Outcome {
	switch {
	case err == nil:
		return domain.OutcomeSucceeded
	case len(r.res.Committed) > 0:
		return domain.OutcomePartial
	default:
		return domain.OutcomeFailed
	}
}
