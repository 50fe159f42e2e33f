package migration

import (
	"context"
	"errors"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"github.com/melih/lighthouse-migrator/internal/core/ports"
	"go.uber.org/zap"
)

// Sweep reconciles the clones earlier migrations left without traffic. A clone
// the routing state now points at is adopted; the rest are stopped and removed.
func (o *Orchestrator) Sweep(ctx context.Context) (ports.SweepReport, error) {
	report := ports.SweepReport{Removed: []string{}, Adopted: []string{}}
	if o.journal == nil {
		return report, nil
	}

	orphans, err := o.journal.Orphans(ctx)
	if err != nil {
		return report, err
	}

	for _, orphan := range orphans {
		log := o.log.With(zap.String("container", orphan.ContainerID), zap.String("name", orphan.Name))

		referenced, err := o.router.References(ctx, orphan.Name)
		if err != nil {
			report.Failures = append(report.Failures, orphan.ContainerID+": "+err.Error())
			log.Warn("sweep: could not check routing", zap.Error(err))
			continue
		}

		if !referenced {
			if err := o.discard(ctx, orphan.ContainerID); err != nil {
				report.Failures = append(report.Failures, orphan.ContainerID+": "+err.Error())
				log.Warn("sweep: could not remove orphan", zap.Error(err))
				continue
			}
		}

		if err := o.journal.ResolveOrphan(ctx, orphan.ContainerID); err != nil {
			report.Failures = append(report.Failures, orphan.ContainerID+": "+err.Error())
			log.Warn("sweep: could not resolve orphan", zap.Error(err))
			continue
		}

		if referenced {
			report.Adopted = append(report.Adopted, orphan.ContainerID)
			log.Info("sweep: orphan adopted, routing points at it")
		} else {
			report.Removed = append(report.Removed, orphan.ContainerID)
			log.Info("sweep: orphan removed")
		}
	}
	return report, nil
}

func (o *Orchestrator) discard(ctx context.Context, id string) error {
	_, err := o.policy.execute(ctx, true, o.log, func(ctx context.Context) error {
		if err := o.runtime.Stop(ctx, id, o.stopTimeout); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return o.runtime.Remove(ctx, id)
	})
	return err
}
