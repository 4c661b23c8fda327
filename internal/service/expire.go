package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/notify"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/repository"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/validation"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/workflow"
)

// SweepFailure is one registration the sweep could not expire.
type SweepFailure struct {
	RegistrationID string
	HostID         string
	Err            error
}

// SweepReport summarises one ExpireHeldRegistrations run.
type SweepReport struct {
	// Expired lists the IDs of registrations moved out of a held state.
	Expired []string
	// Skipped counts registrations that changed between listing and locking.
	Skipped  int
	Promoted []model.Registration
	Failures []SweepFailure
}

var errNoLongerHeld = errors.New("registration is no longer held")

// ExpireHeldRegistrations moves registrations that sat in a held state for
// longer than their type allows into the type's expiry state. Every
// registration is handled in its own transaction; one failure does not
// stop the others.
func (s *RegistrationService) ExpireHeldRegistrations(ctx context.Context) (report SweepReport, err error) {
	ctx, span := s.startSpan(ctx, "expire_held")
	defer func() {
		span.SetAttributes(
			attribute.Int("expired", len(report.Expired)),
			attribute.Int("failed", len(report.Failures)),
		)
		endSpan(span, err)
	}()

	now := s.now()
	for _, rt := range s.catalog.Types() {
		if rt.HeldExpire <= 0 {
			continue
		}
		w, err := s.catalog.Workflow(rt.WorkflowID)
		if err != nil {
			return report, err
		}
		held := w.HeldStates()
		target := expiryState(w, rt)
		if len(held) == 0 || target == "" {
			continue
		}
		cutoff := now.Add(-rt.HeldExpire)

		regs, err := s.store.HeldRegistrations(ctx, rt.ID, held, cutoff)
		if err != nil {
			return report, s.wrap("list held registrations", err)
		}
		for _, r := range regs {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			promoted, err := s.expireOne(ctx, r.ID, r.HostID, target, cutoff)
			switch {
			case errors.Is(err, errNoLongerHeld), errors.Is(err, repository.ErrNotFound):
				report.Skipped++
			case err != nil:
				s.log.Error("expire held registration failed",
					zap.String("registration_id", r.ID),
					zap.String("host_id", r.HostID),
					zap.Error(err),
				)
				report.Failures = append(report.Failures, SweepFailure{RegistrationID: r.ID, HostID: r.HostID, Err: err})
			default:
				report.Expired = append(report.Expired, r.ID)
				report.Promoted = append(report.Promoted, promoted...)
			}
		}
	}

	s.log.Info("held registration sweep finished",
		zap.Int("expired", len(report.Expired)),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failures)),
	)
	return report, nil
}

func (s *RegistrationService) expireOne(ctx context.Context, id, hostID, target string, cutoff time.Time) ([]model.Registration, error) {
	var (
		promoted []model.Registration
		events   []notify.Event
	)
	err := s.store.WithHostLock(ctx, hostID, func(ctx context.Context, tx repository.Tx) error {
		events = nil
		host, err := tx.Host(ctx)
		if err != nil {
			return err
		}
		current, ok := host.Find(id)
		if !ok {
			return repository.ErrNotFound
		}
		w, err := s.catalog.Workflow(current.Workflow)
		if err != nil {
			return err
		}
		st, _ := w.State(current.State)
		if !st.Held || !current.ChangedAt.Before(cutoff) {
			return errNoLongerHeld
		}

		now := s.now()
		res, err := s.validator.Validate(validation.Request{
			Host:           host,
			Registration:   current,
			Original:       &current,
			RequestedState: target,
			Principal:      model.System,
			Now:            now,
		})
		if err != nil {
			return err
		}
		if !res.Valid {
			return &RejectedError{Result: res}
		}

		next := current.Clone()
		moveTo(w, &next, res.EffectiveState, now)
		if err := tx.UpdateRegistration(ctx, next); err != nil {
			return err
		}
		events = append(events, newEvent(notify.TypeHeldExpired, next, current.State, now))
		events = append(events, stateEvents(w, next, current.State, now)...)

		if freesCapacity(w, current, next) {
			var promotedEvents []notify.Event
			promoted, promotedEvents, err = s.promote(ctx, tx)
			if err != nil {
				return err
			}
			events = append(events, promotedEvents...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("held registration expired",
		zap.String("registration_id", id),
		zap.String("host_id", hostID),
		zap.String("state", target),
	)
	s.publish(ctx, events)
	return promoted, nil
}

// expiryState is the type's configured expiry state, else the workflow's
// first canceled state.
func expiryState(w *workflow.Workflow, rt workflow.RegistrationType) string {
	if rt.HeldExpireState != "" {
		return rt.HeldExpireState
	}
	if canceled := w.CanceledStates(); len(canceled) > 0 {
		return canceled[0]
	}
	return ""
}
