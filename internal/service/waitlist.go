package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/capacity"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/notify"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/repository"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/validation"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/workflow"
)

// OnCapacityFreed fills a host's free capacity from its wait-list. It is
// called automatically after cancellations, expirations, deletions and
// settings changes; calling it directly is safe at any time.
func (s *RegistrationService) OnCapacityFreed(ctx context.Context, hostID string) (promoted []model.Registration, err error) {
	ctx, span := s.startSpan(ctx, "promote", attribute.String("host_id", hostID))
	defer func() { endSpan(span, err) }()

	var events []notify.Event
	err = s.store.WithHostLock(ctx, hostID, func(ctx context.Context, tx repository.Tx) error {
		var err error
		promoted, events, err = s.promote(ctx, tx)
		return err
	})
	if err != nil {
		return nil, s.wrap("promote wait-list", err)
	}
	s.publish(ctx, events)
	return promoted, nil
}

// promote walks the wait-list oldest first and moves every registration
// whose whole count fits into the autofill state. It must run inside the
// host lock that freed the capacity.
func (s *RegistrationService) promote(ctx context.Context, tx repository.Tx) ([]model.Registration, []notify.Event, error) {
	host, err := tx.Host(ctx)
	if err != nil {
		return nil, nil, err
	}
	w, _, err := s.catalog.WorkflowForType(host.Settings.RegistrationType)
	if err != nil {
		return nil, nil, err
	}
	if w.WaitlistState() == "" {
		return nil, nil, nil
	}
	target := autofillState(w, host.Settings)
	acct := capacity.New(w)
	now := s.now()

	var (
		promoted []model.Registration
		events   []notify.Event
	)
	for i, candidate := range host.Registrations {
		if !w.IsWaitlist(candidate.State) {
			continue
		}
		if !acct.HasRoomOffWaitlist(host, candidate.Count, candidate.ID) {
			if s.promotion == PromoteStrictFIFO {
				break
			}
			continue
		}

		res, err := s.validator.Validate(validation.Request{
			Host:           host,
			Registration:   candidate,
			Original:       &candidate,
			RequestedState: target,
			Principal:      model.System,
			Now:            now,
		})
		if err != nil {
			return nil, nil, err
		}
		if !res.Valid || res.Redirected() {
			s.log.Warn("wait-listed registration cannot be promoted",
				zap.String("registration_id", candidate.ID),
				zap.String("target", target),
				zap.String("reason", res.Summary()),
			)
			if s.promotion == PromoteStrictFIFO {
				break
			}
			continue
		}

		next := candidate.Clone()
		moveTo(w, &next, res.EffectiveState, now)
		if err := tx.UpdateRegistration(ctx, next); err != nil {
			return nil, nil, err
		}
		// Later candidates must see the space this one just took.
		host.Registrations[i] = next
		promoted = append(promoted, next)
		events = append(events, newEvent(notify.TypePromoted, next, candidate.State, now))
		events = append(events, stateEvents(w, next, candidate.State, now)...)

		s.log.Info("registration promoted from wait-list",
			zap.String("registration_id", next.ID),
			zap.String("host_id", next.HostID),
			zap.String("state", next.State),
			zap.Int("count", next.Count),
		)
	}
	return promoted, events, nil
}

// autofillState is where promoted registrations go: the host's configured
// state, else the workflow's complete state, else its default state.
func autofillState(w *workflow.Workflow, s model.HostSettings) string {
	if s.WaitlistAutofillState != "" {
		return s.WaitlistAutofillState
	}
	if w.CompleteState() != "" {
		return w.CompleteState()
	}
	return w.DefaultState()
}
