package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/capacity"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/notify"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/repository"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/validation"
)

// RegisterRequest describes a new registration.
type RegisterRequest struct {
	HostID string
	// Type defaults to the host's registration type.
	Type   string
	UserID string
	Email  string
	// Count defaults to 1.
	Count int
	// State defaults to the workflow's default state.
	State string
}

// Outcome is the result of an accepted change.
type Outcome struct {
	Registration model.Registration
	Result       validation.Result
	// Promoted lists wait-listed registrations moved into freed capacity
	// by the same transaction.
	Promoted []model.Registration
}

// Register creates a registration. When the host is full and a wait-list
// is available the registration is created on the wait-list instead;
// Outcome.Result.Redirected reports it.
func (s *RegistrationService) Register(ctx context.Context, req RegisterRequest, p model.Principal) (out *Outcome, err error) {
	ctx, span := s.startSpan(ctx, "register", attribute.String("host_id", req.HostID))
	defer func() { endSpan(span, err) }()

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.HostID == "" {
		return nil, fmt.Errorf("host id is required")
	}
	if req.Count == 0 {
		req.Count = 1
	}

	var events []notify.Event
	err = s.store.WithHostLock(ctx, req.HostID, func(ctx context.Context, tx repository.Tx) error {
		events = nil
		host, err := tx.Host(ctx)
		if err != nil {
			return err
		}
		typeID := req.Type
		if typeID == "" {
			typeID = host.Settings.RegistrationType
		}
		if typeID != host.Settings.RegistrationType {
			return fmt.Errorf("%w: %s is not %s", ErrTypeMismatch, typeID, host.Settings.RegistrationType)
		}
		w, rt, err := s.catalog.WorkflowForType(typeID)
		if err != nil {
			return err
		}

		now := s.now()
		reg := model.Registration{
			ID:        uuid.New().String(),
			HostID:    req.HostID,
			Type:      rt.ID,
			Workflow:  w.ID(),
			UserID:    req.UserID,
			Email:     req.Email,
			Count:     req.Count,
			CreatedAt: now,
			ChangedAt: now,
		}
		res, err := s.validator.Validate(validation.Request{
			Host:           host,
			Registration:   reg,
			RequestedState: req.State,
			Principal:      p,
			Now:            now,
		})
		if err != nil {
			return err
		}
		out = &Outcome{Registration: reg, Result: res}
		if !res.Valid {
			return &RejectedError{Result: res}
		}

		moveTo(w, &reg, res.EffectiveState, now)
		if err := tx.InsertRegistration(ctx, &reg); err != nil {
			return err
		}
		out.Registration = reg
		events = append(events, newEvent(notify.TypeCreated, reg, "", now))
		events = append(events, stateEvents(w, reg, "", now)...)
		return nil
	})
	if err != nil {
		return out, s.wrap("register", err)
	}

	s.log.Info("registration created",
		zap.String("registration_id", out.Registration.ID),
		zap.String("host_id", out.Registration.HostID),
		zap.String("state", out.Registration.State),
		zap.Bool("redirected", out.Result.Redirected()),
	)
	s.publish(ctx, events)
	return out, nil
}

// Transition moves a registration to state. The committed state is
// Outcome.Registration.State, which is the wait-list state when the
// request was redirected.
func (s *RegistrationService) Transition(ctx context.Context, id, state string, p model.Principal) (out *Outcome, err error) {
	ctx, span := s.startSpan(ctx, "transition",
		attribute.String("registration_id", id),
		attribute.String("state", state),
	)
	defer func() { endSpan(span, err) }()

	if state == "" {
		return nil, fmt.Errorf("state is required")
	}
	return s.change(ctx, id, state, p, func(*model.Registration) {})
}

// ChangeSpaces sets the number of spaces a registration reserves. Growing
// is checked against capacity; shrinking frees capacity for the wait-list.
func (s *RegistrationService) ChangeSpaces(ctx context.Context, id string, count int, p model.Principal) (out *Outcome, err error) {
	ctx, span := s.startSpan(ctx, "change_spaces",
		attribute.String("registration_id", id),
		attribute.Int("count", count),
	)
	defer func() { endSpan(span, err) }()

	return s.change(ctx, id, "", p, func(r *model.Registration) { r.Count = count })
}

func (s *RegistrationService) change(ctx context.Context, id, state string, p model.Principal, edit func(*model.Registration)) (*Outcome, error) {
	stored, err := s.store.Registration(ctx, id)
	if err != nil {
		return nil, s.wrap("load registration", err)
	}

	var (
		out    *Outcome
		events []notify.Event
	)
	err = s.store.WithHostLock(ctx, stored.HostID, func(ctx context.Context, tx repository.Tx) error {
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

		now := s.now()
		proposed := current.Clone()
		edit(&proposed)
		res, err := s.validator.Validate(validation.Request{
			Host:           host,
			Registration:   proposed,
			Original:       &current,
			RequestedState: state,
			Principal:      p,
			Now:            now,
		})
		if err != nil {
			return err
		}
		out = &Outcome{Registration: current, Result: res}
		if !res.Valid {
			return &RejectedError{Result: res}
		}
		if res.NoOp {
			return nil
		}

		moveTo(w, &proposed, res.EffectiveState, now)
		if err := tx.UpdateRegistration(ctx, proposed); err != nil {
			return err
		}
		out.Registration = proposed
		events = append(events, stateEvents(w, proposed, current.State, now)...)

		if freesCapacity(w, current, proposed) {
			promoted, promotedEvents, err := s.promote(ctx, tx)
			if err != nil {
				return err
			}
			out.Promoted = promoted
			events = append(events, promotedEvents...)
		}
		return nil
	})
	if err != nil {
		return out, s.wrap("change registration", err)
	}

	if !out.Result.NoOp {
		s.log.Info("registration changed",
			zap.String("registration_id", id),
			zap.String("from", stored.State),
			zap.String("to", out.Registration.State),
			zap.Int("count", out.Registration.Count),
			zap.Int("promoted", len(out.Promoted)),
		)
	}
	s.publish(ctx, events)
	return out, nil
}

// Validate reports whether p could move the registration to state right
// now. Nothing is written.
func (s *RegistrationService) Validate(ctx context.Context, id, state string, p model.Principal) (validation.Result, error) {
	stored, err := s.store.Registration(ctx, id)
	if err != nil {
		return validation.Result{}, s.wrap("load registration", err)
	}
	host, err := s.store.Host(ctx, stored.HostID)
	if err != nil {
		return validation.Result{}, s.wrap("load host", err)
	}
	return s.validator.Validate(validation.Request{
		Host:           host,
		Registration:   stored,
		Original:       &stored,
		RequestedState: state,
		Principal:      p,
		Now:            s.now(),
	})
}

// Delete purges a registration and promotes wait-listed registrations into
// any capacity it held.
func (s *RegistrationService) Delete(ctx context.Context, id string) (promoted []model.Registration, err error) {
	ctx, span := s.startSpan(ctx, "delete", attribute.String("registration_id", id))
	defer func() { endSpan(span, err) }()

	stored, err := s.store.Registration(ctx, id)
	if err != nil {
		return nil, s.wrap("load registration", err)
	}

	var events []notify.Event
	err = s.store.WithHostLock(ctx, stored.HostID, func(ctx context.Context, tx repository.Tx) error {
		events = nil
		current, err := tx.Registration(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteRegistration(ctx, id); err != nil {
			return err
		}
		w, err := s.catalog.Workflow(current.Workflow)
		if err != nil {
			return err
		}
		if !w.CountsTowardCapacity(current.State) {
			return nil
		}
		promoted, events, err = s.promote(ctx, tx)
		return err
	})
	if err != nil {
		return nil, s.wrap("delete registration", err)
	}

	s.log.Info("registration deleted",
		zap.String("registration_id", id),
		zap.String("host_id", stored.HostID),
		zap.Int("promoted", len(promoted)),
	)
	s.publish(ctx, events)
	return promoted, nil
}

// Usage reports the capacity a host has reserved and left.
func (s *RegistrationService) Usage(ctx context.Context, hostID string) (capacity.Usage, error) {
	host, err := s.store.Host(ctx, hostID)
	if err != nil {
		return capacity.Usage{}, s.wrap("load host", err)
	}
	w, _, err := s.catalog.WorkflowForType(host.Settings.RegistrationType)
	if err != nil {
		return capacity.Usage{}, err
	}
	return capacity.New(w).Usage(host), nil
}

// wrap adds operation context to infrastructure errors. Domain errors are
// returned as they are so callers can match them.
func (s *RegistrationService) wrap(op string, err error) error {
	var rejected *RejectedError
	switch {
	case errors.As(err, &rejected),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, ErrTypeMismatch),
		errors.Is(err, ErrInvalidSettings),
		errors.Is(err, ErrWaitlistBelowUsage):
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
