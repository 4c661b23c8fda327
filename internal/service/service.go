// Package service orchestrates the registration lifecycle: it reads a host
// under lock, asks the validator for a decision, writes the result and
// publishes events once the change is committed.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/notify"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/override"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/repository"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/validation"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/workflow"
)

// ErrWaitlistBelowUsage is returned when a settings update would shrink the
// wait-list below the spaces already wait-listed.
var ErrWaitlistBelowUsage = errors.New("wait-list capacity is below current wait-list usage")

// ErrInvalidSettings is returned for host settings that can never be valid.
var ErrInvalidSettings = errors.New("invalid host settings")

// ErrTypeMismatch is returned when a registration names a type other than
// the one configured on its host.
var ErrTypeMismatch = errors.New("registration type does not match host")

// RejectedError carries the validation result of a refused request.
type RejectedError struct {
	Result validation.Result
}

func (e *RejectedError) Error() string {
	return "registration rejected: " + e.Result.Summary()
}

// Has reports whether the rejection carries a violation with code.
func (e *RejectedError) Has(code validation.Code) bool {
	return e.Result.Has(code)
}

// PromotionPolicy decides what happens when the oldest wait-listed
// registration does not fit into the freed capacity.
type PromotionPolicy string

const (
	// PromoteSkipLarger skips registrations that do not fit and keeps
	// scanning the wait-list in order.
	PromoteSkipLarger PromotionPolicy = "skip_larger"
	// PromoteStrictFIFO stops at the first registration that does not fit.
	PromoteStrictFIFO PromotionPolicy = "strict_fifo"
)

// ParsePromotionPolicy maps a configuration value to a policy.
func ParsePromotionPolicy(s string) (PromotionPolicy, error) {
	switch PromotionPolicy(s) {
	case "", PromoteSkipLarger:
		return PromoteSkipLarger, nil
	case PromoteStrictFIFO:
		return PromoteStrictFIFO, nil
	default:
		return "", fmt.Errorf("unknown promotion policy %q", s)
	}
}

// Options tune a RegistrationService. The zero value is usable.
type Options struct {
	Clock                func() time.Time
	Promotion            PromotionPolicy
	ForbidSelfCompletion bool
	Tracer               trace.Tracer
	// OverrideCacheTTL enables memoized override decisions when positive.
	OverrideCacheTTL time.Duration
}

// RegistrationService is the entry point for every lifecycle operation.
type RegistrationService struct {
	store     repository.Store
	catalog   *workflow.Catalog
	validator *validation.Validator
	notifier  notify.Notifier
	log       *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
	promotion PromotionPolicy
}

// NewRegistrationService constructs a RegistrationService with its dependencies.
func NewRegistrationService(
	store repository.Store,
	catalog *workflow.Catalog,
	notifier notify.Notifier,
	log *zap.Logger,
	opts Options,
) *RegistrationService {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if opts.Promotion == "" {
		opts.Promotion = PromoteSkipLarger
	}

	var overrides validation.Overrider = override.NewChecker()
	if opts.OverrideCacheTTL > 0 {
		overrides = override.NewCachedChecker(override.NewChecker(), opts.OverrideCacheTTL)
	}

	return &RegistrationService{
		store:     store,
		catalog:   catalog,
		validator: validation.New(catalog, overrides, validation.Options{ForbidSelfCompletion: opts.ForbidSelfCompletion}),
		notifier:  notifier,
		log:       log,
		tracer:    opts.Tracer,
		now:       func() time.Time { return opts.Clock().UTC() },
		promotion: opts.Promotion,
	}
}

// Catalog returns the workflows and registration types in use.
func (s *RegistrationService) Catalog() *workflow.Catalog {
	return s.catalog
}

func (s *RegistrationService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "registration."+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// publish sends events collected during a committed transaction. Failures
// are logged; the change they describe has already happened.
func (s *RegistrationService) publish(ctx context.Context, events []notify.Event) {
	for _, ev := range events {
		if err := s.notifier.Notify(ctx, ev); err != nil {
			s.log.Warn("publish event failed",
				zap.String("type", ev.Type),
				zap.String("registration_id", ev.RegistrationID),
				zap.Error(err),
			)
		}
	}
}

func newEvent(typ string, r model.Registration, previous string, at time.Time) notify.Event {
	return notify.Event{
		Type:             typ,
		RegistrationID:   r.ID,
		HostID:           r.HostID,
		RegistrationType: r.Type,
		UserID:           r.UserID,
		Email:            r.Email,
		State:            r.State,
		PreviousState:    previous,
		Count:            r.Count,
		OccurredAt:       at,
	}
}

// stateEvents describes a registration arriving in its current state.
func stateEvents(w *workflow.Workflow, r model.Registration, previous string, at time.Time) []notify.Event {
	if r.State == previous {
		return nil
	}
	switch {
	case r.State == w.CompleteState():
		return []notify.Event{newEvent(notify.TypeCompleted, r, previous, at)}
	case w.IsWaitlist(r.State):
		return []notify.Event{newEvent(notify.TypeWaitlisted, r, previous, at)}
	case w.IsCanceled(r.State):
		return []notify.Event{newEvent(notify.TypeCanceled, r, previous, at)}
	}
	return nil
}

// moveTo stamps r with its new state.
func moveTo(w *workflow.Workflow, r *model.Registration, state string, now time.Time) {
	r.State = state
	r.ChangedAt = now
	if state == w.CompleteState() && r.CompletedAt == nil {
		t := now
		r.CompletedAt = &t
	}
}

// freesCapacity reports whether going from before to after releases
// standard capacity that a wait-listed registration could take.
func freesCapacity(w *workflow.Workflow, before, after model.Registration) bool {
	if !w.CountsTowardCapacity(before.State) {
		return false
	}
	return !w.CountsTowardCapacity(after.State) || after.Count < before.Count
}
