package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/capacity"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/notify"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/repository"
)

// UpdateHostSettings creates or replaces a host's registration settings.
// Capacity added by the change is filled from the wait-list at once.
func (s *RegistrationService) UpdateHostSettings(ctx context.Context, settings model.HostSettings) (promoted []model.Registration, err error) {
	ctx, span := s.startSpan(ctx, "update_host_settings", attribute.String("host_id", settings.HostID))
	defer func() { endSpan(span, err) }()

	if err := s.checkSettings(settings); err != nil {
		return nil, err
	}
	settings.ChangedAt = s.now()
	if err := s.store.EnsureHost(ctx, settings); err != nil {
		return nil, s.wrap("create host settings", err)
	}

	var events []notify.Event
	err = s.store.WithHostLock(ctx, settings.HostID, func(ctx context.Context, tx repository.Tx) error {
		host, err := tx.Host(ctx)
		if err != nil {
			return err
		}
		w, _, err := s.catalog.WorkflowForType(settings.RegistrationType)
		if err != nil {
			return err
		}
		if settings.WaitlistCapacity != 0 {
			used := capacity.New(w).WaitlistSpacesReserved(host, "")
			if settings.WaitlistCapacity < used {
				return fmt.Errorf("%w: %d space(s) wait-listed, capacity %d", ErrWaitlistBelowUsage, used, settings.WaitlistCapacity)
			}
		}
		if err := tx.SaveHostSettings(ctx, settings); err != nil {
			return err
		}
		promoted, events, err = s.promote(ctx, tx)
		return err
	})
	if err != nil {
		return nil, s.wrap("update host settings", err)
	}

	s.log.Info("host settings updated",
		zap.String("host_id", settings.HostID),
		zap.Int("capacity", settings.Capacity),
		zap.Bool("enabled", settings.Enabled),
		zap.Int("promoted", len(promoted)),
	)
	s.publish(ctx, events)
	return promoted, nil
}

func (s *RegistrationService) checkSettings(hs model.HostSettings) error {
	switch {
	case hs.HostID == "":
		return fmt.Errorf("%w: host id is required", ErrInvalidSettings)
	case hs.Capacity < 0:
		return fmt.Errorf("%w: capacity must not be negative", ErrInvalidSettings)
	case hs.WaitlistCapacity < 0:
		return fmt.Errorf("%w: wait-list capacity must not be negative", ErrInvalidSettings)
	case hs.MaximumSpaces < 0:
		return fmt.Errorf("%w: maximum spaces must not be negative", ErrInvalidSettings)
	case hs.OpenAt != nil && hs.CloseAt != nil && !hs.OpenAt.Before(*hs.CloseAt):
		return fmt.Errorf("%w: open must be before close", ErrInvalidSettings)
	}

	w, _, err := s.catalog.WorkflowForType(hs.RegistrationType)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if st := hs.WaitlistAutofillState; st != "" {
		if !w.CountsTowardCapacity(st) {
			return fmt.Errorf("%w: autofill state %q does not hold capacity in workflow %s", ErrInvalidSettings, st, w.ID())
		}
		if w.WaitlistState() == "" {
			return fmt.Errorf("%w: workflow %s has no wait-list to autofill from", ErrInvalidSettings, w.ID())
		}
		if _, ok, err := w.TransitionBetween(w.WaitlistState(), st); err != nil || !ok {
			return fmt.Errorf("%w: workflow %s has no transition from %s to autofill state %q",
				ErrInvalidSettings, w.ID(), w.WaitlistState(), st)
		}
	}
	return nil
}

// SyncHostStatus opens hosts whose open time has arrived and closes hosts
// whose close time has passed. A time only acts once: settings changed
// after it are left alone. It returns the number of hosts changed.
func (s *RegistrationService) SyncHostStatus(ctx context.Context) (changed int, err error) {
	ctx, span := s.startSpan(ctx, "sync_host_status")
	defer func() { endSpan(span, err) }()

	all, err := s.store.ListHostSettings(ctx)
	if err != nil {
		return 0, s.wrap("list hosts", err)
	}
	now := s.now()
	for _, hs := range all {
		if _, ok := wantStatus(hs, now); !ok {
			continue
		}
		var updated bool
		err := s.store.WithHostLock(ctx, hs.HostID, func(ctx context.Context, tx repository.Tx) error {
			updated = false
			host, err := tx.Host(ctx)
			if err != nil {
				return err
			}
			enabled, ok := wantStatus(host.Settings, now)
			if !ok {
				return nil
			}
			next := host.Settings
			next.Enabled = enabled
			next.ChangedAt = now
			updated = true
			return tx.SaveHostSettings(ctx, next)
		})
		if err != nil {
			s.log.Error("sync host status failed", zap.String("host_id", hs.HostID), zap.Error(err))
			continue
		}
		if updated {
			changed++
			s.log.Info("host status synced", zap.String("host_id", hs.HostID), zap.Bool("enabled", !hs.Enabled))
		}
	}
	return changed, nil
}

// wantStatus returns the status a host should move to, if any.
func wantStatus(hs model.HostSettings, now time.Time) (enabled bool, change bool) {
	if hs.CloseAt != nil && !now.Before(*hs.CloseAt) {
		return false, hs.Enabled && hs.ChangedAt.Before(*hs.CloseAt)
	}
	if hs.OpenAt != nil && !now.Before(*hs.OpenAt) {
		return true, !hs.Enabled && hs.ChangedAt.Before(*hs.OpenAt)
	}
	return false, false
}
