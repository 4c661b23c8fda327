package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/notify"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/repository"
)

// SendReminders publishes one reminder per capacity-holding registration
// of every host whose reminder time has passed, then marks the host so it
// is never reminded twice. It returns the number of reminders sent.
func (s *RegistrationService) SendReminders(ctx context.Context) (sent int, err error) {
	ctx, span := s.startSpan(ctx, "send_reminders")
	defer func() { endSpan(span, err) }()

	all, err := s.store.ListHostSettings(ctx)
	if err != nil {
		return 0, s.wrap("list hosts", err)
	}
	now := s.now()
	for _, hs := range all {
		if hs.ReminderSent || hs.ReminderAt == nil || now.Before(*hs.ReminderAt) {
			continue
		}

		var events []notify.Event
		err := s.store.WithHostLock(ctx, hs.HostID, func(ctx context.Context, tx repository.Tx) error {
			events = nil
			host, err := tx.Host(ctx)
			if err != nil {
				return err
			}
			settings := host.Settings
			if settings.ReminderSent || settings.ReminderAt == nil || now.Before(*settings.ReminderAt) {
				return nil
			}
			w, _, err := s.catalog.WorkflowForType(settings.RegistrationType)
			if err != nil {
				return err
			}
			for _, r := range host.Registrations {
				if w.CountsTowardCapacity(r.State) {
					events = append(events, newEvent(notify.TypeReminder, r, "", now))
				}
			}
			settings.ReminderSent = true
			return tx.SaveHostSettings(ctx, settings)
		})
		if err != nil {
			s.log.Error("send reminders failed", zap.String("host_id", hs.HostID), zap.Error(err))
			continue
		}

		s.publish(ctx, events)
		sent += len(events)
		if len(events) > 0 {
			s.log.Info("reminders sent", zap.String("host_id", hs.HostID), zap.Int("count", len(events)))
		}
	}
	return sent, nil
}
