// Package notify delivers registration lifecycle events to downstream
// consumers. Events are published after the change that produced them has
// been committed.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types.
const (
	TypeCreated     = "registration.created"
	TypeCompleted   = "registration.completed"
	TypeWaitlisted  = "registration.waitlisted"
	TypeCanceled    = "registration.canceled"
	TypePromoted    = "registration.promoted"
	TypeHeldExpired = "registration.held_expired"
	TypeReminder    = "registration.reminder"
)

// Types lists every event type, in the order queues are declared.
var Types = []string{
	TypeCreated,
	TypeCompleted,
	TypeWaitlisted,
	TypeCanceled,
	TypePromoted,
	TypeHeldExpired,
	TypeReminder,
}

// Event carries enough about a registration for a consumer to send an
// email or update a projection without reading the database.
type Event struct {
	Type             string    `json:"type"`
	RegistrationID   string    `json:"registration_id"`
	HostID           string    `json:"host_id"`
	RegistrationType string    `json:"registration_type"`
	UserID           string    `json:"user_id,omitempty"`
	Email            string    `json:"email,omitempty"`
	State            string    `json:"state"`
	PreviousState    string    `json:"previous_state,omitempty"`
	Count            int       `json:"count"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Notifier publishes events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to a zap logger. It is the notifier used when
// no broker is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.log.Info("registration event",
		zap.String("type", ev.Type),
		zap.String("registration_id", ev.RegistrationID),
		zap.String("host_id", ev.HostID),
		zap.String("state", ev.State),
		zap.String("previous_state", ev.PreviousState),
		zap.Int("count", ev.Count),
	)
	return nil
}

// Multi fans an event out to several notifiers. Every notifier is tried;
// the first error is returned.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps every event it receives. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
