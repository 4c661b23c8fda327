// Package model defines the core domain types for the registration lifecycle engine.
package model

import "time"

// HostSettings is the registration sub-record kept for one host (an event,
// a course, anything with bounded capacity). The host itself is owned
// elsewhere; only these settings are read and written here.
type HostSettings struct {
	HostID                string     `json:"host_id"`
	HostType              string     `json:"host_type"`
	RegistrationType      string     `json:"registration_type"`
	Enabled               bool       `json:"enabled"`
	Capacity              int        `json:"capacity"`
	MaximumSpaces         int        `json:"maximum_spaces"`
	MultipleRegistrations bool       `json:"multiple_registrations"`
	WaitlistEnabled       bool       `json:"waitlist_enabled"`
	WaitlistCapacity      int        `json:"waitlist_capacity"`
	WaitlistAutofillState string     `json:"waitlist_autofill_state,omitempty"`
	OpenAt                *time.Time `json:"open_at,omitempty"`
	CloseAt               *time.Time `json:"close_at,omitempty"`
	CancelBy              *time.Time `json:"cancel_by,omitempty"`
	ReminderAt            *time.Time `json:"reminder_at,omitempty"`
	ReminderSent          bool       `json:"reminder_sent"`
	ChangedAt             time.Time  `json:"changed_at"`
}

// Unlimited reports whether the host accepts any number of spaces.
func (s *HostSettings) Unlimited() bool {
	return s.Capacity == 0
}

// Clone returns a deep copy of the settings.
func (s HostSettings) Clone() HostSettings {
	s.OpenAt = cloneTime(s.OpenAt)
	s.CloseAt = cloneTime(s.CloseAt)
	s.CancelBy = cloneTime(s.CancelBy)
	s.ReminderAt = cloneTime(s.ReminderAt)
	return s
}

// Registration is a reservation of Count spaces against exactly one host.
type Registration struct {
	ID          string     `json:"id"`
	HostID      string     `json:"host_id"`
	Type        string     `json:"type"`
	Workflow    string     `json:"workflow"`
	State       string     `json:"state"`
	UserID      string     `json:"user_id,omitempty"`
	Email       string     `json:"email"`
	Count       int        `json:"count"`
	Sequence    int64      `json:"sequence"`
	CreatedAt   time.Time  `json:"created_at"`
	ChangedAt   time.Time  `json:"changed_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsAnonymous returns true when the registration has no user account.
func (r *Registration) IsAnonymous() bool {
	return r.UserID == ""
}

// OwnedBy reports whether the principal with the given ID made the registration.
func (r *Registration) OwnedBy(principalID string) bool {
	return r.UserID != "" && r.UserID == principalID
}

// Clone returns a deep copy of the registration.
func (r Registration) Clone() Registration {
	r.CompletedAt = cloneTime(r.CompletedAt)
	return r
}

// Host is a point-in-time view of a host: its settings plus every
// registration that references it, in creation order.
type Host struct {
	Settings      HostSettings
	Registrations []Registration
}

// Find returns the registration with the given ID from the snapshot.
func (h *Host) Find(id string) (Registration, bool) {
	for _, r := range h.Registrations {
		if r.ID == id {
			return r, true
		}
	}
	return Registration{}, false
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
