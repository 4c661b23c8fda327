// Package capacity computes how many spaces a host has reserved and
// whether more fit, both in standard capacity and on the wait-list.
//
// Nothing here is cached. Every answer is derived from the host snapshot
// passed in, which the caller reads inside the same per-host transaction
// it later writes in.
package capacity

import (
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/workflow"
)

// Accountant sums reserved spaces using the state flags of one workflow.
type Accountant struct {
	Workflow *workflow.Workflow
}

// New returns an Accountant for w.
func New(w *workflow.Workflow) Accountant {
	return Accountant{Workflow: w}
}

// ActiveSpacesReserved is the sum of Count over registrations in active or
// held states. The registration with ID excluding is left out so a
// registration can be re-evaluated in place.
func (a Accountant) ActiveSpacesReserved(host model.Host, excluding string) int {
	total := 0
	for _, r := range host.Registrations {
		if r.ID == excluding {
			continue
		}
		if a.Workflow.CountsTowardCapacity(r.State) {
			total += r.Count
		}
	}
	return total
}

// WaitlistSpacesReserved is the sum of Count over wait-listed registrations.
func (a Accountant) WaitlistSpacesReserved(host model.Host, excluding string) int {
	if a.Workflow.WaitlistState() == "" {
		return 0
	}
	total := 0
	for _, r := range host.Registrations {
		if r.ID == excluding {
			continue
		}
		if a.Workflow.IsWaitlist(r.State) {
			total += r.Count
		}
	}
	return total
}

// HasRoomOffWaitlist reports whether spaces more fit in standard capacity.
// A capacity of zero is unlimited.
func (a Accountant) HasRoomOffWaitlist(host model.Host, spaces int, excluding string) bool {
	capacity := host.Settings.Capacity
	if capacity == 0 {
		return true
	}
	return a.ActiveSpacesReserved(host, excluding)+spaces <= capacity
}

// HasRoomOnWaitlist reports whether spaces more fit on the wait-list. It is
// false when the host has no wait-list or the workflow declares none.
func (a Accountant) HasRoomOnWaitlist(host model.Host, spaces int, excluding string) bool {
	if !host.Settings.WaitlistEnabled || a.Workflow.WaitlistState() == "" {
		return false
	}
	capacity := host.Settings.WaitlistCapacity
	if capacity == 0 {
		return true
	}
	return a.WaitlistSpacesReserved(host, excluding)+spaces <= capacity
}

// HasRoom reports whether spaces more can be accepted at all, either in
// standard capacity or on the wait-list.
func (a Accountant) HasRoom(host model.Host, spaces int, excluding string) bool {
	if a.HasRoomOffWaitlist(host, spaces, excluding) {
		return true
	}
	return a.HasRoomOnWaitlist(host, spaces, excluding)
}

// Usage summarises a host's reservations.
type Usage struct {
	HostID           string `json:"host_id"`
	Capacity         int    `json:"capacity"`
	ActiveReserved   int    `json:"active_reserved"`
	WaitlistCapacity int    `json:"waitlist_capacity"`
	WaitlistReserved int    `json:"waitlist_reserved"`
}

// Remaining returns the free standard spaces, or -1 when unlimited.
func (u Usage) Remaining() int {
	if u.Capacity == 0 {
		return -1
	}
	if left := u.Capacity - u.ActiveReserved; left > 0 {
		return left
	}
	return 0
}

// Usage computes the reservation summary for host.
func (a Accountant) Usage(host model.Host) Usage {
	return Usage{
		HostID:           host.Settings.HostID,
		Capacity:         host.Settings.Capacity,
		ActiveReserved:   a.ActiveSpacesReserved(host, ""),
		WaitlistCapacity: host.Settings.WaitlistCapacity,
		WaitlistReserved: a.WaitlistSpacesReserved(host, ""),
	}
}
