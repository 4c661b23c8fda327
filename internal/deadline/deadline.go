// Package deadline denies classes of transitions once a host's configured
// deadline has passed.
package deadline

import (
	"time"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/workflow"
)

// Class groups transitions that share a deadline.
type Class string

const (
	ClassNone   Class = ""
	ClassCancel Class = "cancel"
)

// BypassPermission lets a principal cancel after the cancel-by deadline.
const BypassPermission = "bypass cancel by access"

// ClassOf classifies a move into toState. Moving into a canceled state is
// a cancel.
func ClassOf(w *workflow.Workflow, toState string) Class {
	if w.IsCanceled(toState) {
		return ClassCancel
	}
	return ClassNone
}

// Policy evaluates deadlines stored on host settings.
type Policy struct{}

// Deadline returns the configured deadline for class, in UTC.
func (Policy) Deadline(class Class, s model.HostSettings) (time.Time, bool) {
	switch class {
	case ClassCancel:
		if s.CancelBy == nil {
			return time.Time{}, false
		}
		return s.CancelBy.UTC(), true
	default:
		return time.Time{}, false
	}
}

// IsAllowed reports whether a transition of class may still happen at now.
// Without a deadline it always may.
func (p Policy) IsAllowed(class Class, s model.HostSettings, now time.Time) bool {
	d, ok := p.Deadline(class, s)
	if !ok {
		return true
	}
	return now.UTC().Before(d)
}
