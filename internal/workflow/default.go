package workflow

// DefaultID is the ID of the workflow shipped with the engine.
const DefaultID = "registration"

// Default returns the stock workflow: pending, held, complete and
// canceled, connected by the complete, hold and cancel transitions.
func Default() Definition {
	return Definition{
		ID:            DefaultID,
		Label:         "Default",
		DefaultState:  "pending",
		CompleteState: "complete",
		States: []State{
			{ID: "pending", Label: "Pending", Description: "Registration is pending.", Weight: 0, Active: true, ShowOnForm: true},
			{ID: "held", Label: "Held", Description: "Registration is held.", Weight: 1, Held: true},
			{ID: "complete", Label: "Complete", Description: "Registration has been completed.", Weight: 2, Active: true, ShowOnForm: true},
			{ID: "canceled", Label: "Canceled", Description: "Registration was canceled.", Weight: 3, Canceled: true, ShowOnForm: true},
		},
		Transitions: []Transition{
			{ID: "complete", Label: "Complete", From: []string{"pending", "held"}, To: "complete"},
			{ID: "hold", Label: "Hold", From: []string{"pending"}, To: "held"},
			{ID: "cancel", Label: "Cancel", From: []string{"pending", "held", "complete"}, To: "canceled"},
		},
	}
}

// DefaultWithWaitlist extends Default with a wait-list state. Registrations
// can be parked on it from pending or held, and leave it by completing or
// canceling.
func DefaultWithWaitlist() Definition {
	def := Default()
	def.WaitlistState = "waitlist"
	def.States = append(def.States, State{
		ID: "waitlist", Label: "Wait list", Description: "Registration is on the wait list.", Weight: 4, ShowOnForm: true,
	})
	for i := range def.Transitions {
		switch def.Transitions[i].ID {
		case "complete", "cancel":
			def.Transitions[i].From = append(def.Transitions[i].From, "waitlist")
		}
	}
	def.Transitions = append(def.Transitions, Transition{
		ID: "waitlist", Label: "Move to wait list", From: []string{"pending", "held"}, To: "waitlist",
	})
	return def
}
