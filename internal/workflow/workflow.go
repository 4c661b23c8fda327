// Package workflow declares registration states, the transitions between
// them and the permission each transition requires.
//
// A Workflow is built once from a Definition and never mutated afterwards,
// so it can be shared freely between goroutines.
package workflow

import (
	"fmt"
	"sort"
)

// State is a node in the workflow graph.
type State struct {
	ID          string `yaml:"id"`
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
	Weight      int    `yaml:"weight"`
	Active      bool   `yaml:"active"`
	Canceled    bool   `yaml:"canceled"`
	Held        bool   `yaml:"held"`
	ShowOnForm  bool   `yaml:"show_on_form"`
}

// Transition is a directed edge from any of From to To.
type Transition struct {
	ID    string   `yaml:"id"`
	Label string   `yaml:"label"`
	From  []string `yaml:"from"`
	To    string   `yaml:"to"`
}

// Definition is the declarative form of a workflow.
type Definition struct {
	ID            string       `yaml:"id"`
	Label         string       `yaml:"label"`
	States        []State      `yaml:"states"`
	Transitions   []Transition `yaml:"transitions"`
	DefaultState  string       `yaml:"default_state"`
	CompleteState string       `yaml:"complete_state"`
	WaitlistState string       `yaml:"waitlist_state"`
}

type edge struct{ from, to string }

// Workflow is the immutable, table-driven form of a Definition.
type Workflow struct {
	id            string
	label         string
	states        []State
	stateIndex    map[string]int
	transitions   []Transition
	transIndex    map[string]int
	edges         map[edge]int
	defaultState  string
	completeState string
	waitlistState string
}

// New validates def and builds the workflow. Any reference to an
// undeclared state, an ambiguous edge or a cycle is a *ConfigurationError.
func New(def Definition) (*Workflow, error) {
	if def.ID == "" {
		return nil, configError("", "", "workflow id is required")
	}
	w := &Workflow{
		id:            def.ID,
		label:         def.Label,
		stateIndex:    make(map[string]int, len(def.States)),
		transIndex:    make(map[string]int, len(def.Transitions)),
		edges:         make(map[edge]int),
		defaultState:  def.DefaultState,
		completeState: def.CompleteState,
		waitlistState: def.WaitlistState,
	}

	w.states = append([]State(nil), def.States...)
	sort.SliceStable(w.states, func(i, j int) bool {
		if w.states[i].Weight != w.states[j].Weight {
			return w.states[i].Weight < w.states[j].Weight
		}
		return w.states[i].ID < w.states[j].ID
	})
	hasCanceled := false
	for i, s := range w.states {
		if s.ID == "" {
			return nil, configError(def.ID, "", "state id is required")
		}
		if _, dup := w.stateIndex[s.ID]; dup {
			return nil, configError(def.ID, s.ID, "duplicate state")
		}
		w.stateIndex[s.ID] = i
		hasCanceled = hasCanceled || s.Canceled
	}
	if !hasCanceled {
		return nil, configError(def.ID, "", "at least one canceled state is required")
	}

	for i, t := range def.Transitions {
		if t.ID == "" {
			return nil, configError(def.ID, "", "transition id is required")
		}
		if _, dup := w.transIndex[t.ID]; dup {
			return nil, configError(def.ID, t.ID, "duplicate transition")
		}
		if _, ok := w.stateIndex[t.To]; !ok {
			return nil, configError(def.ID, t.To, fmt.Sprintf("transition %q targets an undeclared state", t.ID))
		}
		t.From = append([]string(nil), t.From...)
		for _, from := range t.From {
			if _, ok := w.stateIndex[from]; !ok {
				return nil, configError(def.ID, from, fmt.Sprintf("transition %q leaves an undeclared state", t.ID))
			}
			e := edge{from, t.To}
			if other, dup := w.edges[e]; dup {
				return nil, configError(def.ID, t.ID,
					fmt.Sprintf("edge %s -> %s already declared by %q", from, t.To, def.Transitions[other].ID))
			}
			w.edges[e] = i
		}
		w.transIndex[t.ID] = i
		w.transitions = append(w.transitions, t)
	}

	if w.defaultState == "" {
		return nil, configError(def.ID, "", "default state is required")
	}
	for _, ref := range []string{w.defaultState, w.completeState, w.waitlistState} {
		if ref == "" {
			continue
		}
		if _, ok := w.stateIndex[ref]; !ok {
			return nil, configError(def.ID, ref, "designated state is not declared")
		}
	}
	if w.waitlistState != "" {
		s := w.states[w.stateIndex[w.waitlistState]]
		if s.Active || s.Held || s.Canceled {
			return nil, configError(def.ID, s.ID, "wait-list state must not be active, held or canceled")
		}
		target := w.completeState
		if target == "" {
			target = w.defaultState
		}
		if _, ok := w.edges[edge{w.waitlistState, target}]; !ok {
			return nil, configError(def.ID, s.ID, fmt.Sprintf("wait-list state has no transition to %s", target))
		}
	}
	if err := w.checkAcyclic(); err != nil {
		return nil, err
	}
	return w, nil
}

// checkAcyclic runs Kahn's algorithm over the state graph. Self edges are
// ignored: asking for the current state is always a no-op.
func (w *Workflow) checkAcyclic() error {
	indegree := make(map[string]int, len(w.states))
	next := make(map[string][]string, len(w.states))
	for e := range w.edges {
		if e.from == e.to {
			continue
		}
		next[e.from] = append(next[e.from], e.to)
		indegree[e.to]++
	}
	queue := make([]string, 0, len(w.states))
	for _, s := range w.states {
		if indegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, to := range next[id] {
			indegree[to]--
			if indegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}
	if visited != len(w.states) {
		return configError(w.id, "", "transition graph contains a cycle")
	}
	return nil
}

func (w *Workflow) ID() string    { return w.id }
func (w *Workflow) Label() string { return w.label }

// Definition returns the declarative form w was built from.
func (w *Workflow) Definition() Definition {
	return Definition{
		ID:            w.id,
		Label:         w.label,
		States:        w.States(),
		Transitions:   w.Transitions(),
		DefaultState:  w.defaultState,
		CompleteState: w.completeState,
		WaitlistState: w.waitlistState,
	}
}

// States returns the states ordered by weight.
func (w *Workflow) States() []State {
	return append([]State(nil), w.states...)
}

// Transitions returns the transitions in declaration order.
func (w *Workflow) Transitions() []Transition {
	out := make([]Transition, len(w.transitions))
	for i, t := range w.transitions {
		t.From = append([]string(nil), t.From...)
		out[i] = t
	}
	return out
}

// State returns the state with the given ID.
func (w *Workflow) State(id string) (State, bool) {
	i, ok := w.stateIndex[id]
	if !ok {
		return State{}, false
	}
	return w.states[i], true
}

// Lookup is State for references that must exist; a miss means the
// stored data or configuration is corrupt.
func (w *Workflow) Lookup(id string) (State, error) {
	s, ok := w.State(id)
	if !ok {
		return State{}, configError(w.id, id, "state is not declared")
	}
	return s, nil
}

// Transition returns the transition with the given ID.
func (w *Workflow) Transition(id string) (Transition, bool) {
	i, ok := w.transIndex[id]
	if !ok {
		return Transition{}, false
	}
	return w.transitions[i], true
}

// TransitionBetween returns the transition declared for the from -> to
// edge. Both states must be declared.
func (w *Workflow) TransitionBetween(from, to string) (Transition, bool, error) {
	if _, err := w.Lookup(from); err != nil {
		return Transition{}, false, err
	}
	if _, err := w.Lookup(to); err != nil {
		return Transition{}, false, err
	}
	i, ok := w.edges[edge{from, to}]
	if !ok {
		return Transition{}, false, nil
	}
	return w.transitions[i], true, nil
}

// Permission is the permission required to use t.
func (w *Workflow) Permission(t Transition) string {
	return TransitionPermission(w.id, t.ID)
}

// TransitionPermission formats the permission name for a workflow transition.
func TransitionPermission(workflowID, transitionID string) string {
	return fmt.Sprintf("use %s %s transition", workflowID, transitionID)
}

func (w *Workflow) DefaultState() string  { return w.defaultState }
func (w *Workflow) CompleteState() string { return w.completeState }
func (w *Workflow) WaitlistState() string { return w.waitlistState }

// CountsTowardCapacity reports whether registrations in state id hold
// standard capacity. Active and held states both do.
func (w *Workflow) CountsTowardCapacity(id string) bool {
	s, ok := w.State(id)
	return ok && (s.Active || s.Held)
}

// IsWaitlist reports whether id is the designated wait-list state.
func (w *Workflow) IsWaitlist(id string) bool {
	return w.waitlistState != "" && id == w.waitlistState
}

// IsCanceled reports whether id is flagged canceled.
func (w *Workflow) IsCanceled(id string) bool {
	s, ok := w.State(id)
	return ok && s.Canceled
}

func (w *Workflow) ActiveStates() []string {
	return w.statesWhere(func(s State) bool { return s.Active })
}

func (w *Workflow) HeldStates() []string {
	return w.statesWhere(func(s State) bool { return s.Held })
}

func (w *Workflow) CanceledStates() []string {
	return w.statesWhere(func(s State) bool { return s.Canceled })
}

func (w *Workflow) statesWhere(keep func(State) bool) []string {
	var out []string
	for _, s := range w.states {
		if keep(s) {
			out = append(out, s.ID)
		}
	}
	return out
}
