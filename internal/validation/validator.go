package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/capacity"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/deadline"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/override"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/workflow"
)

// Overrider answers whether a principal may bypass a host setting.
// *override.Checker and *override.CachedChecker both satisfy it.
type Overrider interface {
	CanOverride(rt workflow.RegistrationType, settings model.HostSettings, p model.Principal, setting string, reg *model.Registration) bool
}

// Options are site policies applied on top of the workflow.
type Options struct {
	// ForbidSelfCompletion stops a principal from completing its own
	// registration unless it administers the registration type.
	ForbidSelfCompletion bool
}

// Request describes one proposed change.
type Request struct {
	// Host is the host snapshot read inside the caller's transaction.
	Host model.Host
	// Registration is the proposed record. Its Count may differ from
	// Original's when spaces are being changed.
	Registration model.Registration
	// Original is the stored record, nil for a registration being created.
	Original *model.Registration
	// RequestedState is the target state. Empty means the workflow default
	// for new registrations and the current state otherwise.
	RequestedState string
	Principal      model.Principal
	Now            time.Time
}

// Validator applies the transition policy. It has no side effects.
type Validator struct {
	catalog   *workflow.Catalog
	overrides Overrider
	deadlines deadline.Policy
	opts      Options
}

// New returns a Validator. A nil overrides uses an uncached override.Checker.
func New(catalog *workflow.Catalog, overrides Overrider, opts Options) *Validator {
	if overrides == nil {
		overrides = override.NewChecker()
	}
	return &Validator{catalog: catalog, overrides: overrides, opts: opts}
}

// Catalog returns the catalog the validator resolves workflows from.
func (v *Validator) Catalog() *workflow.Catalog {
	return v.catalog
}

// Validate checks, in order: no-op, edge existence, transition permission,
// host availability (new registrations), capacity with wait-list redirect,
// self-completion and deadlines. Only configuration problems are returned
// as errors; everything else is a violation in the result.
func (v *Validator) Validate(req Request) (Result, error) {
	reg := req.Registration
	w, rt, err := v.catalog.WorkflowForType(reg.Type)
	if err != nil {
		return Result{}, err
	}

	isNew := req.Original == nil
	current, prevCount := "", 0
	if !isNew {
		if _, err := w.Lookup(req.Original.State); err != nil {
			return Result{}, err
		}
		current, prevCount = req.Original.State, req.Original.Count
	}

	requested := req.RequestedState
	if requested == "" {
		requested = current
		if isNew {
			requested = w.DefaultState()
		}
	}
	if _, err := w.Lookup(requested); err != nil {
		return Result{}, err
	}
	res := Result{RequestedState: requested, EffectiveState: requested}

	if reg.Count < 1 {
		res.add(CodeInvalidCount, fmt.Sprintf("a registration must reserve at least one space, got %d", reg.Count))
		return res, nil
	}

	if !isNew && requested == current && reg.Count == prevCount {
		res.Valid = true
		res.NoOp = true
		return res, nil
	}

	// New registrations are created in the default state, so anything else
	// needs the default->requested edge.
	from := current
	if isNew {
		from = w.DefaultState()
	}
	if from != requested {
		t, ok, err := w.TransitionBetween(from, requested)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			res.add(CodeNoTransition, fmt.Sprintf("workflow %s has no transition from %s to %s", w.ID(), from, requested))
			return res, nil
		}
		res.Transition = t.ID
		if !req.Principal.HasPermission(w.Permission(t)) {
			res.add(CodeForbidden, fmt.Sprintf("missing permission %q", w.Permission(t)))
			return res, nil
		}
	}

	growing := isNew || reg.Count > prevCount
	if isNew {
		v.checkHost(&res, w, rt, req)
	}
	if growing {
		v.checkMaximumSpaces(&res, rt, req)
	}

	v.checkCapacity(&res, w, rt, req, current, growing)

	if v.opts.ForbidSelfCompletion && w.CompleteState() != "" && res.EffectiveState == w.CompleteState() &&
		reg.OwnedBy(req.Principal.ID()) && !override.IsAdministrator(rt.ID, req.Principal, nil) {
		res.add(CodeSelfCompletion, "registrants may not complete their own registration")
	}

	if !isNew {
		class := deadline.ClassOf(w, requested)
		if class != deadline.ClassNone && !v.deadlines.IsAllowed(class, req.Host.Settings, req.Now) &&
			!req.Principal.HasPermission(deadline.BypassPermission) {
			d, _ := v.deadlines.Deadline(class, req.Host.Settings)
			res.add(CodeExpired, fmt.Sprintf("%s deadline passed at %s", class, d.Format(time.RFC3339)))
		}
	}

	res.Valid = len(res.Violations) == 0
	return res, nil
}

func (v *Validator) checkHost(res *Result, w *workflow.Workflow, rt workflow.RegistrationType, req Request) {
	s := req.Host.Settings
	reg := req.Registration
	canOverride := func(setting string) bool {
		return v.overrides.CanOverride(rt, s, req.Principal, setting, &reg)
	}

	if !s.Enabled && !canOverride(override.SettingStatus) {
		res.add(CodeHostDisabled, fmt.Sprintf("registration for %s is disabled", s.HostID))
	}
	if s.OpenAt != nil && req.Now.UTC().Before(s.OpenAt.UTC()) && !canOverride(override.SettingOpen) {
		res.add(CodeHostNotOpen, fmt.Sprintf("registration for %s opens at %s", s.HostID, s.OpenAt.UTC().Format(time.RFC3339)))
	}
	if s.CloseAt != nil && !req.Now.UTC().Before(s.CloseAt.UTC()) && !canOverride(override.SettingClose) {
		res.add(CodeHostClosed, fmt.Sprintf("registration for %s closed at %s", s.HostID, s.CloseAt.UTC().Format(time.RFC3339)))
	}
	if !s.MultipleRegistrations && alreadyRegistered(w, req) {
		res.add(CodeAlreadyRegistered, fmt.Sprintf("already registered for %s", s.HostID))
	}
}

func alreadyRegistered(w *workflow.Workflow, req Request) bool {
	reg := req.Registration
	for _, other := range req.Host.Registrations {
		if other.ID == reg.ID || w.IsCanceled(other.State) {
			continue
		}
		if reg.UserID != "" && other.UserID == reg.UserID {
			return true
		}
		if reg.Email != "" && strings.EqualFold(other.Email, reg.Email) {
			return true
		}
	}
	return false
}

func (v *Validator) checkMaximumSpaces(res *Result, rt workflow.RegistrationType, req Request) {
	s := req.Host.Settings
	reg := req.Registration
	if s.MaximumSpaces == 0 || reg.Count <= s.MaximumSpaces {
		return
	}
	if v.overrides.CanOverride(rt, s, req.Principal, override.SettingMaximumSpaces, &reg) {
		return
	}
	res.add(CodeMaximumSpaces, fmt.Sprintf("at most %d space(s) per registration, requested %d", s.MaximumSpaces, reg.Count))
}

// checkCapacity asks for standard room only when the registration is new,
// leaves a state that holds no capacity, or grows. Otherwise its existing
// reservation already covers it.
func (v *Validator) checkCapacity(res *Result, w *workflow.Workflow, rt workflow.RegistrationType, req Request, current string, growing bool) {
	host := req.Host
	reg := req.Registration
	acct := capacity.New(w)
	requested := res.RequestedState
	isNew := req.Original == nil

	if w.CountsTowardCapacity(requested) && (growing || !w.CountsTowardCapacity(current)) {
		if acct.HasRoomOffWaitlist(host, reg.Count, reg.ID) {
			return
		}
		if v.overrides.CanOverride(rt, host.Settings, req.Principal, override.SettingCapacity, &reg) {
			return
		}
		if v.canRedirect(w, isNew, current) && acct.HasRoomOnWaitlist(host, reg.Count, reg.ID) {
			// The request is accepted, but for the wait-list.
			res.EffectiveState = w.WaitlistState()
			return
		}
		res.add(CodeCapacity, fmt.Sprintf("%s has no room for %d more space(s)", host.Settings.HostID, reg.Count))
		return
	}

	if w.IsWaitlist(requested) && (growing || current != requested) {
		if !host.Settings.WaitlistEnabled {
			res.add(CodeWaitlistDisabled, fmt.Sprintf("%s has no wait-list", host.Settings.HostID))
			return
		}
		if !acct.HasRoomOnWaitlist(host, reg.Count, reg.ID) {
			res.add(CodeWaitlistCapacity, fmt.Sprintf("wait-list for %s has no room for %d more space(s)", host.Settings.HostID, reg.Count))
		}
	}
}

func (v *Validator) canRedirect(w *workflow.Workflow, isNew bool, current string) bool {
	target := w.WaitlistState()
	if target == "" || current == target {
		return false
	}
	if isNew {
		return true
	}
	_, ok, err := w.TransitionBetween(current, target)
	return err == nil && ok
}
