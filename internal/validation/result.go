// Package validation decides whether a registration may move to a
// requested state, and which state it actually ends up in.
package validation

import "strings"

// Code is the stable identifier of a violation.
type Code string

const (
	CodeNoTransition      Code = "no_transition"
	CodeForbidden         Code = "forbidden"
	CodeCapacity          Code = "capacity"
	CodeWaitlistCapacity  Code = "waitlist_capacity"
	CodeWaitlistDisabled  Code = "waitlist_disabled"
	CodeExpired           Code = "expired"
	CodeSelfCompletion    Code = "self_completion"
	CodeInvalidCount      Code = "invalid_count"
	CodeMaximumSpaces     Code = "maximum_spaces"
	CodeHostDisabled      Code = "host_disabled"
	CodeHostNotOpen       Code = "host_not_open"
	CodeHostClosed        Code = "host_closed"
	CodeAlreadyRegistered Code = "already_registered"
)

// Violation is one reason a request was refused.
type Violation struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of a validation.
//
// EffectiveState differs from RequestedState only when a registration that
// asked for a capacity-holding state was redirected onto the wait-list
// because the host is full. Callers must commit EffectiveState, never
// RequestedState.
type Result struct {
	Valid          bool        `json:"valid"`
	NoOp           bool        `json:"no_op"`
	RequestedState string      `json:"requested_state"`
	EffectiveState string      `json:"effective_state"`
	Transition     string      `json:"transition,omitempty"`
	Violations     []Violation `json:"violations,omitempty"`
}

// Redirected reports whether a valid result lands in a different state
// than the one requested.
func (r Result) Redirected() bool {
	return r.Valid && r.EffectiveState != r.RequestedState
}

// Has reports whether the result carries a violation with code.
func (r Result) Has(code Code) bool {
	for _, v := range r.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// Codes lists the violation codes in order.
func (r Result) Codes() []Code {
	out := make([]Code, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.Code
	}
	return out
}

// Summary joins the violations into one line.
func (r Result) Summary() string {
	msgs := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		msgs[i] = string(v.Code) + ": " + v.Message
	}
	return strings.Join(msgs, "; ")
}

func (r *Result) add(code Code, msg string) {
	r.Violations = append(r.Violations, Violation{Code: code, Message: msg})
}
