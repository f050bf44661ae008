package types

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a collection request.
type Status string

// Request statuses. A request starts in StatusReceived; StatusCompleted and
// StatusCanceled are terminal.
const (
	StatusReceived   Status = "received"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
)

// Action is an operation that moves a request from one status to another.
type Action string

// Request actions.
const (
	ActionAssign   Action = "assign"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusReceived,
	StatusAssigned,
	StatusInProgress,
	StatusCompleted,
	StatusCanceled,
}

// AllActions lists every action.
var AllActions = []Action{
	ActionAssign,
	ActionStart,
	ActionComplete,
	ActionCancel,
}

type transitionKey struct {
	from   Status
	action Action
}

// transitions is the request state machine. A (status, action) pair that is
// absent from this map is illegal.
var transitions = map[transitionKey]Status{
	{StatusReceived, ActionAssign}:     StatusAssigned,
	{StatusAssigned, ActionStart}:      StatusInProgress,
	{StatusInProgress, ActionComplete}: StatusCompleted,
	{StatusReceived, ActionCancel}:     StatusCanceled,
	{StatusAssigned, ActionCancel}:     StatusCanceled,
}

// Next returns the status reached by applying action to a request in status
// from. It returns a *TransitionError wrapping ErrInvalidTransition when the
// pair is not in the transition table.
func Next(from Status, action Action) (Status, error) {
	to, ok := transitions[transitionKey{from, action}]
	if !ok {
		return from, &TransitionError{From: from, Action: action}
	}
	return to, nil
}

// AllowedActions returns the actions that are legal from status s, in
// AllActions order. Terminal statuses return an empty slice.
func AllowedActions(s Status) []Action {
	allowed := []Action{}
	for _, a := range AllActions {
		if _, ok := transitions[transitionKey{s, a}]; ok {
			allowed = append(allowed, a)
		}
	}
	return allowed
}

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusAssigned, StatusInProgress, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no action can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Valid reports whether a is a recognized action.
func (a Action) Valid() bool {
	switch a {
	case ActionAssign, ActionStart, ActionComplete, ActionCancel:
		return true
	}
	return false
}

// ParseStatus converts a status name to a Status. Matching ignores case and
// accepts the upper-case names used by older clients (IN_PROGRESS).
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
	return st, nil
}

// ParseAction converts an action name to an Action, ignoring case.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: unknown action %q", ErrValidation, s)
	}
	return a, nil
}

// TransitionError reports an action that the transition table does not
// allow from the request's current status.
type TransitionError struct {
	From   Status
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a request that is %s", e.Action, e.From)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
