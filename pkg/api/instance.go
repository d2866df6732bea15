package api

import (
	"fmt"
	"strings"
	"time"
)

// EventKind is the semantic type of the originating event.
type EventKind string

const (
	EventRing EventKind = "ring"
)

// TriggerKind records how an instance was started.
type TriggerKind string

const (
	TriggerSensor TriggerKind = "sensor"
	TriggerManual TriggerKind = "manual"
)

// State is the workflow state of an instance.
type State string

const (
	// StateNone is the source state of creation transitions. It is never stored.
	StateNone      State = ""
	StateInitiated State = "INITIATED"
	StateClaimed   State = "CLAIMED"
	StateSurveyed  State = "SURVEYED"
	StateCompleted State = "COMPLETED"
	StateDismissed State = "DISMISSED"
)

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDismissed
}

// Handled reports whether an instance in state s must carry a HandledBy.
func (s State) Handled() bool {
	return s == StateClaimed || s == StateSurveyed || s == StateCompleted
}

func (s State) valid() bool {
	switch s {
	case StateInitiated, StateClaimed, StateSurveyed, StateCompleted, StateDismissed:
		return true
	}
	return false
}

// Result is the outcome code chosen in the survey step.
type Result string

const (
	ResultNone    Result = ""
	ResultNumber1 Result = "1"
	ResultNumber2 Result = "2"
	ResultBoth    Result = "BOTH"
	ResultNothing Result = "NOTHING"
)

// Results lists the outcome codes in the order they are offered and reported.
var Results = []Result{ResultNumber1, ResultNumber2, ResultBoth, ResultNothing}

// ParseResult parses an outcome code. Matching is case-insensitive.
func ParseResult(code string) (Result, error) {
	code = strings.TrimSpace(code)
	for _, r := range Results {
		if strings.EqualFold(code, string(r)) {
			return r, nil
		}
	}
	return ResultNone, fmt.Errorf("%w: %q", ErrInvalidResult, code)
}

// User is a chat identity.
type User struct {
	ID   int64
	Name string
}

// Instance is one row of the event ledger.
type Instance struct {
	ID          int64
	EventKind   EventKind
	TriggerKind TriggerKind

	// CorrelationID identifies the prompt replies are routed by. Empty until
	// a prompt exists.
	CorrelationID string

	// HandledBy is the name of the claimant. Empty until claimed.
	HandledBy string

	State  State
	Result Result

	CreatedAt time.Time
}

// Clone returns a copy of inst.
func (inst *Instance) Clone() *Instance {
	if inst == nil {
		return nil
	}
	c := *inst
	return &c
}

// Validate checks the row invariants: HandledBy is set iff the state is
// CLAIMED, SURVEYED or COMPLETED, and Result is set iff it is COMPLETED.
func (inst *Instance) Validate() error {
	if !inst.State.valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidInstance, inst.State)
	}
	switch inst.TriggerKind {
	case TriggerSensor, TriggerManual:
	default:
		return fmt.Errorf("%w: unknown trigger kind %q", ErrInvalidInstance, inst.TriggerKind)
	}
	if inst.EventKind != EventRing {
		return fmt.Errorf("%w: unknown event kind %q", ErrInvalidInstance, inst.EventKind)
	}
	if inst.State.Handled() != (inst.HandledBy != "") {
		return fmt.Errorf("%w: handled_by %q in state %s", ErrInvalidInstance, inst.HandledBy, inst.State)
	}
	if (inst.State == StateCompleted) != (inst.Result != ResultNone) {
		return fmt.Errorf("%w: result %q in state %s", ErrInvalidInstance, inst.Result, inst.State)
	}
	if inst.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing created_at", ErrInvalidInstance)
	}
	return nil
}

// Day is a local calendar day, [Start, End).
type Day struct {
	Start time.Time
	End   time.Time
}

// DayOf returns the calendar day containing t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return Day{Start: start, End: start.AddDate(0, 0, 1)}
}

// Contains reports whether t falls on d.
func (d Day) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}
