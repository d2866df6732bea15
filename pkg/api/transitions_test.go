package api

import (
	"errors"
	"testing"
)

func TestNext_AllowedEdges(t *testing.T) {
	cases := []struct {
		from   State
		action Action
		to     State
	}{
		{StateNone, ActionTrigger, StateInitiated},
		{StateNone, ActionClaim, StateClaimed},
		{StateInitiated, ActionClaim, StateClaimed},
		{StateInitiated, ActionDismiss, StateDismissed},
		{StateClaimed, ActionFollowUp, StateSurveyed},
		{StateSurveyed, ActionRecordOutcome, StateCompleted},
	}

	for _, tc := range cases {
		got, err := Next(tc.from, tc.action)
		if err != nil {
			t.Fatalf("Next(%q, %q) failed: %v", tc.from, tc.action, err)
		}
		if got != tc.to {
			t.Fatalf("Next(%q, %q) = %q, want %q", tc.from, tc.action, got, tc.to)
		}
	}
}

func TestNext_RejectsEverythingElse(t *testing.T) {
	states := []State{StateNone, StateInitiated, StateClaimed, StateSurveyed, StateCompleted, StateDismissed}
	actions := []Action{ActionTrigger, ActionClaim, ActionFollowUp, ActionDismiss, ActionRecordOutcome}

	allowed := 0
	for _, s := range states {
		for _, a := range actions {
			to, err := Next(s, a)
			if err == nil {
				allowed++
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("Next(%q, %q): expected ErrInvalidTransition, got %v", s, a, err)
			}
			if to != s {
				t.Fatalf("Next(%q, %q) moved state to %q on rejection", s, a, to)
			}
		}
	}

	if allowed != 6 {
		t.Fatalf("expected exactly 6 allowed edges, got %d", allowed)
	}
}

func TestNext_TerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []State{StateCompleted, StateDismissed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
		if len(transitions[s]) != 0 {
			t.Fatalf("terminal state %s has outgoing edges", s)
		}
	}
}

func TestApply_RecordsInstanceOnRejection(t *testing.T) {
	inst := &Instance{ID: 7, State: StateCompleted}

	err := Apply(inst, ActionDismiss)

	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
	if te.InstanceID != 7 || te.From != StateCompleted || te.Action != ActionDismiss {
		t.Fatalf("unexpected transition error: %+v", te)
	}
	if inst.State != StateCompleted {
		t.Fatalf("state changed on rejected transition: %s", inst.State)
	}
	if te.Error() != "cannot dismiss instance 7 in state COMPLETED" {
		t.Fatalf("unexpected message: %q", te.Error())
	}
}
