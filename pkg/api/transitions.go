package api

// Action is an input to the state machine.
type Action string

const (
	ActionTrigger       Action = "trigger"
	ActionClaim         Action = "claim"
	ActionFollowUp      Action = "follow_up"
	ActionDismiss       Action = "dismiss"
	ActionRecordOutcome Action = "record_outcome"
)

// transitions is the complete set of allowed edges.
var transitions = map[State]map[Action]State{
	StateNone: {
		ActionTrigger: StateInitiated,
		ActionClaim:   StateClaimed,
	},
	StateInitiated: {
		ActionClaim:   StateClaimed,
		ActionDismiss: StateDismissed,
	},
	StateClaimed: {
		ActionFollowUp: StateSurveyed,
	},
	StateSurveyed: {
		ActionRecordOutcome: StateCompleted,
	},
}

// Next returns the state reached by applying action in state from, or a
// *TransitionError if the edge does not exist.
func Next(from State, action Action) (State, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	return from, &TransitionError{From: from, Action: action}
}

// Apply moves inst along the edge for action. inst is left untouched when
// the edge does not exist.
func Apply(inst *Instance, action Action) error {
	to, err := Next(inst.State, action)
	if err != nil {
		var te *TransitionError
		if As(err, &te) {
			te.InstanceID = inst.ID
		}
		return err
	}
	inst.State = to
	return nil
}
