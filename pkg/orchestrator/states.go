package orchestrator

import (
	"errors"
	"fmt"
)

// Step is a state of the per-turn state machine.
type Step string

// Orchestrator states.
const (
	// StepAgent calls the model with the system instruction and the conversation. Initial state.
	StepAgent Step = "AGENT"
	// StepTool runs every tool call of the last assistant message, in order.
	StepTool Step = "TOOL"
	// StepEnd is terminal; the last assistant message is the answer.
	StepEnd Step = "END"
)

// ErrInvalidTransition is returned when the machine attempts a transition outside the table.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines the orchestrator state machine.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var validTransitions = map[Step][]Step{
	StepAgent: {
		StepTool, // last assistant message carries tool calls
		StepEnd,  // plain answer
	},
	StepTool: {
		StepAgent, // always hand the tool output back to the model
	},
	StepEnd: {
		// Terminal state - no outgoing transitions
	},
}

// IsValidTransition reports whether from -> to is in the transition table.
func IsValidTransition(from, to Step) bool {
	for _, allowed := range ValidNextSteps(from) {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidNextSteps returns the states reachable from from.
func ValidNextSteps(from Step) []Step {
	return validTransitions[from]
}

// AllSteps returns every state of the machine.
func AllSteps() []Step {
	return []Step{StepAgent, StepTool, StepEnd}
}

func transition(from, to Step) error {
	if !IsValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s (allowed: %v)", ErrInvalidTransition, from, to, ValidNextSteps(from))
	}
	return nil
}
