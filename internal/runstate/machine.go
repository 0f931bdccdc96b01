// Package runstate enforces the run status machine and guards against
// overlapping runs for one organization.
//
//	idle → monitoring → analyzing → processing → completed
//	  └──────────┴───────────┴───────────┴──────→ error
package runstate

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/supplyrisk/internal/model"
)

// ErrInvalidTransition is returned for any move the machine forbids.
var ErrInvalidTransition = eris.New("runstate: invalid transition")

var next = map[model.RunState]model.RunState{
	model.RunStateIdle:       model.RunStateMonitoring,
	model.RunStateMonitoring: model.RunStateAnalyzing,
	model.RunStateAnalyzing:  model.RunStateProcessing,
	model.RunStateProcessing: model.RunStateCompleted,
}

// CanTransition reports whether from → to is allowed. Staying in the same
// non-terminal state is allowed so progress text and counters can change.
func CanTransition(from, to model.RunState) bool {
	if from.IsTerminal() {
		return false
	}
	if _, known := next[from]; !known {
		return false
	}
	switch {
	case to == model.RunStateError:
		return true
	case to == from:
		return true
	default:
		return next[from] == to
	}
}

// Check returns ErrInvalidTransition wrapped with the offending states.
func Check(from, to model.RunState) error {
	if !CanTransition(from, to) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	return nil
}
