package tracker

import (
	"wsotp/internal/remote"
)

// State is the lifecycle position of a tracked number.
type State int

const (
	StateSubmitting State = iota
	StateProcessing
	StateInProgress
	StateSuccess
	StateFailed
	StateTimedOut
	StateCancelled
)

var stateNames = map[State]string{
	StateSubmitting: "submitting",
	StateProcessing: "processing",
	StateInProgress: "in_progress",
	StateSuccess:    "success",
	StateFailed:     "failed",
	StateTimedOut:   "timed_out",
	StateCancelled:  "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Final reports whether no further polling happens in s.
func (s State) Final() bool {
	switch s {
	case StateSuccess, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Display labels that are not remote status labels.
const (
	LabelProcessing = "🔵 Processing..."
	LabelTryLater   = "🟡 Try Later"
)

// step is the outcome of one poll: the next state, the side effects to
// perform and whether another poll follows.
type step struct {
	next     State
	label    string
	register bool // put the number in the active registry
	success  bool // count the success in the ledger
	release  bool
	cleanup  bool
	again    bool
}

// decide classifies a status result for a task that has already completed
// checks polls (including this one). It has no side effects.
func decide(lastCode remote.StatusCode, checks, maxChecks int, res remote.StatusResult) step {
	label := res.Label()

	switch remote.Classify(res.Code) {
	case remote.ClassSuccess:
		return step{next: StateSuccess, label: label, success: true, release: true}
	case remote.ClassTerminal:
		return step{next: StateFailed, label: label, release: true, cleanup: true}
	}

	if checks >= maxChecks {
		last := res.Code
		if last == remote.StatusUnknown {
			last = lastCode
		}
		return step{
			next:    StateTimedOut,
			label:   LabelTryLater,
			release: true,
			cleanup: last != remote.StatusSuccess,
		}
	}

	if res.Code == remote.StatusInProgress {
		return step{next: StateInProgress, label: label, register: true, again: true}
	}
	return step{next: StateProcessing, label: label, again: true}
}
