package core

import "fmt"

// Phase is the stage a loader run is in.
type Phase string

const (
	PhaseNotStarted  Phase = "not_started"
	PhaseReadingRows Phase = "reading_rows"
	PhaseResolving   Phase = "resolving_dependencies"
	PhaseReconciling Phase = "reconciling_record"
	PhaseSummarizing Phase = "summarizing"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// transitions lists the phases reachable from each phase. Resolving and
// reconciling alternate once per record; PhaseFailed is reachable from any
// phase but PhaseDone.
var transitions = map[Phase][]Phase{
	PhaseNotStarted:  {PhaseReadingRows},
	PhaseReadingRows: {PhaseResolving, PhaseReconciling, PhaseSummarizing},
	PhaseResolving:   {PhaseResolving, PhaseReconciling, PhaseSummarizing},
	PhaseReconciling: {PhaseResolving, PhaseReconciling, PhaseSummarizing},
	PhaseSummarizing: {PhaseDone},
}

// Tracker enforces the loader state machine.
type Tracker struct {
	phase Phase
}

// NewTracker returns a tracker in PhaseNotStarted.
func NewTracker() *Tracker {
	return &Tracker{phase: PhaseNotStarted}
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	return t.phase
}

// Enter moves to next. An invalid transition returns an error and leaves
// the phase unchanged.
func (t *Tracker) Enter(next Phase) error {
	if next == PhaseFailed && t.phase != PhaseDone {
		t.phase = next
		return nil
	}
	for _, p := range transitions[t.phase] {
		if p == next {
			t.phase = next
			return nil
		}
	}
	return fmt.Errorf("invalid phase transition %s -> %s", t.phase, next)
}
