package flight

import "time"

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhasePowered    Phase = "powered"
	PhaseCoast      Phase = "coast"
	PhaseDescent    Phase = "descent"
	PhaseLanded     Phase = "landed"
)

// DefaultBurnTime is how long after launch the vehicle is assumed to be under
// power.
const DefaultBurnTime = 3 * time.Second

// Phase is a coarse flight phase shown to operators.
type Phase string

func (p Phase) String() string {
	return string(p)
}

// PhaseTracker derives the flight phase from the session latches. Phases
// only move forward: idle, connecting, powered, coast, descent, landed.
type PhaseTracker struct {
	burnTime time.Duration
	phase    Phase
}

// NewPhaseTracker creates a tracker in the idle phase.
func NewPhaseTracker(burnTime time.Duration) *PhaseTracker {
	return &PhaseTracker{burnTime: burnTime, phase: PhaseIdle}
}

// Connect moves an idle tracker to connecting.
func (t *PhaseTracker) Connect() Phase {
	t.advance(PhaseConnecting)
	return t.phase
}

// Observe updates the phase for one enriched sample and returns it.
func (t *PhaseTracker) Observe(launched, ejected bool, flightElapsed float64) Phase {
	switch {
	case ejected:
		t.advance(PhaseDescent)
	case launched && flightElapsed >= t.burnTime.Seconds():
		t.advance(PhaseCoast)
	case launched:
		t.advance(PhasePowered)
	}
	return t.phase
}

// Land marks the end of a flight. It only has an effect during descent.
func (t *PhaseTracker) Land() bool {
	if t.phase != PhaseDescent {
		return false
	}
	t.phase = PhaseLanded
	return true
}

// Phase returns the current phase.
func (t *PhaseTracker) Phase() Phase {
	return t.phase
}

// Reset returns the tracker to idle.
func (t *PhaseTracker) Reset() {
	t.phase = PhaseIdle
}

func (t *PhaseTracker) advance(p Phase) {
	if phaseOrder[p] > phaseOrder[t.phase] {
		t.phase = p
	}
}

var phaseOrder = map[Phase]int{
	PhaseIdle:       0,
	PhaseConnecting: 1,
	PhasePowered:    2,
	PhaseCoast:      3,
	PhaseDescent:    4,
	PhaseLanded:     5,
}
