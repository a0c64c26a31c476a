package flight

import (
	"testing"
	"time"
)

func TestPhaseTracker_Sequence(t *testing.T) {
	tr := NewPhaseTracker(3 * time.Second)

	steps := []struct {
		launched bool
		ejected  bool
		flight   float64
		expected Phase
	}{
		{false, false, 0, PhaseConnecting},
		{true, false, 0.5, PhasePowered},
		{true, false, 3, PhaseCoast},
		{true, false, 2, PhaseCoast}, // never goes back
		{true, true, 9, PhaseDescent},
		{true, false, 10, PhaseDescent},
	}

	if got := tr.Connect(); got != PhaseConnecting {
		t.Fatalf("Expected %s, got %s", PhaseConnecting, got)
	}
	for i, s := range steps {
		if got := tr.Observe(s.launched, s.ejected, s.flight); got != s.expected {
			t.Errorf("Step %d: expected %s, got %s", i, s.expected, got)
		}
	}

	if !tr.Land() {
		t.Fatal("Expected landing during descent")
	}
	if tr.Phase() != PhaseLanded {
		t.Errorf("Expected %s, got %s", PhaseLanded, tr.Phase())
	}
}

func TestPhaseTracker_LandRequiresDescent(t *testing.T) {
	tr := NewPhaseTracker(time.Second)
	tr.Connect()
	tr.Observe(true, false, 0.1)

	if tr.Land() {
		t.Error("Landing should be ignored before descent")
	}
}
