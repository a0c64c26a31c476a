package flight

import "testing"

func TestLatch(t *testing.T) {
	var l Latch[int]

	if l.Set(0) {
		t.Error("Setting the zero value should not latch")
	}
	if !l.Set(2) {
		t.Fatal("Expected first non-zero value to latch")
	}
	if l.Set(3) {
		t.Error("Expected latch to ignore later values")
	}
	if l.Value() != 2 {
		t.Errorf("Expected 2, got %d", l.Value())
	}

	l.Reset()
	if l.IsSet() || l.Value() != 0 {
		t.Error("Expected latch to be cleared after reset")
	}
}
