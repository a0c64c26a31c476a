package flight

// Latch holds a value that can leave its zero value exactly once. Further
// attempts to change it are ignored, so a latched value is sticky for the life
// of the latch (until Reset).
type Latch[T comparable] struct {
	value T
	set   bool
}

// Set latches v if the latch is still unset and v is not the zero value.
// It reports whether this call changed the latch.
func (l *Latch[T]) Set(v T) bool {
	var zero T
	if l.set || v == zero {
		return false
	}
	l.value = v
	l.set = true
	return true
}

// Value returns the latched value, or the zero value if unset.
func (l *Latch[T]) Value() T {
	return l.value
}

// IsSet reports whether the latch has fired.
func (l *Latch[T]) IsSet() bool {
	return l.set
}

// Reset returns the latch to its initial state. Only a session reset may call it.
func (l *Latch[T]) Reset() {
	var zero T
	l.value = zero
	l.set = false
}
