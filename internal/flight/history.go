package flight

import "fmt"

// DefaultHistorySize is the number of altitude samples averaged by the
// apogee detector.
const DefaultHistorySize = 50

// AltitudeHistory is a bounded FIFO of recent altitudes. It is not safe for
// concurrent use; the evaluator owning it serializes access.
type AltitudeHistory struct {
	values   []float64
	head     int // index of the oldest value
	size     int
	capacity int
}

// NewAltitudeHistory creates a history holding at most capacity values.
func NewAltitudeHistory(capacity int) (*AltitudeHistory, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid altitude history capacity: %d", capacity)
	}
	return &AltitudeHistory{
		values:   make([]float64, capacity),
		capacity: capacity,
	}, nil
}

// Push appends the newest altitude, evicting the oldest one when full.
func (h *AltitudeHistory) Push(altitude float64) {
	if h.size < h.capacity {
		h.values[(h.head+h.size)%h.capacity] = altitude
		h.size++
		return
	}

	h.values[h.head] = altitude
	h.head = (h.head + 1) % h.capacity
}

// Full reports whether the history holds capacity values.
func (h *AltitudeHistory) Full() bool {
	return h.size == h.capacity
}

// Len returns the number of values held.
func (h *AltitudeHistory) Len() int {
	return h.size
}

// Capacity returns the maximum number of values held.
func (h *AltitudeHistory) Capacity() int {
	return h.capacity
}

// Mean returns the average of the held values, or 0 when empty.
func (h *AltitudeHistory) Mean() float64 {
	if h.size == 0 {
		return 0
	}
	var sum float64
	for i := range h.size {
		sum += h.values[(h.head+i)%h.capacity]
	}
	return sum / float64(h.size)
}

// Values returns the held altitudes, oldest first.
func (h *AltitudeHistory) Values() []float64 {
	out := make([]float64, h.size)
	for i := range h.size {
		out[i] = h.values[(h.head+i)%h.capacity]
	}
	return out
}

// Reset empties the history.
func (h *AltitudeHistory) Reset() {
	h.head = 0
	h.size = 0
}
