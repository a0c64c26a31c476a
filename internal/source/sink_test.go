package source

import (
	"sync"
	"time"

	"github.com/roman-kulish/ground-control/internal/telemetry"
)

// recordingSink stores everything a driver produces.
type recordingSink struct {
	mu       sync.Mutex
	samples  []telemetry.Sample
	arrivals []time.Time
	statuses []telemetry.Status
	discards []error
}

func (r *recordingSink) Telemetry(s telemetry.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	r.arrivals = append(r.arrivals, time.Now())
}

func (r *recordingSink) Status(st telemetry.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *recordingSink) Discard(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discards = append(r.discards, err)
}

func (r *recordingSink) Samples() []telemetry.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Sample(nil), r.samples...)
}

func (r *recordingSink) Arrivals() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.arrivals...)
}

func (r *recordingSink) Statuses() []telemetry.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Status(nil), r.statuses...)
}

func (r *recordingSink) Discards() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.discards...)
}
