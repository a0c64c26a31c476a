package hub

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/ground-control/internal/source"
	"github.com/roman-kulish/ground-control/internal/telemetry"
)

// scriptDriver emits its samples, then either returns err, returns nil when
// complete is set, or blocks until cancelled.
type scriptDriver struct {
	kind     source.Kind
	samples  []telemetry.Sample
	interval time.Duration
	complete bool
	err      error
}

func (d *scriptDriver) Kind() source.Kind {
	if d.kind == "" {
		return source.KindReplay
	}
	return d.kind
}

func (d *scriptDriver) Run(ctx context.Context, sink source.Sink) error {
	for _, s := range d.samples {
		if d.interval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.interval):
			}
		}
		sink.Telemetry(s)
	}

	switch {
	case d.err != nil:
		return d.err
	case d.complete:
		return nil
	}

	<-ctx.Done()
	return nil
}

// endlessDriver emits a sample every millisecond until cancelled.
type endlessDriver struct{}

func (endlessDriver) Kind() source.Kind {
	return source.KindSimulator
}

func (endlessDriver) Run(ctx context.Context, sink source.Sink) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sink.Telemetry(telemetry.Sample{})
		}
	}
}

// steppingClock advances by step on every call.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestHub(t *testing.T, modify func(c *Config)) *Hub {
	t.Helper()

	config := DefaultConfig()
	config.Ejection.HistorySize = 3
	clock := &steppingClock{now: time.Unix(0, 0), step: 100 * time.Millisecond}
	config.Now = clock.Now
	if modify != nil {
		modify(&config)
	}

	h, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create hub: %v", err)
	}
	t.Cleanup(func() { h.Close() })

	return h
}

func subscribe(t *testing.T, h *Hub, options ...SubscribeOption) *Subscription {
	t.Helper()

	sub, err := h.Subscribe(options...)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	return sub
}

// collect reads events until stop returns true or the timeout expires.
func collect(t *testing.T, sub *Subscription, stop func(ev telemetry.Event) bool) []telemetry.Event {
	t.Helper()

	var events []telemetry.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
			if stop(ev) {
				return events
			}
		case <-timeout:
			t.Fatalf("Timed out after %d events", len(events))
		}
	}
}

func isStatus(level telemetry.StatusLevel, prefix string) func(ev telemetry.Event) bool {
	return func(ev telemetry.Event) bool {
		return ev.Type == telemetry.EventStatus && ev.Status.Status == level && strings.HasPrefix(ev.Status.Message, prefix)
	}
}

func statuses(events []telemetry.Event) []telemetry.Status {
	var out []telemetry.Status
	for _, ev := range events {
		if ev.Type == telemetry.EventStatus {
			out = append(out, *ev.Status)
		}
	}
	return out
}

func samples(events []telemetry.Event) []telemetry.Sample {
	var out []telemetry.Sample
	for _, ev := range events {
		if ev.Type == telemetry.EventTelemetry {
			out = append(out, *ev.Telemetry)
		}
	}
	return out
}

func countStatuses(events []telemetry.Event, match func(ev telemetry.Event) bool) int {
	var n int
	for _, ev := range events {
		if match(ev) {
			n++
		}
	}
	return n
}

func TestHub_FanOut(t *testing.T) {
	h := newTestHub(t, nil)
	a := subscribe(t, h)
	b := subscribe(t, h)

	driver := &scriptDriver{
		samples:  []telemetry.Sample{{Altitude: 1}, {Altitude: 2}, {Altitude: 3}},
		complete: true,
	}
	if err := h.SwitchTo(source.New(driver, "")); err != nil {
		t.Fatalf("Failed to switch: %v", err)
	}

	done := func(ev telemetry.Event) bool {
		return ev.Type == telemetry.EventTelemetry && ev.Telemetry.Altitude == 3
	}
	eventsA := collect(t, a, done)
	eventsB := collect(t, b, done)

	if len(eventsA) != len(eventsB) {
		t.Fatalf("Subscribers saw different streams: %d vs %d events", len(eventsA), len(eventsB))
	}
	for i := range eventsA {
		if eventsA[i].Type != eventsB[i].Type {
			t.Errorf("Event %d differs: %s vs %s", i, eventsA[i].Type, eventsB[i].Type)
		}
	}

	first := statuses(eventsA)[0]
	if first.Status != telemetry.StatusInfo || !strings.HasPrefix(first.Message, "Connecting to") {
		t.Errorf("Expected connecting status first, got %+v", first)
	}

	got := samples(eventsA)
	for i, s := range got {
		if s.Altitude != float64(i+1) {
			t.Errorf("Sample %d out of order: altitude %g", i, s.Altitude)
		}
		if s.Phase != "connecting" {
			t.Errorf("Sample %d: expected connecting phase, got %q", i, s.Phase)
		}
	}
}

func TestHub_SlowSubscriber(t *testing.T) {
	h := newTestHub(t, nil)

	slow := subscribe(t, h, WithBuffer(1))
	fast := subscribe(t, h)

	const n = 100
	script := make([]telemetry.Sample, n)
	for i := range script {
		script[i].Altitude = float64(i + 1)
	}

	driver := &scriptDriver{samples: script, complete: true}
	if err := h.SwitchTo(source.New(driver, "")); err != nil {
		t.Fatalf("Failed to switch: %v", err)
	}

	events := collect(t, fast, func(ev telemetry.Event) bool {
		return ev.Type == telemetry.EventTelemetry && ev.Telemetry.Altitude == n
	})
	if got := len(samples(events)); got != n {
		t.Errorf("Fast subscriber expected %d samples, got %d", n, got)
	}

	if slow.Dropped() == 0 {
		t.Error("Expected events dropped for the slow subscriber")
	}
	if fast.Dropped() != 0 {
		t.Errorf("Fast subscriber dropped %d events", fast.Dropped())
	}
	if h.Stats().Dropped != slow.Dropped() {
		t.Errorf("Hub dropped %d, subscriber dropped %d", h.Stats().Dropped, slow.Dropped())
	}
}

func TestHub_SwitchIsExclusive(t *testing.T) {
	h := newTestHub(t, nil)
	sub := subscribe(t, h, WithBuffer(4096))

	if err := h.SwitchTo(source.New(endlessDriver{}, "first")); err != nil {
		t.Fatalf("Failed to switch: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := h.SwitchTo(source.New(&scriptDriver{}, "second")); err != nil {
		t.Fatalf("Failed to switch: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	h.Stop()

	events := collect(t, sub, isStatus(telemetry.StatusSystem, "Disconnected from second"))

	var switched bool
	for i, ev := range events {
		if ev.SessionID == 2 {
			switched = true
		}
		if switched && ev.SessionID == 1 {
			t.Fatalf("Event %d from the first session after the switch", i)
		}
	}

	if n := countStatuses(events, isStatus(telemetry.StatusSystem, "Disconnected from first")); n != 1 {
		t.Errorf("Expected one disconnect status for the first session, got %d", n)
	}

	h.Stop() // idle stop publishes nothing
	select {
	case ev := <-sub.Events():
		t.Errorf("Unexpected event after idle stop: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_LaunchLatch(t *testing.T) {
	h := newTestHub(t, nil)
	sub := subscribe(t, h)

	driver := &scriptDriver{
		samples: []telemetry.Sample{
			{Altitude: 0},
			{Altitude: 1, LaunchState: true},
			{Altitude: 2, LaunchState: false},
			{Altitude: 3, LaunchState: true},
		},
		complete: true,
	}
	if err := h.SwitchTo(source.New(driver, "")); err != nil {
		t.Fatalf("Failed to switch: %v", err)
	}

	events := collect(t, sub, func(ev telemetry.Event) bool {
		return ev.Type == telemetry.EventTelemetry && ev.Telemetry.Altitude == 3
	})

	got := samples(events)
	if got[0].LaunchState || got[0].FlightElapsedSeconds != 0 {
		t.Errorf("Expected pre-launch sample, got %+v", got[0])
	}
	for _, s := range got[1:] {
		if !s.LaunchState {
			t.Errorf("Launch latch reverted at altitude %g", s.Altitude)
		}
	}
	if got[1].FlightElapsedSeconds <= 0 || got[2].FlightElapsedSeconds <= got[1].FlightElapsedSeconds {
		t.Errorf("Flight clock not advancing: %g, %g", got[1].FlightElapsedSeconds, got[2].FlightElapsedSeconds)
	}

	if n := countStatuses(events, isStatus(telemetry.StatusSuccess, "Launch detected")); n != 1 {
		t.Errorf("Expected one launch status, got %d", n)
	}
}

func TestHub_EjectionEvaluatedOnce(t *testing.T) {
	h := newTestHub(t, nil)
	sub := subscribe(t, h)

	tilted := telemetry.Attitude{Roll: 80}
	driver := &scriptDriver{
		samples: []telemetry.Sample{
			{Altitude: 10, LaunchState: true},
			{Altitude: 20, LaunchState: true, Attitude: tilted},
			{Altitude: 30, LaunchState: true, Attitude: tilted},
			{Altitude: 40, LaunchState: true},
		},
		complete: true,
	}
	if err := h.SwitchTo(source.New(driver, "")); err != nil {
		t.Fatalf("Failed to switch: %v", err)
	}

	events := collect(t, sub, func(ev telemetry.Event) bool {
		return ev.Type == telemetry.EventTelemetry && ev.Telemetry.Altitude == 40
	})

	got := samples(events)
	if got[0].EjectionState != telemetry.EjectionSafe {
		t.Errorf("Expected safe before tilt, got %s", got[0].EjectionState)
	}
	for _, s := range got[1:] {
		if s.EjectionState != telemetry.EjectionAttitude {
			t.Errorf("Expected latched attitude ejection at altitude %g, got %s", s.Altitude, s.EjectionState)
		}
	}

	if n := countStatuses(events, isStatus(telemetry.StatusSuccess, "Ejection triggered: attitude")); n != 1 {
		t.Errorf("Expected one ejection status, got %d", n)
	}
}

func TestHub_EjectionReportedBySource(t *testing.T) {
	h := newTestHub(t, func(c *Config) { c.EvaluateExternal = false })
	sub := subscribe(t, h)

	driver := &scriptDriver{
		samples: []telemetry.Sample{
			{Altitude: 10, LaunchState: true, Attitude: telemetry.Attitude{Roll: 80}},
			{Altitude: 20, LaunchState: true, EjectionState: telemetry.EjectionAltitude},
			{Altitude: 30, LaunchState: true, EjectionState: telemetry.EjectionTime},
		},
		complete: true,
	}
	if err := h.SwitchTo(source.New(driver, "")); err != nil {
		t.Fatalf("Failed to switch: %v", err)
	}

	events := collect(t, sub, func(ev telemetry.Event) bool {
		return ev.Type == telemetry.EventTelemetry && ev.Telemetry.Altitude == 30
	})

	got := samples(events)
	expected := []telemetry.EjectionState{telemetry.EjectionSafe, telemetry.EjectionAltitude, telemetry.EjectionAltitude}
	for i, s := range got {
		if s.EjectionState != expected[i] {
			t.Errorf("Sample %d: expected %s, got %s", i, expected[i], s.EjectionState)
		}
	}
}

func TestHub_SourceError(t *testing.T) {
	h := newTestHub(t, nil)
	sub := subscribe(t, h)

	driver := &scriptDriver{err: source.NewSourceError("CSV_REPLAY", source.ErrNoLaunchRow)}
	if err := h.SwitchTo(source.New(driver, "")); err != nil {
		t.Fatalf("Failed to switch: %v", err)
	}

	events := collect(t, sub, isStatus(telemetry.StatusError, ""))
	last := statuses(events)[len(statuses(events))-1]
	if !strings.Contains(last.Message, source.ErrNoLaunchRow.Error()) {
		t.Errorf("Expected launch row error, got %q", last.Message)
	}

	waitIdle(t, h)

	h.Stop()
	select {
	case ev := <-sub.Events():
		t.Errorf("Unexpected event after the session failed: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_CompletionLands(t *testing.T) {
	h := newTestHub(t, nil)

	driver := &scriptDriver{
		samples: []telemetry.Sample{
			{Altitude: 10, LaunchState: true},
			{Altitude: 5, LaunchState: true, EjectionState: telemetry.EjectionAltitude},
			{Altitude: 0, LaunchState: true, EjectionState: telemetry.EjectionAltitude},
		},
		complete: true,
	}
	if err := h.SwitchTo(source.New(driver, "")); err != nil {
		t.Fatalf("Failed to switch: %v", err)
	}

	waitIdle(t, h)

	snap := h.Snapshot()
	if snap.Running {
		t.Error("Expected ended session")
	}
	if snap.Phase != "landed" {
		t.Errorf("Expected landed phase, got %q", snap.Phase)
	}
	if snap.EjectionState != telemetry.EjectionAltitude || !snap.Launched {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
	if snap.Last == nil || snap.Last.Altitude != 0 {
		t.Errorf("Expected last sample at 0m, got %+v", snap.Last)
	}
}

func TestHub_StopOnLastUnsubscribe(t *testing.T) {
	h := newTestHub(t, func(c *Config) { c.StopOnLastUnsubscribe = true })

	recorder := subscribe(t, h, Internal(), WithBuffer(4096))
	viewer := subscribe(t, h)

	if err := h.SwitchTo(source.New(endlessDriver{}, "")); err != nil {
		t.Fatalf("Failed to switch: %v", err)
	}

	viewer.Close()
	viewer.Close()

	if h.Stats().Running {
		t.Error("Expected source stopped after the last viewer left")
	}

	events := collect(t, recorder, isStatus(telemetry.StatusSystem, "Disconnected"))
	if len(events) == 0 {
		t.Error("Expected events on the internal subscription")
	}
}

func TestHub_Close(t *testing.T) {
	h := newTestHub(t, nil)
	sub := subscribe(t, h)

	if err := h.SwitchTo(source.New(endlessDriver{}, "")); err != nil {
		t.Fatalf("Failed to switch: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Failed to close hub: %v", err)
	}

	collect(t, sub, func(telemetry.Event) bool { return false })

	if _, err := h.Subscribe(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := h.SwitchTo(source.New(endlessDriver{}, "")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	config := DefaultConfig()
	config.SubscriberBuffer = 0
	if err := config.Validate(); err == nil {
		t.Error("Expected error for zero subscriber buffer")
	}
}

func waitIdle(t *testing.T, h *Hub) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for h.Stats().Running {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the session to end")
		}
		time.Sleep(time.Millisecond)
	}
}

// timedDriver is a scriptDriver whose samples carry their own flight time.
type timedDriver struct {
	scriptDriver
}

func (d *timedDriver) ReportsFlightTime() bool {
	return true
}

func TestHub_PublishedSamplesUnchanged(t *testing.T) {
	h := newTestHub(t, func(c *Config) { c.Ejection.TimeCeiling = 300 * time.Millisecond })
	sub := subscribe(t, h)

	script := make([]telemetry.Sample, 8)
	for i := range script {
		script[i] = telemetry.Sample{Altitude: float64(10 * (i + 1)), LaunchState: true}
	}
	driver := &scriptDriver{samples: script, complete: true}
	if err := h.SwitchTo(source.New(driver, "")); err != nil {
		t.Fatalf("Failed to switch: %v", err)
	}

	var (
		received []*telemetry.Sample
		copies   []telemetry.Sample
	)
	for _, ev := range collect(t, sub, func(ev telemetry.Event) bool {
		return ev.Type == telemetry.EventTelemetry && ev.Telemetry.Altitude == 80
	}) {
		if ev.Type == telemetry.EventTelemetry {
			received = append(received, ev.Telemetry)
			copies = append(copies, *ev.Telemetry)
		}
	}

	waitIdle(t, h)

	if len(received) != len(script) {
		t.Fatalf("Expected %d samples, got %d", len(script), len(received))
	}
	for i := range received {
		if !reflect.DeepEqual(*received[i], copies[i]) {
			t.Errorf("Sample %d changed after delivery: %+v, received as %+v", i, *received[i], copies[i])
		}
	}

	last := copies[len(copies)-1]
	if last.EjectionState != telemetry.EjectionTime {
		t.Fatalf("Expected time ejection by the last sample, got %s", last.EjectionState)
	}
	if last.Phase != "descent" {
		t.Errorf("Expected the last sample delivered in descent, got %q", last.Phase)
	}

	snap := h.Snapshot()
	if snap.Phase != "landed" || snap.Last == nil || snap.Last.Phase != "landed" {
		t.Errorf("Expected a landed snapshot, got %+v", snap)
	}
}

func TestHub_SourceEjectionReason(t *testing.T) {
	h := newTestHub(t, nil)
	sub := subscribe(t, h)

	const reason = "tilt 75.00° exceeds 70°"
	driver := &scriptDriver{
		kind: source.KindSimulator,
		samples: []telemetry.Sample{
			{Altitude: 10, LaunchState: true},
			{Altitude: 20, LaunchState: true, EjectionState: telemetry.EjectionAttitude, EjectionReason: reason},
		},
		complete: true,
	}
	if err := h.SwitchTo(source.New(driver, "")); err != nil {
		t.Fatalf("Failed to switch: %v", err)
	}

	events := collect(t, sub, isStatus(telemetry.StatusSuccess, "Ejection triggered"))

	want := "Ejection triggered: attitude (" + reason + ")"
	if got := statuses(events)[len(statuses(events))-1].Message; got != want {
		t.Errorf("Got status %q, want %q", got, want)
	}
	for _, s := range samples(events) {
		if s.EjectionReason != "" {
			t.Errorf("Published sample carries the source reason: %+v", s)
		}
	}
	if snap := h.Snapshot(); snap.EjectionReason != reason {
		t.Errorf("Got snapshot reason %q, want %q", snap.EjectionReason, reason)
	}
}

func TestHub_SourceFlightTime(t *testing.T) {
	h := newTestHub(t, nil)
	sub := subscribe(t, h)

	driver := &timedDriver{scriptDriver{
		samples: []telemetry.Sample{
			{Altitude: 10, LaunchState: true, FlightElapsedSeconds: 0},
			{Altitude: 20, LaunchState: true, FlightElapsedSeconds: 1.5},
			{Altitude: 30, LaunchState: true, FlightElapsedSeconds: 12},
		},
	}}
	if err := h.SwitchTo(source.New(driver, "")); err != nil {
		t.Fatalf("Failed to switch: %v", err)
	}

	events := collect(t, sub, func(ev telemetry.Event) bool {
		return ev.Type == telemetry.EventTelemetry && ev.Telemetry.Altitude == 30
	})

	got := samples(events)
	expected := []struct {
		flight   float64
		ejection telemetry.EjectionState
	}{
		{0, telemetry.EjectionSafe},
		{1.5, telemetry.EjectionSafe},
		{12, telemetry.EjectionTime},
	}
	for i, want := range expected {
		if got[i].FlightElapsedSeconds != want.flight || got[i].EjectionState != want.ejection {
			t.Errorf("Sample %d: got flight time %g and %s, want %g and %s",
				i, got[i].FlightElapsedSeconds, got[i].EjectionState, want.flight, want.ejection)
		}
	}

	if snap := h.Snapshot(); snap.FlightElapsed != 12 {
		t.Errorf("Got snapshot flight time %g, want 12", snap.FlightElapsed)
	}
}
