package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roman-kulish/ground-control/internal/flight"
	"github.com/roman-kulish/ground-control/internal/source"
	"github.com/roman-kulish/ground-control/internal/telemetry"
)

// session is one activation of a source. It implements source.Sink and
// applies the launch latch, the flight clock, ejection and phase tracking to
// every raw sample before publishing it.
//
// All publishing happens under mu, so once kill returns nothing from this
// session reaches subscribers.
type session struct {
	id  uint64
	src *source.Source
	out *broadcaster
	cfg Config

	mu        sync.Mutex
	live      bool
	clock     *flight.Clock
	launch    flight.Latch[bool]
	evaluator *flight.Evaluator
	phases    *flight.PhaseTracker
	last      *telemetry.Sample

	discarded atomic.Uint64
	onDiscard func()

	logger *slog.Logger
}

func newSession(id uint64, src *source.Source, out *broadcaster, cfg Config, logger *slog.Logger) (*session, error) {
	evaluator, err := flight.NewEvaluator(cfg.Ejection)
	if err != nil {
		return nil, err
	}

	s := session{
		id:        id,
		src:       src,
		out:       out,
		cfg:       cfg,
		live:      true,
		clock:     flight.NewClock(cfg.Now),
		evaluator: evaluator,
		phases:    flight.NewPhaseTracker(cfg.BurnTime),
		logger:    logger.With(slog.Uint64("sessionID", id), slog.String("source", src.Kind().String())),
	}
	s.clock.OnConnect()
	s.phases.Connect()

	return &s, nil
}

func (s *session) Telemetry(raw telemetry.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live {
		return
	}

	sample := raw
	sample.EjectionReason = ""

	if raw.LaunchState && s.launch.Set(true) {
		s.clock.OnLaunch()
		s.logger.Info("launch detected")
		s.publishStatus(telemetry.Success("Launch detected"))
	}

	launched := s.launch.Value()
	sample.LaunchState = launched
	sample.ConnectElapsedSeconds = s.clock.ElapsedConnect()
	sample.FlightElapsedSeconds = s.clock.ElapsedFlight()
	if launched && s.src.ReportsFlightTime() {
		sample.FlightElapsedSeconds = raw.FlightElapsedSeconds
	}

	fired := false
	switch {
	case raw.EjectionState.Fired():
		fired = s.evaluator.Force(raw.EjectionState, raw.EjectionReason)
	case launched && s.cfg.EvaluateExternal && !s.src.EvaluatesEjection():
		before := s.evaluator.State()
		fired = s.evaluator.Evaluate(sample).Fired() && !before.Fired()
	}
	sample.EjectionState = s.evaluator.State()

	sample.Phase = s.phases.Observe(launched, sample.EjectionState.Fired(), sample.FlightElapsedSeconds).String()

	// Published samples are shared with subscribers and never written again.
	last := sample
	s.last = &last

	ev := s.event(telemetry.EventTelemetry)
	ev.Telemetry = &sample
	s.out.publish(ev)

	if fired {
		s.logger.Info("ejection triggered",
			slog.String("cause", sample.EjectionState.String()),
			slog.String("reason", s.evaluator.Reason()))
		s.publishStatus(telemetry.Success("Ejection triggered: %s (%s)", sample.EjectionState, s.evaluator.Reason()))
	}
}

func (s *session) Status(st telemetry.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live {
		return
	}

	s.publishStatus(st)
}

func (s *session) Discard(err error) {
	s.discarded.Add(1)
	if s.onDiscard != nil {
		s.onDiscard()
	}
	s.logger.Debug("record discarded", slog.String("error", err.Error()))
}

// end publishes a final status, marks the phase as landed when the flight
// completed, and silences the session. It reports false if the session was
// already dead.
func (s *session) end(final *telemetry.Status, completed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live {
		return false
	}

	if completed && s.phases.Land() && s.last != nil {
		s.last.Phase = s.phases.Phase().String()
	}
	if final != nil {
		s.publishStatus(*final)
	}
	s.live = false

	return true
}

func (s *session) publishStatus(st telemetry.Status) {
	ev := s.event(telemetry.EventStatus)
	ev.Status = &st
	s.out.publish(ev)
}

func (s *session) event(typ telemetry.EventType) telemetry.Event {
	return telemetry.Event{
		Type:        typ,
		SessionID:   s.id,
		Source:      s.src.Kind().String(),
		Description: s.src.Description(),
	}
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID:      s.id,
		Source:         s.src.Kind().String(),
		Description:    s.src.Description(),
		Running:        s.live,
		Launched:       s.launch.Value(),
		Phase:          s.phases.Phase().String(),
		EjectionState:  s.evaluator.State(),
		EjectionReason: s.evaluator.Reason(),
		FlightElapsed:  s.clock.ElapsedFlight(),
		Discarded:      s.discarded.Load(),
	}
	if s.last != nil {
		last := *s.last
		snap.Last = &last
		if s.src.ReportsFlightTime() {
			snap.FlightElapsed = last.FlightElapsedSeconds
		}
	}

	return snap
}
