package flight

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roman-kulish/ground-control/internal/telemetry"
)

const (
	DefaultTiltLimit    = 70.0            // degrees
	DefaultAltitudeDrop = 3.0             // meters below the best rolling average
	DefaultTimeCeiling  = 9 * time.Second // short-burn test profile
)

// EjectionConfig holds the evaluator thresholds.
type EjectionConfig struct {
	TiltLimit    float64       // Tilt magnitude, in degrees, above which attitude ejection fires
	AltitudeDrop float64       // Meters the rolling mean must fall below its maximum to confirm apogee
	HistorySize  int           // Rolling altitude buffer capacity
	TimeCeiling  time.Duration // Flight time after which time ejection fires; 0 disables it
}

// DefaultEjectionConfig returns the thresholds used by the flight computer
// test profiles.
func DefaultEjectionConfig() EjectionConfig {
	return EjectionConfig{
		TiltLimit:    DefaultTiltLimit,
		AltitudeDrop: DefaultAltitudeDrop,
		HistorySize:  DefaultHistorySize,
		TimeCeiling:  DefaultTimeCeiling,
	}
}

func (c EjectionConfig) Validate() error {
	if c.TiltLimit <= 0 || c.TiltLimit > 180 {
		return fmt.Errorf("flight.EjectionConfig: tilt limit must be within (0, 180]: %g given", c.TiltLimit)
	}
	if c.AltitudeDrop <= 0 {
		return fmt.Errorf("flight.EjectionConfig: altitude drop must be positive: %g given", c.AltitudeDrop)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("flight.EjectionConfig: history size must be positive: %d given", c.HistorySize)
	}
	if c.TimeCeiling < 0 {
		return errors.New("flight.EjectionConfig: time ceiling must not be negative")
	}
	return nil
}

// Tilt returns the planar tilt magnitude sqrt(roll² + pitch²) used as an
// attitude-deviation proxy.
func Tilt(a telemetry.Attitude) float64 {
	return math.Hypot(a.Roll, a.Pitch)
}

// Evaluator decides whether and why the recovery system should fire.
//
// Conditions are checked in priority order (attitude, altitude, time) and
// the first one satisfied is latched. Once latched, Evaluate returns the
// latched state without checking thresholds again. An Evaluator is owned by
// one session and is not safe for concurrent use.
type Evaluator struct {
	config  EjectionConfig
	history *AltitudeHistory

	maxAvgAltitude float64
	haveMaxAvg     bool

	state  Latch[telemetry.EjectionState]
	reason string
}

// NewEvaluator creates an evaluator with the given thresholds.
func NewEvaluator(config EjectionConfig) (*Evaluator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	history, err := NewAltitudeHistory(config.HistorySize)
	if err != nil {
		return nil, err
	}
	return &Evaluator{config: config, history: history}, nil
}

// Evaluate pushes the sample altitude into the rolling history and returns
// the ejection state for the sample.
func (e *Evaluator) Evaluate(s telemetry.Sample) telemetry.EjectionState {
	e.history.Push(s.Altitude)

	if e.state.IsSet() {
		return e.state.Value()
	}

	if tilt := Tilt(s.Attitude); s.FlightElapsedSeconds > 0 && tilt > e.config.TiltLimit {
		e.latch(telemetry.EjectionAttitude, fmt.Sprintf("tilt %.2f° exceeds %.0f°", tilt, e.config.TiltLimit))
		return e.state.Value()
	}

	if e.history.Full() {
		avg := e.history.Mean()
		if !e.haveMaxAvg || avg > e.maxAvgAltitude {
			e.maxAvgAltitude = avg
			e.haveMaxAvg = true
		}
		if e.maxAvgAltitude-avg > e.config.AltitudeDrop {
			e.latch(telemetry.EjectionAltitude, fmt.Sprintf("average altitude %.2fm is more than %.0fm below peak %.2fm",
				avg, e.config.AltitudeDrop, e.maxAvgAltitude))
			return e.state.Value()
		}
	}

	if ceiling := e.config.TimeCeiling.Seconds(); ceiling > 0 && s.FlightElapsedSeconds > ceiling {
		e.latch(telemetry.EjectionTime, fmt.Sprintf("flight time %.2fs exceeds %.0fs", s.FlightElapsedSeconds, ceiling))
		return e.state.Value()
	}

	return telemetry.EjectionSafe
}

// Force latches a cause reported by the source itself, e.g. the flight
// computer's own chute flag, with the reason the source gave. It reports
// whether the state changed.
func (e *Evaluator) Force(state telemetry.EjectionState, reason string) bool {
	if !state.Valid() {
		return false
	}
	if reason == "" {
		reason = "reported by source"
	}
	return e.latch(state, reason)
}

func (e *Evaluator) latch(state telemetry.EjectionState, reason string) bool {
	if !e.state.Set(state) {
		return false
	}
	e.reason = reason
	return true
}

// State returns the latched state, EjectionSafe if none.
func (e *Evaluator) State() telemetry.EjectionState {
	return e.state.Value()
}

// Reason describes why the latched state fired.
func (e *Evaluator) Reason() string {
	return e.reason
}

// MaxAverageAltitude returns the highest rolling-average altitude seen so far.
func (e *Evaluator) MaxAverageAltitude() float64 {
	return e.maxAvgAltitude
}

// History exposes the rolling altitude buffer.
func (e *Evaluator) History() *AltitudeHistory {
	return e.history
}

// Reset clears the latch and the rolling history for a new session.
func (e *Evaluator) Reset() {
	e.history.Reset()
	e.maxAvgAltitude = 0
	e.haveMaxAvg = false
	e.state.Reset()
	e.reason = ""
}
