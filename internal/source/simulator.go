package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/roman-kulish/ground-control/internal/flight"
	"github.com/roman-kulish/ground-control/internal/telemetry"
)

const (
	highGProbability = 0.002 // per fast tick
	highGMagnitude   = 200.0 // degrees, peak-to-peak
	attitudeStep     = 0.5   // degrees, peak-to-peak random walk per fast tick
	yawRate          = 0.1   // degrees per fast tick
	flightDamping    = 0.99
	padDamping       = 0.95
	gpsJitter        = 0.00005 // degrees, peak-to-peak per slow tick

	seaLevelPressure    = 1013.25 // hPa
	groundTemperature   = 25.0    // °C
	metersPerHPa        = 8.3
	metersPerDegreeTemp = 150.0
)

// SimulatorConfig tunes the synthetic flight profile.
type SimulatorConfig struct {
	FastTick       time.Duration // Attitude update and emission period
	SlowTickMin    time.Duration // Lower bound of the randomized flight update period
	SlowTickMax    time.Duration // Upper bound of the randomized flight update period
	LaunchDelayMin time.Duration
	LaunchDelayMax time.Duration
	Ceiling        float64 // Meters above which the climb is pulled back
	Origin         telemetry.Position
	Ejection       flight.EjectionConfig
}

// DefaultSimulatorConfig returns the profile used by the dashboard demo.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		FastTick:       20 * time.Millisecond,
		SlowTickMin:    600 * time.Millisecond,
		SlowTickMax:    800 * time.Millisecond,
		LaunchDelayMin: 5 * time.Second,
		LaunchDelayMax: 10 * time.Second,
		Ceiling:        350,
		Origin:         telemetry.Position{Lat: 34.609169, Lon: 127.205438},
		Ejection:       flight.DefaultEjectionConfig(),
	}
}

func (c *SimulatorConfig) Validate() error {
	if c.FastTick <= 0 {
		return fmt.Errorf("source.SimulatorConfig: fast tick must be positive: %s given", c.FastTick)
	}
	if c.SlowTickMin <= 0 || c.SlowTickMax < c.SlowTickMin {
		return fmt.Errorf("source.SimulatorConfig: invalid slow tick range: %s-%s", c.SlowTickMin, c.SlowTickMax)
	}
	if c.LaunchDelayMin < 0 || c.LaunchDelayMax < c.LaunchDelayMin {
		return fmt.Errorf("source.SimulatorConfig: invalid launch delay range: %s-%s", c.LaunchDelayMin, c.LaunchDelayMax)
	}
	if c.Ceiling <= 0 {
		return fmt.Errorf("source.SimulatorConfig: ceiling must be positive: %g given", c.Ceiling)
	}
	return c.Ejection.Validate()
}

// WithRand sets the random source used by the simulator
func WithRand(r *rand.Rand) func(*Simulator) {
	return func(s *Simulator) {
		s.rand = r
	}
}

// WithSimulatorLogger sets the logger for the simulator
func WithSimulatorLogger(logger *slog.Logger) func(*Simulator) {
	return func(s *Simulator) {
		s.logger = logger
	}
}

// Simulator generates a synthetic flight: a biased random walk, not a
// physics model. Attitude is updated and emitted every fast tick; altitude,
// GPS, environment and ejection are updated on a slow tick re-armed with a
// random period after each firing.
type Simulator struct {
	config SimulatorConfig
	rand   *rand.Rand
	logger *slog.Logger
}

// NewSimulator creates a simulator driver
func NewSimulator(config SimulatorConfig, options ...func(*Simulator)) (*Simulator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := Simulator{
		config: config,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(&s)
	}
	if s.rand == nil {
		seed := uint64(time.Now().UnixNano())
		s.rand = rand.New(rand.NewPCG(seed, seed>>1))
	}

	return &s, nil
}

func (s *Simulator) Kind() Kind {
	return KindSimulator
}

// EvaluatesEjection is true: ejection runs on the slow tick because the
// simulated altitude depends on it.
func (s *Simulator) EvaluatesEjection() bool {
	return true
}

// Run drives the simulation from a single goroutine, so the fast and slow
// tick handlers never overlap.
func (s *Simulator) Run(ctx context.Context, sink Sink) error {
	st, err := s.newState()
	if err != nil {
		return err
	}

	launchDelay := s.uniform(s.config.LaunchDelayMin, s.config.LaunchDelayMax)
	sink.Status(telemetry.Success("Simulator connected, launch in T-%.2fs", launchDelay.Seconds()))

	fast := time.NewTicker(s.config.FastTick)
	defer fast.Stop()

	launch := time.NewTimer(launchDelay)
	defer launch.Stop()

	slow := time.NewTimer(s.config.SlowTickMax)
	slow.Stop()
	defer slow.Stop()

	var slowC <-chan time.Time // armed at launch

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-launch.C:
			st.clock.OnLaunch()
			st.sample.LaunchState = true
			s.logger.Info("simulated launch", slog.Duration("delay", launchDelay))

			slow.Reset(s.slowInterval())
			slowC = slow.C

		case <-fast.C:
			s.updateAttitude(st)
			sink.Telemetry(st.snapshot())

		case <-slowC:
			if landed := s.updateFlight(st); landed {
				sink.Telemetry(st.snapshot())
				sink.Status(telemetry.Success("Landed, flight time %.2fs", st.clock.ElapsedFlight()))
				return nil
			}
			slow.Reset(s.slowInterval())
		}
	}
}

// simState is the whole mutable state of one simulated session.
type simState struct {
	sample    telemetry.Sample
	yawDir    float64
	clock     *flight.Clock
	evaluator *flight.Evaluator
}

func (s *Simulator) newState() (*simState, error) {
	evaluator, err := flight.NewEvaluator(s.config.Ejection)
	if err != nil {
		return nil, err
	}

	st := simState{
		yawDir:    1,
		clock:     flight.NewClock(nil),
		evaluator: evaluator,
		sample: telemetry.Sample{
			Position: s.config.Origin,
			Environment: telemetry.Environment{
				TemperatureC: groundTemperature,
				PressureHPa:  seaLevelPressure,
			},
		},
	}
	st.clock.OnConnect()

	return &st, nil
}

func (st *simState) snapshot() telemetry.Sample {
	s := st.sample
	s.ConnectElapsedSeconds = st.clock.ElapsedConnect()
	s.FlightElapsedSeconds = st.clock.ElapsedFlight()
	return s
}

func (s *Simulator) updateAttitude(st *simState) {
	a := &st.sample.Attitude

	if !st.clock.Launched() {
		a.Roll *= padDamping
		a.Pitch *= padDamping
		return
	}

	a.Roll += (s.rand.Float64() - 0.5) * attitudeStep
	a.Pitch += (s.rand.Float64() - 0.5) * attitudeStep
	a.Yaw = math.Mod(a.Yaw+st.yawDir*yawRate+360, 360)

	if s.rand.Float64() < highGProbability {
		s.logger.Info("simulating high-G event")
		a.Roll += (s.rand.Float64() - 0.5) * highGMagnitude
		a.Pitch += (s.rand.Float64() - 0.5) * highGMagnitude
	}

	a.Roll *= flightDamping
	a.Pitch *= flightDamping

	// Pitching past vertical flips the heading direction.
	if a.Pitch > 90 {
		a.Pitch = 180 - a.Pitch
		st.yawDir = -st.yawDir
	} else if a.Pitch < -90 {
		a.Pitch = -180 - a.Pitch
		st.yawDir = -st.yawDir
	}
	a.Pitch = max(-90, min(90, a.Pitch))

	if a.Roll > 180 {
		a.Roll -= 360
	} else if a.Roll <= -180 {
		a.Roll += 360
	}
}

// updateFlight advances altitude and the derived sensors by one slow tick
// and reports whether the vehicle has landed.
func (s *Simulator) updateFlight(st *simState) bool {
	smp := &st.sample

	if smp.EjectionState.Fired() {
		smp.Velocity.Down = 20 + s.rand.Float64()*5
		smp.Altitude -= smp.Velocity.Down
	} else {
		smp.Altitude += s.rand.Float64()*5 + 25
	}

	if smp.Altitude > s.config.Ceiling {
		smp.Altitude -= s.rand.Float64()*5 + 5
	}

	if !smp.EjectionState.Fired() {
		smp.EjectionState = st.evaluator.Evaluate(st.snapshot())
		if smp.EjectionState.Fired() {
			smp.EjectionReason = st.evaluator.Reason()
			s.logger.Info("simulated ejection",
				slog.String("cause", smp.EjectionState.String()),
				slog.String("reason", st.evaluator.Reason()))
		}
	} else {
		st.evaluator.Evaluate(st.snapshot())
	}

	if smp.EjectionState.Fired() && smp.Altitude <= 0 {
		smp.Altitude = 0
		smp.PressureAltitude = 0
		smp.Velocity = telemetry.Velocity{}
		smp.Acceleration = telemetry.Vector3{}
		smp.Environment.TemperatureC = groundTemperature
		smp.Environment.PressureHPa = seaLevelPressure
		return true
	}

	alt := smp.Altitude
	smp.PressureAltitude = alt + (s.rand.Float64()-0.5)*2
	smp.Position.Lat += (s.rand.Float64() - 0.5) * gpsJitter
	smp.Position.Lon += (s.rand.Float64() - 0.5) * gpsJitter
	smp.Acceleration.X = s.rand.Float64() * 2
	smp.Acceleration.Y = s.rand.Float64() * 2
	if smp.EjectionState.Fired() {
		smp.Acceleration.Z = s.rand.Float64() * 2
	} else {
		smp.Acceleration.Z = s.rand.Float64()*20 + 5
		smp.Velocity.Down = -s.rand.Float64() * 20
	}
	smp.Velocity.North = s.rand.Float64()*5 - 2.5
	smp.Velocity.East = s.rand.Float64()*5 - 2.5
	smp.Environment.TemperatureC = groundTemperature - alt/metersPerDegreeTemp
	smp.Environment.PressureHPa = seaLevelPressure - alt/metersPerHPa

	return false
}

func (s *Simulator) slowInterval() time.Duration {
	return s.uniform(s.config.SlowTickMin, s.config.SlowTickMax)
}

func (s *Simulator) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.rand.Int64N(int64(hi-lo)+1))
}
