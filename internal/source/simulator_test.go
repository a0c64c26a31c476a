package source

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/ground-control/internal/telemetry"
)

func fastSimulatorConfig() SimulatorConfig {
	config := DefaultSimulatorConfig()
	config.FastTick = time.Millisecond
	config.SlowTickMin = 2 * time.Millisecond
	config.SlowTickMax = 3 * time.Millisecond
	config.LaunchDelayMin = 5 * time.Millisecond
	config.LaunchDelayMax = 10 * time.Millisecond
	config.Ejection.TimeCeiling = 100 * time.Millisecond
	return config
}

func TestSimulator_Flight(t *testing.T) {
	sim, err := NewSimulator(fastSimulatorConfig(), WithRand(rand.New(rand.NewPCG(1, 2))))
	if err != nil {
		t.Fatalf("Failed to create simulator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sink := &recordingSink{}
	if err := sim.Run(ctx, sink); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("Simulation did not land before the deadline")
	}

	statuses := sink.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("Expected connected and landed statuses, got %v", statuses)
	}
	if statuses[0].Status != telemetry.StatusSuccess || !strings.Contains(statuses[0].Message, "launch in T-") {
		t.Errorf("Unexpected first status: %+v", statuses[0])
	}
	if statuses[1].Status != telemetry.StatusSuccess || !strings.HasPrefix(statuses[1].Message, "Landed") {
		t.Errorf("Unexpected last status: %+v", statuses[1])
	}

	samples := sink.Samples()
	if len(samples) == 0 {
		t.Fatal("Expected samples")
	}

	var (
		ejected bool
		lastAlt float64
	)
	for i, s := range samples {
		if !s.LaunchState && s.FlightElapsedSeconds != 0 {
			t.Fatalf("Sample %d: flight clock running before launch", i)
		}
		if !s.LaunchState && s.Altitude != 0 {
			t.Fatalf("Sample %d: altitude changed before launch", i)
		}
		if ejected && !s.EjectionState.Fired() {
			t.Fatalf("Sample %d: ejection state reverted to safe", i)
		}

		if i > 0 {
			if !ejected && s.Altitude < lastAlt {
				t.Fatalf("Sample %d: altitude decreased before ejection: %g -> %g", i, lastAlt, s.Altitude)
			}
			if ejected && samples[i-1].EjectionState.Fired() && s.Altitude > lastAlt {
				t.Fatalf("Sample %d: altitude increased after ejection: %g -> %g", i, lastAlt, s.Altitude)
			}
		}

		ejected = ejected || s.EjectionState.Fired()
		lastAlt = s.Altitude
	}

	last := samples[len(samples)-1]
	if !last.EjectionState.Fired() {
		t.Error("Expected ejection to have fired")
	}
	if last.EjectionReason == "" {
		t.Error("Expected the evaluator reason on samples after ejection")
	}
	if last.Altitude != 0 {
		t.Errorf("Expected final altitude 0, got %g", last.Altitude)
	}
}

func TestSimulator_CancelBeforeLaunch(t *testing.T) {
	config := fastSimulatorConfig()
	config.LaunchDelayMin = time.Hour
	config.LaunchDelayMax = time.Hour

	sim, err := NewSimulator(config)
	if err != nil {
		t.Fatalf("Failed to create simulator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	sink := &recordingSink{}
	if err := sim.Run(ctx, sink); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	for i, s := range sink.Samples() {
		if s.LaunchState || s.FlightElapsedSeconds != 0 {
			t.Fatalf("Sample %d: launched before the launch delay elapsed", i)
		}
	}
}

func TestSimulatorConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(c *SimulatorConfig)
	}{
		{"zero fast tick", func(c *SimulatorConfig) { c.FastTick = 0 }},
		{"inverted slow tick", func(c *SimulatorConfig) { c.SlowTickMax = c.SlowTickMin - 1 }},
		{"inverted launch delay", func(c *SimulatorConfig) { c.LaunchDelayMax = c.LaunchDelayMin - 1 }},
		{"zero ceiling", func(c *SimulatorConfig) { c.Ceiling = 0 }},
		{"invalid ejection", func(c *SimulatorConfig) { c.Ejection.HistorySize = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultSimulatorConfig()
			tc.modify(&config)
			if err := config.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	config := DefaultSimulatorConfig()
	if err := config.Validate(); err != nil {
		t.Errorf("Default config is invalid: %v", err)
	}
}
