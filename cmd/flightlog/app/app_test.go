package app

import (
	"context"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/ground-control/internal/source"
	"github.com/roman-kulish/ground-control/internal/storage"
	"github.com/roman-kulish/ground-control/internal/telemetry"
)

// flightSamples returns a short flight: two pad samples, a climb to 120 m
// and a descent with the chute out.
func flightSamples() []telemetry.Sample {
	var samples []telemetry.Sample
	for i := 0; i < 12; i++ {
		t := float64(i) * 0.5
		launched := i >= 2
		flight := 0.0
		if launched {
			flight = t - 1
		}

		altitude := 0.0
		if launched {
			altitude = math.Round(120 - 7.5*math.Pow(flight-4, 2))
		}

		ejection := telemetry.EjectionSafe
		if i >= 10 {
			ejection = telemetry.EjectionAltitude
		}

		samples = append(samples, telemetry.Sample{
			ConnectElapsedSeconds: t,
			FlightElapsedSeconds:  flight,
			Attitude:              telemetry.Attitude{Roll: -12.5, Pitch: 80.25, Yaw: 271},
			PressureAltitude:      altitude - 1.5,
			Altitude:              altitude,
			Acceleration:          telemetry.Vector3{X: 0.1, Y: -0.2, Z: 9.81},
			Position:              telemetry.Position{Lat: 34.609169, Lon: 127.205438},
			Velocity:              telemetry.Velocity{North: 1, East: 2, Down: -3},
			Environment:           telemetry.Environment{TemperatureC: 21.5, PressureHPa: 1001.25},
			LaunchState:           launched,
			EjectionState:         ejection,
		})
	}
	return samples
}

// newTestDB records flightSamples as flight 1 and returns the database path.
func newTestDB(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flights.sqlite")
	store := storage.NewSqliteStore(path)
	defer store.Close()

	id, err := store.CreateFlight(ctx, 3, "SIMULATOR", "simulated flight")
	if err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}

	start := time.Now().UTC()
	var records []storage.TelemetryRecord
	for _, s := range flightSamples() {
		records = append(records, storage.TelemetryRecord{
			ReceivedAt: start.Add(time.Duration(s.ConnectElapsedSeconds * float64(time.Second))),
			Sample:     s,
		})
	}
	if err = store.StoreTelemetry(ctx, id, records); err != nil {
		t.Fatalf("Failed to store telemetry: %v", err)
	}
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger
}

func TestRun_CSV(t *testing.T) {
	config := NewConfig()
	config.DBPath = newTestDB(t)
	config.FlightID = 1
	config.OutputFile = filepath.Join(t.TempDir(), "flight.csv")
	config.TimeZone = time.UTC

	if err := Run(context.Background(), config, discardLogger()); err != nil {
		t.Fatalf("Failed to export flight: %v", err)
	}

	log, err := source.LoadLog(config.OutputFile, source.DefaultSkipLines)
	if err != nil {
		t.Fatalf("Failed to load exported log: %v", err)
	}
	if len(log.Rows) != 12 || log.LaunchIndex != 2 {
		t.Errorf("Got %d rows launch index %d, want 12 and 2", len(log.Rows), log.LaunchIndex)
	}
}

func TestRun_PNG(t *testing.T) {
	config := NewConfig()
	config.DBPath = newTestDB(t)
	config.FlightID = 1
	config.Format = FormatPNG
	config.Width = 640
	config.Height = 320
	config.LaunchedOnly = true
	config.OutputFile = filepath.Join(t.TempDir(), "flight.png")

	if err := Run(context.Background(), config, discardLogger()); err != nil {
		t.Fatalf("Failed to render flight: %v", err)
	}

	f, err := os.Open(config.OutputFile)
	if err != nil {
		t.Fatalf("Failed to open image: %v", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode image: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 640 || b.Dy() != 320 {
		t.Errorf("Got image size %dx%d, want 640x320", b.Dx(), b.Dy())
	}
}

func TestRun_Errors(t *testing.T) {
	dbPath := newTestDB(t)

	tests := []struct {
		name   string
		dbPath string
		flight int64
		want   string
	}{
		{name: "missing database", dbPath: filepath.Join(t.TempDir(), "missing.sqlite"), flight: 1, want: "does not exist"},
		{name: "unknown flight", dbPath: dbPath, flight: 42, want: "flight 42 not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewConfig()
			config.DBPath = tt.dbPath
			config.FlightID = tt.flight
			config.OutputFile = filepath.Join(t.TempDir(), "out.csv")

			err := Run(context.Background(), config, discardLogger())
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Got error %q, want it to mention %q", err, tt.want)
			}
		})
	}
}
