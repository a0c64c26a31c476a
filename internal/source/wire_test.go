package source

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/roman-kulish/ground-control/internal/telemetry"
)

func TestDecodeMessage(t *testing.T) {
	testCases := []struct {
		name     string
		line     string
		wantType telemetry.EventType
		check    func(t *testing.T, m Message)
	}{
		{
			name:     "legacy telemetry",
			line:     `{"type":"telemetry","payload":{"flight_timestamp":1.5,"Roll":10,"pitch":-5,"yaw":270,"P_alt":101,"Alt":100,"az":30,"lat":34.6,"lon":127.2,"temp":24,"pressure":1000,"vel_d":-12,"ejection":0,"launch":1}}`,
			wantType: telemetry.EventTelemetry,
			check: func(t *testing.T, m Message) {
				s := m.Sample
				if s.Attitude.Roll != 10 || s.Attitude.Pitch != -5 || s.Attitude.Yaw != 270 {
					t.Errorf("Unexpected attitude: %+v", s.Attitude)
				}
				if s.Altitude != 100 || s.PressureAltitude != 101 {
					t.Errorf("Unexpected altitudes: %g, %g", s.Altitude, s.PressureAltitude)
				}
				if !s.LaunchState || s.FlightElapsedSeconds != 1.5 || s.Velocity.Down != -12 {
					t.Errorf("Unexpected sample: %+v", s)
				}
			},
		},
		{
			name:     "canonical telemetry",
			line:     `{"type":"telemetry","payload":{"attitude":{"roll":1,"pitch":2,"yaw":3},"altitude":50,"launchState":true,"ejectionState":3}}`,
			wantType: telemetry.EventTelemetry,
			check: func(t *testing.T, m Message) {
				if m.Sample.Altitude != 50 || m.Sample.EjectionState != telemetry.EjectionTime || !m.Sample.LaunchState {
					t.Errorf("Unexpected sample: %+v", m.Sample)
				}
			},
		},
		{
			name:     "bare legacy payload",
			line:     `{"alt":"12.5","launch":true}`,
			wantType: telemetry.EventTelemetry,
			check: func(t *testing.T, m Message) {
				if m.Sample.Altitude != 12.5 || !m.Sample.LaunchState {
					t.Errorf("Unexpected sample: %+v", m.Sample)
				}
			},
		},
		{
			name:     "status",
			line:     `{"type":"status","status":"success","message":"Successfully connected to COM3"}`,
			wantType: telemetry.EventStatus,
			check: func(t *testing.T, m Message) {
				if m.Status.Status != telemetry.StatusSuccess || m.Status.Message != "Successfully connected to COM3" {
					t.Errorf("Unexpected status: %+v", m.Status)
				}
			},
		},
		{
			name:     "status with unknown level",
			line:     `{"type":"status","status":"debug","message":"x"}`,
			wantType: telemetry.EventStatus,
			check: func(t *testing.T, m Message) {
				if m.Status.Status != telemetry.StatusInfo {
					t.Errorf("Expected info level, got %s", m.Status.Status)
				}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := DecodeMessage([]byte(tc.line))
			if err != nil {
				t.Fatalf("Failed to decode: %v", err)
			}
			if m.Type != tc.wantType {
				t.Fatalf("Expected type %s, got %s", tc.wantType, m.Type)
			}
			tc.check(t, m)
		})
	}
}

func TestDecodeMessage_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		line string
	}{
		{"not json", `{"type":"telemetry",`},
		{"unknown type", `{"type":"command"}`},
		{"missing payload", `{"type":"telemetry"}`},
		{"invalid ejection", `{"type":"telemetry","payload":{"alt":1,"ejection":7}}`},
		{"non-numeric field", `{"type":"telemetry","payload":{"alt":"high"}}`},
		{"no known fields", `{"foo":1}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeMessage([]byte(tc.line)); err == nil {
				t.Error("Expected decode error")
			}
		})
	}
}

func TestReadStream_Framing(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"status","status":"info","message":"opening port"}`,
		`{"type":"telemetry","payload":{"alt":1}}`,
		`garbage`,
		``,
		`{"type":"telemetry","payload":{"alt":2}}`,
		`{"type":"telemetry","payload":{"alt":3}}`,
	}, "\n") + "\n"

	readers := map[string]func() io.Reader{
		"coalesced":    func() io.Reader { return strings.NewReader(stream) },
		"byte by byte": func() io.Reader { return iotest.OneByteReader(strings.NewReader(stream)) },
		"half reads":   func() io.Reader { return iotest.HalfReader(strings.NewReader(stream)) },
	}

	for name, reader := range readers {
		t.Run(name, func(t *testing.T) {
			sink := &recordingSink{}
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))

			if err := ReadStream(reader(), sink, logger); err != nil {
				t.Fatalf("ReadStream returned error: %v", err)
			}

			samples := sink.Samples()
			if len(samples) != 3 {
				t.Fatalf("Expected 3 samples, got %d", len(samples))
			}
			for i, s := range samples {
				if s.Altitude != float64(i+1) {
					t.Errorf("Sample %d: expected altitude %d, got %g", i, i+1, s.Altitude)
				}
			}
			if got := len(sink.Statuses()); got != 1 {
				t.Errorf("Expected 1 status, got %d", got)
			}
			if got := len(sink.Discards()); got != 1 {
				t.Errorf("Expected 1 discarded record, got %d", got)
			}
		})
	}
}
