package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/roman-kulish/ground-control/internal/telemetry"
)

// maxLineSize bounds one NDJSON record from the decoder.
const maxLineSize = 1 << 20

// Message is one decoded record of the bridge stream.
type Message struct {
	Type   telemetry.EventType
	Sample telemetry.Sample
	Status telemetry.Status
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
}

// DecodeMessage decodes one line of the bridge stream. Telemetry payloads
// are accepted in the canonical sample shape or in the decoder's flat legacy
// shape; a line without a type is read as a bare legacy payload.
func DecodeMessage(line []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Message{}, fmt.Errorf("invalid json: %w", err)
	}

	if _, ok := fields["type"]; !ok {
		s, err := decodeSample(line, fields)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: telemetry.EventTelemetry, Sample: s}, nil
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Message{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch telemetry.EventType(env.Type) {
	case telemetry.EventTelemetry:
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(env.Payload, &payload); err != nil || payload == nil {
			return Message{}, fmt.Errorf("telemetry record has no payload object")
		}
		s, err := decodeSample(env.Payload, payload)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: telemetry.EventTelemetry, Sample: s}, nil

	case telemetry.EventStatus:
		level := telemetry.StatusLevel(strings.ToLower(env.Status))
		if !level.Valid() {
			level = telemetry.StatusInfo
		}
		return Message{
			Type:   telemetry.EventStatus,
			Status: telemetry.Status{Status: level, Message: env.Message},
		}, nil

	default:
		return Message{}, fmt.Errorf("unknown record type %q", env.Type)
	}
}

func decodeSample(raw []byte, fields map[string]json.RawMessage) (telemetry.Sample, error) {
	if _, ok := fields["attitude"]; ok {
		var s telemetry.Sample
		if err := json.Unmarshal(raw, &s); err != nil {
			return telemetry.Sample{}, fmt.Errorf("invalid sample: %w", err)
		}
		if !s.EjectionState.Valid() {
			return telemetry.Sample{}, fmt.Errorf("invalid ejection state %d", s.EjectionState)
		}
		return s, nil
	}

	return decodeLegacySample(fields)
}

// Flat keys written by the serial decoder, lower-cased.
var legacyFields = map[string]func(*telemetry.Sample, float64){
	"flight_timestamp":  func(s *telemetry.Sample, v float64) { s.FlightElapsedSeconds = v },
	"connect_timestamp": func(s *telemetry.Sample, v float64) { s.ConnectElapsedSeconds = v },
	"roll":              func(s *telemetry.Sample, v float64) { s.Attitude.Roll = v },
	"pitch":             func(s *telemetry.Sample, v float64) { s.Attitude.Pitch = v },
	"yaw":               func(s *telemetry.Sample, v float64) { s.Attitude.Yaw = v },
	"p_alt":             func(s *telemetry.Sample, v float64) { s.PressureAltitude = v },
	"alt":               func(s *telemetry.Sample, v float64) { s.Altitude = v },
	"ax":                func(s *telemetry.Sample, v float64) { s.Acceleration.X = v },
	"ay":                func(s *telemetry.Sample, v float64) { s.Acceleration.Y = v },
	"az":                func(s *telemetry.Sample, v float64) { s.Acceleration.Z = v },
	"lat":               func(s *telemetry.Sample, v float64) { s.Position.Lat = v },
	"lon":               func(s *telemetry.Sample, v float64) { s.Position.Lon = v },
	"temp":              func(s *telemetry.Sample, v float64) { s.Environment.TemperatureC = v },
	"pressure":          func(s *telemetry.Sample, v float64) { s.Environment.PressureHPa = v },
	"vel_n":             func(s *telemetry.Sample, v float64) { s.Velocity.North = v },
	"vel_e":             func(s *telemetry.Sample, v float64) { s.Velocity.East = v },
	"vel_d":             func(s *telemetry.Sample, v float64) { s.Velocity.Down = v },
	"launch":            func(s *telemetry.Sample, v float64) { s.LaunchState = v != 0 },
}

func decodeLegacySample(fields map[string]json.RawMessage) (telemetry.Sample, error) {
	var (
		s     telemetry.Sample
		known int
	)

	for key, raw := range fields {
		key = strings.ToLower(key)

		if key == "ejection" {
			v, err := legacyNumber(raw)
			if err != nil {
				return telemetry.Sample{}, fmt.Errorf("field %s: %w", key, err)
			}
			state := telemetry.EjectionState(v)
			if !state.Valid() || float64(state) != v {
				return telemetry.Sample{}, fmt.Errorf("invalid ejection state %v", v)
			}
			s.EjectionState = state
			known++
			continue
		}

		set, ok := legacyFields[key]
		if !ok {
			continue // unknown keys are ignored
		}

		v, err := legacyNumber(raw)
		if err != nil {
			return telemetry.Sample{}, fmt.Errorf("field %s: %w", key, err)
		}
		set(&s, v)
		known++
	}

	if known == 0 {
		return telemetry.Sample{}, fmt.Errorf("record has no telemetry fields")
	}

	return s, nil
}

// legacyNumber accepts numbers, booleans, numeric strings and null (zero).
func legacyNumber(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)

	switch {
	case bytes.Equal(raw, []byte("null")):
		return 0, nil
	case bytes.Equal(raw, []byte("true")):
		return 1, nil
	case bytes.Equal(raw, []byte("false")):
		return 0, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.Float64()
	}

	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}

	return strconv.ParseFloat(strings.TrimSpace(str), 64)
}

// ReadStream splits r into newline-delimited records and forwards each one to
// sink. Records may arrive split across reads or coalesced in one read.
// Malformed records are logged and dropped; the stream continues.
func ReadStream(r io.Reader, sink Sink, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		msg, err := DecodeMessage(line)
		if err != nil {
			logger.Warn(fmt.Sprintf("error decoding record: %s", err.Error()), slog.String("line", string(line)))
			sink.Discard(NewParseError(string(line), err))
			continue
		}

		switch msg.Type {
		case telemetry.EventTelemetry:
			sink.Telemetry(msg.Sample)
		case telemetry.EventStatus:
			sink.Status(msg.Status)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("error reading stream: %w", err)
	}

	return nil
}
