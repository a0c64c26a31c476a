package source

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/ground-control/internal/telemetry"
)

// DefaultSkipLines is the number of preamble lines the flight computer writes
// before the CSV header.
const DefaultSkipLines = 4

// LogHeader is the column layout of a recorded flight log, in the order the
// flight computer writes it.
var LogHeader = []string{
	"TimeStamp", "Launch", "Chute",
	"Roll", "Pitch", "Yaw",
	"Alt", "P_alt",
	"ax", "ay", "az",
	"Lat", "Lon",
	"VN", "VE", "VD",
	"T", "P",
}

// Column aliases, matched case-insensitively against the header row.
var logColumns = map[string][]string{
	"timestamp": {"timestamp", "time_stamp", "time"},
	"launch":    {"launch"},
	"chute":     {"chute", "ejection"},
	"roll":      {"roll"},
	"pitch":     {"pitch"},
	"yaw":       {"yaw"},
	"alt":       {"alt", "altitude"},
	"p_alt":     {"p_alt", "pressure_altitude"},
	"ax":        {"ax"},
	"ay":        {"ay"},
	"az":        {"az"},
	"lat":       {"lat"},
	"lon":       {"lon", "lng"},
	"vn":        {"vn", "vel_n"},
	"ve":        {"ve", "vel_e"},
	"vd":        {"vd", "vel_d"},
	"t":         {"t", "temp", "temperature"},
	"p":         {"p", "pressure"},
}

// LogRow is one parsed row of a flight log.
type LogRow struct {
	Line      int           // 1-based line number in the file
	Timestamp time.Duration // Flight computer clock
	Sample    telemetry.Sample
}

// Log is a flight log loaded into memory.
type Log struct {
	Rows        []LogRow
	LaunchIndex int     // Index of the first row with the launch flag set
	Discarded   []error // Rows dropped as unparseable
	Size        int64   // File size in bytes
}

// LoadLog reads the flight log at path, skipping skipLines preamble lines.
func LoadLog(path string, skipLines int) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	log, err := ReadLog(f, skipLines)
	if err != nil {
		return nil, err
	}

	if fi, err := f.Stat(); err == nil {
		log.Size = fi.Size()
	}

	return log, nil
}

// ReadLog parses a flight log from r.
func ReadLog(r io.Reader, skipLines int) (*Log, error) {
	br := bufio.NewReader(r)

	for i := 0; i < skipLines; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrNoLaunchRow
			}
			return nil, fmt.Errorf("failed to read preamble: %w", err)
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoLaunchRow
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := indexColumns(header)
	if _, ok := columns["timestamp"]; !ok {
		return nil, fmt.Errorf("log header has no timestamp column")
	}

	log := Log{LaunchIndex: -1}
	lineOffset := skipLines

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line := strconv.Itoa(perr.Line + lineOffset)
				log.Discarded = append(log.Discarded, NewParseError(line, err))
				continue
			}
			return nil, fmt.Errorf("failed to read log: %w", err)
		}

		line, _ := cr.FieldPos(0)
		line += lineOffset

		row, err := parseLogRecord(record, columns)
		if err != nil {
			log.Discarded = append(log.Discarded, NewParseError(strings.Join(record, ","), err))
			continue
		}
		row.Line = line

		if log.LaunchIndex < 0 && row.Sample.LaunchState {
			log.LaunchIndex = len(log.Rows)
		}
		log.Rows = append(log.Rows, row)
	}

	if log.LaunchIndex < 0 {
		return nil, ErrNoLaunchRow
	}

	return &log, nil
}

func indexColumns(header []string) map[string]int {
	byName := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, ok := byName[name]; !ok {
			byName[name] = i
		}
	}

	columns := make(map[string]int, len(logColumns))
	for key, aliases := range logColumns {
		for _, alias := range aliases {
			if i, ok := byName[alias]; ok {
				columns[key] = i
				break
			}
		}
	}

	return columns
}

func parseLogRecord(record []string, columns map[string]int) (LogRow, error) {
	field := func(key string) string {
		i, ok := columns[key]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	// Missing or malformed sensor values read as zero.
	num := func(key string) float64 {
		v, err := strconv.ParseFloat(field(key), 64)
		if err != nil {
			return 0
		}
		return v
	}

	ts, err := strconv.ParseFloat(field("timestamp"), 64)
	if err != nil {
		return LogRow{}, fmt.Errorf("invalid timestamp %q", field("timestamp"))
	}

	chute := telemetry.EjectionState(num("chute"))
	if !chute.Valid() {
		return LogRow{}, fmt.Errorf("invalid chute state %q", field("chute"))
	}

	return LogRow{
		Timestamp: time.Duration(ts * float64(time.Millisecond)),
		Sample: telemetry.Sample{
			Attitude:         telemetry.Attitude{Roll: num("roll"), Pitch: num("pitch"), Yaw: num("yaw")},
			PressureAltitude: num("p_alt"),
			Altitude:         num("alt"),
			Acceleration:     telemetry.Vector3{X: num("ax"), Y: num("ay"), Z: num("az")},
			Position:         telemetry.Position{Lat: num("lat"), Lon: num("lon")},
			Velocity:         telemetry.Velocity{North: num("vn"), East: num("ve"), Down: num("vd")},
			Environment:      telemetry.Environment{TemperatureC: num("t"), PressureHPa: num("p")},
			LaunchState:      num("launch") == 1,
			EjectionState:    chute,
		},
	}, nil
}

// ReplayConfig points the replay at a recorded flight log.
type ReplayConfig struct {
	File      string
	SkipLines int
}

func (c *ReplayConfig) Validate() error {
	if c.File == "" {
		return NewConfigError("file", "replay log file is required")
	}
	if c.SkipLines < 0 {
		return NewConfigError("skipLines", fmt.Sprintf("must not be negative: %d given", c.SkipLines))
	}
	return nil
}

// WithReplayLogger sets the logger for the replay
func WithReplayLogger(logger *slog.Logger) func(*Replay) {
	return func(r *Replay) {
		r.logger = logger
	}
}

// Replay re-emits a recorded flight starting from its launch row, pacing
// each row by the timestamp delta to the next one.
type Replay struct {
	config ReplayConfig
	logger *slog.Logger
}

// NewReplay creates a replay driver. The log is loaded on every Run so that
// each session sees the current file.
func NewReplay(config ReplayConfig, options ...func(*Replay)) (*Replay, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	r := Replay{
		config: config,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(&r)
	}

	return &r, nil
}

func (r *Replay) Kind() Kind {
	return KindReplay
}

// ReportsFlightTime is true: flight time comes from the log timestamps, so
// time ejection is reproducible for a given log.
func (r *Replay) ReportsFlightTime() bool {
	return true
}

func (r *Replay) Run(ctx context.Context, sink Sink) error {
	log, err := LoadLog(r.config.File, r.config.SkipLines)
	if err != nil {
		return NewSourceError(KindReplay.String(), err)
	}

	for _, err := range log.Discarded {
		r.logger.Warn("dropping unparseable log row", slog.String("error", err.Error()))
		sink.Discard(err)
	}

	rows := log.Rows[log.LaunchIndex:]
	sink.Status(telemetry.Success("Replaying %s (%s), %s rows from launch at line %d",
		r.config.File, humanize.Bytes(uint64(log.Size)), humanize.Comma(int64(len(rows))), rows[0].Line))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for i := range rows {
		if ctx.Err() != nil {
			return nil
		}

		smp := rows[i].Sample
		smp.FlightElapsedSeconds = max(0, (rows[i].Timestamp - rows[0].Timestamp).Seconds())
		sink.Telemetry(smp)

		if i+1 == len(rows) {
			break
		}

		delay := rows[i+1].Timestamp - rows[i].Timestamp
		if delay <= 0 {
			continue
		}

		timer.Reset(delay)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}

	sink.Status(telemetry.Success("Replay finished"))

	return nil
}
