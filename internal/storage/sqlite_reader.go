package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
)

// TelemetryReader provides an iterator-based interface for reading the
// samples of a recorded flight with optional filtering.
type TelemetryReader interface {
	// Flight returns metadata about the flight this reader is accessing.
	Flight() *Flight

	// Next advances the iterator and returns true if there is another sample
	// to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current sample in the iteration.
	// If called after Next() returns false, the behavior is undefined.
	Current() *TelemetryRecord

	// Error returns any error that occurred during iteration.
	// If Next() returns false, Error() should be checked to distinguish between
	// end of data and an error condition.
	Error() error

	// Close releases any resources associated with the reader.
	// After Close is called, the reader should not be used.
	Close() error
}

// ReaderOption configures a telemetry reader with filtering criteria.
type ReaderOption func(*SqliteTelemetryReader)

// WithFlightTimeRange keeps samples whose flight time, in seconds since
// launch, lies within [from, to].
func WithFlightTimeRange(from, to float64) ReaderOption {
	return func(r *SqliteTelemetryReader) {
		r.fromFlight = &from
		r.toFlight = &to
	}
}

// WithLaunchedOnly drops samples recorded before launch.
func WithLaunchedOnly() ReaderOption {
	return func(r *SqliteTelemetryReader) {
		r.launchedOnly = true
	}
}

func newSqliteTelemetryReader(ctx context.Context, db *sql.DB, flightID int64, opts ...ReaderOption) (*SqliteTelemetryReader, error) {
	tr := &SqliteTelemetryReader{
		db:       db,
		flightID: flightID,
	}
	for _, opt := range opts {
		opt(tr)
	}
	if err := tr.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return tr, nil
}

// SqliteTelemetryReader implements TelemetryReader for SQLite database backend.
type SqliteTelemetryReader struct {
	db *sql.DB

	flightID int64
	flight   *Flight

	fromFlight   *float64 // Optional start of flight time filter
	toFlight     *float64 // Optional end of flight time filter
	launchedOnly bool

	current *TelemetryRecord
	rows    *sql.Rows
	err     error
}

func (tr *SqliteTelemetryReader) init(ctx context.Context) error {
	if tr.db == nil {
		return errors.New("database connection required")
	}
	if tr.flightID <= 0 {
		return errors.New("flight ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading flight", fn: tr.loadFlight},
		{msg: "initializing filters", fn: tr.initFilters},
		{msg: "initializing query", fn: tr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (tr *SqliteTelemetryReader) loadFlight(ctx context.Context) (err error) {
	stmt, err := tr.db.PrepareContext(ctx, selectFlightSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var data flightData
	if err = scanFlight(stmt.QueryRowContext(ctx, tr.flightID), &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNoData
		}
		return fmt.Errorf("querying flight: %w", err)
	}

	tr.flight = toFlight(&data)
	return
}

func (tr *SqliteTelemetryReader) initFilters(context.Context) error {
	if tr.fromFlight == nil {
		from := math.Inf(-1)
		tr.fromFlight = &from
	}
	if tr.toFlight == nil {
		to := math.Inf(1)
		tr.toFlight = &to
	}
	if *tr.fromFlight > *tr.toFlight {
		return fmt.Errorf("flight time %g is after %g", *tr.fromFlight, *tr.toFlight)
	}
	return nil
}

func (tr *SqliteTelemetryReader) initQuery(ctx context.Context) (err error) {
	launched := 0
	if tr.launchedOnly {
		launched = 1
	}

	// SQLite has no infinity literal; clamp to the float range instead.
	from := max(*tr.fromFlight, -math.MaxFloat64)
	to := min(*tr.toFlight, math.MaxFloat64)

	stmt, err := tr.db.PrepareContext(ctx, selectTelemetrySQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if tr.rows, err = stmt.QueryContext(ctx, tr.flightID, from, to, launched); err != nil {
		return err
	}
	return nil
}

func (tr *SqliteTelemetryReader) Flight() *Flight {
	return tr.flight
}

func (tr *SqliteTelemetryReader) Next(ctx context.Context) bool {
	if tr.err != nil || tr.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		tr.err = ctx.Err()
		return false
	default:
	}

	if !tr.rows.Next() {
		tr.current = nil
		return false
	}

	var d telemetryData
	if tr.err = tr.rows.Scan(
		&d.ReceivedAt,
		&d.ConnectElapsed,
		&d.FlightElapsed,
		&d.Roll,
		&d.Pitch,
		&d.Yaw,
		&d.PressureAltitude,
		&d.Altitude,
		&d.AccelX,
		&d.AccelY,
		&d.AccelZ,
		&d.Latitude,
		&d.Longitude,
		&d.VelNorth,
		&d.VelEast,
		&d.VelDown,
		&d.Temperature,
		&d.Pressure,
		&d.LaunchState,
		&d.EjectionState,
		&d.Phase,
	); tr.err != nil {
		tr.err = fmt.Errorf("scanning telemetry: %w", tr.err)
		return false
	}

	record := fromTelemetryData(&d)
	tr.current = &record

	return true
}

func (tr *SqliteTelemetryReader) Current() *TelemetryRecord {
	return tr.current
}

func (tr *SqliteTelemetryReader) Error() error {
	if tr.err != nil {
		return tr.err
	}
	if tr.rows != nil {
		return tr.rows.Err()
	}
	return nil
}

func (tr *SqliteTelemetryReader) Close() error {
	if tr.rows != nil {
		err := tr.rows.Close()
		tr.current = nil
		tr.rows = nil
		return err
	}
	return nil
}
