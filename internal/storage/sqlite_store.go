package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/ground-control/internal/telemetry"
)

// DefaultMaxBatchSize is the number of rows written by one INSERT statement.
const DefaultMaxBatchSize = 100

// WithMaxBatchSize sets the number of rows written by one INSERT statement
func WithMaxBatchSize(n int) func(*SqliteStore) {
	return func(s *SqliteStore) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath       string
	maxBatchSize int

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store backed by the Sqlite database at dbPath.
// Connections are opened and the schema is initialized on first use.
func NewSqliteStore(dbPath string, options ...func(*SqliteStore)) *SqliteStore {
	s := SqliteStore{
		dbPath:       dbPath,
		maxBatchSize: DefaultMaxBatchSize,
	}
	for _, option := range options {
		option(&s)
	}
	return &s
}

// Path returns the database file path.
func (s *SqliteStore) Path() string {
	return s.dbPath
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1) // single writer

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		if err = runSQLCommand(db, initIndexesSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing indexes: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateFlight(ctx context.Context, sessionID uint64, source, description string) (flightID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertFlightSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, int64(sessionID), source, nullString(description), time.Now().UTC())
	if err != nil {
		err = fmt.Errorf("inserting flight: %w", err)
		return
	}

	flightID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting flight ID: %w", err)
	}
	return
}

func (s *SqliteStore) Flight(ctx context.Context, id int64) (flight *Flight, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectFlightSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	var data flightData
	if err = scanFlight(stmt.QueryRowContext(ctx, id), &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNoData
		}
		err = fmt.Errorf("scanning flight %d: %w", id, err)
		return
	}

	return toFlight(&data), nil
}

func (s *SqliteStore) Flights(ctx context.Context) (flights []*Flight, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectFlightsSQL)
	if err != nil {
		err = fmt.Errorf("querying flights: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data flightData
		if err = scanFlight(rows, &data); err != nil {
			err = fmt.Errorf("scanning flight: %w", err)
			return
		}
		flights = append(flights, toFlight(&data))
	}
	err = rows.Err()
	return
}

func scanFlight(row interface{ Scan(...any) error }, d *flightData) error {
	return row.Scan(
		&d.ID,
		&d.SessionID,
		&d.Source,
		&d.Description,
		&d.StartTime,
		&d.EndTime,
		&d.Samples,
		&d.MaxAltitude,
		&d.EjectionState,
	)
}

func (s *SqliteStore) StoreTelemetry(ctx context.Context, flightID int64, records []TelemetryRecord) (err error) {
	if len(records) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	summary := FlightSummary{MaxAltitude: records[0].Sample.Altitude}

	for chunk := range slices.Chunk(records, s.maxBatchSize) {
		values := make([]any, 0, len(chunk)*22)

		var sb strings.Builder
		sb.WriteString(insertTelemetrySQL)

		for i, r := range chunk {
			data := toTelemetryData(r)
			values = append(values,
				flightID,
				data.ReceivedAt,
				data.ConnectElapsed,
				data.FlightElapsed,
				data.Roll,
				data.Pitch,
				data.Yaw,
				data.PressureAltitude,
				data.Altitude,
				data.AccelX,
				data.AccelY,
				data.AccelZ,
				data.Latitude,
				data.Longitude,
				data.VelNorth,
				data.VelEast,
				data.VelDown,
				data.Temperature,
				data.Pressure,
				data.LaunchState,
				data.EjectionState,
				data.Phase,
			)

			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(telemetryValuesPlaceholder)

			summary.Samples++
			summary.LastSeen = data.ReceivedAt
			summary.MaxAltitude = max(summary.MaxAltitude, r.Sample.Altitude)
			summary.EjectionState = r.Sample.EjectionState
		}

		if _, err = tx.ExecContext(ctx, sb.String(), values...); err != nil {
			return fmt.Errorf("batch inserting telemetry: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, updateFlightSummarySQL,
		summary.LastSeen,
		summary.Samples,
		summary.MaxAltitude,
		summary.MaxAltitude,
		int64(summary.EjectionState),
		flightID,
	); err != nil {
		return fmt.Errorf("updating flight summary: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (s *SqliteStore) StoreEvents(ctx context.Context, flightID int64, records []EventRecord) (err error) {
	if len(records) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	for chunk := range slices.Chunk(records, s.maxBatchSize) {
		values := make([]any, 0, len(chunk)*4)

		var sb strings.Builder
		sb.WriteString(insertEventSQL)

		for i, r := range chunk {
			values = append(values, flightID, r.ReceivedAt.UTC(), string(r.Status.Status), r.Status.Message)

			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(eventValuesPlaceholder)
		}

		if _, err = tx.ExecContext(ctx, sb.String(), values...); err != nil {
			return fmt.Errorf("batch inserting events: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (s *SqliteStore) Events(ctx context.Context, flightID int64) (events []EventRecord, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectEventsSQL, flightID)
	if err != nil {
		err = fmt.Errorf("querying events: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var (
			e     EventRecord
			level string
		)
		if err = rows.Scan(&e.ReceivedAt, &level, &e.Status.Message); err != nil {
			err = fmt.Errorf("scanning event: %w", err)
			return
		}
		e.Status.Status = telemetry.StatusLevel(level)
		events = append(events, e)
	}
	err = rows.Err()
	return
}

// ReadTelemetry creates a reader over the samples of a flight in arrival
// order. The returned reader must be closed after use to release database
// resources. Each reader instance should only be used from a single
// goroutine.
func (s *SqliteStore) ReadTelemetry(ctx context.Context, flightID int64, opts ...ReaderOption) (*SqliteTelemetryReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteTelemetryReader(ctx, db, flightID, opts...)
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
