package storage

import (
	"context"
	"errors"
)

// ErrNoData indicates that the requested flight does not exist.
var ErrNoData = errors.New("no data available")

// Store provides an interface for recording flights. It handles flights,
// their telemetry and their status events in a thread-safe manner. All
// operations that write to the database should be considered atomic.
type Store interface {
	// CreateFlight registers a new flight for a hub session and returns its
	// unique identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - sessionID: Hub session the flight was recorded from
	//   - source: Source variant, e.g. "SIMULATOR"
	//   - description: Optional human-readable source name, e.g. the serial port
	//
	// Returns:
	//   - flightID: Unique identifier for the created flight
	//   - error: If creation fails or context is cancelled
	CreateFlight(ctx context.Context, sessionID uint64, source, description string) (flightID int64, err error)

	// Flight retrieves a flight by its ID.
	//
	// Returns:
	//   - flight: Pointer to flight data
	//   - error: ErrNoData if the flight does not exist, or if retrieval fails
	//     or context is cancelled
	Flight(ctx context.Context, id int64) (*Flight, error)

	// Flights returns all flights ordered by start time in ascending order.
	Flights(ctx context.Context) ([]*Flight, error)

	// StoreTelemetry saves a batch of samples and updates the flight summary.
	// The batch and the summary are written in a single transaction.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - flightID: ID of the flight the samples belong to
	//   - records: Samples in arrival order
	//
	// Returns:
	//   - error: If storage fails or context is cancelled
	StoreTelemetry(ctx context.Context, flightID int64, records []TelemetryRecord) error

	// StoreEvents saves a batch of status messages.
	StoreEvents(ctx context.Context, flightID int64, records []EventRecord) error

	// Events returns the status messages of a flight in arrival order.
	Events(ctx context.Context, flightID int64) ([]EventRecord, error)

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	Close() error
}
