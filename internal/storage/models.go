package storage

import (
	"database/sql"
	"time"

	"github.com/roman-kulish/ground-control/internal/telemetry"
)

// Flight is one recorded hub session.
type Flight struct {
	ID            int64                   `json:"id"`
	SessionID     uint64                  `json:"sessionId"`
	Source        string                  `json:"source"`
	Description   *string                 `json:"description,omitempty"`
	StartTime     time.Time               `json:"startTime"`
	EndTime       *time.Time              `json:"endTime,omitempty"`
	Samples       int64                   `json:"samples"`
	MaxAltitude   *float64                `json:"maxAltitude,omitempty"`
	EjectionState telemetry.EjectionState `json:"ejectionState"`
}

// Duration returns the recorded span of the flight, 0 if nothing was
// recorded yet.
func (f *Flight) Duration() time.Duration {
	if f.EndTime == nil {
		return 0
	}
	return f.EndTime.Sub(f.StartTime)
}

// TelemetryRecord is one stored sample.
type TelemetryRecord struct {
	ReceivedAt time.Time
	Sample     telemetry.Sample
}

// EventRecord is one stored status message.
type EventRecord struct {
	ReceivedAt time.Time
	Status     telemetry.Status
}

// FlightSummary is the running aggregate written with every telemetry batch.
type FlightSummary struct {
	LastSeen      time.Time
	Samples       int64 // Samples in this batch
	MaxAltitude   float64
	EjectionState telemetry.EjectionState
}

type flightData struct {
	ID            int64
	SessionID     int64
	Source        string
	Description   sql.NullString
	StartTime     time.Time
	EndTime       sql.NullTime
	Samples       int64
	MaxAltitude   sql.NullFloat64
	EjectionState int64
}

type telemetryData struct {
	ReceivedAt       time.Time
	ConnectElapsed   float64
	FlightElapsed    float64
	Roll             sql.NullFloat64
	Pitch            sql.NullFloat64
	Yaw              sql.NullFloat64
	PressureAltitude sql.NullFloat64
	Altitude         sql.NullFloat64
	AccelX           sql.NullFloat64
	AccelY           sql.NullFloat64
	AccelZ           sql.NullFloat64
	Latitude         sql.NullFloat64
	Longitude        sql.NullFloat64
	VelNorth         sql.NullFloat64
	VelEast          sql.NullFloat64
	VelDown          sql.NullFloat64
	Temperature      sql.NullFloat64
	Pressure         sql.NullFloat64
	LaunchState      bool
	EjectionState    int64
	Phase            sql.NullString
}
