package storage

import (
	"database/sql"

	"github.com/roman-kulish/ground-control/internal/telemetry"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && cErr != sql.ErrTxDone && *err == nil {
		*err = cErr
	}
}

func nullFloat(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fromNullFloat(f sql.NullFloat64) float64 {
	if !f.Valid {
		return 0
	}
	return f.Float64
}

func toTelemetryData(r TelemetryRecord) *telemetryData {
	s := r.Sample

	return &telemetryData{
		ReceivedAt:       r.ReceivedAt.UTC(),
		ConnectElapsed:   s.ConnectElapsedSeconds,
		FlightElapsed:    s.FlightElapsedSeconds,
		Roll:             nullFloat(s.Attitude.Roll),
		Pitch:            nullFloat(s.Attitude.Pitch),
		Yaw:              nullFloat(s.Attitude.Yaw),
		PressureAltitude: nullFloat(s.PressureAltitude),
		Altitude:         nullFloat(s.Altitude),
		AccelX:           nullFloat(s.Acceleration.X),
		AccelY:           nullFloat(s.Acceleration.Y),
		AccelZ:           nullFloat(s.Acceleration.Z),
		Latitude:         nullFloat(s.Position.Lat),
		Longitude:        nullFloat(s.Position.Lon),
		VelNorth:         nullFloat(s.Velocity.North),
		VelEast:          nullFloat(s.Velocity.East),
		VelDown:          nullFloat(s.Velocity.Down),
		Temperature:      nullFloat(s.Environment.TemperatureC),
		Pressure:         nullFloat(s.Environment.PressureHPa),
		LaunchState:      s.LaunchState,
		EjectionState:    int64(s.EjectionState),
		Phase:            nullString(s.Phase),
	}
}

func fromTelemetryData(d *telemetryData) TelemetryRecord {
	return TelemetryRecord{
		ReceivedAt: d.ReceivedAt,
		Sample: telemetry.Sample{
			ConnectElapsedSeconds: d.ConnectElapsed,
			FlightElapsedSeconds:  d.FlightElapsed,
			Attitude: telemetry.Attitude{
				Roll:  fromNullFloat(d.Roll),
				Pitch: fromNullFloat(d.Pitch),
				Yaw:   fromNullFloat(d.Yaw),
			},
			PressureAltitude: fromNullFloat(d.PressureAltitude),
			Altitude:         fromNullFloat(d.Altitude),
			Acceleration: telemetry.Vector3{
				X: fromNullFloat(d.AccelX),
				Y: fromNullFloat(d.AccelY),
				Z: fromNullFloat(d.AccelZ),
			},
			Position: telemetry.Position{
				Lat: fromNullFloat(d.Latitude),
				Lon: fromNullFloat(d.Longitude),
			},
			Velocity: telemetry.Velocity{
				North: fromNullFloat(d.VelNorth),
				East:  fromNullFloat(d.VelEast),
				Down:  fromNullFloat(d.VelDown),
			},
			Environment: telemetry.Environment{
				TemperatureC: fromNullFloat(d.Temperature),
				PressureHPa:  fromNullFloat(d.Pressure),
			},
			LaunchState:   d.LaunchState,
			EjectionState: telemetry.EjectionState(d.EjectionState),
			Phase:         d.Phase.String,
		},
	}
}

func toFlight(d *flightData) *Flight {
	f := Flight{
		ID:            d.ID,
		SessionID:     uint64(d.SessionID),
		Source:        d.Source,
		StartTime:     d.StartTime,
		Samples:       d.Samples,
		EjectionState: telemetry.EjectionState(d.EjectionState),
	}
	if d.Description.Valid {
		f.Description = &d.Description.String
	}
	if d.EndTime.Valid {
		f.EndTime = &d.EndTime.Time
	}
	if d.MaxAltitude.Valid {
		f.MaxAltitude = &d.MaxAltitude.Float64
	}
	return &f
}
