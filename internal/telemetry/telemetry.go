package telemetry

import (
	"encoding/json"
	"fmt"
)

const (
	EjectionSafe     EjectionState = 0 // No recovery trigger fired
	EjectionAttitude EjectionState = 1 // Tilt limit exceeded
	EjectionAltitude EjectionState = 2 // Rolling-average altitude dropped past apogee
	EjectionTime     EjectionState = 3 // Flight time ceiling reached
)

// EjectionState is the recovery trigger state of a flight. Once it leaves
// EjectionSafe it never goes back within a session.
type EjectionState int

func (e EjectionState) String() string {
	switch e {
	case EjectionSafe:
		return "safe"
	case EjectionAttitude:
		return "attitude"
	case EjectionAltitude:
		return "altitude"
	case EjectionTime:
		return "time"
	default:
		return fmt.Sprintf("EjectionState(%d)", int(e))
	}
}

// Valid reports whether e is one of the known ejection states.
func (e EjectionState) Valid() bool {
	return e >= EjectionSafe && e <= EjectionTime
}

// Fired reports whether a recovery trigger has fired.
func (e EjectionState) Fired() bool {
	return e != EjectionSafe
}

// Attitude holds the vehicle orientation in degrees.
type Attitude struct {
	Roll  float64 `json:"roll"`  // (-180, 180]
	Pitch float64 `json:"pitch"` // [-90, 90]
	Yaw   float64 `json:"yaw"`   // [0, 360)
}

// Vector3 is a body-frame acceleration in m/s².
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Position is a GPS fix in decimal degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Velocity is a NED velocity in m/s.
type Velocity struct {
	North float64 `json:"north"`
	East  float64 `json:"east"`
	Down  float64 `json:"down"`
}

// Environment holds the barometer readings.
type Environment struct {
	TemperatureC float64 `json:"temperatureC"`
	PressureHPa  float64 `json:"pressureHPa"`
}

// Sample is one flight-state snapshot. Every source normalizes into this
// shape at its boundary.
type Sample struct {
	ConnectElapsedSeconds float64       `json:"connectElapsedSeconds"` // Since the source connected
	FlightElapsedSeconds  float64       `json:"flightElapsedSeconds"`  // Since launch, 0 before launch
	Attitude              Attitude      `json:"attitude"`
	PressureAltitude      float64       `json:"pressureAltitude"` // Barometric altitude in meters
	Altitude              float64       `json:"altitude"`         // GPS altitude in meters
	Acceleration          Vector3       `json:"acceleration"`
	Position              Position      `json:"position"`
	Velocity              Velocity      `json:"velocity"`
	Environment           Environment   `json:"environment"`
	LaunchState           bool          `json:"launchState"`
	EjectionState         EjectionState `json:"ejectionState"`
	Phase                 string        `json:"phase,omitempty"` // Flight phase derived by the hub

	// EjectionReason explains a cause decided by the source itself. It stays
	// on the server side and is cleared before the sample is published.
	EjectionReason string `json:"-"`
}

const (
	StatusInfo    StatusLevel = "info"
	StatusSuccess StatusLevel = "success"
	StatusError   StatusLevel = "error"
	StatusSystem  StatusLevel = "system"
)

// StatusLevel classifies a status message.
type StatusLevel string

// Valid reports whether l is one of the known levels.
func (l StatusLevel) Valid() bool {
	switch l {
	case StatusInfo, StatusSuccess, StatusError, StatusSystem:
		return true
	}
	return false
}

// Status is a human-readable session lifecycle message.
type Status struct {
	Status  StatusLevel `json:"status"`
	Message string      `json:"message"`
}

// Info, Success, Error and System build status messages with fmt formatting.
func Info(format string, args ...any) Status    { return newStatus(StatusInfo, format, args...) }
func Success(format string, args ...any) Status { return newStatus(StatusSuccess, format, args...) }
func Error(format string, args ...any) Status   { return newStatus(StatusError, format, args...) }
func System(format string, args ...any) Status  { return newStatus(StatusSystem, format, args...) }

func newStatus(level StatusLevel, format string, args ...any) Status {
	return Status{Status: level, Message: fmt.Sprintf(format, args...)}
}

const (
	EventTelemetry EventType = "telemetry"
	EventStatus    EventType = "status"
)

// EventType names an outbound event.
type EventType string

// Event is what the hub broadcasts to subscribers. Exactly one of Telemetry
// and Status is set.
type Event struct {
	Type        EventType `json:"type"`
	SessionID   uint64    `json:"sessionID"`
	Source      string    `json:"source"`
	Description string    `json:"description,omitempty"`
	Telemetry   *Sample   `json:"telemetry,omitempty"`
	Status      *Status   `json:"status,omitempty"`
}

// Payload returns the JSON body delivered to browsers for the event: the bare
// sample or the bare status.
func (e Event) Payload() ([]byte, error) {
	switch e.Type {
	case EventTelemetry:
		return json.Marshal(e.Telemetry)
	case EventStatus:
		return json.Marshal(e.Status)
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}
