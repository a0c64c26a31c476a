package app

import (
	"math"

	"github.com/roman-kulish/ground-control/internal/storage"
	"github.com/roman-kulish/ground-control/internal/telemetry"
)

// ProfilePoint is one sample of the altitude profile, T in seconds since
// connect.
type ProfilePoint struct {
	T                float64
	Altitude         float64
	PressureAltitude float64
}

// ProfileData accumulates the altitude profile of a flight.
type ProfileData struct {
	Flight *storage.Flight
	Points []ProfilePoint

	TimeMin, TimeMax         float64
	AltitudeMin, AltitudeMax float64

	Launch        *float64 // Time of the first launched sample
	Ejection      *float64 // Time of the first ejected sample
	EjectionState telemetry.EjectionState
	Apogee        ProfilePoint
}

func NewProfileData(flight *storage.Flight) *ProfileData {
	return &ProfileData{
		Flight:      flight,
		TimeMin:     math.MaxFloat64,
		TimeMax:     -math.MaxFloat64,
		AltitudeMin: math.MaxFloat64,
		AltitudeMax: -math.MaxFloat64,
	}
}

func (p *ProfileData) Update(r *storage.TelemetryRecord) {
	s := r.Sample
	pt := ProfilePoint{
		T:                s.ConnectElapsedSeconds,
		Altitude:         s.Altitude,
		PressureAltitude: s.PressureAltitude,
	}

	p.TimeMin = min(p.TimeMin, pt.T)
	p.TimeMax = max(p.TimeMax, pt.T)
	p.AltitudeMin = min(p.AltitudeMin, pt.Altitude, pt.PressureAltitude)
	p.AltitudeMax = max(p.AltitudeMax, pt.Altitude, pt.PressureAltitude)

	if len(p.Points) == 0 || pt.Altitude > p.Apogee.Altitude {
		p.Apogee = pt
	}
	if s.LaunchState && p.Launch == nil {
		t := pt.T
		p.Launch = &t
	}
	if s.EjectionState.Fired() && p.Ejection == nil {
		t := pt.T
		p.Ejection = &t
		p.EjectionState = s.EjectionState
	}

	p.Points = append(p.Points, pt)
}
