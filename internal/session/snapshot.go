package session

import (
	"time"

	"github.com/flycharts/flycharts/pkg/simconnect"
)

// Snapshot is one complete telemetry sample. Latitude and longitude are
// always real values; every other field falls back to zero or a placeholder
// when the simulator has no value for it.
type Snapshot struct {
	// Latitude in decimal degrees (-90 to +90)
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees (-180 to +180)
	Longitude float64 `json:"longitude"`

	// Altitude in feet above mean sea level
	Altitude float64 `json:"altitude"`

	// Heading is the magnetic heading in degrees (0-359)
	Heading float64 `json:"heading"`

	// Airspeed is true airspeed in knots
	Airspeed float64 `json:"airspeed"`

	// GroundSpeed in knots
	GroundSpeed float64 `json:"ground_speed"`

	// VerticalSpeed in feet per minute (positive = climbing)
	VerticalSpeed float64 `json:"vertical_speed"`

	// AircraftTitle is the simulator's aircraft name ("Unknown" if unset)
	AircraftTitle string `json:"aircraft_title"`

	// ATCID is the tail number / ATC identifier ("" if unset)
	ATCID string `json:"atc_id"`

	// Timestamp is the capture time in UTC
	Timestamp time.Time `json:"timestamp"`
}

// readSnapshot reads all telemetry variables from the source and assembles
// a snapshot. Returns (nil, nil) when latitude or longitude is absent: a
// position-less sample is not worth publishing. Any read error aborts the
// whole sample.
func readSnapshot(src Source) (*Snapshot, error) {
	lat, latOK, err := floatVar(src, simconnect.VarLatitude)
	if err != nil {
		return nil, err
	}
	lon, lonOK, err := floatVar(src, simconnect.VarLongitude)
	if err != nil {
		return nil, err
	}
	if !latOK || !lonOK {
		return nil, nil
	}

	snap := &Snapshot{
		Latitude:      lat,
		Longitude:     lon,
		AircraftTitle: "Unknown",
		Timestamp:     time.Now().UTC(),
	}

	if v, ok, err := floatVar(src, simconnect.VarAltitude); err != nil {
		return nil, err
	} else if ok {
		snap.Altitude = v
	}
	if v, ok, err := floatVar(src, simconnect.VarHeading); err != nil {
		return nil, err
	} else if ok {
		snap.Heading = v
	}
	if v, ok, err := floatVar(src, simconnect.VarAirspeed); err != nil {
		return nil, err
	} else if ok {
		snap.Airspeed = v
	}
	if v, ok, err := floatVar(src, simconnect.VarGroundSpeed); err != nil {
		return nil, err
	} else if ok {
		snap.GroundSpeed = v
	}
	if v, ok, err := floatVar(src, simconnect.VarVerticalSpeed); err != nil {
		return nil, err
	} else if ok {
		snap.VerticalSpeed = v
	}
	if v, ok, err := stringVar(src, simconnect.VarTitle); err != nil {
		return nil, err
	} else if ok && v != "" {
		snap.AircraftTitle = v
	}
	if v, ok, err := stringVar(src, simconnect.VarATCID); err != nil {
		return nil, err
	} else if ok {
		snap.ATCID = v
	}

	return snap, nil
}

// floatVar reads one variable and coerces it to float64.
// ok=false means the simulator has no usable value.
func floatVar(src Source, name string) (float64, bool, error) {
	v, err := src.Get(name)
	if err != nil {
		return 0, false, err
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	default:
		return 0, false, nil
	}
}

// stringVar reads one variable and coerces it to a string.
func stringVar(src Source, name string) (string, bool, error) {
	v, err := src.Get(name)
	if err != nil {
		return "", false, err
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return "", false, nil
}
