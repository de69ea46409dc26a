package dmtp

import "fmt"

// -------------------------------------------------------------------------
// Status Codes
// -------------------------------------------------------------------------

// StatusCode classifies the reason an event was generated. The wire value
// is 1-4 bytes (commonly 2) selected by the template field length.
type StatusCode uint32

const (
	// StatusNone indicates no specific event reason.
	StatusNone StatusCode = 0x0000

	// StatusInitialized marks a device (re)initialization event.
	StatusInitialized StatusCode = 0xF010

	// StatusLocation is a plain position report. The decoder assigns this
	// when a template carries a GPS point but no status code field.
	StatusLocation StatusCode = 0xF020

	// StatusWaymark marks an operator-triggered position report.
	StatusWaymark StatusCode = 0xF030

	// StatusMotionStart marks the beginning of movement.
	StatusMotionStart StatusCode = 0xF111

	// StatusMotionInMotion is a periodic report while moving.
	StatusMotionInMotion StatusCode = 0xF112

	// StatusMotionStop marks the end of movement.
	StatusMotionStop StatusCode = 0xF113

	// StatusMotionDormant is a periodic report while stationary.
	StatusMotionDormant StatusCode = 0xF114

	// StatusGeofenceArrive marks entry into a configured geofence.
	StatusGeofenceArrive StatusCode = 0xF210

	// StatusGeofenceDepart marks departure from a configured geofence.
	StatusGeofenceDepart StatusCode = 0xF230

	// StatusLowBattery indicates the device battery is low.
	StatusLowBattery StatusCode = 0xFD10

	// StatusPowerFailure indicates loss of external power.
	StatusPowerFailure StatusCode = 0xFD13
)

// statusNames maps known status codes to human-readable strings.
var statusNames = map[StatusCode]string{
	StatusNone:           "None",
	StatusInitialized:    "Initialized",
	StatusLocation:       "Location",
	StatusWaymark:        "Waymark",
	StatusMotionStart:    "MotionStart",
	StatusMotionInMotion: "InMotion",
	StatusMotionStop:     "MotionStop",
	StatusMotionDormant:  "Dormant",
	StatusGeofenceArrive: "GeofenceArrive",
	StatusGeofenceDepart: "GeofenceDepart",
	StatusLowBattery:     "LowBattery",
	StatusPowerFailure:   "PowerFailure",
}

// String returns the human-readable name for the status code.
func (sc StatusCode) String() string {
	if name, ok := statusNames[sc]; ok {
		return name
	}
	return fmt.Sprintf("Status(0x%04X)", uint32(sc))
}
