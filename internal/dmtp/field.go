package dmtp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// -------------------------------------------------------------------------
// Field Type Catalog
// -------------------------------------------------------------------------

// FieldType identifies a logical event field in a payload template.
// The numeric value is the type byte used in the template wire form.
type FieldType uint8

const (
	// FieldStatusCode is the event status code (1-4 bytes, commonly 2).
	FieldStatusCode FieldType = 0x01

	// FieldTimestamp is the event time in epoch seconds (4 bytes).
	FieldTimestamp FieldType = 0x02

	// FieldIndex is a generic record index (1-4 bytes).
	FieldIndex FieldType = 0x03

	// FieldSequence is the client packet sequence number (1-4 bytes).
	FieldSequence FieldType = 0x04

	// FieldGPSPoint is a compact GPS point (6 or 8 bytes).
	FieldGPSPoint FieldType = 0x06

	// FieldGPSAge is the GPS fix age in seconds (1-2 bytes).
	FieldGPSAge FieldType = 0x07

	// FieldSpeed is the speed in km/h (1 byte low-res, 2 bytes high-res).
	FieldSpeed FieldType = 0x08

	// FieldHeading is the heading in degrees (1 or 2 bytes).
	FieldHeading FieldType = 0x09

	// FieldAltitude is the signed altitude in meters (2 or 3 bytes).
	FieldAltitude FieldType = 0x0A

	// FieldDistance is the traveled distance in km (3 bytes).
	FieldDistance FieldType = 0x0B

	// FieldGeofenceID is a geofence/geozone identifier (4 bytes, array).
	FieldGeofenceID FieldType = 0x0E

	// FieldTopSpeed is the peak speed in km/h (1 or 2 bytes).
	FieldTopSpeed FieldType = 0x0F

	// FieldString is a null-terminated string (variable length, array).
	FieldString FieldType = 0x11

	// FieldBinary is opaque binary data (variable length).
	FieldBinary FieldType = 0x1A

	// FieldInputID is the digital input identifier bitmap (4 bytes).
	FieldInputID FieldType = 0x21

	// FieldInputState is the digital input state bitmap (4 bytes).
	FieldInputState FieldType = 0x22

	// FieldOutputID is the digital output identifier bitmap (4 bytes).
	FieldOutputID FieldType = 0x23

	// FieldOutputState is the digital output state bitmap (4 bytes).
	FieldOutputState FieldType = 0x24

	// FieldIOState is the combined input/output state word (4 bytes).
	FieldIOState FieldType = 0x25

	// FieldElapsedTime is an elapsed time (3 or 4 bytes, array).
	// Low resolution is in seconds and scaled to milliseconds on decode;
	// high resolution is carried through in its raw units.
	FieldElapsedTime FieldType = 0x27

	// FieldCounter is a generic counter (1-4 bytes, array).
	FieldCounter FieldType = 0x28

	// FieldSensor32Low is the low value of a 32-bit sensor bank (4 bytes, array).
	FieldSensor32Low FieldType = 0x31

	// FieldSensor32High is the high value of a 32-bit sensor bank (4 bytes, array).
	FieldSensor32High FieldType = 0x32

	// FieldSensor32Avg is the average value of a 32-bit sensor bank (4 bytes, array).
	FieldSensor32Avg FieldType = 0x33

	// FieldTempLow is the signed low temperature in C (1 or 2 bytes, array).
	FieldTempLow FieldType = 0x3A

	// FieldTempHigh is the signed high temperature in C (1 or 2 bytes, array).
	FieldTempHigh FieldType = 0x3B

	// FieldTempAvg is the signed average temperature in C (1 or 2 bytes, array).
	FieldTempAvg FieldType = 0x3C

	// FieldDGPSUpdate is the age of the last DGPS update (2 bytes).
	FieldDGPSUpdate FieldType = 0x41

	// FieldGPSHorzAcc is the horizontal accuracy in meters (1 or 2 bytes).
	FieldGPSHorzAcc FieldType = 0x42

	// FieldGPSVertAcc is the vertical accuracy in meters (1 or 2 bytes).
	FieldGPSVertAcc FieldType = 0x43

	// FieldGPSSatellites is the satellites-in-view count (1 byte).
	FieldGPSSatellites FieldType = 0x44

	// FieldGPSMagVariation is the signed magnetic variation in degrees
	// (2 bytes, always scaled by 1/100).
	FieldGPSMagVariation FieldType = 0x45

	// FieldGPSQuality is the GPS fix quality indicator (1 byte).
	FieldGPSQuality FieldType = 0x46

	// FieldGPS2D3D is the fix dimension, 2D or 3D (1 byte).
	FieldGPS2D3D FieldType = 0x47

	// FieldGPSGeoidHeight is the signed geoid height in meters (1 or 2 bytes).
	FieldGPSGeoidHeight FieldType = 0x48

	// FieldGPSPDOP is the position dilution of precision (1 or 2 bytes, /10).
	FieldGPSPDOP FieldType = 0x49

	// FieldGPSHDOP is the horizontal dilution of precision (1 or 2 bytes, /10).
	FieldGPSHDOP FieldType = 0x4A

	// FieldGPSVDOP is the vertical dilution of precision (1 or 2 bytes, /10).
	FieldGPSVDOP FieldType = 0x4B
)

// Canonical event record keys that do not come from the catalog.
const (
	// KeyLatitude and KeyLongitude hold the two halves of a decoded GPS point.
	KeyLatitude  = "latitude"
	KeyLongitude = "longitude"

	// KeyRawData holds the hex dump of the event packet payload.
	KeyRawData = "rawData"

	// KeySequenceLength records the byte length of a consumed sequence field.
	KeySequenceLength = "sequenceLength"
)

// fieldNames maps catalog types to canonical event record keys.
var fieldNames = map[FieldType]string{
	FieldStatusCode:      "statusCode",
	FieldTimestamp:       "timestamp",
	FieldIndex:           "index",
	FieldSequence:        "sequence",
	FieldGPSPoint:        "gpsPoint",
	FieldGPSAge:          "gpsAge",
	FieldSpeed:           "speedKPH",
	FieldHeading:         "heading",
	FieldAltitude:        "altitude",
	FieldDistance:        "distanceKM",
	FieldGeofenceID:      "geofenceID",
	FieldTopSpeed:        "topSpeedKPH",
	FieldString:          "string",
	FieldBinary:          "binary",
	FieldInputID:         "inputID",
	FieldInputState:      "inputState",
	FieldOutputID:        "outputID",
	FieldOutputState:     "outputState",
	FieldIOState:         "ioState",
	FieldElapsedTime:     "elapsedTime",
	FieldCounter:         "counter",
	FieldSensor32Low:     "sens32LO",
	FieldSensor32High:    "sens32HI",
	FieldSensor32Avg:     "sens32AV",
	FieldTempLow:         "tempLO",
	FieldTempHigh:        "tempHI",
	FieldTempAvg:         "tempAV",
	FieldDGPSUpdate:      "gpsDGPSUpdate",
	FieldGPSHorzAcc:      "gpsHorzAccuracy",
	FieldGPSVertAcc:      "gpsVertAccuracy",
	FieldGPSSatellites:   "gpsSatellites",
	FieldGPSMagVariation: "gpsMagVariation",
	FieldGPSQuality:      "gpsQuality",
	FieldGPS2D3D:         "gps2D3D",
	FieldGPSGeoidHeight:  "gpsGeoidHeight",
	FieldGPSPDOP:         "gpsPDOP",
	FieldGPSHDOP:         "gpsHDOP",
	FieldGPSVDOP:         "gpsVDOP",
}

// arrayTypes marks the kinds that allow multiple indexed values.
var arrayTypes = map[FieldType]bool{
	FieldGeofenceID:   true,
	FieldString:       true,
	FieldElapsedTime:  true,
	FieldCounter:      true,
	FieldSensor32Low:  true,
	FieldSensor32High: true,
	FieldSensor32Avg:  true,
	FieldTempLow:      true,
	FieldTempHigh:     true,
	FieldTempAvg:      true,
}

// signedTypes marks the kinds decoded as signed integers.
// Signedness is per-type, not per-encoding.
var signedTypes = map[FieldType]bool{
	FieldAltitude:        true,
	FieldGPSGeoidHeight:  true,
	FieldGPSMagVariation: true,
	FieldTempLow:         true,
	FieldTempHigh:        true,
	FieldTempAvg:         true,
}

// Valid reports whether the type byte is a recognized catalog entry.
func (ft FieldType) Valid() bool {
	_, ok := fieldNames[ft]
	return ok
}

// Name returns the canonical event record key for the field type, or ""
// for unrecognized types.
func (ft FieldType) Name() string { return fieldNames[ft] }

// Array reports whether the kind allows multiple indexed values.
func (ft FieldType) Array() bool { return arrayTypes[ft] }

// Signed reports whether values of this kind sign-extend on decode.
func (ft FieldType) Signed() bool { return signedTypes[ft] }

// String implements fmt.Stringer for log output.
func (ft FieldType) String() string {
	if name, ok := fieldNames[ft]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02X)", uint8(ft))
}

// -------------------------------------------------------------------------
// Primitive classification — decoder dispatch
// -------------------------------------------------------------------------

// Primitive is the decoder dispatch class of a field type.
type Primitive uint8

const (
	// PrimitiveLong covers every numeric kind (scaled or raw).
	PrimitiveLong Primitive = iota + 1

	// PrimitiveGPS covers the compact GPS point.
	PrimitiveGPS

	// PrimitiveString covers null-terminated strings.
	PrimitiveString

	// PrimitiveBinary covers opaque byte fields.
	PrimitiveBinary
)

// Primitive returns the decoder dispatch class for the field type.
// Everything that is not GPS, string, or binary reads as an integer.
func (ft FieldType) Primitive() Primitive {
	switch ft {
	case FieldGPSPoint:
		return PrimitiveGPS
	case FieldString:
		return PrimitiveString
	case FieldBinary:
		return PrimitiveBinary
	default:
		return PrimitiveLong
	}
}

// -------------------------------------------------------------------------
// FieldDef — one template entry
// -------------------------------------------------------------------------

// Field definition errors.
var (
	// ErrFieldDefSyntax indicates a malformed textual field definition.
	ErrFieldDefSyntax = errors.New("malformed field definition")

	// ErrFieldDefLength indicates a byte length outside [1, 8].
	ErrFieldDefLength = errors.New("field byte length out of range")
)

// Resolution characters in the textual wire form.
const (
	resHighChar = "H"
	resLowChar  = "L"
)

// fieldDefTokens is the token count of the textual wire form.
const fieldDefTokens = 4

// FieldDef describes how one slice of an event payload maps to a named,
// typed, indexed field.
type FieldDef struct {
	// Type is the catalog field kind.
	Type FieldType

	// HiRes selects the high-precision variant of the numeric scaling.
	HiRes bool

	// Index distinguishes multiple values of an array kind. Ignored for
	// scalar kinds.
	Index uint8

	// Length is how many payload bytes the field consumes (1-8).
	Length uint8
}

// String renders the textual wire form "<res>|<typeHex>|<index>|<length>",
// e.g. "H|8|0|2" for a 2-byte high-resolution speed.
func (fd FieldDef) String() string {
	res := resLowChar
	if fd.HiRes {
		res = resHighChar
	}
	return fmt.Sprintf("%s|%X|%d|%d", res, uint8(fd.Type), fd.Index, fd.Length)
}

// ParseFieldDef parses the textual wire form produced by FieldDef.String.
// The type token is hexadecimal; index and length are decimal.
func ParseFieldDef(s string) (FieldDef, error) {
	tokens := strings.Split(strings.TrimSpace(s), "|")
	if len(tokens) != fieldDefTokens {
		return FieldDef{}, fmt.Errorf("parse field def %q: want %d tokens: %w",
			s, fieldDefTokens, ErrFieldDefSyntax)
	}

	var fd FieldDef
	switch strings.ToUpper(strings.TrimSpace(tokens[0])) {
	case resHighChar:
		fd.HiRes = true
	case resLowChar:
		fd.HiRes = false
	default:
		return FieldDef{}, fmt.Errorf("parse field def %q: resolution %q: %w",
			s, tokens[0], ErrFieldDefSyntax)
	}

	ftype, err := strconv.ParseUint(strings.TrimSpace(tokens[1]), 16, 8)
	if err != nil {
		return FieldDef{}, fmt.Errorf("parse field def %q: type: %w", s, ErrFieldDefSyntax)
	}
	fd.Type = FieldType(ftype)

	index, err := strconv.ParseUint(strings.TrimSpace(tokens[2]), 10, 8)
	if err != nil {
		return FieldDef{}, fmt.Errorf("parse field def %q: index: %w", s, ErrFieldDefSyntax)
	}
	fd.Index = uint8(index)

	length, err := strconv.ParseUint(strings.TrimSpace(tokens[3]), 10, 8)
	if err != nil {
		return FieldDef{}, fmt.Errorf("parse field def %q: length: %w", s, ErrFieldDefSyntax)
	}
	if length < 1 || length > 8 {
		return FieldDef{}, fmt.Errorf("parse field def %q: length %d: %w",
			s, length, ErrFieldDefLength)
	}
	fd.Length = uint8(length)

	return fd, nil
}
