package dmtp

import (
	"encoding/hex"
	"sort"
	"strconv"
)

// -------------------------------------------------------------------------
// Event — dynamic typed value bag
// -------------------------------------------------------------------------

// valueKind tags the storage variant of an event value.
type valueKind uint8

const (
	kindLong valueKind = iota + 1
	kindDouble
	kindBytes
	kindString
)

// eventValue is the tagged variant stored per field.
type eventValue struct {
	kind valueKind
	i    int64
	f    float64
	b    []byte
	s    string
}

// Event is a mapping from field name (plus optional array index) to a
// typed value: signed 64-bit integer, double, byte array, or string.
// Accessors coerce between numeric storage on read and return the
// supplied default on a missing key.
//
// Events are session-local and never shared between goroutines.
type Event struct {
	values map[string]eventValue
}

// NewEvent creates an empty event record.
func NewEvent() *Event {
	return &Event{values: make(map[string]eventValue)}
}

// FieldKey builds the physical map key: "<name>.<index>" for array
// values (index >= 0), the bare name otherwise.
func FieldKey(name string, index int) string {
	if index < 0 {
		return name
	}
	return name + "." + strconv.Itoa(index)
}

// SetLong stores a signed integer value. Pass index -1 for scalar fields.
func (e *Event) SetLong(name string, index int, v int64) {
	e.values[FieldKey(name, index)] = eventValue{kind: kindLong, i: v}
}

// SetDouble stores a double value. Pass index -1 for scalar fields.
func (e *Event) SetDouble(name string, index int, v float64) {
	e.values[FieldKey(name, index)] = eventValue{kind: kindDouble, f: v}
}

// SetBytes stores a byte-array value (copied). Pass index -1 for scalar
// fields.
func (e *Event) SetBytes(name string, index int, v []byte) {
	b := make([]byte, len(v))
	copy(b, v)
	e.values[FieldKey(name, index)] = eventValue{kind: kindBytes, b: b}
}

// SetString stores a string value. Pass index -1 for scalar fields.
func (e *Event) SetString(name string, index int, v string) {
	e.values[FieldKey(name, index)] = eventValue{kind: kindString, s: v}
}

// SetGPS stores a point as two double entries under the canonical
// latitude/longitude keys.
func (e *Event) SetGPS(gp GeoPoint) {
	e.SetDouble(KeyLatitude, -1, gp.Latitude)
	e.SetDouble(KeyLongitude, -1, gp.Longitude)
}

// Has reports whether a value is stored under (name, index).
func (e *Event) Has(name string, index int) bool {
	_, ok := e.values[FieldKey(name, index)]
	return ok
}

// Len returns the number of stored values.
func (e *Event) Len() int { return len(e.values) }

// Keys returns the stored physical keys in sorted order.
func (e *Event) Keys() []string {
	keys := make([]string, 0, len(e.values))
	for k := range e.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetLong returns the value under (name, index) as a signed integer,
// truncating double storage. String storage parses as a decimal integer.
// Returns def on a missing key or unconvertible value.
func (e *Event) GetLong(name string, index int, def int64) int64 {
	v, ok := e.values[FieldKey(name, index)]
	if !ok {
		return def
	}
	switch v.kind {
	case kindLong:
		return v.i
	case kindDouble:
		return int64(v.f)
	case kindString:
		if n, err := strconv.ParseInt(v.s, 10, 64); err == nil {
			return n
		}
	case kindBytes:
		// no numeric interpretation
	}
	return def
}

// GetDouble returns the value under (name, index) as a double, widening
// integer storage. Returns def on a missing key or unconvertible value.
func (e *Event) GetDouble(name string, index int, def float64) float64 {
	v, ok := e.values[FieldKey(name, index)]
	if !ok {
		return def
	}
	switch v.kind {
	case kindDouble:
		return v.f
	case kindLong:
		return float64(v.i)
	case kindString:
		if f, err := strconv.ParseFloat(v.s, 64); err == nil {
			return f
		}
	case kindBytes:
		// no numeric interpretation
	}
	return def
}

// GetString returns the value under (name, index) as a string. Numeric
// storage formats in decimal; byte-array storage stringifies as
// "0x" + hex. Returns def on a missing key.
func (e *Event) GetString(name string, index int, def string) string {
	v, ok := e.values[FieldKey(name, index)]
	if !ok {
		return def
	}
	switch v.kind {
	case kindString:
		return v.s
	case kindLong:
		return strconv.FormatInt(v.i, 10)
	case kindDouble:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case kindBytes:
		return "0x" + hex.EncodeToString(v.b)
	}
	return def
}

// GetBytes returns the value under (name, index) as a byte array (copy).
// String storage returns its raw bytes. Returns def for numeric storage
// or a missing key.
func (e *Event) GetBytes(name string, index int, def []byte) []byte {
	v, ok := e.values[FieldKey(name, index)]
	if !ok {
		return def
	}
	switch v.kind {
	case kindBytes:
		b := make([]byte, len(v.b))
		copy(b, v.b)
		return b
	case kindString:
		return []byte(v.s)
	case kindLong, kindDouble:
		// no byte interpretation
	}
	return def
}

// GPS returns the stored GPS point, or the zero point when no location
// was decoded.
func (e *Event) GPS() GeoPoint {
	return GeoPoint{
		Latitude:  e.GetDouble(KeyLatitude, -1, 0),
		Longitude: e.GetDouble(KeyLongitude, -1, 0),
	}
}

// StatusCode returns the stored status code, defaulting to StatusNone.
func (e *Event) StatusCode() StatusCode {
	return StatusCode(e.GetLong(FieldStatusCode.Name(), -1, int64(StatusNone)))
}

// Timestamp returns the stored event time in epoch seconds, or 0.
func (e *Event) Timestamp() int64 {
	return e.GetLong(FieldTimestamp.Name(), -1, 0)
}
