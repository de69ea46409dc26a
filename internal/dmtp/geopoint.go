package dmtp

import "math"

// -------------------------------------------------------------------------
// GeoPoint — compact GPS encoding
// -------------------------------------------------------------------------

// GPS encoded lengths. The 6-byte form packs each coordinate in 24 bits
// (~2 m round-trip precision); the 8-byte form uses 32 bits (~1 cm).
const (
	gpsLen6 = 6
	gpsLen8 = 8
)

// Coordinate scale factors: the full unsigned range of the packed width
// mapped over the coordinate span.
const (
	gpsScale24 = 16777215.0   // 2^24 - 1
	gpsScale32 = 4294967295.0 // 2^32 - 1
)

// GeoPoint is a (latitude, longitude) pair in decimal degrees.
// The zero value denotes "unknown location" by protocol convention.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// IsValid reports whether the point holds an actual fix. The zero point
// is the conventional "no GPS present" marker and is not valid.
func (gp GeoPoint) IsValid() bool {
	if gp.Latitude == 0 && gp.Longitude == 0 {
		return false
	}
	return gp.Latitude >= -90 && gp.Latitude <= 90 &&
		gp.Longitude >= -180 && gp.Longitude <= 180
}

// encodeGPS6 packs gp into buf[0:6]: 24 bits per coordinate, big-endian.
// Coordinates are clamped to +/-90 and +/-180 before encoding.
func encodeGPS6(buf []byte, gp GeoPoint) {
	lat := uint32(math.Round((clamp(gp.Latitude, -90, 90) + 90.0) * gpsScale24 / 180.0))
	lon := uint32(math.Round((clamp(gp.Longitude, -180, 180) + 180.0) * gpsScale24 / 360.0))
	buf[0] = byte(lat >> 16)
	buf[1] = byte(lat >> 8)
	buf[2] = byte(lat)
	buf[3] = byte(lon >> 16)
	buf[4] = byte(lon >> 8)
	buf[5] = byte(lon)
}

// decodeGPS6 unpacks a 6-byte point. An all-zero encoding decodes to the
// zero GeoPoint ("unknown") rather than (-90, -180).
func decodeGPS6(buf []byte) GeoPoint {
	lat := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	lon := uint32(buf[3])<<16 | uint32(buf[4])<<8 | uint32(buf[5])
	if lat == 0 && lon == 0 {
		return GeoPoint{}
	}
	return GeoPoint{
		Latitude:  float64(lat)*180.0/gpsScale24 - 90.0,
		Longitude: float64(lon)*360.0/gpsScale24 - 180.0,
	}
}

// encodeGPS8 packs gp into buf[0:8]: 32 bits per coordinate, big-endian.
func encodeGPS8(buf []byte, gp GeoPoint) {
	lat := uint32(math.Round((clamp(gp.Latitude, -90, 90) + 90.0) * gpsScale32 / 180.0))
	lon := uint32(math.Round((clamp(gp.Longitude, -180, 180) + 180.0) * gpsScale32 / 360.0))
	buf[0] = byte(lat >> 24)
	buf[1] = byte(lat >> 16)
	buf[2] = byte(lat >> 8)
	buf[3] = byte(lat)
	buf[4] = byte(lon >> 24)
	buf[5] = byte(lon >> 16)
	buf[6] = byte(lon >> 8)
	buf[7] = byte(lon)
}

// decodeGPS8 unpacks an 8-byte point. An all-zero encoding decodes to the
// zero GeoPoint.
func decodeGPS8(buf []byte) GeoPoint {
	lat := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	lon := uint32(buf[4])<<24 | uint32(buf[5])<<16 | uint32(buf[6])<<8 | uint32(buf[7])
	if lat == 0 && lon == 0 {
		return GeoPoint{}
	}
	return GeoPoint{
		Latitude:  float64(lat)*180.0/gpsScale32 - 90.0,
		Longitude: float64(lon)*360.0/gpsScale32 - 180.0,
	}
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
