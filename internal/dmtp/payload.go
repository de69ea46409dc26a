package dmtp

// -------------------------------------------------------------------------
// Payload — bounded byte container with read/write cursor
// -------------------------------------------------------------------------

// MaxPayloadSize is the maximum DMTP packet payload size in bytes.
// The packet length field is a single byte, so payloads never exceed 255.
const MaxPayloadSize = 255

// Payload is a fixed-capacity byte buffer with a read/write cursor.
//
// A Payload is either a sink (constructed empty for encoding) or a source
// (wrapping received bytes for decoding). All multi-byte integers use
// big-endian byte order on the wire.
//
// Invariant: 0 <= cursor <= size <= capacity.
//
// Payloads are session-local and never shared between goroutines.
type Payload struct {
	buf    []byte
	size   int
	cursor int
}

// NewPayload creates an empty payload sink with the default capacity
// (MaxPayloadSize). Size and cursor start at zero.
func NewPayload() *Payload {
	return NewPayloadSize(MaxPayloadSize)
}

// NewPayloadSize creates an empty payload sink with the given capacity.
// Capacities outside (0, MaxPayloadSize] are clamped to MaxPayloadSize.
func NewPayloadSize(capacity int) *Payload {
	if capacity <= 0 || capacity > MaxPayloadSize {
		capacity = MaxPayloadSize
	}
	return &Payload{buf: make([]byte, capacity)}
}

// NewPayloadSource creates a payload source wrapping a copy of b.
// Size equals len(b) and the cursor starts at zero. A nil or empty b
// yields an empty payload.
func NewPayloadSource(b []byte) *Payload {
	buf := make([]byte, len(b))
	copy(buf, b)
	return &Payload{buf: buf, size: len(b)}
}

// Size returns the count of meaningful bytes: the write high-water mark
// for sinks, the source length for sources.
func (p *Payload) Size() int { return p.size }

// Cursor returns the current read/write position.
func (p *Payload) Cursor() int { return p.cursor }

// Capacity returns the construction-time maximum size.
func (p *Payload) Capacity() int { return len(p.buf) }

// Remaining returns the number of unread bytes (size - cursor).
func (p *Payload) Remaining() int { return p.size - p.cursor }

// Reset moves the cursor back to zero, leaving size untouched.
func (p *Payload) Reset() { p.cursor = 0 }

// Bytes returns a copy of the meaningful bytes (buf[0:size]).
func (p *Payload) Bytes() []byte {
	out := make([]byte, p.size)
	copy(out, p.buf[:p.size])
	return out
}

// -------------------------------------------------------------------------
// Reads — all clip to the remaining bytes and advance the cursor by the
// consumed length. Reads at or past size return the default and do not
// advance.
// -------------------------------------------------------------------------

// ReadULong reads up to n bytes big-endian as an unsigned integer.
// Returns def when nothing can be consumed.
func (p *Payload) ReadULong(n int, def uint64) uint64 {
	m := p.clipRead(n)
	if m <= 0 {
		return def
	}
	var v uint64
	for _, b := range p.buf[p.cursor : p.cursor+m] {
		v = v<<8 | uint64(b)
	}
	p.cursor += m
	return v
}

// ReadLong reads up to n bytes big-endian as a signed integer,
// sign-extending from bit 7 of the first consumed byte.
// Returns def when nothing can be consumed.
func (p *Payload) ReadLong(n int, def int64) int64 {
	m := p.clipRead(n)
	if m <= 0 {
		return def
	}
	var v int64
	if p.buf[p.cursor]&0x80 != 0 {
		v = -1 // sign-extend
	}
	for _, b := range p.buf[p.cursor : p.cursor+m] {
		v = v<<8 | int64(b)
	}
	p.cursor += m
	return v
}

// ReadBytes copies up to n remaining bytes and advances the cursor by the
// copied length. Returns an empty (non-nil) slice when nothing remains.
func (p *Payload) ReadBytes(n int) []byte {
	m := p.clipRead(n)
	if m <= 0 {
		return []byte{}
	}
	out := make([]byte, m)
	copy(out, p.buf[p.cursor:p.cursor+m])
	p.cursor += m
	return out
}

// ReadString reads up to n bytes or until a zero byte, whichever comes
// first. The terminator is consumed when present but not included in the
// returned string.
func (p *Payload) ReadString(n int) string {
	m := p.clipRead(n)
	if m <= 0 {
		return ""
	}
	b := p.buf[p.cursor : p.cursor+m]
	for i, c := range b {
		if c == 0 {
			p.cursor += i + 1 // include terminator
			return string(b[:i])
		}
	}
	p.cursor += m
	return string(b)
}

// ReadGPS reads a compact GPS point: the 6-byte form when n < 8, the
// 8-byte form otherwise. When fewer bytes remain than the selected form
// requires, the cursor still advances past whatever was present and the
// zero GeoPoint ("unknown") is returned.
func (p *Payload) ReadGPS(n int) GeoPoint {
	length := gpsEncodedLen(n)
	m := p.clipRead(length)
	if m < length {
		if m > 0 {
			p.cursor += m
		}
		return GeoPoint{}
	}
	var gp GeoPoint
	if length == gpsLen8 {
		gp = decodeGPS8(p.buf[p.cursor : p.cursor+gpsLen8])
	} else {
		gp = decodeGPS6(p.buf[p.cursor : p.cursor+gpsLen6])
	}
	p.cursor += length
	return gp
}

// clipRead returns how many bytes a read of n may consume.
func (p *Payload) clipRead(n int) int {
	if n <= 0 {
		return 0
	}
	return min(n, p.size-p.cursor)
}

// -------------------------------------------------------------------------
// Writes — all advance the cursor and raise size to match. A write that
// does not fit returns 0 and leaves the cursor unchanged.
// -------------------------------------------------------------------------

// WriteULong writes the low n bytes of v big-endian.
// Returns the number of bytes written (n, or 0 on insufficient space).
func (p *Payload) WriteULong(v uint64, n int) int {
	if n <= 0 || n > 8 || p.cursor+n > len(p.buf) {
		return 0
	}
	for i := n - 1; i >= 0; i-- {
		p.buf[p.cursor+i] = byte(v)
		v >>= 8
	}
	p.advance(n)
	return n
}

// WriteLong writes the low n bytes of v big-endian (two's complement
// truncation). Returns the number of bytes written.
func (p *Payload) WriteLong(v int64, n int) int {
	return p.WriteULong(uint64(v), n)
}

// WriteBytes writes min(len(b), n) bytes of b and zero-pads the remainder
// of the n-byte field. Returns n, or 0 on insufficient space.
func (p *Payload) WriteBytes(b []byte, n int) int {
	if n <= 0 || p.cursor+n > len(p.buf) {
		return 0
	}
	m := copy(p.buf[p.cursor:p.cursor+n], b)
	for i := m; i < n; i++ {
		p.buf[p.cursor+i] = 0
	}
	p.advance(n)
	return n
}

// WriteString writes up to n bytes of s, followed by a single zero
// terminator when the string is shorter than the field. A string that
// fills the field exactly gets no terminator; decoders must not rely on
// one. Returns the number of bytes written including the terminator.
func (p *Payload) WriteString(s string, n int) int {
	if n <= 0 {
		return 0
	}
	b := []byte(s)
	m := min(len(b), n)
	total := m
	if m < n {
		total = m + 1 // room for terminator
	}
	if p.cursor+total > len(p.buf) {
		return 0
	}
	copy(p.buf[p.cursor:], b[:m])
	if m < n {
		p.buf[p.cursor+m] = 0
	}
	p.advance(total)
	return total
}

// WriteGPS writes gp in the 6-byte form when n < 8, the 8-byte form
// otherwise. Coordinates outside the valid range are clamped before
// encoding. Returns the number of bytes written.
func (p *Payload) WriteGPS(gp GeoPoint, n int) int {
	length := gpsEncodedLen(n)
	if p.cursor+length > len(p.buf) {
		return 0
	}
	if length == gpsLen8 {
		encodeGPS8(p.buf[p.cursor:p.cursor+gpsLen8], gp)
	} else {
		encodeGPS6(p.buf[p.cursor:p.cursor+gpsLen6], gp)
	}
	p.advance(length)
	return length
}

// advance moves the cursor forward n bytes and raises size to the
// high-water mark.
func (p *Payload) advance(n int) {
	p.cursor += n
	if p.cursor > p.size {
		p.size = p.cursor
	}
}

// gpsEncodedLen selects the GPS encoding for a declared field length.
func gpsEncodedLen(n int) int {
	if n >= gpsLen8 {
		return gpsLen8
	}
	return gpsLen6
}
