package gate

import (
	"math/bits"
	"time"
)

// -------------------------------------------------------------------------
// Connection profile — rolling minute-slot bitmap
// -------------------------------------------------------------------------

// secondsPerSlot is the profile slot granularity.
const secondsPerSlot = 60

// DefaultProfileBytes sizes new profiles to cover four hours of
// one-minute slots.
const DefaultProfileBytes = 30

// Profile is a big-endian bit vector indexed by minute slot. Bit 0 (the
// least significant bit of the final byte) is the slot anchored at the
// last recorded connection time; higher bits are older slots. Recording
// a connection shifts the vector by the elapsed slots and sets bit 0.
//
// Profiles are owned by their device record and protected by the gate's
// per-device lock; they are not safe for unsynchronized concurrent use.
type Profile struct {
	bits []byte
}

// NewProfile creates an empty profile covering minutes slots, rounded up
// to a whole byte. Non-positive sizes get the default capacity.
func NewProfile(minutes int) *Profile {
	if minutes <= 0 {
		minutes = DefaultProfileBytes * 8
	}
	return &Profile{bits: make([]byte, (minutes+7)/8)}
}

// ProfileFromBytes wraps a persisted profile bitmap. The slice is copied.
// A nil or empty slice yields a default-capacity empty profile.
func ProfileFromBytes(b []byte) *Profile {
	if len(b) == 0 {
		return NewProfile(0)
	}
	bits := make([]byte, len(b))
	copy(bits, b)
	return &Profile{bits: bits}
}

// Bytes returns a copy of the bitmap for persistence.
func (p *Profile) Bytes() []byte {
	out := make([]byte, len(p.bits))
	copy(out, p.bits)
	return out
}

// Capacity returns the number of minute slots the profile covers.
func (p *Profile) Capacity() int { return len(p.bits) * 8 }

// slotOf maps an epoch-second time to its minute slot.
func slotOf(t int64) int64 { return t / secondsPerSlot }

// Advance ages the bitmap to time t, given the previous connection time
// last (zero when the device has never connected): the vector shifts by
// the elapsed slots, dropping slots older than the capacity. Counting
// after Advance sees windows anchored at t. Clock regressions shift by
// zero.
func (p *Profile) Advance(t time.Time, last int64) {
	delta := int64(0)
	if last > 0 {
		delta = slotOf(t.Unix()) - slotOf(last)
	}
	switch {
	case delta < 0:
		delta = 0
	case delta >= int64(p.Capacity()):
		clear(p.bits)
		delta = 0
	}
	p.shiftLeft(int(delta))
}

// Mark sets bit 0, the slot anchored at the last Advance time.
func (p *Profile) Mark() {
	p.bits[len(p.bits)-1] |= 0x01
}

// Record is Advance followed by Mark: age the bitmap to t, then note a
// connection in the current slot.
func (p *Profile) Record(t time.Time, last int64) {
	p.Advance(t, last)
	p.Mark()
}

// Count returns the number of connections recorded in the most recent
// minutes slots: the popcount of the low bits of the vector. Requests
// past the capacity count the whole profile.
func (p *Profile) Count(minutes int) int {
	if minutes <= 0 {
		return 0
	}
	if minutes > p.Capacity() {
		minutes = p.Capacity()
	}
	total := 0
	full := minutes / 8
	for i := 0; i < full; i++ {
		total += bits.OnesCount8(p.bits[len(p.bits)-1-i])
	}
	if rem := minutes % 8; rem > 0 {
		mask := byte(1<<rem) - 1
		total += bits.OnesCount8(p.bits[len(p.bits)-1-full] & mask)
	}
	return total
}

// shiftLeft moves every bit n positions toward the most significant end,
// zero-filling on the right and dropping bits past the capacity.
func (p *Profile) shiftLeft(n int) {
	if n <= 0 {
		return
	}
	size := len(p.bits)
	byteShift, bitShift := n/8, n%8
	for i := 0; i < size; i++ {
		src := i + byteShift
		var b byte
		if src < size {
			b = p.bits[src] << bitShift
			if bitShift > 0 && src+1 < size {
				b |= p.bits[src+1] >> (8 - bitShift)
			}
		}
		p.bits[i] = b
	}
}
