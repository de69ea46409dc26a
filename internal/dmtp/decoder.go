package dmtp

import (
	"encoding/hex"
	"strings"
	"time"
)

// -------------------------------------------------------------------------
// Event Decoder
// -------------------------------------------------------------------------

// TemplateSource resolves the payload template registered for a custom
// event packet type. A device record is the usual implementation.
type TemplateSource interface {
	EventTemplate(customType uint8) (*Template, bool)
}

// TemplateSourceFunc adapts a function to the TemplateSource interface.
type TemplateSourceFunc func(customType uint8) (*Template, bool)

// EventTemplate implements TemplateSource.
func (f TemplateSourceFunc) EventTemplate(customType uint8) (*Template, bool) {
	return f(customType)
}

// Decoder applies payload templates to event packets. The zero value is
// ready to use; the clock can be overridden for deterministic tests.
type Decoder struct {
	now func() time.Time
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithClock overrides the decoder's notion of current time, used for the
// default event timestamp.
func WithClock(now func() time.Time) DecoderOption {
	return func(d *Decoder) { d.now = now }
}

// NewDecoder builds a decoder.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode applies the template matching pkt's type to pkt's payload and
// returns the populated event record. Fixed-format packets use the two
// built-in templates; custom-format packets resolve their template
// through templates. Errors carry a NAK code retrievable with NakOf.
func (d *Decoder) Decode(pkt *Packet, templates TemplateSource) (*Event, error) {
	if !pkt.IsEvent() {
		return nil, &DecodeError{Code: NakPacketType, PacketType: pkt.Type}
	}
	if len(pkt.Payload) == 0 {
		return nil, &DecodeError{Code: NakPacketPayload, PacketType: pkt.Type}
	}

	var tmpl *Template
	switch pkt.Type {
	case PktClientFixedFmtStd:
		tmpl = FixedFormatStd()
	case PktClientFixedFmtHigh:
		tmpl = FixedFormatHigh()
	default:
		var ok bool
		if templates != nil {
			tmpl, ok = templates.EventTemplate(pkt.Type)
		}
		if !ok {
			return nil, &DecodeError{Code: NakFormatNotRecognized, PacketType: pkt.Type}
		}
	}

	ev := NewEvent()
	ev.SetString(KeyRawData, -1, strings.ToUpper(hex.EncodeToString(pkt.Payload)))
	ev.SetLong(fieldNames[FieldStatusCode], -1, int64(StatusNone))
	ev.SetLong(fieldNames[FieldTimestamp], -1, d.now().Unix())

	p := NewPayloadSource(pkt.Payload)
	var sawStatus, sawGPS bool
	seqLen := -1

	for pos := 0; p.Remaining() > 0; pos++ {
		fd, ok := tmpl.Field(pos)
		if !ok {
			break
		}
		if !fd.Type.Valid() {
			return nil, &DecodeError{
				Code:       NakFormatDefinitionInvalid,
				PacketType: pkt.Type,
				FieldType:  uint8(fd.Type),
			}
		}

		name := fd.Type.Name()
		idx := -1
		if fd.Type.Array() {
			idx = int(fd.Index)
			// Repeated trailing fields land in successive array slots.
			if over := pos - (tmpl.Len() - 1); over > 0 {
				idx += over
			}
		}
		n := int(fd.Length)

		switch fd.Type.Primitive() {
		case PrimitiveGPS:
			pt := p.ReadGPS(n)
			ev.SetGPS(pt)
			if pt.IsValid() {
				sawGPS = true
			}

		case PrimitiveString:
			ev.SetString(name, idx, p.ReadString(n))

		case PrimitiveBinary:
			ev.SetBytes(name, idx, p.ReadBytes(n))

		default:
			var raw int64
			if fd.Type.Signed() {
				raw = p.ReadLong(n, 0)
			} else {
				raw = int64(p.ReadULong(n, 0))
			}
			storeScaled(ev, fd, name, idx, raw)

			switch fd.Type {
			case FieldStatusCode:
				sawStatus = true
			case FieldSequence:
				seqLen = n
			}
		}
	}

	if !sawStatus {
		code := StatusNone
		if sawGPS {
			code = StatusLocation
		}
		ev.SetLong(fieldNames[FieldStatusCode], -1, int64(code))
	}
	if seqLen >= 0 {
		ev.SetLong(KeySequenceLength, -1, int64(seqLen))
	}
	return ev, nil
}

// storeScaled converts a raw integer field to its engineering value and
// stores it. Fields with no scaling rule are stored as raw integers.
func storeScaled(ev *Event, fd FieldDef, name string, idx int, raw int64) {
	f := float64(raw)
	switch fd.Type {
	case FieldSpeed, FieldTopSpeed, FieldDistance,
		FieldGPSHorzAcc, FieldGPSVertAcc:
		if fd.HiRes {
			ev.SetDouble(name, idx, f/10.0)
		} else {
			ev.SetDouble(name, idx, f)
		}

	case FieldAltitude, FieldGPSGeoidHeight,
		FieldTempLow, FieldTempHigh, FieldTempAvg:
		if fd.HiRes {
			ev.SetDouble(name, idx, f/10.0)
		} else {
			ev.SetDouble(name, idx, f)
		}

	case FieldHeading:
		if fd.HiRes {
			ev.SetDouble(name, idx, f/100.0)
		} else {
			ev.SetDouble(name, idx, f*360.0/255.0)
		}

	case FieldElapsedTime:
		// Low resolution reports seconds, stored as milliseconds.
		// High resolution is carried through in its raw units.
		if fd.HiRes {
			ev.SetLong(name, idx, raw)
		} else {
			ev.SetLong(name, idx, raw*1000)
		}

	case FieldGPSMagVariation:
		ev.SetDouble(name, idx, f/100.0)

	case FieldGPSPDOP, FieldGPSHDOP, FieldGPSVDOP:
		ev.SetDouble(name, idx, f/10.0)

	default:
		ev.SetLong(name, idx, raw)
	}
}
