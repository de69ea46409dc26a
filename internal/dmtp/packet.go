package dmtp

import (
	"errors"
	"fmt"
	"io"
)

// -------------------------------------------------------------------------
// Packet Framing
// -------------------------------------------------------------------------

// Packet header bytes. Every DMTP packet opens with the direction header
// followed by the packet type and the one-byte payload length.
const (
	// HeaderClient opens packets sent by the device.
	HeaderClient byte = 0xE0

	// HeaderServer opens packets sent by the server.
	HeaderServer byte = 0xE1
)

// headerLen is the fixed frame prefix: header + type + payload length.
const headerLen = 3

// Client packet types.
const (
	// PktClientEOBDone ends a block with nothing further to send.
	PktClientEOBDone byte = 0x00

	// PktClientEOBMore ends a block with more events pending.
	PktClientEOBMore byte = 0x01

	// PktClientUniqueID identifies the device by opaque unique ID bytes.
	PktClientUniqueID byte = 0x11

	// PktClientAccountID identifies the account by its string identifier.
	PktClientAccountID byte = 0x12

	// PktClientDeviceID identifies the device by its string identifier.
	PktClientDeviceID byte = 0x13

	// PktClientFixedFmtStd is a standard-resolution fixed-format event.
	PktClientFixedFmtStd byte = 0x30

	// PktClientFixedFmtHigh is a high-resolution fixed-format event.
	PktClientFixedFmtHigh byte = 0x31

	// PktClientFormatDef uploads a custom format definition. Payload:
	// custom type, flags (bit 0 = repeat last), field count, then three
	// bytes per field: type, hi-res bit + array index, byte length.
	PktClientFormatDef byte = 0x60

	// PktClientCustomFirst and PktClientCustomLast bound the custom-format
	// event range. The packet type doubles as the custom type the device
	// negotiated via PktClientFormatDef.
	PktClientCustomFirst byte = 0x70
	PktClientCustomLast  byte = 0x7F
)

// Server packet types.
const (
	// PktServerEOB acknowledges a client end-of-block.
	PktServerEOB byte = 0x00

	// PktServerAck acknowledges received events. The payload optionally
	// echoes the last acknowledged sequence bytes.
	PktServerAck byte = 0xA0

	// PktServerNak reports an error. Payload: 2-byte NAK code, optionally
	// followed by diagnostic bytes (the offending packet type, or the
	// unrecognized field type byte).
	PktServerNak byte = 0xE0

	// PktServerEOT ends the session after a final client EOB.
	PktServerEOT byte = 0xFF
)

// Framing errors.
var (
	// ErrBadHeader indicates a frame not opening with a DMTP header byte.
	ErrBadHeader = errors.New("invalid packet header byte")

	// ErrPacketTruncated indicates a frame shorter than its declared length.
	ErrPacketTruncated = errors.New("packet truncated")
)

// Packet is one framed DMTP packet.
type Packet struct {
	// Header is HeaderClient or HeaderServer.
	Header byte

	// Type is the packet type byte. For custom-format event packets this
	// is also the custom type the payload template is registered under.
	Type byte

	// Payload is the packet body, at most MaxPayloadSize bytes.
	Payload []byte
}

// NewClientPacket builds a client-direction packet.
func NewClientPacket(ptype byte, payload []byte) *Packet {
	return &Packet{Header: HeaderClient, Type: ptype, Payload: payload}
}

// NewServerPacket builds a server-direction packet.
func NewServerPacket(ptype byte, payload []byte) *Packet {
	return &Packet{Header: HeaderServer, Type: ptype, Payload: payload}
}

// NewNak builds a server NAK for the given code. ptype echoes the
// offending client packet type; diag carries optional diagnostic bytes.
func NewNak(code NakCode, ptype byte, diag ...byte) *Packet {
	payload := make([]byte, 0, 3+len(diag))
	payload = append(payload, byte(code>>8), byte(code), ptype)
	payload = append(payload, diag...)
	return NewServerPacket(PktServerNak, payload)
}

// IsEvent reports whether the packet carries an event record: a fixed
// format or a custom-format type.
func (p *Packet) IsEvent() bool {
	if p.Header != HeaderClient {
		return false
	}
	if p.Type == PktClientFixedFmtStd || p.Type == PktClientFixedFmtHigh {
		return true
	}
	return p.Type >= PktClientCustomFirst && p.Type <= PktClientCustomLast
}

// IsIdent reports whether the packet identifies the account or device.
func (p *Packet) IsIdent() bool {
	return p.Header == HeaderClient &&
		(p.Type == PktClientUniqueID || p.Type == PktClientAccountID ||
			p.Type == PktClientDeviceID)
}

// Encode serializes the packet. Payloads longer than MaxPayloadSize are
// truncated to the frame limit.
func (p *Packet) Encode() []byte {
	payload := p.Payload
	if len(payload) > MaxPayloadSize {
		payload = payload[:MaxPayloadSize]
	}
	out := make([]byte, headerLen+len(payload))
	out[0] = p.Header
	out[1] = p.Type
	out[2] = byte(len(payload))
	copy(out[headerLen:], payload)
	return out
}

// DecodePacket decodes one packet from the front of buf, returning the
// packet and the number of bytes consumed. The payload aliases buf.
func DecodePacket(buf []byte) (*Packet, int, error) {
	if len(buf) < headerLen {
		return nil, 0, fmt.Errorf("decode packet: %d bytes: %w", len(buf), ErrPacketTruncated)
	}
	if buf[0] != HeaderClient && buf[0] != HeaderServer {
		return nil, 0, fmt.Errorf("decode packet: header 0x%02X: %w", buf[0], ErrBadHeader)
	}
	plen := int(buf[2])
	total := headerLen + plen
	if len(buf) < total {
		return nil, 0, fmt.Errorf("decode packet: need %d bytes, have %d: %w",
			total, len(buf), ErrPacketTruncated)
	}
	return &Packet{
		Header:  buf[0],
		Type:    buf[1],
		Payload: buf[headerLen:total],
	}, total, nil
}

// ReadPacket reads one framed packet from r. Returns io.EOF unmodified
// when the stream ends cleanly at a frame boundary.
func ReadPacket(r io.Reader) (*Packet, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read packet header: %w", err)
	}
	if hdr[0] != HeaderClient && hdr[0] != HeaderServer {
		return nil, fmt.Errorf("read packet: header 0x%02X: %w", hdr[0], ErrBadHeader)
	}
	payload := make([]byte, int(hdr[2]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read packet payload: %w", ErrPacketTruncated)
	}
	return &Packet{Header: hdr[0], Type: hdr[1], Payload: payload}, nil
}

// -------------------------------------------------------------------------
// Format definition payload
// -------------------------------------------------------------------------

// Format definition payload layout constants.
const (
	formatDefPrefix    = 3 // custom type + flags + field count
	formatDefFieldSize = 3 // type + (hiRes|index) + length

	formatDefFlagRepeatLast = 0x01
	formatDefHiResBit       = 0x80
	formatDefIndexMask      = 0x7F
)

// ErrFormatDefPayload indicates a malformed format definition payload.
var ErrFormatDefPayload = errors.New("malformed format definition payload")

// DecodeFormatDef parses a PktClientFormatDef payload into a template.
// The custom type carried in the payload must fall in the custom event
// packet range.
func DecodeFormatDef(payload []byte) (*Template, error) {
	if len(payload) < formatDefPrefix {
		return nil, fmt.Errorf("format def: %d bytes: %w", len(payload), ErrFormatDefPayload)
	}
	customType := payload[0]
	if customType < PktClientCustomFirst || customType > PktClientCustomLast {
		return nil, fmt.Errorf("format def: custom type 0x%02X: %w",
			customType, ErrFormatDefPayload)
	}
	repeatLast := payload[1]&formatDefFlagRepeatLast != 0
	count := int(payload[2])
	if count == 0 || len(payload) < formatDefPrefix+count*formatDefFieldSize {
		return nil, fmt.Errorf("format def: %d fields in %d bytes: %w",
			count, len(payload), ErrFormatDefPayload)
	}

	fields := make([]FieldDef, 0, count)
	for i := range count {
		off := formatDefPrefix + i*formatDefFieldSize
		length := payload[off+2]
		if length < 1 || length > 8 {
			return nil, fmt.Errorf("format def field %d: length %d: %w",
				i, length, ErrFieldDefLength)
		}
		fields = append(fields, FieldDef{
			Type:   FieldType(payload[off]),
			HiRes:  payload[off+1]&formatDefHiResBit != 0,
			Index:  payload[off+1] & formatDefIndexMask,
			Length: length,
		})
	}

	tmpl := NewTemplate(customType, fields, repeatLast)
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// EncodeFormatDef serializes a template as a PktClientFormatDef payload.
// The inverse of DecodeFormatDef; used by tests and administrative tools.
func EncodeFormatDef(t *Template) []byte {
	fields := t.Fields()
	payload := make([]byte, formatDefPrefix, formatDefPrefix+len(fields)*formatDefFieldSize)
	payload[0] = t.PacketType()
	if t.RepeatLast() {
		payload[1] = formatDefFlagRepeatLast
	}
	payload[2] = byte(len(fields))
	for _, fd := range fields {
		mid := fd.Index & formatDefIndexMask
		if fd.HiRes {
			mid |= formatDefHiResBit
		}
		payload = append(payload, byte(fd.Type), mid, fd.Length)
	}
	return payload
}
