package dmtp

import "fmt"

// -------------------------------------------------------------------------
// NAK Codes — server error codes returned to the device
// -------------------------------------------------------------------------

// NakCode is the 16-bit error code carried in a server NAK packet.
// Codes are grouped by level: 0xF1xx packet, 0xF3xx schema, 0xF5xx
// policy/identity, 0xF6xx storage.
type NakCode uint16

const (
	// NakPacketHeader indicates an unrecognized packet header byte.
	NakPacketHeader NakCode = 0xF111

	// NakPacketType indicates a packet type invalid in the current context.
	NakPacketType NakCode = 0xF112

	// NakPacketLength indicates a declared length exceeding the available data.
	NakPacketLength NakCode = 0xF113

	// NakPacketPayload indicates a missing or empty packet payload.
	NakPacketPayload NakCode = 0xF115

	// NakFormatNotRecognized indicates no template is registered for the
	// packet's custom type.
	NakFormatNotRecognized NakCode = 0xF311

	// NakFormatDefinitionInvalid indicates a template entry with an
	// unrecognized field type.
	NakFormatDefinitionInvalid NakCode = 0xF312

	// NakAccountInvalid indicates the account could not be identified.
	NakAccountInvalid NakCode = 0xF511

	// NakDeviceInvalid indicates the device could not be identified.
	NakDeviceInvalid NakCode = 0xF512

	// NakDeviceInactive indicates the device or its account is disabled.
	NakDeviceInactive NakCode = 0xF513

	// NakExcessiveConnections indicates the absolute connection quota was hit.
	NakExcessiveConnections NakCode = 0xF521

	// NakExcessiveRate indicates the per-minute connection ceiling was hit.
	NakExcessiveRate NakCode = 0xF522

	// NakExcessiveEvents indicates the event quota for the limit interval
	// was hit.
	NakExcessiveEvents NakCode = 0xF523

	// NakInsertFailed indicates the event could not be persisted. The
	// device may retransmit.
	NakInsertFailed NakCode = 0xF611
)

// nakNames maps NAK codes to human-readable descriptions for logs and
// administrative tools. Devices receive only the numeric code.
var nakNames = map[NakCode]string{
	NakPacketHeader:            "invalid packet header",
	NakPacketType:              "invalid packet type",
	NakPacketLength:            "invalid packet length",
	NakPacketPayload:           "invalid packet payload",
	NakFormatNotRecognized:     "custom format not recognized",
	NakFormatDefinitionInvalid: "custom format definition invalid",
	NakAccountInvalid:          "account not found",
	NakDeviceInvalid:           "device not found",
	NakDeviceInactive:          "device inactive",
	NakExcessiveConnections:    "connection quota exceeded",
	NakExcessiveRate:           "connection rate limit exceeded",
	NakExcessiveEvents:         "event quota exceeded",
	NakInsertFailed:            "event insert failed",
}

// String returns the human-readable description for the NAK code.
func (nc NakCode) String() string {
	if name, ok := nakNames[nc]; ok {
		return name
	}
	return fmt.Sprintf("nak(0x%04X)", uint16(nc))
}

// -------------------------------------------------------------------------
// DecodeError — typed decoder failure
// -------------------------------------------------------------------------

// DecodeError is raised by the event decoder. It carries the NAK code for
// the session handler, the packet type it was decoding, and, for
// NakFormatDefinitionInvalid, the offending field type byte.
type DecodeError struct {
	// Code is the NAK code surfaced to the device.
	Code NakCode

	// PacketType is the custom packet type being decoded.
	PacketType uint8

	// FieldType is the unrecognized field type byte. Only meaningful when
	// Code is NakFormatDefinitionInvalid.
	FieldType uint8
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Code == NakFormatDefinitionInvalid {
		return fmt.Sprintf("decode packet 0x%02X: %s: field type 0x%02X",
			e.PacketType, e.Code, e.FieldType)
	}
	return fmt.Sprintf("decode packet 0x%02X: %s", e.PacketType, e.Code)
}

// NakOf extracts the NAK code from err, walking wrapped errors. Returns
// (0, false) when err carries no NAK code.
func NakOf(err error) (NakCode, bool) {
	for err != nil {
		if coder, ok := err.(interface{ Nak() NakCode }); ok {
			return coder.Nak(), true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return 0, false
}

// Nak returns the NAK code, satisfying the NakOf contract.
func (e *DecodeError) Nak() NakCode { return e.Code }
