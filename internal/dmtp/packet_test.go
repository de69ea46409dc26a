package dmtp_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dantte-lp/godmtp/internal/dmtp"
)

// -------------------------------------------------------------------------
// TestPacketEncodeDecodeRoundTrip
// -------------------------------------------------------------------------

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pkt  *dmtp.Packet
	}{
		{
			name: "client ident",
			pkt:  dmtp.NewClientPacket(dmtp.PktClientDeviceID, []byte("truck-07")),
		},
		{
			name: "client fixed format event",
			pkt: dmtp.NewClientPacket(dmtp.PktClientFixedFmtStd,
				[]byte{0xF0, 0x20, 0x44, 0x5E, 0x0A, 0x80}),
		},
		{
			name: "client end of block empty payload",
			pkt:  dmtp.NewClientPacket(dmtp.PktClientEOBDone, nil),
		},
		{
			name: "server ack",
			pkt:  dmtp.NewServerPacket(dmtp.PktServerAck, []byte{0x02}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wire := tt.pkt.Encode()
			got, n, err := dmtp.DecodePacket(wire)
			if err != nil {
				t.Fatalf("DecodePacket: %v", err)
			}
			if n != len(wire) {
				t.Errorf("consumed %d of %d bytes", n, len(wire))
			}
			if got.Header != tt.pkt.Header || got.Type != tt.pkt.Type {
				t.Errorf("header/type = %02X/%02X, want %02X/%02X",
					got.Header, got.Type, tt.pkt.Header, tt.pkt.Type)
			}
			if !bytes.Equal(got.Payload, tt.pkt.Payload) && len(tt.pkt.Payload) > 0 {
				t.Errorf("payload = % X, want % X", got.Payload, tt.pkt.Payload)
			}
		})
	}
}

// -------------------------------------------------------------------------
// TestDecodePacketErrors
// -------------------------------------------------------------------------

func TestDecodePacketErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		wire    []byte
		wantErr error
	}{
		{name: "empty buffer", wire: nil, wantErr: dmtp.ErrPacketTruncated},
		{name: "short header", wire: []byte{0xE0, 0x30}, wantErr: dmtp.ErrPacketTruncated},
		{name: "bad header byte", wire: []byte{0x7E, 0x30, 0x00}, wantErr: dmtp.ErrBadHeader},
		{
			name:    "declared length exceeds buffer",
			wire:    []byte{0xE0, 0x30, 0x05, 0x01, 0x02},
			wantErr: dmtp.ErrPacketTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, _, err := dmtp.DecodePacket(tt.wire); !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodePacket(% X) error = %v, want %v", tt.wire, err, tt.wantErr)
			}
		})
	}
}

// -------------------------------------------------------------------------
// TestReadPacket — stream framing
// -------------------------------------------------------------------------

func TestReadPacket(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	first := dmtp.NewClientPacket(dmtp.PktClientAccountID, []byte("acme"))
	second := dmtp.NewClientPacket(dmtp.PktClientEOBDone, nil)
	stream.Write(first.Encode())
	stream.Write(second.Encode())

	got, err := dmtp.ReadPacket(&stream)
	if err != nil {
		t.Fatalf("first ReadPacket: %v", err)
	}
	if got.Type != dmtp.PktClientAccountID || string(got.Payload) != "acme" {
		t.Errorf("first packet = %+v", got)
	}

	got, err = dmtp.ReadPacket(&stream)
	if err != nil {
		t.Fatalf("second ReadPacket: %v", err)
	}
	if got.Type != dmtp.PktClientEOBDone || len(got.Payload) != 0 {
		t.Errorf("second packet = %+v", got)
	}

	// Clean stream end at a frame boundary surfaces as plain io.EOF.
	if _, err = dmtp.ReadPacket(&stream); err != io.EOF {
		t.Errorf("at stream end: %v, want io.EOF", err)
	}

	// A header cut mid-payload is a truncation, not EOF.
	stream.Write(first.Encode()[:5])
	if _, err = dmtp.ReadPacket(&stream); !errors.Is(err, dmtp.ErrPacketTruncated) {
		t.Errorf("mid-payload cut: %v, want ErrPacketTruncated", err)
	}
}

// -------------------------------------------------------------------------
// TestPacketClassification — event and ident predicates
// -------------------------------------------------------------------------

func TestPacketClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		pkt       *dmtp.Packet
		wantEvent bool
		wantIdent bool
	}{
		{
			name:      "fixed format std",
			pkt:       dmtp.NewClientPacket(dmtp.PktClientFixedFmtStd, nil),
			wantEvent: true,
		},
		{
			name:      "fixed format high",
			pkt:       dmtp.NewClientPacket(dmtp.PktClientFixedFmtHigh, nil),
			wantEvent: true,
		},
		{
			name:      "first custom type",
			pkt:       dmtp.NewClientPacket(0x70, nil),
			wantEvent: true,
		},
		{
			name:      "last custom type",
			pkt:       dmtp.NewClientPacket(0x7F, nil),
			wantEvent: true,
		},
		{
			name: "format definition is not an event",
			pkt:  dmtp.NewClientPacket(dmtp.PktClientFormatDef, nil),
		},
		{
			name:      "device ident",
			pkt:       dmtp.NewClientPacket(dmtp.PktClientDeviceID, nil),
			wantIdent: true,
		},
		{
			name:      "account ident",
			pkt:       dmtp.NewClientPacket(dmtp.PktClientAccountID, nil),
			wantIdent: true,
		},
		{
			name: "server packet is never an event",
			pkt:  dmtp.NewServerPacket(dmtp.PktServerAck, nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.pkt.IsEvent(); got != tt.wantEvent {
				t.Errorf("IsEvent() = %v, want %v", got, tt.wantEvent)
			}
			if got := tt.pkt.IsIdent(); got != tt.wantIdent {
				t.Errorf("IsIdent() = %v, want %v", got, tt.wantIdent)
			}
		})
	}
}

// -------------------------------------------------------------------------
// TestFormatDefRoundTrip — wire form of uploaded custom formats
// -------------------------------------------------------------------------

func TestFormatDefRoundTrip(t *testing.T) {
	t.Parallel()

	want := dmtp.NewTemplate(0x72, []dmtp.FieldDef{
		{Type: dmtp.FieldTimestamp, Length: 4},
		{Type: dmtp.FieldGPSPoint, Length: 6},
		{Type: dmtp.FieldSpeed, HiRes: true, Length: 2},
		{Type: dmtp.FieldTempAvg, HiRes: true, Index: 1, Length: 2},
	}, true)

	got, err := dmtp.DecodeFormatDef(dmtp.EncodeFormatDef(want))
	if err != nil {
		t.Fatalf("DecodeFormatDef: %v", err)
	}
	if got.PacketType() != want.PacketType() {
		t.Errorf("packet type = 0x%02X, want 0x%02X", got.PacketType(), want.PacketType())
	}
	if got.RepeatLast() != want.RepeatLast() {
		t.Errorf("repeatLast = %v, want %v", got.RepeatLast(), want.RepeatLast())
	}
	if diff := cmp.Diff(want.Fields(), got.Fields()); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeFormatDefErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{name: "empty payload", payload: nil, wantErr: dmtp.ErrFormatDefPayload},
		{
			name:    "custom type below range",
			payload: []byte{0x30, 0x00, 0x01, 0x02, 0x00, 0x04},
			wantErr: dmtp.ErrFormatDefPayload,
		},
		{
			name:    "zero field count",
			payload: []byte{0x70, 0x00, 0x00},
			wantErr: dmtp.ErrFormatDefPayload,
		},
		{
			name:    "declared fields exceed payload",
			payload: []byte{0x70, 0x00, 0x02, 0x02, 0x00, 0x04},
			wantErr: dmtp.ErrFormatDefPayload,
		},
		{
			name:    "field length out of range",
			payload: []byte{0x70, 0x00, 0x01, 0x02, 0x00, 0x09},
			wantErr: dmtp.ErrFieldDefLength,
		},
		{
			name:    "unrecognized field type",
			payload: []byte{0x70, 0x00, 0x01, 0xEE, 0x00, 0x04},
			wantErr: dmtp.ErrTemplateFieldType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := dmtp.DecodeFormatDef(tt.payload); !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeFormatDef(% X) error = %v, want %v", tt.payload, err, tt.wantErr)
			}
		})
	}
}

// -------------------------------------------------------------------------
// TestNewNak — NAK payload layout
// -------------------------------------------------------------------------

func TestNewNak(t *testing.T) {
	t.Parallel()

	pkt := dmtp.NewNak(dmtp.NakFormatDefinitionInvalid, 0x72, 0xEE)
	if pkt.Header != dmtp.HeaderServer || pkt.Type != dmtp.PktServerNak {
		t.Fatalf("header/type = %02X/%02X", pkt.Header, pkt.Type)
	}
	want := []byte{0xF3, 0x12, 0x72, 0xEE}
	if !bytes.Equal(pkt.Payload, want) {
		t.Errorf("payload = % X, want % X", pkt.Payload, want)
	}
}
