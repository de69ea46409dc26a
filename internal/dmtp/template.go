package dmtp

import (
	"errors"
	"fmt"
	"strings"
)

// -------------------------------------------------------------------------
// Template — client-negotiated payload schema
// -------------------------------------------------------------------------

// templateFieldSep joins field definitions in the serialized template form.
const templateFieldSep = ","

// Template errors.
var (
	// ErrTemplateEmpty indicates a template with no field definitions.
	ErrTemplateEmpty = errors.New("template has no fields")

	// ErrTemplateFieldType indicates a template entry with an unrecognized
	// field type byte.
	ErrTemplateFieldType = errors.New("template field type not recognized")
)

// Template is an ordered sequence of field definitions associated with a
// custom packet type. When repeatLast is set, lookups past the end return
// the final definition, enabling variable-length repeating records.
//
// Templates are immutable after construction and safe for concurrent reads.
type Template struct {
	packetType uint8
	fields     []FieldDef
	repeatLast bool
}

// NewTemplate creates a template for the given custom packet type.
// The field slice is copied.
func NewTemplate(packetType uint8, fields []FieldDef, repeatLast bool) *Template {
	fs := make([]FieldDef, len(fields))
	copy(fs, fields)
	return &Template{
		packetType: packetType,
		fields:     fs,
		repeatLast: repeatLast,
	}
}

// ParseTemplate parses a serialized template: field definitions in the
// textual wire form ("H|8|0|2") joined by commas.
func ParseTemplate(packetType uint8, s string, repeatLast bool) (*Template, error) {
	tokens := strings.Split(s, templateFieldSep)
	fields := make([]FieldDef, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		fd, err := ParseFieldDef(tok)
		if err != nil {
			return nil, fmt.Errorf("parse template 0x%02X: %w", packetType, err)
		}
		fields = append(fields, fd)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("parse template 0x%02X: %w", packetType, ErrTemplateEmpty)
	}
	return &Template{packetType: packetType, fields: fields, repeatLast: repeatLast}, nil
}

// PacketType returns the custom packet type this template decodes.
func (t *Template) PacketType() uint8 { return t.packetType }

// Len returns the number of field definitions.
func (t *Template) Len() int { return len(t.fields) }

// RepeatLast reports whether the final field repeats for positions past
// the end.
func (t *Template) RepeatLast() bool { return t.repeatLast }

// Field returns the definition at position n. With repeatLast set and at
// least one field, positions >= Len() return the final definition. The
// second return is false when no definition applies (decoder stops).
func (t *Template) Field(n int) (FieldDef, bool) {
	if n < 0 {
		return FieldDef{}, false
	}
	if n < len(t.fields) {
		return t.fields[n], true
	}
	if t.repeatLast && len(t.fields) > 0 {
		return t.fields[len(t.fields)-1], true
	}
	return FieldDef{}, false
}

// Fields returns a copy of the ordered field definitions.
func (t *Template) Fields() []FieldDef {
	fs := make([]FieldDef, len(t.fields))
	copy(fs, t.fields)
	return fs
}

// String renders the serialized template form: field definitions joined
// by commas. The packet type and repeat-last flag are stored out of band.
func (t *Template) String() string {
	parts := make([]string, len(t.fields))
	for i, fd := range t.fields {
		parts[i] = fd.String()
	}
	return strings.Join(parts, templateFieldSep)
}

// Validate checks that every field type is a recognized catalog entry.
// The decoder performs the same check per field so an invalid template
// uploaded by a device is also caught at decode time.
func (t *Template) Validate() error {
	if len(t.fields) == 0 {
		return ErrTemplateEmpty
	}
	for i, fd := range t.fields {
		if !fd.Type.Valid() {
			return fmt.Errorf("template 0x%02X field %d type 0x%02X: %w",
				t.packetType, i, uint8(fd.Type), ErrTemplateFieldType)
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Fixed formats — predefined event layouts
// -------------------------------------------------------------------------

// FixedFormatStd returns the built-in standard-resolution position report
// template, registered under PktClientFixedFmtStd. Devices that never
// negotiate a custom format upload events in this layout.
func FixedFormatStd() *Template {
	return NewTemplate(PktClientFixedFmtStd, []FieldDef{
		{Type: FieldStatusCode, Length: 2},
		{Type: FieldTimestamp, Length: 4},
		{Type: FieldGPSPoint, Length: 6},
		{Type: FieldSpeed, Length: 1},
		{Type: FieldHeading, Length: 1},
		{Type: FieldAltitude, Length: 2},
		{Type: FieldSequence, Length: 1},
	}, false)
}

// FixedFormatHigh returns the built-in high-resolution position report
// template, registered under PktClientFixedFmtHigh.
func FixedFormatHigh() *Template {
	return NewTemplate(PktClientFixedFmtHigh, []FieldDef{
		{Type: FieldStatusCode, HiRes: true, Length: 2},
		{Type: FieldTimestamp, HiRes: true, Length: 4},
		{Type: FieldGPSPoint, HiRes: true, Length: 8},
		{Type: FieldSpeed, HiRes: true, Length: 2},
		{Type: FieldHeading, HiRes: true, Length: 2},
		{Type: FieldAltitude, HiRes: true, Length: 3},
		{Type: FieldSequence, HiRes: true, Length: 1},
	}, false)
}
