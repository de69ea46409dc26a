// Package store defines the persistence contracts for accounts, devices,
// payload templates, and decoded events, plus the record types shared by
// the backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dantte-lp/godmtp/internal/dmtp"
)

// Store errors shared by all backends.
var (
	// ErrAccountNotFound indicates an unknown account identifier.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDeviceNotFound indicates an unknown device identifier.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrTemplateNotFound indicates no template registered for a custom type.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrAlreadyExists indicates a create colliding with an existing record.
	ErrAlreadyExists = errors.New("record already exists")
)

// -------------------------------------------------------------------------
// Transport mode
// -------------------------------------------------------------------------

// Mode distinguishes the two transport classes a device connects over.
// Simplex (UDP) sessions are fire-and-forget; duplex (TCP) sessions carry
// server replies. Each mode has its own connection profile and ceilings.
type Mode uint8

const (
	// ModeSimplex is a one-way transport session (UDP).
	ModeSimplex Mode = iota

	// ModeDuplex is a two-way transport session (TCP).
	ModeDuplex
)

// String implements fmt.Stringer for log output.
func (m Mode) String() string {
	switch m {
	case ModeSimplex:
		return "simplex"
	case ModeDuplex:
		return "duplex"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// -------------------------------------------------------------------------
// Encoding support bitmap
// -------------------------------------------------------------------------

// Encoding is a bitmap of the wire encodings a device claims to support.
// The server strikes an encoding from the bitmap when a device fails to
// use it correctly.
type Encoding uint8

const (
	// EncodingBinary is the framed binary encoding.
	EncodingBinary Encoding = 1 << iota

	// EncodingBase64 is the base64-wrapped ASCII encoding.
	EncodingBase64

	// EncodingHex is the hex-wrapped ASCII encoding.
	EncodingHex

	// EncodingCSV is the comma-separated ASCII encoding.
	EncodingCSV
)

// Supports reports whether the bitmap includes enc.
func (e Encoding) Supports(enc Encoding) bool { return e&enc != 0 }

// Without returns the bitmap with enc removed.
func (e Encoding) Without(enc Encoding) Encoding { return e &^ enc }

// encodingNames lists the bitmap flags in declaration order.
var encodingNames = []struct {
	enc  Encoding
	name string
}{
	{EncodingBinary, "binary"},
	{EncodingBase64, "base64"},
	{EncodingHex, "hex"},
	{EncodingCSV, "csv"},
}

// String renders the bitmap as a comma-joined flag list.
func (e Encoding) String() string {
	if e == 0 {
		return "none"
	}
	names := make([]string, 0, len(encodingNames))
	for _, en := range encodingNames {
		if e.Supports(en.enc) {
			names = append(names, en.name)
		}
	}
	return strings.Join(names, ",")
}

// -------------------------------------------------------------------------
// Records
// -------------------------------------------------------------------------

// Account is one billing/ownership grouping of devices.
type Account struct {
	// Name is the unique account identifier presented by devices.
	Name string

	// Description is a free-form operator note.
	Description string

	// Active gates every session for the account's devices.
	Active bool
}

// Limits are a device's connection and event ceilings. Simplex and
// duplex ceilings are enforced independently against their own profiles.
type Limits struct {
	// MaxSimplexConn bounds simplex connections within the limit interval.
	// Zero means unlimited.
	MaxSimplexConn int

	// MaxSimplexConnPerMin bounds simplex connections per minute.
	MaxSimplexConnPerMin int

	// MaxDuplexConn bounds duplex connections within the limit interval.
	MaxDuplexConn int

	// MaxDuplexConnPerMin bounds duplex connections per minute.
	MaxDuplexConnPerMin int

	// MaxAllowedEvents bounds stored events within the limit interval.
	// Zero means unlimited.
	MaxAllowedEvents int

	// LimitInterval is the window the absolute ceilings cover.
	LimitInterval time.Duration
}

// ConnCeilings returns the per-minute and absolute connection ceilings
// that apply to sessions of the given mode.
func (l Limits) ConnCeilings(mode Mode) (perMin, total int) {
	if mode == ModeDuplex {
		return l.MaxDuplexConnPerMin, l.MaxDuplexConn
	}
	return l.MaxSimplexConnPerMin, l.MaxSimplexConn
}

// Device is one tracked unit belonging to an account.
type Device struct {
	// AccountID names the owning account.
	AccountID string

	// DeviceID is the identifier the device presents at session start,
	// unique within its account.
	DeviceID string

	// UniqueID is the optional opaque hardware identifier, hex-encoded.
	UniqueID string

	// Description is a free-form operator note.
	Description string

	// Active gates every session for this device.
	Active bool

	// Limits are the policy ceilings enforced by the gate.
	Limits Limits

	// SimplexProfile is the rolling minute-slot bitmap for simplex
	// sessions. Simplex and duplex profiles are independent; a session
	// counts against exactly one.
	SimplexProfile []byte

	// DuplexProfile is the rolling minute-slot bitmap for duplex sessions.
	DuplexProfile []byte

	// LastSimplexConnect is the epoch-second time of the last simplex
	// session, anchoring SimplexProfile's slot zero.
	LastSimplexConnect int64

	// LastDuplexConnect anchors DuplexProfile's slot zero.
	LastDuplexConnect int64

	// Encodings is the supported-encodings bitmap.
	Encodings Encoding

	// EventCount counts stored events since the last counter reset.
	EventCount int64
}

// Profile returns the connection profile and its anchor time for mode.
func (d *Device) Profile(mode Mode) ([]byte, int64) {
	if mode == ModeDuplex {
		return d.DuplexProfile, d.LastDuplexConnect
	}
	return d.SimplexProfile, d.LastSimplexConnect
}

// Event is one decoded, policy-admitted event record ready for insertion.
type Event struct {
	AccountID  string
	DeviceID   string
	Timestamp  int64
	StatusCode dmtp.StatusCode
	Latitude   float64
	Longitude  float64
	SpeedKPH   float64
	Heading    float64
	Altitude   float64

	// RawData is the hex dump of the event packet payload.
	RawData string

	// Extra carries the template fields beyond the fixed columns, keyed
	// by canonical field name (array-indexed where applicable).
	Extra map[string]string
}

// EventFromDecoded flattens a decoded event record into a storable row.
func EventFromDecoded(accountID, deviceID string, ev *dmtp.Event) *Event {
	gp := ev.GPS()
	rec := &Event{
		AccountID:  accountID,
		DeviceID:   deviceID,
		Timestamp:  ev.Timestamp(),
		StatusCode: ev.StatusCode(),
		Latitude:   gp.Latitude,
		Longitude:  gp.Longitude,
		SpeedKPH:   ev.GetDouble(dmtp.FieldSpeed.Name(), -1, 0),
		Heading:    ev.GetDouble(dmtp.FieldHeading.Name(), -1, 0),
		Altitude:   ev.GetDouble(dmtp.FieldAltitude.Name(), -1, 0),
		RawData:    ev.GetString(dmtp.KeyRawData, -1, ""),
		Extra:      map[string]string{},
	}

	fixed := map[string]bool{
		dmtp.FieldStatusCode.Name(): true,
		dmtp.FieldTimestamp.Name():  true,
		dmtp.FieldSpeed.Name():      true,
		dmtp.FieldHeading.Name():    true,
		dmtp.FieldAltitude.Name():   true,
		dmtp.KeyLatitude:            true,
		dmtp.KeyLongitude:           true,
		dmtp.KeyRawData:             true,
	}
	for _, key := range ev.Keys() {
		if fixed[key] {
			continue
		}
		rec.Extra[key] = ev.GetString(key, -1, "")
	}
	return rec
}

// -------------------------------------------------------------------------
// Store contracts
// -------------------------------------------------------------------------

// AccountStore is the account lookup and administration contract.
type AccountStore interface {
	// Account returns the account named name, or ErrAccountNotFound.
	Account(ctx context.Context, name string) (*Account, error)

	// UpsertAccount creates or replaces an account record.
	UpsertAccount(ctx context.Context, acct *Account) error

	// DeleteAccount removes an account and its devices.
	DeleteAccount(ctx context.Context, name string) error

	// ListAccounts returns all accounts ordered by name.
	ListAccounts(ctx context.Context) ([]*Account, error)
}

// DeviceStore is the device policy and event persistence contract.
type DeviceStore interface {
	// Device returns the device record, or ErrDeviceNotFound.
	Device(ctx context.Context, accountID, deviceID string) (*Device, error)

	// DeviceByUniqueID resolves a device from its opaque hardware
	// identifier, or ErrDeviceNotFound.
	DeviceByUniqueID(ctx context.Context, uniqueID string) (*Device, error)

	// UpsertDevice creates or replaces a device record.
	UpsertDevice(ctx context.Context, dev *Device) error

	// DeleteDevice removes a device and its templates.
	DeleteDevice(ctx context.Context, accountID, deviceID string) error

	// ListDevices returns the account's devices ordered by device ID.
	ListDevices(ctx context.Context, accountID string) ([]*Device, error)

	// UpdateProfile persists an updated connection profile and its anchor
	// time for one mode of the device.
	UpdateProfile(ctx context.Context, accountID, deviceID string, mode Mode,
		profile []byte, lastConnect int64) error

	// RemoveEncoding strikes an encoding from the device's support bitmap.
	RemoveEncoding(ctx context.Context, accountID, deviceID string, enc Encoding) error
}

// TemplateStore round-trips payload templates per device and custom type.
type TemplateStore interface {
	// PutTemplate registers a template under its custom packet type,
	// replacing any previous registration.
	PutTemplate(ctx context.Context, accountID, deviceID string, tmpl *dmtp.Template) error

	// Template returns the template registered for the custom type, or
	// ErrTemplateNotFound.
	Template(ctx context.Context, accountID, deviceID string, customType uint8) (*dmtp.Template, error)
}

// EventStore persists decoded events and answers quota queries.
type EventStore interface {
	// InsertEvent stores one decoded event.
	InsertEvent(ctx context.Context, ev *Event) error

	// EventCount returns the number of stored events for the device with
	// timestamps in [since, until].
	EventCount(ctx context.Context, accountID, deviceID string, since, until int64) (int, error)
}

// Store is the full persistence contract a backend implements.
type Store interface {
	AccountStore
	DeviceStore
	TemplateStore
	EventStore

	// Close releases backend resources. The store is unusable afterwards.
	Close() error
}
