// Package sqlstore is the SQLite persistence backend. The schema is
// created on open, so a fresh database file is usable immediately.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dantte-lp/godmtp/internal/dmtp"
	"github.com/dantte-lp/godmtp/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS account (
	name        TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	active      INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS device (
	account_id               TEXT NOT NULL,
	device_id                TEXT NOT NULL,
	unique_id                TEXT NOT NULL DEFAULT '',
	description              TEXT NOT NULL DEFAULT '',
	active                   INTEGER NOT NULL DEFAULT 1,
	max_simplex_conn         INTEGER NOT NULL DEFAULT 0,
	max_simplex_conn_per_min INTEGER NOT NULL DEFAULT 0,
	max_duplex_conn          INTEGER NOT NULL DEFAULT 0,
	max_duplex_conn_per_min  INTEGER NOT NULL DEFAULT 0,
	max_allowed_events       INTEGER NOT NULL DEFAULT 0,
	limit_interval_sec       INTEGER NOT NULL DEFAULT 0,
	simplex_profile          TEXT NOT NULL DEFAULT '',
	duplex_profile           TEXT NOT NULL DEFAULT '',
	last_simplex_connect     INTEGER NOT NULL DEFAULT 0,
	last_duplex_connect      INTEGER NOT NULL DEFAULT 0,
	encodings                INTEGER NOT NULL DEFAULT 0,
	event_count              INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (account_id, device_id)
);
CREATE INDEX IF NOT EXISTS idx_device_unique_id ON device(unique_id);
CREATE TABLE IF NOT EXISTS event (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id  TEXT NOT NULL,
	device_id   TEXT NOT NULL,
	timestamp   INTEGER NOT NULL,
	status_code INTEGER NOT NULL,
	latitude    DOUBLE NOT NULL DEFAULT 0,
	longitude   DOUBLE NOT NULL DEFAULT 0,
	speed_kph   DOUBLE NOT NULL DEFAULT 0,
	heading     DOUBLE NOT NULL DEFAULT 0,
	altitude    DOUBLE NOT NULL DEFAULT 0,
	raw_data    TEXT NOT NULL DEFAULT '',
	extra       TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_event_device_ts ON event(account_id, device_id, timestamp);
CREATE TABLE IF NOT EXISTS event_template (
	account_id  TEXT NOT NULL,
	device_id   TEXT NOT NULL,
	custom_type INTEGER NOT NULL,
	repeat_last INTEGER NOT NULL DEFAULT 0,
	fields      TEXT NOT NULL,
	PRIMARY KEY (account_id, device_id, custom_type)
);
`

// Store is the SQLite-backed store.Store implementation. Safe for
// concurrent use; database/sql serializes access to the pool.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// -------------------------------------------------------------------------
// Accounts
// -------------------------------------------------------------------------

func (s *Store) Account(ctx context.Context, name string) (*store.Account, error) {
	acct := &store.Account{}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, description, active FROM account WHERE name = ?`, name).
		Scan(&acct.Name, &acct.Description, &acct.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %q: %w", name, store.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query account %q: %w", name, err)
	}
	return acct, nil
}

func (s *Store) UpsertAccount(ctx context.Context, acct *store.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account (name, description, active) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET description = excluded.description,
			active = excluded.active`,
		acct.Name, acct.Description, acct.Active)
	if err != nil {
		return fmt.Errorf("upsert account %q: %w", acct.Name, err)
	}
	return nil
}

func (s *Store) DeleteAccount(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete account %q: %w", name, err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM event_template WHERE account_id = ?`,
		`DELETE FROM event WHERE account_id = ?`,
		`DELETE FROM device WHERE account_id = ?`,
		`DELETE FROM account WHERE name = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, name); err != nil {
			return fmt.Errorf("delete account %q: %w", name, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListAccounts(ctx context.Context) ([]*store.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, description, active FROM account ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accts []*store.Account
	for rows.Next() {
		acct := &store.Account{}
		if err := rows.Scan(&acct.Name, &acct.Description, &acct.Active); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accts = append(accts, acct)
	}
	return accts, rows.Err()
}

// -------------------------------------------------------------------------
// Devices
// -------------------------------------------------------------------------

const deviceColumns = `account_id, device_id, unique_id, description, active,
	max_simplex_conn, max_simplex_conn_per_min, max_duplex_conn,
	max_duplex_conn_per_min, max_allowed_events, limit_interval_sec,
	simplex_profile, duplex_profile, last_simplex_connect,
	last_duplex_connect, encodings, event_count`

func scanDevice(row interface{ Scan(...any) error }) (*store.Device, error) {
	dev := &store.Device{}
	var intervalSec int64
	var simplexHex, duplexHex string
	var encodings uint8
	err := row.Scan(&dev.AccountID, &dev.DeviceID, &dev.UniqueID, &dev.Description,
		&dev.Active, &dev.Limits.MaxSimplexConn, &dev.Limits.MaxSimplexConnPerMin,
		&dev.Limits.MaxDuplexConn, &dev.Limits.MaxDuplexConnPerMin,
		&dev.Limits.MaxAllowedEvents, &intervalSec,
		&simplexHex, &duplexHex, &dev.LastSimplexConnect, &dev.LastDuplexConnect,
		&encodings, &dev.EventCount)
	if err != nil {
		return nil, err
	}
	dev.Limits.LimitInterval = time.Duration(intervalSec) * time.Second
	dev.Encodings = store.Encoding(encodings)
	if dev.SimplexProfile, err = hex.DecodeString(simplexHex); err != nil {
		return nil, fmt.Errorf("decode simplex profile: %w", err)
	}
	if dev.DuplexProfile, err = hex.DecodeString(duplexHex); err != nil {
		return nil, fmt.Errorf("decode duplex profile: %w", err)
	}
	return dev, nil
}

func (s *Store) Device(ctx context.Context, accountID, deviceID string) (*store.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM device WHERE account_id = ? AND device_id = ?`,
		accountID, deviceID)
	dev, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s/%s: %w", accountID, deviceID, store.ErrDeviceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query device %s/%s: %w", accountID, deviceID, err)
	}
	return dev, nil
}

func (s *Store) DeviceByUniqueID(ctx context.Context, uniqueID string) (*store.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM device WHERE unique_id = ?`, uniqueID)
	dev, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("unique id %q: %w", uniqueID, store.ErrDeviceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query unique id %q: %w", uniqueID, err)
	}
	return dev, nil
}

func (s *Store) UpsertDevice(ctx context.Context, dev *store.Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, device_id) DO UPDATE SET
			unique_id = excluded.unique_id,
			description = excluded.description,
			active = excluded.active,
			max_simplex_conn = excluded.max_simplex_conn,
			max_simplex_conn_per_min = excluded.max_simplex_conn_per_min,
			max_duplex_conn = excluded.max_duplex_conn,
			max_duplex_conn_per_min = excluded.max_duplex_conn_per_min,
			max_allowed_events = excluded.max_allowed_events,
			limit_interval_sec = excluded.limit_interval_sec,
			simplex_profile = excluded.simplex_profile,
			duplex_profile = excluded.duplex_profile,
			last_simplex_connect = excluded.last_simplex_connect,
			last_duplex_connect = excluded.last_duplex_connect,
			encodings = excluded.encodings,
			event_count = excluded.event_count`,
		dev.AccountID, dev.DeviceID, dev.UniqueID, dev.Description, dev.Active,
		dev.Limits.MaxSimplexConn, dev.Limits.MaxSimplexConnPerMin,
		dev.Limits.MaxDuplexConn, dev.Limits.MaxDuplexConnPerMin,
		dev.Limits.MaxAllowedEvents, int64(dev.Limits.LimitInterval/time.Second),
		hex.EncodeToString(dev.SimplexProfile), hex.EncodeToString(dev.DuplexProfile),
		dev.LastSimplexConnect, dev.LastDuplexConnect,
		uint8(dev.Encodings), dev.EventCount)
	if err != nil {
		return fmt.Errorf("upsert device %s/%s: %w", dev.AccountID, dev.DeviceID, err)
	}
	return nil
}

func (s *Store) DeleteDevice(ctx context.Context, accountID, deviceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete device %s/%s: %w", accountID, deviceID, err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM event_template WHERE account_id = ? AND device_id = ?`,
		`DELETE FROM event WHERE account_id = ? AND device_id = ?`,
		`DELETE FROM device WHERE account_id = ? AND device_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, accountID, deviceID); err != nil {
			return fmt.Errorf("delete device %s/%s: %w", accountID, deviceID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListDevices(ctx context.Context, accountID string) ([]*store.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM device WHERE account_id = ? ORDER BY device_id`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list devices %q: %w", accountID, err)
	}
	defer rows.Close()

	var devs []*store.Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devs = append(devs, dev)
	}
	return devs, rows.Err()
}

func (s *Store) UpdateProfile(ctx context.Context, accountID, deviceID string,
	mode store.Mode, profile []byte, lastConnect int64) error {
	col, tscol := "simplex_profile", "last_simplex_connect"
	if mode == store.ModeDuplex {
		col, tscol = "duplex_profile", "last_duplex_connect"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE device SET `+col+` = ?, `+tscol+` = ?
		 WHERE account_id = ? AND device_id = ?`,
		hex.EncodeToString(profile), lastConnect, accountID, deviceID)
	if err != nil {
		return fmt.Errorf("update %s profile %s/%s: %w", mode, accountID, deviceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("device %s/%s: %w", accountID, deviceID, store.ErrDeviceNotFound)
	}
	return nil
}

func (s *Store) RemoveEncoding(ctx context.Context, accountID, deviceID string,
	enc store.Encoding) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE device SET encodings = encodings & ~? WHERE account_id = ? AND device_id = ?`,
		uint8(enc), accountID, deviceID)
	if err != nil {
		return fmt.Errorf("remove encoding %s/%s: %w", accountID, deviceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("device %s/%s: %w", accountID, deviceID, store.ErrDeviceNotFound)
	}
	return nil
}

// -------------------------------------------------------------------------
// Templates — stored in textual wire form, one row per custom type
// -------------------------------------------------------------------------

func (s *Store) PutTemplate(ctx context.Context, accountID, deviceID string,
	tmpl *dmtp.Template) error {
	if err := tmpl.Validate(); err != nil {
		return fmt.Errorf("put template %s/%s: %w", accountID, deviceID, err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_template (account_id, device_id, custom_type, repeat_last, fields)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, device_id, custom_type) DO UPDATE SET
			repeat_last = excluded.repeat_last, fields = excluded.fields`,
		accountID, deviceID, tmpl.PacketType(), tmpl.RepeatLast(), tmpl.String())
	if err != nil {
		return fmt.Errorf("put template %s/%s/0x%02X: %w",
			accountID, deviceID, tmpl.PacketType(), err)
	}
	return nil
}

func (s *Store) Template(ctx context.Context, accountID, deviceID string,
	customType uint8) (*dmtp.Template, error) {
	var repeatLast bool
	var fields string
	err := s.db.QueryRowContext(ctx, `
		SELECT repeat_last, fields FROM event_template
		WHERE account_id = ? AND device_id = ? AND custom_type = ?`,
		accountID, deviceID, customType).Scan(&repeatLast, &fields)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s/%s/0x%02X: %w",
			accountID, deviceID, customType, store.ErrTemplateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query template %s/%s/0x%02X: %w",
			accountID, deviceID, customType, err)
	}
	return dmtp.ParseTemplate(customType, fields, repeatLast)
}

// -------------------------------------------------------------------------
// Events
// -------------------------------------------------------------------------

func (s *Store) InsertEvent(ctx context.Context, ev *store.Event) error {
	extra, err := json.Marshal(ev.Extra)
	if err != nil {
		return fmt.Errorf("marshal event extras: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO event (account_id, device_id, timestamp, status_code,
			latitude, longitude, speed_kph, heading, altitude, raw_data, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.AccountID, ev.DeviceID, ev.Timestamp, uint32(ev.StatusCode),
		ev.Latitude, ev.Longitude, ev.SpeedKPH, ev.Heading, ev.Altitude,
		ev.RawData, string(extra))
	if err != nil {
		return fmt.Errorf("insert event %s/%s: %w", ev.AccountID, ev.DeviceID, err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE device SET event_count = event_count + 1
		WHERE account_id = ? AND device_id = ?`,
		ev.AccountID, ev.DeviceID)
	if err != nil {
		return fmt.Errorf("bump event count %s/%s: %w", ev.AccountID, ev.DeviceID, err)
	}
	return tx.Commit()
}

func (s *Store) EventCount(ctx context.Context, accountID, deviceID string,
	since, until int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM event
		WHERE account_id = ? AND device_id = ? AND timestamp BETWEEN ? AND ?`,
		accountID, deviceID, since, until).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events %s/%s: %w", accountID, deviceID, err)
	}
	return count, nil
}
