// Package filestore is the flat-file persistence backend: YAML documents
// for accounts and devices, per-device CSV event logs, and a process-wide
// template map that resets on restart.
package filestore

import (
	"context"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/godmtp/internal/dmtp"
	"github.com/dantte-lp/godmtp/internal/store"
)

const (
	accountsDir = "accounts"
	devicesDir  = "devices"
	eventsDir   = "events"

	yamlExt = ".yaml"
	csvExt  = ".csv"

	dirMode  = 0o755
	fileMode = 0o644
)

// eventColumns is the CSV event log header.
var eventColumns = []string{
	"timestamp", "statusCode", "latitude", "longitude",
	"speedKPH", "heading", "altitude", "rawData",
}

// accountDoc is the on-disk account form.
type accountDoc struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Active      bool   `yaml:"active"`
}

// deviceDoc is the on-disk device form. Profiles are hex strings so the
// documents stay hand-editable.
type deviceDoc struct {
	Account     string `yaml:"account"`
	Device      string `yaml:"device"`
	UniqueID    string `yaml:"uniqueID,omitempty"`
	Description string `yaml:"description,omitempty"`
	Active      bool   `yaml:"active"`

	Limits struct {
		MaxSimplexConn       int `yaml:"maxSimplexConn"`
		MaxSimplexConnPerMin int `yaml:"maxSimplexConnPerMin"`
		MaxDuplexConn        int `yaml:"maxDuplexConn"`
		MaxDuplexConnPerMin  int `yaml:"maxDuplexConnPerMin"`
		MaxAllowedEvents     int `yaml:"maxAllowedEvents"`
		LimitIntervalSec     int `yaml:"limitIntervalSec"`
	} `yaml:"limits"`

	SimplexProfile     string `yaml:"simplexProfile,omitempty"`
	DuplexProfile      string `yaml:"duplexProfile,omitempty"`
	LastSimplexConnect int64  `yaml:"lastSimplexConnect,omitempty"`
	LastDuplexConnect  int64  `yaml:"lastDuplexConnect,omitempty"`
	Encodings          uint8  `yaml:"encodings"`
	EventCount         int64  `yaml:"eventCount"`
}

// Store is the flat-file store.Store implementation. A single mutex
// serializes all file access; the backend targets small installations
// where contention is not a concern.
type Store struct {
	dir string

	mu        sync.Mutex
	templates map[string]*dmtp.Template
}

var _ store.Store = (*Store)(nil)

// Open prepares the directory layout under dir.
func Open(dir string) (*Store, error) {
	for _, sub := range []string{accountsDir, devicesDir, eventsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), dirMode); err != nil {
			return nil, fmt.Errorf("prepare filestore %q: %w", dir, err)
		}
	}
	return &Store{dir: dir, templates: map[string]*dmtp.Template{}}, nil
}

// Close is a no-op; files are closed after each operation.
func (s *Store) Close() error { return nil }

func (s *Store) accountPath(name string) string {
	return filepath.Join(s.dir, accountsDir, name+yamlExt)
}

func (s *Store) devicePath(accountID, deviceID string) string {
	return filepath.Join(s.dir, devicesDir, accountID, deviceID+yamlExt)
}

func (s *Store) eventPath(accountID, deviceID string) string {
	return filepath.Join(s.dir, eventsDir, accountID, deviceID+csvExt)
}

func templateKey(accountID, deviceID string, customType uint8) string {
	return fmt.Sprintf("%s/%s/%02X", accountID, deviceID, customType)
}

// -------------------------------------------------------------------------
// Accounts
// -------------------------------------------------------------------------

func (s *Store) Account(_ context.Context, name string) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.accountPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("account %q: %w", name, store.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read account %q: %w", name, err)
	}
	var doc accountDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse account %q: %w", name, err)
	}
	return &store.Account{Name: doc.Name, Description: doc.Description, Active: doc.Active}, nil
}

func (s *Store) UpsertAccount(_ context.Context, acct *store.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := yaml.Marshal(accountDoc{
		Name:        acct.Name,
		Description: acct.Description,
		Active:      acct.Active,
	})
	if err != nil {
		return fmt.Errorf("marshal account %q: %w", acct.Name, err)
	}
	if err := os.WriteFile(s.accountPath(acct.Name), raw, fileMode); err != nil {
		return fmt.Errorf("write account %q: %w", acct.Name, err)
	}
	return nil
}

func (s *Store) DeleteAccount(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.accountPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete account %q: %w", name, err)
	}
	os.RemoveAll(filepath.Join(s.dir, devicesDir, name))
	os.RemoveAll(filepath.Join(s.dir, eventsDir, name))
	for key := range s.templates {
		if strings.HasPrefix(key, name+"/") {
			delete(s.templates, key)
		}
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]*store.Account, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, accountsDir))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var accts []*store.Account
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), yamlExt)
		if !ok || e.IsDir() {
			continue
		}
		acct, err := s.Account(ctx, name)
		if err != nil {
			return nil, err
		}
		accts = append(accts, acct)
	}
	sort.Slice(accts, func(i, j int) bool { return accts[i].Name < accts[j].Name })
	return accts, nil
}

// -------------------------------------------------------------------------
// Devices
// -------------------------------------------------------------------------

func (s *Store) readDevice(path string) (*store.Device, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc deviceDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse device file %q: %w", path, err)
	}

	dev := &store.Device{
		AccountID:   doc.Account,
		DeviceID:    doc.Device,
		UniqueID:    doc.UniqueID,
		Description: doc.Description,
		Active:      doc.Active,
		Limits: store.Limits{
			MaxSimplexConn:       doc.Limits.MaxSimplexConn,
			MaxSimplexConnPerMin: doc.Limits.MaxSimplexConnPerMin,
			MaxDuplexConn:        doc.Limits.MaxDuplexConn,
			MaxDuplexConnPerMin:  doc.Limits.MaxDuplexConnPerMin,
			MaxAllowedEvents:     doc.Limits.MaxAllowedEvents,
			LimitInterval:        time.Duration(doc.Limits.LimitIntervalSec) * time.Second,
		},
		LastSimplexConnect: doc.LastSimplexConnect,
		LastDuplexConnect:  doc.LastDuplexConnect,
		Encodings:          store.Encoding(doc.Encodings),
		EventCount:         doc.EventCount,
	}
	if dev.SimplexProfile, err = hex.DecodeString(doc.SimplexProfile); err != nil {
		return nil, fmt.Errorf("device file %q: simplex profile: %w", path, err)
	}
	if dev.DuplexProfile, err = hex.DecodeString(doc.DuplexProfile); err != nil {
		return nil, fmt.Errorf("device file %q: duplex profile: %w", path, err)
	}
	return dev, nil
}

func (s *Store) writeDevice(dev *store.Device) error {
	doc := deviceDoc{
		Account:            dev.AccountID,
		Device:             dev.DeviceID,
		UniqueID:           dev.UniqueID,
		Description:        dev.Description,
		Active:             dev.Active,
		SimplexProfile:     hex.EncodeToString(dev.SimplexProfile),
		DuplexProfile:      hex.EncodeToString(dev.DuplexProfile),
		LastSimplexConnect: dev.LastSimplexConnect,
		LastDuplexConnect:  dev.LastDuplexConnect,
		Encodings:          uint8(dev.Encodings),
		EventCount:         dev.EventCount,
	}
	doc.Limits.MaxSimplexConn = dev.Limits.MaxSimplexConn
	doc.Limits.MaxSimplexConnPerMin = dev.Limits.MaxSimplexConnPerMin
	doc.Limits.MaxDuplexConn = dev.Limits.MaxDuplexConn
	doc.Limits.MaxDuplexConnPerMin = dev.Limits.MaxDuplexConnPerMin
	doc.Limits.MaxAllowedEvents = dev.Limits.MaxAllowedEvents
	doc.Limits.LimitIntervalSec = int(dev.Limits.LimitInterval / time.Second)

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal device %s/%s: %w", dev.AccountID, dev.DeviceID, err)
	}
	path := s.devicePath(dev.AccountID, dev.DeviceID)
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("prepare device dir: %w", err)
	}
	if err := os.WriteFile(path, raw, fileMode); err != nil {
		return fmt.Errorf("write device %s/%s: %w", dev.AccountID, dev.DeviceID, err)
	}
	return nil
}

func (s *Store) Device(_ context.Context, accountID, deviceID string) (*store.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, err := s.readDevice(s.devicePath(accountID, deviceID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("device %s/%s: %w", accountID, deviceID, store.ErrDeviceNotFound)
	}
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func (s *Store) DeviceByUniqueID(ctx context.Context, uniqueID string) (*store.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *store.Device
	root := filepath.Join(s.dir, devicesDir)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, yamlExt) {
			return err
		}
		dev, err := s.readDevice(path)
		if err != nil {
			return err
		}
		if dev.UniqueID == uniqueID {
			found = dev
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan devices: %w", err)
	}
	if found == nil {
		return nil, fmt.Errorf("unique id %q: %w", uniqueID, store.ErrDeviceNotFound)
	}
	return found, nil
}

func (s *Store) UpsertDevice(_ context.Context, dev *store.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeDevice(dev)
}

func (s *Store) DeleteDevice(_ context.Context, accountID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.devicePath(accountID, deviceID)); err != nil &&
		!errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete device %s/%s: %w", accountID, deviceID, err)
	}
	os.Remove(s.eventPath(accountID, deviceID))
	for key := range s.templates {
		if strings.HasPrefix(key, accountID+"/"+deviceID+"/") {
			delete(s.templates, key)
		}
	}
	return nil
}

func (s *Store) ListDevices(_ context.Context, accountID string) ([]*store.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, devicesDir, accountID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list devices %q: %w", accountID, err)
	}

	var devs []*store.Device
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), yamlExt) {
			continue
		}
		dev, err := s.readDevice(filepath.Join(s.dir, devicesDir, accountID, e.Name()))
		if err != nil {
			return nil, err
		}
		devs = append(devs, dev)
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].DeviceID < devs[j].DeviceID })
	return devs, nil
}

func (s *Store) UpdateProfile(ctx context.Context, accountID, deviceID string,
	mode store.Mode, profile []byte, lastConnect int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, err := s.readDevice(s.devicePath(accountID, deviceID))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("device %s/%s: %w", accountID, deviceID, store.ErrDeviceNotFound)
	}
	if err != nil {
		return err
	}
	if mode == store.ModeDuplex {
		dev.DuplexProfile = profile
		dev.LastDuplexConnect = lastConnect
	} else {
		dev.SimplexProfile = profile
		dev.LastSimplexConnect = lastConnect
	}
	return s.writeDevice(dev)
}

func (s *Store) RemoveEncoding(ctx context.Context, accountID, deviceID string,
	enc store.Encoding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, err := s.readDevice(s.devicePath(accountID, deviceID))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("device %s/%s: %w", accountID, deviceID, store.ErrDeviceNotFound)
	}
	if err != nil {
		return err
	}
	dev.Encodings = dev.Encodings.Without(enc)
	return s.writeDevice(dev)
}

// -------------------------------------------------------------------------
// Templates — in memory only; devices renegotiate formats after restart
// -------------------------------------------------------------------------

func (s *Store) PutTemplate(_ context.Context, accountID, deviceID string,
	tmpl *dmtp.Template) error {
	if err := tmpl.Validate(); err != nil {
		return fmt.Errorf("put template %s/%s: %w", accountID, deviceID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[templateKey(accountID, deviceID, tmpl.PacketType())] = tmpl
	return nil
}

func (s *Store) Template(_ context.Context, accountID, deviceID string,
	customType uint8) (*dmtp.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmpl, ok := s.templates[templateKey(accountID, deviceID, customType)]
	if !ok {
		return nil, fmt.Errorf("template %s/%s/0x%02X: %w",
			accountID, deviceID, customType, store.ErrTemplateNotFound)
	}
	return tmpl, nil
}

// -------------------------------------------------------------------------
// Events — append-only CSV per device
// -------------------------------------------------------------------------

func (s *Store) InsertEvent(_ context.Context, ev *store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.eventPath(ev.AccountID, ev.DeviceID)
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("prepare event dir: %w", err)
	}

	fresh := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		fresh = true
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("open event log %s/%s: %w", ev.AccountID, ev.DeviceID, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(eventColumns); err != nil {
			return fmt.Errorf("write event header: %w", err)
		}
	}
	row := []string{
		strconv.FormatInt(ev.Timestamp, 10),
		fmt.Sprintf("0x%04X", uint32(ev.StatusCode)),
		strconv.FormatFloat(ev.Latitude, 'f', 6, 64),
		strconv.FormatFloat(ev.Longitude, 'f', 6, 64),
		strconv.FormatFloat(ev.SpeedKPH, 'f', 1, 64),
		strconv.FormatFloat(ev.Heading, 'f', 1, 64),
		strconv.FormatFloat(ev.Altitude, 'f', 1, 64),
		ev.RawData,
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write event row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush event log: %w", err)
	}

	// Bump the per-device counter in the YAML document.
	dev, err := s.readDevice(s.devicePath(ev.AccountID, ev.DeviceID))
	if err == nil {
		dev.EventCount++
		return s.writeDevice(dev)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) EventCount(_ context.Context, accountID, deviceID string,
	since, until int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.eventPath(accountID, deviceID))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open event log %s/%s: %w", accountID, deviceID, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("read event log %s/%s: %w", accountID, deviceID, err)
	}

	count := 0
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue // header
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		if ts >= since && ts <= until {
			count++
		}
	}
	return count, nil
}
