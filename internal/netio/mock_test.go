package netio_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dantte-lp/godmtp/internal/dmtp"
	"github.com/dantte-lp/godmtp/internal/store"
)

// memStore is an in-memory store.Store used to script transport tests
// without touching a real backend.
type memStore struct {
	mu        sync.Mutex
	accounts  map[string]*store.Account
	devices   map[string]*store.Device
	templates map[string]*dmtp.Template
	events    []*store.Event
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		accounts:  map[string]*store.Account{},
		devices:   map[string]*store.Device{},
		templates: map[string]*dmtp.Template{},
	}
}

func devKey(accountID, deviceID string) string {
	return accountID + "/" + deviceID
}

func tmplKey(accountID, deviceID string, customType uint8) string {
	return fmt.Sprintf("%s/%s/%02X", accountID, deviceID, customType)
}

// seed installs an account and device without the upsert ceremony.
func (m *memStore) seed(acct *store.Account, devs ...*store.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[acct.Name] = acct
	for _, d := range devs {
		cp := *d
		m.devices[devKey(d.AccountID, d.DeviceID)] = &cp
	}
}

// storedEvents returns a snapshot of all inserted events.
func (m *memStore) storedEvents() []*store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*store.Event, len(m.events))
	copy(out, m.events)
	return out
}

// ---- AccountStore ----

func (m *memStore) Account(_ context.Context, name string) (*store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[name]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (m *memStore) UpsertAccount(_ context.Context, acct *store.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *acct
	m.accounts[acct.Name] = &cp
	return nil
}

func (m *memStore) DeleteAccount(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.accounts, name)
	for key, dev := range m.devices {
		if dev.AccountID == name {
			delete(m.devices, key)
		}
	}
	return nil
}

func (m *memStore) ListAccounts(_ context.Context) ([]*store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*store.Account, 0, len(m.accounts))
	for _, acct := range m.accounts {
		cp := *acct
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ---- DeviceStore ----

func (m *memStore) Device(_ context.Context, accountID, deviceID string) (*store.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev, ok := m.devices[devKey(accountID, deviceID)]
	if !ok {
		return nil, store.ErrDeviceNotFound
	}
	cp := *dev
	return &cp, nil
}

func (m *memStore) DeviceByUniqueID(_ context.Context, uniqueID string) (*store.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, dev := range m.devices {
		if dev.UniqueID == uniqueID {
			cp := *dev
			return &cp, nil
		}
	}
	return nil, store.ErrDeviceNotFound
}

func (m *memStore) UpsertDevice(_ context.Context, dev *store.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *dev
	m.devices[devKey(dev.AccountID, dev.DeviceID)] = &cp
	return nil
}

func (m *memStore) DeleteDevice(_ context.Context, accountID, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.devices, devKey(accountID, deviceID))
	return nil
}

func (m *memStore) ListDevices(_ context.Context, accountID string) ([]*store.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*store.Device
	for _, dev := range m.devices {
		if dev.AccountID == accountID {
			cp := *dev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (m *memStore) UpdateProfile(_ context.Context, accountID, deviceID string, mode store.Mode,
	profile []byte, lastConnect int64,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev, ok := m.devices[devKey(accountID, deviceID)]
	if !ok {
		return store.ErrDeviceNotFound
	}
	cp := make([]byte, len(profile))
	copy(cp, profile)
	if mode == store.ModeDuplex {
		dev.DuplexProfile = cp
		dev.LastDuplexConnect = lastConnect
	} else {
		dev.SimplexProfile = cp
		dev.LastSimplexConnect = lastConnect
	}
	return nil
}

func (m *memStore) RemoveEncoding(_ context.Context, accountID, deviceID string, enc store.Encoding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev, ok := m.devices[devKey(accountID, deviceID)]
	if !ok {
		return store.ErrDeviceNotFound
	}
	dev.Encodings = dev.Encodings.Without(enc)
	return nil
}

// ---- TemplateStore ----

func (m *memStore) PutTemplate(_ context.Context, accountID, deviceID string, tmpl *dmtp.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.templates[tmplKey(accountID, deviceID, tmpl.PacketType())] = tmpl
	return nil
}

func (m *memStore) Template(_ context.Context, accountID, deviceID string, customType uint8) (*dmtp.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tmpl, ok := m.templates[tmplKey(accountID, deviceID, customType)]
	if !ok {
		return nil, store.ErrTemplateNotFound
	}
	return tmpl, nil
}

// ---- EventStore ----

func (m *memStore) InsertEvent(_ context.Context, ev *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ev
	m.events = append(m.events, &cp)
	if dev, ok := m.devices[devKey(ev.AccountID, ev.DeviceID)]; ok {
		dev.EventCount++
	}
	return nil
}

func (m *memStore) EventCount(_ context.Context, accountID, deviceID string, since, until int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, ev := range m.events {
		if ev.AccountID == accountID && ev.DeviceID == deviceID &&
			ev.Timestamp >= since && ev.Timestamp <= until {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Close() error { return nil }
