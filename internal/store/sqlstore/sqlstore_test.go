package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dantte-lp/godmtp/internal/dmtp"
	"github.com/dantte-lp/godmtp/internal/store"
	"github.com/dantte-lp/godmtp/internal/store/sqlstore"
)

func openTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(filepath.Join(t.TempDir(), "godmtp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedDevice(t *testing.T, s *sqlstore.Store) *store.Device {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertAccount(ctx, &store.Account{Name: "acme", Active: true}))
	dev := &store.Device{
		AccountID: "acme",
		DeviceID:  "truck-07",
		UniqueID:  "0102030405",
		Active:    true,
		Limits: store.Limits{
			MaxDuplexConn:       60,
			MaxDuplexConnPerMin: 3,
			MaxAllowedEvents:    100,
			LimitInterval:       time.Hour,
		},
		Encodings: store.EncodingBinary | store.EncodingBase64,
	}
	require.NoError(t, s.UpsertDevice(ctx, dev))
	return dev
}

func TestAccountRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Account(ctx, "missing")
	require.ErrorIs(t, err, store.ErrAccountNotFound)

	want := &store.Account{Name: "acme", Description: "fleet ops", Active: true}
	require.NoError(t, s.UpsertAccount(ctx, want))

	got, err := s.Account(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, want, got)

	// Upsert replaces in place.
	want.Active = false
	require.NoError(t, s.UpsertAccount(ctx, want))
	got, err = s.Account(ctx, "acme")
	require.NoError(t, err)
	require.False(t, got.Active)

	accts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accts, 1)

	require.NoError(t, s.DeleteAccount(ctx, "acme"))
	_, err = s.Account(ctx, "acme")
	require.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestDeviceRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	want := seedDevice(t, s)

	got, err := s.Device(ctx, "acme", "truck-07")
	require.NoError(t, err)
	require.Equal(t, want.Limits, got.Limits)
	require.Equal(t, want.Encodings, got.Encodings)

	byUnique, err := s.DeviceByUniqueID(ctx, "0102030405")
	require.NoError(t, err)
	require.Equal(t, "truck-07", byUnique.DeviceID)

	_, err = s.Device(ctx, "acme", "missing")
	require.ErrorIs(t, err, store.ErrDeviceNotFound)

	devs, err := s.ListDevices(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, devs, 1)

	require.NoError(t, s.DeleteDevice(ctx, "acme", "truck-07"))
	_, err = s.Device(ctx, "acme", "truck-07")
	require.ErrorIs(t, err, store.ErrDeviceNotFound)
}

func TestUpdateProfile(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	seedDevice(t, s)

	profile := []byte{0x00, 0x03}
	require.NoError(t, s.UpdateProfile(ctx, "acme", "truck-07", store.ModeDuplex, profile, 6000))

	dev, err := s.Device(ctx, "acme", "truck-07")
	require.NoError(t, err)
	require.Equal(t, profile, dev.DuplexProfile)
	require.EqualValues(t, 6000, dev.LastDuplexConnect)
	require.Empty(t, dev.SimplexProfile)

	err = s.UpdateProfile(ctx, "acme", "ghost", store.ModeDuplex, profile, 6000)
	require.ErrorIs(t, err, store.ErrDeviceNotFound)
}

func TestRemoveEncoding(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	seedDevice(t, s)

	require.NoError(t, s.RemoveEncoding(ctx, "acme", "truck-07", store.EncodingBase64))
	dev, err := s.Device(ctx, "acme", "truck-07")
	require.NoError(t, err)
	require.True(t, dev.Encodings.Supports(store.EncodingBinary))
	require.False(t, dev.Encodings.Supports(store.EncodingBase64))
}

func TestTemplateRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	seedDevice(t, s)

	_, err := s.Template(ctx, "acme", "truck-07", 0x70)
	require.ErrorIs(t, err, store.ErrTemplateNotFound)

	want := dmtp.NewTemplate(0x70, []dmtp.FieldDef{
		{Type: dmtp.FieldTimestamp, Length: 4},
		{Type: dmtp.FieldGPSPoint, Length: 6},
		{Type: dmtp.FieldSpeed, HiRes: true, Length: 2},
	}, true)
	require.NoError(t, s.PutTemplate(ctx, "acme", "truck-07", want))

	got, err := s.Template(ctx, "acme", "truck-07", 0x70)
	require.NoError(t, err)
	require.Equal(t, want.String(), got.String())
	require.True(t, got.RepeatLast())

	// Re-registration replaces the previous template.
	repl := dmtp.NewTemplate(0x70, []dmtp.FieldDef{
		{Type: dmtp.FieldCounter, Length: 2},
	}, false)
	require.NoError(t, s.PutTemplate(ctx, "acme", "truck-07", repl))
	got, err = s.Template(ctx, "acme", "truck-07", 0x70)
	require.NoError(t, err)
	require.Equal(t, repl.String(), got.String())
	require.False(t, got.RepeatLast())
}

func TestInsertAndCountEvents(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	seedDevice(t, s)

	for i, ts := range []int64{1000, 2000, 3000} {
		require.NoError(t, s.InsertEvent(ctx, &store.Event{
			AccountID:  "acme",
			DeviceID:   "truck-07",
			Timestamp:  ts,
			StatusCode: dmtp.StatusLocation,
			Latitude:   39.7 + float64(i),
			Longitude:  -104.9,
			SpeedKPH:   60,
			RawData:    "F020",
			Extra:      map[string]string{"sens32AV.0": "10"},
		}))
	}

	count, err := s.EventCount(ctx, "acme", "truck-07", 1500, 2500)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = s.EventCount(ctx, "acme", "truck-07", 0, 5000)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	// Inserts bump the device event counter.
	dev, err := s.Device(ctx, "acme", "truck-07")
	require.NoError(t, err)
	require.EqualValues(t, 3, dev.EventCount)
}
