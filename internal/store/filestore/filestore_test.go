package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dantte-lp/godmtp/internal/dmtp"
	"github.com/dantte-lp/godmtp/internal/store"
	"github.com/dantte-lp/godmtp/internal/store/filestore"
)

func openTestStore(t *testing.T) (*filestore.Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := filestore.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func seedDevice(t *testing.T, s *filestore.Store) *store.Device {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertAccount(ctx, &store.Account{Name: "acme", Active: true}))
	dev := &store.Device{
		AccountID: "acme",
		DeviceID:  "truck-07",
		UniqueID:  "0102030405",
		Active:    true,
		Limits: store.Limits{
			MaxSimplexConnPerMin: 2,
			MaxAllowedEvents:     50,
			LimitInterval:        30 * time.Minute,
		},
		SimplexProfile: []byte{0x00, 0x07},
		Encodings:      store.EncodingBinary | store.EncodingHex,
	}
	require.NoError(t, s.UpsertDevice(ctx, dev))
	return dev
}

func TestAccountRoundTrip(t *testing.T) {
	t.Parallel()

	s, dir := openTestStore(t)
	ctx := context.Background()

	_, err := s.Account(ctx, "missing")
	require.ErrorIs(t, err, store.ErrAccountNotFound)

	want := &store.Account{Name: "acme", Description: "fleet ops", Active: true}
	require.NoError(t, s.UpsertAccount(ctx, want))

	// The account lands as a YAML document on disk.
	_, err = os.Stat(filepath.Join(dir, "accounts", "acme.yaml"))
	require.NoError(t, err)

	got, err := s.Account(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, want, got)

	accts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accts, 1)

	require.NoError(t, s.DeleteAccount(ctx, "acme"))
	_, err = s.Account(ctx, "acme")
	require.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestDeviceRoundTrip(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()
	want := seedDevice(t, s)

	got, err := s.Device(ctx, "acme", "truck-07")
	require.NoError(t, err)
	require.Equal(t, want.Limits, got.Limits)
	require.Equal(t, want.SimplexProfile, got.SimplexProfile)
	require.Equal(t, want.Encodings, got.Encodings)

	byUnique, err := s.DeviceByUniqueID(ctx, "0102030405")
	require.NoError(t, err)
	require.Equal(t, "truck-07", byUnique.DeviceID)

	_, err = s.DeviceByUniqueID(ctx, "ffff")
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

	s, _ := openTestStore(t)
	ctx := context.Background()
	seedDevice(t, s)

	profile := []byte{0x01, 0x80}
	require.NoError(t, s.UpdateProfile(ctx, "acme", "truck-07", store.ModeSimplex, profile, 7200))

	dev, err := s.Device(ctx, "acme", "truck-07")
	require.NoError(t, err)
	require.Equal(t, profile, dev.SimplexProfile)
	require.EqualValues(t, 7200, dev.LastSimplexConnect)

	err = s.UpdateProfile(ctx, "acme", "ghost", store.ModeSimplex, profile, 7200)
	require.ErrorIs(t, err, store.ErrDeviceNotFound)
}

func TestRemoveEncoding(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()
	seedDevice(t, s)

	require.NoError(t, s.RemoveEncoding(ctx, "acme", "truck-07", store.EncodingHex))
	dev, err := s.Device(ctx, "acme", "truck-07")
	require.NoError(t, err)
	require.True(t, dev.Encodings.Supports(store.EncodingBinary))
	require.False(t, dev.Encodings.Supports(store.EncodingHex))
}

func TestTemplateLifetime(t *testing.T) {
	t.Parallel()

	s, dir := openTestStore(t)
	ctx := context.Background()
	seedDevice(t, s)

	tmpl := dmtp.NewTemplate(0x70, []dmtp.FieldDef{
		{Type: dmtp.FieldTimestamp, Length: 4},
	}, false)
	require.NoError(t, s.PutTemplate(ctx, "acme", "truck-07", tmpl))

	got, err := s.Template(ctx, "acme", "truck-07", 0x70)
	require.NoError(t, err)
	require.Equal(t, tmpl.String(), got.String())

	// Templates live in process memory only; a reopened store starts
	// empty and devices renegotiate their formats.
	reopened, err := filestore.Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	_, err = reopened.Template(ctx, "acme", "truck-07", 0x70)
	require.ErrorIs(t, err, store.ErrTemplateNotFound)
}

func TestInsertAndCountEvents(t *testing.T) {
	t.Parallel()

	s, dir := openTestStore(t)
	ctx := context.Background()
	seedDevice(t, s)

	for _, ts := range []int64{1000, 2000, 3000} {
		require.NoError(t, s.InsertEvent(ctx, &store.Event{
			AccountID:  "acme",
			DeviceID:   "truck-07",
			Timestamp:  ts,
			StatusCode: dmtp.StatusLocation,
			Latitude:   39.7,
			Longitude:  -104.9,
			RawData:    "F020",
		}))
	}

	_, err := os.Stat(filepath.Join(dir, "events", "acme", "truck-07.csv"))
	require.NoError(t, err)

	count, err := s.EventCount(ctx, "acme", "truck-07", 1500, 2500)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = s.EventCount(ctx, "acme", "truck-07", 0, 5000)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	// No log yet for an unknown device counts zero.
	count, err = s.EventCount(ctx, "acme", "ghost", 0, 5000)
	require.NoError(t, err)
	require.Zero(t, count)

	dev, err := s.Device(ctx, "acme", "truck-07")
	require.NoError(t, err)
	require.EqualValues(t, 3, dev.EventCount)
}
