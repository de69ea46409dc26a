// Package gate enforces per-device session admission policy: active
// flags, connection rate ceilings, and event quotas, backed by rolling
// minute-slot connection profiles.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dantte-lp/godmtp/internal/dmtp"
	"github.com/dantte-lp/godmtp/internal/store"
)

// Error is a policy rejection carrying the NAK code sent to the device.
type Error struct {
	Code   dmtp.NakCode
	Reason string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("policy: %s (%s)", e.Reason, e.Code)
}

// Nak returns the NAK code for the wire reply.
func (e *Error) Nak() dmtp.NakCode { return e.Code }

// MetricsReporter receives gate decision counts. Implementations must be
// safe for concurrent use.
type MetricsReporter interface {
	ConnectionAdmitted(mode string)
	ConnectionRejected(mode, reason string)
	EventRejected(reason string)
}

// noopMetrics discards all reports.
type noopMetrics struct{}

func (noopMetrics) ConnectionAdmitted(string)        {}
func (noopMetrics) ConnectionRejected(string, string) {}
func (noopMetrics) EventRejected(string)              {}

// Gate applies admission policy for device sessions. Safe for concurrent
// use; decisions for the same device serialize on a per-device lock so
// profile updates never race.
type Gate struct {
	store   store.Store
	log     *slog.Logger
	metrics MetricsReporter
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Gate.
type Option func(*Gate)

// WithMetrics wires a metrics reporter.
func WithMetrics(m MetricsReporter) Option {
	return func(g *Gate) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithClock overrides the gate's clock.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger wires a structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

// New creates a gate persisting admissions through st.
func New(st store.Store, opts ...Option) *Gate {
	g := &Gate{
		store:   st,
		log:     slog.Default(),
		metrics: noopMetrics{},
		now:     time.Now,
		locks:   map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// deviceLock returns the mutex serializing decisions for one device.
func (g *Gate) deviceLock(accountID, deviceID string) *sync.Mutex {
	key := accountID + "/" + deviceID
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[key]
	if !ok {
		l = &sync.Mutex{}
		g.locks[key] = l
	}
	return l
}

// AdmitConnection decides whether a new session of the given mode may
// proceed. On acceptance the connection is recorded in the mode's
// profile and the updated profile is persisted; dev is updated in place.
// Rejections are *Error values carrying the NAK code.
func (g *Gate) AdmitConnection(ctx context.Context, dev *store.Device, mode store.Mode) error {
	l := g.deviceLock(dev.AccountID, dev.DeviceID)
	l.Lock()
	defer l.Unlock()

	// The caller resolved dev before the lock was held; a concurrent
	// session may have marked the profile since. The check and the
	// update both run against the current record, re-read under the
	// lock, never the snapshot.
	fresh, err := g.store.Device(ctx, dev.AccountID, dev.DeviceID)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			g.metrics.ConnectionRejected(mode.String(), "unknown")
			return &Error{Code: dmtp.NakDeviceInvalid, Reason: "device removed"}
		}
		return fmt.Errorf("reload device: %w", err)
	}

	if !fresh.Active {
		g.metrics.ConnectionRejected(mode.String(), "inactive")
		return &Error{Code: dmtp.NakDeviceInactive, Reason: "device inactive"}
	}

	now := g.now()
	raw, last := fresh.Profile(mode)
	profile := ProfileFromBytes(raw)
	profile.Advance(now, last)
	perMin, total := fresh.Limits.ConnCeilings(mode)
	intervalMin := int(fresh.Limits.LimitInterval / time.Minute)

	if perMin > 0 && profile.Count(1)+1 > perMin {
		g.metrics.ConnectionRejected(mode.String(), "rate")
		g.log.Warn("connection rate limit exceeded",
			slog.String("account", dev.AccountID),
			slog.String("device", dev.DeviceID),
			slog.String("mode", mode.String()),
			slog.Int("ceiling", perMin))
		return &Error{Code: dmtp.NakExcessiveRate, Reason: "rate limit exceeded"}
	}
	if total > 0 && intervalMin > 0 && profile.Count(intervalMin)+1 > total {
		g.metrics.ConnectionRejected(mode.String(), "quota")
		g.log.Warn("connection quota exceeded",
			slog.String("account", dev.AccountID),
			slog.String("device", dev.DeviceID),
			slog.String("mode", mode.String()),
			slog.Int("ceiling", total))
		return &Error{Code: dmtp.NakExcessiveConnections, Reason: "quota exceeded"}
	}

	profile.Mark()
	updated := profile.Bytes()
	if mode == store.ModeDuplex {
		dev.DuplexProfile = updated
		dev.LastDuplexConnect = now.Unix()
	} else {
		dev.SimplexProfile = updated
		dev.LastSimplexConnect = now.Unix()
	}
	if err := g.store.UpdateProfile(ctx, dev.AccountID, dev.DeviceID, mode,
		updated, now.Unix()); err != nil {
		return fmt.Errorf("persist %s profile: %w", mode, err)
	}

	g.metrics.ConnectionAdmitted(mode.String())
	return nil
}

// AdmitEvent decides whether one more event may be stored for the device
// under its event quota. Rejections are *Error values.
func (g *Gate) AdmitEvent(ctx context.Context, dev *store.Device) error {
	limit := dev.Limits.MaxAllowedEvents
	interval := dev.Limits.LimitInterval
	if limit <= 0 || interval <= 0 {
		return nil
	}

	now := g.now().Unix()
	count, err := g.store.EventCount(ctx, dev.AccountID, dev.DeviceID,
		now-int64(interval/time.Second), now)
	if err != nil {
		return fmt.Errorf("event quota query: %w", err)
	}
	if count+1 > limit {
		g.metrics.EventRejected("quota")
		g.log.Warn("event quota exceeded",
			slog.String("account", dev.AccountID),
			slog.String("device", dev.DeviceID),
			slog.Int("ceiling", limit))
		return &Error{Code: dmtp.NakExcessiveEvents, Reason: "event quota exceeded"}
	}
	return nil
}
