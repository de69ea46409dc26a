package netio

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/dantte-lp/godmtp/internal/dmtp"
	"github.com/dantte-lp/godmtp/internal/gate"
	"github.com/dantte-lp/godmtp/internal/store"
)

// Session defaults applied when the corresponding option is not given.
const (
	// DefaultReadTimeout bounds the wait for the next client frame.
	DefaultReadTimeout = 60 * time.Second

	// DefaultMaxEventsPerBlock caps events between end-of-block markers.
	DefaultMaxEventsPerBlock = 32
)

var (
	// ErrIdentIncomplete indicates a device sent events without enough
	// identification packets to resolve it.
	ErrIdentIncomplete = errors.New("device identification incomplete")

	// ErrBlockOverrun indicates a device exceeded the per-block event cap.
	ErrBlockOverrun = errors.New("too many events in one block")
)

// -------------------------------------------------------------------------
// MetricsReporter — transport counters
// -------------------------------------------------------------------------

// MetricsReporter receives transport-level counters. This interface
// decouples netio from the Prometheus collector so transports can run
// without metrics wired up.
type MetricsReporter interface {
	// RegisterSession marks a session as open for the mode.
	RegisterSession(mode string)

	// UnregisterSession marks a session as closed for the mode.
	UnregisterSession(mode string)

	// IncPacketsReceived counts one client frame read.
	IncPacketsReceived(mode string)

	// IncPacketsSent counts one server frame written.
	IncPacketsSent(mode string)

	// IncEventsStored counts one decoded event persisted.
	IncEventsStored(mode string)

	// IncNaksSent counts one NAK reply by its code description.
	IncNaksSent(code string)
}

// noopMetrics discards all counters.
type noopMetrics struct{}

func (noopMetrics) RegisterSession(string)    {}
func (noopMetrics) UnregisterSession(string)  {}
func (noopMetrics) IncPacketsReceived(string) {}
func (noopMetrics) IncPacketsSent(string)     {}
func (noopMetrics) IncEventsStored(string)    {}
func (noopMetrics) IncNaksSent(string)        {}

// -------------------------------------------------------------------------
// Handler — shared session logic
// -------------------------------------------------------------------------

// Handler drives DMTP conversations for both transports: the duplex TCP
// session loop via ServeConn and the simplex UDP path via ServeDatagram.
// It owns no sockets itself; TCPServer and UDPServer feed it.
type Handler struct {
	store   store.Store
	gate    *gate.Gate
	decoder *dmtp.Decoder
	logger  *slog.Logger
	metrics MetricsReporter

	readTimeout       time.Duration
	maxEventsPerBlock int
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithMetrics wires a transport metrics reporter.
func WithMetrics(m MetricsReporter) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the base logger for session logs.
func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = log }
}

// WithDecoder replaces the event decoder, mainly to pin the clock in tests.
func WithDecoder(d *dmtp.Decoder) HandlerOption {
	return func(h *Handler) { h.decoder = d }
}

// WithReadTimeout bounds the wait for each client frame on duplex
// sessions. Zero disables the deadline.
func WithReadTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) { h.readTimeout = d }
}

// WithMaxEventsPerBlock caps events between end-of-block markers.
// Zero disables the cap.
func WithMaxEventsPerBlock(n int) HandlerOption {
	return func(h *Handler) { h.maxEventsPerBlock = n }
}

// NewHandler creates a Handler over the given store and policy gate.
func NewHandler(st store.Store, g *gate.Gate, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:             st,
		gate:              g,
		decoder:           dmtp.NewDecoder(),
		logger:            slog.Default(),
		metrics:           noopMetrics{},
		readTimeout:       DefaultReadTimeout,
		maxEventsPerBlock: DefaultMaxEventsPerBlock,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// templateSource adapts the store's per-device template lookup into the
// decoder's TemplateSource for one session.
func (h *Handler) templateSource(ctx context.Context, dev *store.Device) dmtp.TemplateSource {
	return dmtp.TemplateSourceFunc(func(customType uint8) (*dmtp.Template, bool) {
		tmpl, err := h.store.Template(ctx, dev.AccountID, dev.DeviceID, customType)
		if err != nil {
			return nil, false
		}
		return tmpl, true
	})
}

// -------------------------------------------------------------------------
// Device identification
// -------------------------------------------------------------------------

// identity accumulates the identification packets a device sends before
// its first event or format definition.
type identity struct {
	uniqueID  string
	accountID string
	deviceID  string
}

// record absorbs one identification packet. Later packets of the same
// kind overwrite earlier ones.
func (id *identity) record(pkt *dmtp.Packet) {
	switch pkt.Type {
	case dmtp.PktClientUniqueID:
		id.uniqueID = uniqueIDString(pkt.Payload)
	case dmtp.PktClientAccountID:
		id.accountID = identString(pkt.Payload)
	case dmtp.PktClientDeviceID:
		id.deviceID = identString(pkt.Payload)
	}
}

// uniqueIDString renders opaque unique-ID bytes in the canonical stored
// form: uppercase hex.
func uniqueIDString(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// identString renders an account or device identifier payload, trimming
// any NUL padding the device appended.
func identString(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

// resolveDevice looks up the device the identity names. The returned NAK
// code tells the caller what to reply when resolution fails.
func (h *Handler) resolveDevice(ctx context.Context, id identity) (*store.Device, dmtp.NakCode, error) {
	if id.uniqueID != "" {
		dev, err := h.store.DeviceByUniqueID(ctx, id.uniqueID)
		if err != nil {
			return nil, dmtp.NakDeviceInvalid, fmt.Errorf("resolve unique ID %s: %w", id.uniqueID, err)
		}
		return dev, 0, nil
	}

	if id.accountID == "" || id.deviceID == "" {
		return nil, dmtp.NakDeviceInvalid, ErrIdentIncomplete
	}

	if _, err := h.store.Account(ctx, id.accountID); err != nil {
		return nil, dmtp.NakAccountInvalid, fmt.Errorf("resolve account %s: %w", id.accountID, err)
	}

	dev, err := h.store.Device(ctx, id.accountID, id.deviceID)
	if err != nil {
		return nil, dmtp.NakDeviceInvalid,
			fmt.Errorf("resolve device %s/%s: %w", id.accountID, id.deviceID, err)
	}
	return dev, 0, nil
}

// -------------------------------------------------------------------------
// Duplex session loop (TCP)
// -------------------------------------------------------------------------

// ServeConn runs one duplex DMTP session over conn until the device ends
// it with a final end-of-block, the connection drops, or ctx is
// cancelled. The connection is closed on return.
func (h *Handler) ServeConn(ctx context.Context, conn net.Conn) {
	mode := store.ModeDuplex.String()
	h.metrics.RegisterSession(mode)
	defer h.metrics.UnregisterSession(mode)
	defer func() { _ = conn.Close() }()

	s := &session{
		h:    h,
		conn: conn,
		log: h.logger.With(
			slog.String("component", "netio.session"),
			slog.String("remote", conn.RemoteAddr().String()),
		),
	}

	s.log.Debug("session opened")

	if err := s.run(ctx); err != nil {
		s.log.Warn("session ended", slog.String("error", err.Error()))
		return
	}
	s.log.Debug("session closed")
}

// session is the per-connection state of one duplex conversation.
type session struct {
	h    *Handler
	conn net.Conn
	log  *slog.Logger

	id  identity
	dev *store.Device

	// blockEvents counts events since the last end-of-block marker.
	blockEvents int
}

// run reads and dispatches client frames until the session ends.
func (s *session) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		pkt, err := s.readPacket()
		if err != nil {
			// A clean close between frames is a normal session end.
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return s.abortMalformed(ctx, err)
		}

		done, err := s.handle(ctx, pkt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// readPacket reads one client frame, applying the session read deadline.
func (s *session) readPacket() (*dmtp.Packet, error) {
	if s.h.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.h.readTimeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}

	pkt, err := dmtp.ReadPacket(s.conn)
	if err != nil {
		return nil, err
	}

	s.h.metrics.IncPacketsReceived(store.ModeDuplex.String())
	return pkt, nil
}

// handle dispatches one client frame. It reports done=true when the
// session completed its final end-of-block handshake.
func (s *session) handle(ctx context.Context, pkt *dmtp.Packet) (bool, error) {
	if pkt.IsIdent() {
		if s.dev != nil {
			// Re-identification mid-session is a protocol violation.
			return false, s.nak(dmtp.NakPacketType, pkt.Type)
		}
		s.id.record(pkt)
		return false, nil
	}

	// The first non-identification frame closes the identification phase.
	if s.dev == nil {
		if err := s.identify(ctx, pkt.Type); err != nil {
			s.log.Warn("identification rejected", slog.String("error", err.Error()))
			return true, s.write(dmtp.NewServerPacket(dmtp.PktServerEOT, nil))
		}
	}

	switch {
	case pkt.Type == dmtp.PktClientFormatDef:
		return false, s.handleFormatDef(ctx, pkt)

	case pkt.IsEvent():
		return false, s.handleEvent(ctx, pkt)

	case pkt.Type == dmtp.PktClientEOBMore:
		s.blockEvents = 0
		return false, s.write(dmtp.NewServerPacket(dmtp.PktServerEOB, nil))

	case pkt.Type == dmtp.PktClientEOBDone:
		if err := s.write(dmtp.NewServerPacket(dmtp.PktServerEOB, nil)); err != nil {
			return true, err
		}
		return true, s.write(dmtp.NewServerPacket(dmtp.PktServerEOT, nil))

	default:
		return false, s.nak(dmtp.NakPacketType, pkt.Type)
	}
}

// identify resolves the accumulated identity and runs the connection
// through the policy gate. The NAK for a rejection is sent here; trigger
// is the packet type that closed the identification phase.
func (s *session) identify(ctx context.Context, trigger byte) error {
	dev, code, err := s.h.resolveDevice(ctx, s.id)
	if err != nil {
		if nakErr := s.nak(code, trigger); nakErr != nil {
			return nakErr
		}
		return err
	}

	if err := s.h.gate.AdmitConnection(ctx, dev, store.ModeDuplex); err != nil {
		code := dmtp.NakDeviceInactive
		if c, ok := dmtp.NakOf(err); ok {
			code = c
		}
		if nakErr := s.nak(code, trigger); nakErr != nil {
			return nakErr
		}
		return err
	}

	s.dev = dev
	s.log = s.log.With(
		slog.String("account", dev.AccountID),
		slog.String("device", dev.DeviceID),
	)
	s.log.Info("device identified")
	return nil
}

// handleFormatDef registers an uploaded custom format definition.
func (s *session) handleFormatDef(ctx context.Context, pkt *dmtp.Packet) error {
	tmpl, err := dmtp.DecodeFormatDef(pkt.Payload)
	if err != nil {
		s.log.Warn("bad format definition", slog.String("error", err.Error()))
		return s.nak(dmtp.NakFormatDefinitionInvalid, pkt.Type)
	}

	if err := s.h.store.PutTemplate(ctx, s.dev.AccountID, s.dev.DeviceID, tmpl); err != nil {
		s.log.Error("store template", slog.String("error", err.Error()))
		return s.nak(dmtp.NakInsertFailed, pkt.Type)
	}

	s.log.Debug("template registered",
		slog.Int("custom_type", int(tmpl.PacketType())),
		slog.String("template", tmpl.String()),
	)
	return s.write(dmtp.NewServerPacket(dmtp.PktServerAck, nil))
}

// handleEvent decodes, admits, and persists one event frame, then ACKs.
func (s *session) handleEvent(ctx context.Context, pkt *dmtp.Packet) error {
	s.blockEvents++
	if limit := s.h.maxEventsPerBlock; limit > 0 && s.blockEvents > limit {
		if err := s.nak(dmtp.NakExcessiveEvents, pkt.Type); err != nil {
			return err
		}
		return fmt.Errorf("session %s/%s: %w",
			s.dev.AccountID, s.dev.DeviceID, ErrBlockOverrun)
	}

	ev, err := s.h.decoder.Decode(pkt, s.h.templateSource(ctx, s.dev))
	if err != nil {
		s.log.Warn("decode event",
			slog.Int("packet_type", int(pkt.Type)),
			slog.String("error", err.Error()),
		)
		code := dmtp.NakPacketPayload
		if c, ok := dmtp.NakOf(err); ok {
			code = c
		}
		diag := []byte(nil)
		var decErr *dmtp.DecodeError
		if errors.As(err, &decErr) && decErr.Code == dmtp.NakFormatDefinitionInvalid {
			diag = []byte{decErr.FieldType}
		}
		return s.nak(code, pkt.Type, diag...)
	}

	if err := s.h.gate.AdmitEvent(ctx, s.dev); err != nil {
		code := dmtp.NakExcessiveEvents
		if c, ok := dmtp.NakOf(err); ok {
			code = c
		}
		return s.nak(code, pkt.Type)
	}

	row := store.EventFromDecoded(s.dev.AccountID, s.dev.DeviceID, ev)
	if err := s.h.store.InsertEvent(ctx, row); err != nil {
		s.log.Error("insert event", slog.String("error", err.Error()))
		return s.nak(dmtp.NakInsertFailed, pkt.Type)
	}

	s.h.metrics.IncEventsStored(store.ModeDuplex.String())
	return s.write(dmtp.NewServerPacket(dmtp.PktServerAck, nil))
}

// abortMalformed turns a framing-level read failure into a final NAK and
// EOT before the session tears down. A bad header byte from an identified
// device means it is not speaking the framed binary encoding, so that
// encoding is struck from its support bitmap. Errors that are not framing
// failures pass through untouched.
func (s *session) abortMalformed(ctx context.Context, readErr error) error {
	var code dmtp.NakCode
	switch {
	case errors.Is(readErr, dmtp.ErrBadHeader):
		code = dmtp.NakPacketHeader
	case errors.Is(readErr, dmtp.ErrPacketTruncated):
		code = dmtp.NakPacketLength
	default:
		return readErr
	}

	if code == dmtp.NakPacketHeader && s.dev != nil {
		if err := s.h.store.RemoveEncoding(ctx, s.dev.AccountID, s.dev.DeviceID,
			store.EncodingBinary); err != nil {
			s.log.Warn("encoding strike failed", slog.String("error", err.Error()))
		}
	}

	if err := s.nak(code, 0); err != nil {
		return readErr
	}
	if err := s.write(dmtp.NewServerPacket(dmtp.PktServerEOT, nil)); err != nil {
		return readErr
	}
	return readErr
}

// nak sends a NAK reply carrying the code and the offending packet type.
func (s *session) nak(code dmtp.NakCode, ptype byte, diag ...byte) error {
	s.h.metrics.IncNaksSent(code.String())
	return s.write(dmtp.NewNak(code, ptype, diag...))
}

// write encodes and transmits one server frame.
func (s *session) write(pkt *dmtp.Packet) error {
	if _, err := s.conn.Write(pkt.Encode()); err != nil {
		return fmt.Errorf("write packet 0x%02X: %w", pkt.Type, err)
	}
	s.h.metrics.IncPacketsSent(store.ModeDuplex.String())
	return nil
}

// -------------------------------------------------------------------------
// Simplex datagram path (UDP)
// -------------------------------------------------------------------------

// ServeDatagram processes one simplex datagram: identification frames
// followed by event frames, no replies. Malformed or rejected input is
// logged and dropped; a UDP device gets no feedback in simplex mode.
func (h *Handler) ServeDatagram(ctx context.Context, buf []byte, src net.Addr) {
	mode := store.ModeSimplex.String()
	log := h.logger.With(
		slog.String("component", "netio.datagram"),
		slog.String("remote", src.String()),
	)

	var (
		id  identity
		dev *store.Device
	)

	rest := buf
	for len(rest) > 0 {
		pkt, n, err := dmtp.DecodePacket(rest)
		if err != nil {
			log.Debug("invalid frame", slog.String("error", err.Error()))
			return
		}
		rest = rest[n:]
		h.metrics.IncPacketsReceived(mode)

		switch {
		case pkt.IsIdent():
			if dev == nil {
				id.record(pkt)
			}

		case pkt.IsEvent():
			if dev == nil {
				d, _, err := h.resolveDevice(ctx, id)
				if err != nil {
					log.Warn("identification rejected", slog.String("error", err.Error()))
					return
				}
				if err := h.gate.AdmitConnection(ctx, d, store.ModeSimplex); err != nil {
					log.Warn("connection rejected", slog.String("error", err.Error()))
					return
				}
				dev = d
				log = log.With(
					slog.String("account", dev.AccountID),
					slog.String("device", dev.DeviceID),
				)
			}
			h.storeSimplexEvent(ctx, dev, pkt, log)

		default:
			// End-of-block markers carry no reply in simplex mode.
		}
	}
}

// storeSimplexEvent decodes and persists one simplex event. Failures are
// logged only; the simplex path never replies.
func (h *Handler) storeSimplexEvent(ctx context.Context, dev *store.Device, pkt *dmtp.Packet, log *slog.Logger) {
	ev, err := h.decoder.Decode(pkt, h.templateSource(ctx, dev))
	if err != nil {
		log.Warn("decode event",
			slog.Int("packet_type", int(pkt.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := h.gate.AdmitEvent(ctx, dev); err != nil {
		log.Warn("event rejected", slog.String("error", err.Error()))
		return
	}

	row := store.EventFromDecoded(dev.AccountID, dev.DeviceID, ev)
	if err := h.store.InsertEvent(ctx, row); err != nil {
		log.Error("insert event", slog.String("error", err.Error()))
		return
	}

	h.metrics.IncEventsStored(store.ModeSimplex.String())
}
