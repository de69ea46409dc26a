package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// maxDatagramSize bounds a simplex datagram: identification frames plus
// a handful of events, each frame at most 258 bytes.
const maxDatagramSize = 2048

// UDPServer reads simplex DMTP datagrams and hands each to the Handler.
// Simplex devices get no replies, so datagrams are processed in order on
// the read goroutine.
type UDPServer struct {
	addr    string
	handler *Handler
	logger  *slog.Logger

	mu sync.Mutex
	pc net.PacketConn
}

// NewUDPServer creates a simplex listener for the given bind address.
func NewUDPServer(addr string, h *Handler, logger *slog.Logger) *UDPServer {
	return &UDPServer{
		addr:    addr,
		handler: h,
		logger:  logger.With(slog.String("component", "netio.udp")),
	}
}

// Run reads datagrams until ctx is cancelled.
func (s *UDPServer) Run(ctx context.Context) error {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", s.addr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()

	// Closing the socket is what unblocks ReadFrom at shutdown.
	stop := context.AfterFunc(ctx, func() { _ = pc.Close() })
	defer stop()

	s.logger.Info("simplex listener started", slog.String("addr", pc.LocalAddr().String()))

	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn("read datagram", slog.String("error", err.Error()))
			continue
		}

		dgram := make([]byte, n)
		copy(dgram, buf[:n])
		s.handler.ServeDatagram(ctx, dgram, src)
	}

	s.logger.Info("simplex listener stopped")
	return nil
}

// Addr returns the bound socket address, or nil before Run binds it.
func (s *UDPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return nil
	}
	return s.pc.LocalAddr()
}
