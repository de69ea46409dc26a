package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// TCPServer accepts duplex DMTP sessions and hands each connection to
// the Handler. One goroutine per session.
type TCPServer struct {
	addr    string
	handler *Handler
	logger  *slog.Logger

	mu sync.Mutex
	ln net.Listener
}

// NewTCPServer creates a duplex listener for the given bind address.
func NewTCPServer(addr string, h *Handler, logger *slog.Logger) *TCPServer {
	return &TCPServer{
		addr:    addr,
		handler: h,
		logger:  logger.With(slog.String("component", "netio.tcp")),
	}
}

// Run listens and serves sessions until ctx is cancelled. It blocks
// until the listener is closed and all in-flight sessions finish.
func (s *TCPServer) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	// Closing the listener is what unblocks Accept at shutdown.
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.logger.Info("duplex listener started", slog.String("addr", ln.Addr().String()))

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn("accept", slog.String("error", err.Error()))
			continue
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			s.handler.ServeConn(ctx, c)
		}(conn)
	}

	wg.Wait()
	s.logger.Info("duplex listener stopped")
	return nil
}

// Addr returns the bound listener address, or nil before Run binds it.
// Useful when binding to port 0.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}
