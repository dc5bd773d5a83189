// Package smppserver is the client-facing SMPP listener: it frames PDUs off
// raw TCP, negotiates binds against the tenant registry and feeds accepted
// submissions into the gateway.
package smppserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kelvradu/smppgate/internal/cdr"
	"github.com/kelvradu/smppgate/internal/config"
	"github.com/kelvradu/smppgate/internal/logging"
	"github.com/kelvradu/smppgate/internal/multipart"
	"github.com/kelvradu/smppgate/internal/registry"
	"github.com/kelvradu/smppgate/internal/session"
	"github.com/kelvradu/smppgate/internal/sp"
	"github.com/kelvradu/smppgate/internal/store"
)

// Deps collects the collaborators the server needs to admit and serve a
// tenant connection.
type Deps struct {
	Tenants     *registry.TenantRegistry
	Sessions    *session.Registry
	Store       store.Store
	Keys        config.StoreKeys
	State       *registry.ServerState
	Settings    *registry.GeneralSettingsCache
	Reassembler *multipart.Reassembler
	CDR         cdr.Processor
	Notifier    session.StatusNotifier
	Sender      session.DeliverSender
}

// Server implements the raw SMPP TCP server.
type Server struct {
	cfg      config.ServerConfig
	systemID string // advertised in bind responses
	deps     Deps

	listener net.Listener
	conns    map[string]*clientConn
	connsMu  sync.Mutex
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a new raw SMPP server instance.
func NewServer(cfg config.ServerConfig, systemID string, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		systemID: systemID,
		deps:     deps,
		conns:    make(map[string]*clientConn),
		shutdown: make(chan struct{}),
	}
}

// Listen binds the TCP listener without serving yet.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("net.Listen failed: %w", err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe accepts raw TCP connections and handles SMPP sessions.
func (s *Server) ListenAndServe() error {
	slog.Info("Starting SMPP server", slog.String("address", s.cfg.Addr))
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-s.shutdown
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				slog.Info("SMPP listener closed gracefully")
				return nil
			default:
				slog.Error("Failed to accept connection", slog.Any("error", err))
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}

		cc := newClientConn(uuid.NewString(), conn)
		s.connsMu.Lock()
		s.conns[cc.id] = cc
		s.connsMu.Unlock()

		logCtx := logging.ContextWithRemoteAddr(context.Background(), conn.RemoteAddr().String())
		slog.InfoContext(logCtx, "Accepted new SMPP connection")

		s.wg.Add(1)
		go s.handleSession(logCtx, cc)
	}
}

// handleSession reads and processes PDUs for a single connection. The
// connection must bind within the bind timeout; after that every command is
// dispatched until unbind, read error or shutdown.
func (s *Server) handleSession(ctx context.Context, cc *clientConn) {
	var (
		sess     *session.SpSession
		listener *session.StateListener
	)
	bound := false
	canSubmit := false

	defer func() {
		if bound {
			listener.OnTransition(ctx, session.Closed, cc)
		}
		_ = cc.Close()
		s.removeConn(cc)
		slog.InfoContext(ctx, "Closed SMPP client connection")
		s.wg.Done()
	}()

	r := bufio.NewReader(cc.conn)
	for {
		deadline := s.cfg.ReadTimeout
		if !bound {
			deadline = s.cfg.BindTimeout
		}
		_ = cc.conn.SetReadDeadline(time.Now().Add(deadline))

		hdr, body, err := readPDU(r)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				slog.InfoContext(ctx, "Client closed connection")
			case errors.Is(err, net.ErrClosed):
				slog.InfoContext(ctx, "Connection closed during shutdown")
			default:
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					if !bound {
						slog.WarnContext(ctx, "Client did not bind in time, closing")
					} else {
						slog.InfoContext(ctx, "Client connection idle, closing")
					}
				} else {
					slog.WarnContext(ctx, "Error reading PDU", slog.Any("error", err))
				}
			}
			return
		}

		logCtx := logging.ContextWithPDUInfo(ctx, commandIDToString(hdr.CommandID), int32(hdr.SequenceNumber))
		if sess != nil {
			logCtx = logging.ContextWithSystemID(logCtx, sess.Provider().SystemID)
		}

		if !bound {
			if !isBindCommand(hdr.CommandID) {
				slog.WarnContext(logCtx, "Received command before bind")
				_ = cc.writeResponse(hdr, hdr.CommandID|0x80000000, StatusInvBndSts)
				continue
			}
			var event session.TransitionEvent
			sess, event, bound = s.negotiateBind(logCtx, cc, hdr, body)
			if !bound {
				return
			}
			canSubmit = hdr.CommandID != CommandBindReceiver
			listener = session.NewStateListener(sess, s.deps.Notifier, s.deps.Store, s.deps.Sender)
			listener.OnTransition(logCtx, event, cc)
			continue
		}

		switch hdr.CommandID {
		case CommandBindTransceiver, CommandBindReceiver, CommandBindTransmitter:
			slog.WarnContext(logCtx, "Received bind request on already bound session")
			_ = cc.writeResponse(hdr, bindRespCommand(hdr.CommandID), StatusInvBndSts)
		case CommandSubmitSM:
			if !canSubmit {
				slog.WarnContext(logCtx, "Receiver bind attempted submit_sm")
				_ = cc.writeResponse(hdr, CommandSubmitSMResp, StatusInvBndSts)
				continue
			}
			s.handleSubmitSM(logCtx, cc, sess, hdr, body)
		case CommandUnbind:
			slog.InfoContext(logCtx, "Handling unbind request")
			_ = cc.writeResponse(hdr, CommandUnbindResp, StatusOk)
			return
		case CommandEnquireLink:
			slog.DebugContext(logCtx, "Received enquire_link")
			_ = cc.writeResponse(hdr, CommandEnquireLinkResp, StatusOk)
		case CommandDeliverSMResp:
			slog.DebugContext(logCtx, "Received deliver_sm_resp",
				slog.Uint64("command_status", uint64(hdr.CommandStatus)))
		default:
			slog.WarnContext(logCtx, "Received unknown command ID")
			_ = cc.writeResponse(hdr, CommandGenericNack, StatusInvCmdID)
		}
	}
}

// negotiateBind runs the admission checks in order and, on success, attaches
// the connection to its tenant session and acknowledges the bind. Every
// rejection closes the connection after the negative response.
func (s *Server) negotiateBind(ctx context.Context, cc *clientConn, hdr PDUHeader, body []byte) (*session.SpSession, session.TransitionEvent, bool) {
	respCmd := bindRespCommand(hdr.CommandID)

	if s.deps.State.IsStopped() {
		slog.WarnContext(ctx, "Server is administratively stopped, rejecting bind")
		_ = cc.writeResponse(hdr, respCmd, StatusSystemError)
		return nil, 0, false
	}

	systemID, n, ok := readCString(body)
	if !ok || systemID == "" {
		slog.WarnContext(ctx, "Bind failed: cannot parse system_id or is empty")
		_ = cc.writeResponse(hdr, respCmd, StatusInvSysID)
		return nil, 0, false
	}
	ctx = logging.ContextWithSystemID(ctx, systemID)

	password, _, ok := readCString(body[n:])
	if !ok {
		slog.WarnContext(ctx, "Bind failed: cannot parse password field")
		_ = cc.writeResponse(hdr, respCmd, StatusInvPasswd)
		return nil, 0, false
	}

	provider, ok := s.deps.Tenants.GetBySystemID(systemID)
	if !ok {
		slog.WarnContext(ctx, "Bind failed: unknown system_id")
		_ = cc.writeResponse(hdr, respCmd, StatusInvSysID)
		return nil, 0, false
	}
	if provider.Enabled == 0 || provider.Status == sp.StatusStopped {
		slog.WarnContext(ctx, "Bind failed: service provider is stopped")
		_ = cc.writeResponse(hdr, respCmd, StatusSystemError)
		return nil, 0, false
	}
	if provider.Password != password {
		slog.WarnContext(ctx, "Bind failed: invalid password")
		_ = cc.writeResponse(hdr, respCmd, StatusInvPasswd)
		return nil, 0, false
	}

	sess := s.deps.Sessions.GetOrCreate(systemID, func() *session.SpSession {
		return session.NewSpSession(s.deps.Store, s.deps.Keys.ServiceProvidersHash, provider)
	})

	// the reservation checks and claims the slot under one lock; the
	// state listener settles it when the bind is recorded
	if !sess.TryReserveBind() {
		slog.WarnContext(ctx, "Bind failed: max binds reached",
			slog.Int("max_binds", provider.MaxBinds))
		_ = cc.writeResponse(hdr, respCmd, StatusBindFailed)
		return nil, 0, false
	}
	if !bindTypeMatches(hdr.CommandID, provider.BindType) {
		sess.ReleaseBind()
		slog.WarnContext(ctx, "Bind failed: bind type mismatch",
			slog.String("requested", commandIDToString(hdr.CommandID)),
			slog.String("configured", provider.BindType))
		_ = cc.writeResponse(hdr, respCmd, StatusBindFailed)
		return nil, 0, false
	}

	respBody := append([]byte(s.systemID), 0x00)
	if err := cc.writePDU(makeHeader(respCmd, hdr.SequenceNumber, StatusOk), respBody); err != nil {
		sess.ReleaseBind()
		slog.ErrorContext(ctx, "Failed to write bind response", slog.Any("error", err))
		return nil, 0, false
	}
	slog.InfoContext(ctx, "Bind successful")
	return sess, bindEvent(hdr.CommandID), true
}

// bindTypeMatches checks the requested bind command against the tenant's
// configured bind type.
func bindTypeMatches(cmdID uint32, bindType string) bool {
	switch cmdID {
	case CommandBindTransceiver:
		return bindType == sp.BindTransceiver
	case CommandBindTransmitter:
		return bindType == sp.BindTransmitter
	case CommandBindReceiver:
		return bindType == sp.BindReceiver
	default:
		return false
	}
}

func bindEvent(cmdID uint32) session.TransitionEvent {
	switch cmdID {
	case CommandBindReceiver:
		return session.BoundRX
	case CommandBindTransmitter:
		return session.BoundTX
	default:
		return session.BoundTRX
	}
}

// readPDU reads one framed PDU: the 16-byte header plus the declared body.
func readPDU(r *bufio.Reader) (PDUHeader, []byte, error) {
	hdrBytes := make([]byte, 16)
	if _, err := io.ReadFull(r, hdrBytes); err != nil {
		return PDUHeader{}, nil, err
	}

	var hdr PDUHeader
	hdr.Length = binary.BigEndian.Uint32(hdrBytes[0:4])
	hdr.CommandID = binary.BigEndian.Uint32(hdrBytes[4:8])
	hdr.CommandStatus = binary.BigEndian.Uint32(hdrBytes[8:12])
	hdr.SequenceNumber = binary.BigEndian.Uint32(hdrBytes[12:16])

	if hdr.Length < 16 {
		return hdr, nil, fmt.Errorf("invalid PDU length: %d (must be >= 16)", hdr.Length)
	}

	bodyLen := int(hdr.Length) - 16
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return hdr, nil, fmt.Errorf("error reading PDU body (expected %d bytes): %w", bodyLen, err)
		}
	}
	return hdr, body, nil
}

// readCString reads a NUL-terminated string from a byte slice. Returns the
// string, the number of bytes consumed (including NUL), and ok status.
func readCString(b []byte) (string, int, bool) {
	idx := bytes.IndexByte(b, 0x00)
	if idx == -1 {
		return "", 0, false
	}
	return string(b[:idx]), idx + 1, true
}

// removeConn drops the connection from the shutdown set.
func (s *Server) removeConn(cc *clientConn) {
	s.connsMu.Lock()
	delete(s.conns, cc.id)
	s.connsMu.Unlock()
}

// Shutdown gracefully stops the server: the listener closes first, then
// every live connection receives a best-effort unbind before its transport
// is torn down.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.InfoContext(ctx, "Shutdown requested for SMPP server")
	close(s.shutdown)
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.connsMu.Lock()
	toClose := make([]*clientConn, 0, len(s.conns))
	for _, cc := range s.conns {
		toClose = append(toClose, cc)
	}
	s.connsMu.Unlock()

	var closeWg sync.WaitGroup
	for _, cc := range toClose {
		closeWg.Add(1)
		go func(cc *clientConn) {
			defer closeWg.Done()
			if err := cc.Unbind(); err != nil {
				slog.DebugContext(ctx, "Error while unbinding connection",
					slog.String("conn_id", cc.ID()), slog.Any("error", err))
			}
		}(cc)
	}
	closeWg.Wait()

	s.wg.Wait()
	slog.InfoContext(ctx, "SMPP server shutdown complete")
	return nil
}
