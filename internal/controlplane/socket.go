// Package controlplane is the websocket channel to the operator UI:
// outbound tenant status notifications and inbound configuration-change
// frames. The gateway stays fully functional when the channel is down.
package controlplane

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kelvradu/smppgate/internal/config"
)

// Frame is one message on the control-plane channel, both directions.
type Frame struct {
	Destination string `json:"destination"`
	Payload     string `json:"payload"`
}

// SocketSession maintains one websocket connection to the operator UI,
// reconnecting with a fixed retry interval. Send is serialized and degrades
// to a no-op while disconnected.
type SocketSession struct {
	cfg config.ControlPlaneConfig

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewSocketSession(cfg config.ControlPlaneConfig) *SocketSession {
	return &SocketSession{cfg: cfg}
}

// Run connects and processes inbound frames until ctx is canceled. Each
// connection loss triggers a reconnect after the retry interval.
func (s *SocketSession) Run(ctx context.Context, handler *FrameHandler) {
	if s.cfg.URL == "" {
		slog.InfoContext(ctx, "Control plane URL not configured, channel disabled")
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, s.header())
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			slog.WarnContext(ctx, "Control plane connect failed, retrying",
				slog.String("url", s.cfg.URL), slog.Any("error", err))
			if !sleepCtx(ctx, s.cfg.RetryInterval) {
				return
			}
			continue
		}

		slog.InfoContext(ctx, "Control plane connected", slog.String("url", s.cfg.URL))
		s.setConn(conn)
		s.readLoop(ctx, conn, handler)
		s.setConn(nil)
		_ = conn.Close()

		if !sleepCtx(ctx, s.cfg.RetryInterval) {
			return
		}
	}
}

func (s *SocketSession) header() http.Header {
	h := http.Header{}
	if s.cfg.HeaderValue != "" {
		h.Set(s.cfg.HeaderName, s.cfg.HeaderValue)
	}
	return h
}

func (s *SocketSession) readLoop(ctx context.Context, conn *websocket.Conn, handler *FrameHandler) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.WarnContext(ctx, "Control plane read failed", slog.Any("error", err))
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.ErrorContext(ctx, "Malformed control plane frame", slog.Any("error", err))
			continue
		}
		if handler != nil {
			handler.Handle(ctx, frame)
		}
	}
}

func (s *SocketSession) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Send writes one frame. A nil receiver or a disconnected channel drops the
// frame silently: notifications are best-effort.
func (s *SocketSession) Send(ctx context.Context, destination, text string) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		slog.DebugContext(ctx, "Control plane disconnected, dropping frame",
			slog.String("destination", destination))
		return nil
	}
	b, err := json.Marshal(Frame{Destination: destination, Payload: text})
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
