package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kelvradu/smppgate/internal/session"
)

// DestHandlerStatus receives tenant status and session-count updates.
const DestHandlerStatus = "/app/handler-status"

// WsStatusNotifier publishes tenant lifecycle changes to the operator UI.
// A fixed delay precedes every send so rapid bind churn does not flood the
// UI with intermediate states.
type WsStatusNotifier struct {
	socket *SocketSession
	delay  time.Duration
}

var _ session.StatusNotifier = (*WsStatusNotifier)(nil)

func NewWsStatusNotifier(socket *SocketSession, delay time.Duration) *WsStatusNotifier {
	return &WsStatusNotifier{socket: socket, delay: delay}
}

func (n *WsStatusNotifier) NotifyStatus(ctx context.Context, networkID int, status string) {
	n.send(ctx, fmt.Sprintf("sp,%d,status,%s", networkID, status))
}

func (n *WsStatusNotifier) NotifySessionCount(ctx context.Context, networkID, count int) {
	n.send(ctx, fmt.Sprintf("sp,%d,sessions,%d", networkID, count))
}

func (n *WsStatusNotifier) send(ctx context.Context, text string) {
	if n.delay > 0 && !sleepCtx(ctx, n.delay) {
		return
	}
	if err := n.socket.Send(ctx, DestHandlerStatus, text); err != nil {
		slog.ErrorContext(ctx, "Failed to send status notification",
			slog.String("payload", text), slog.Any("error", err))
	}
}
