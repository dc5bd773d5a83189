package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kelvradu/smppgate/internal/sp"
	"github.com/kelvradu/smppgate/internal/store"
)

// TransitionEvent is a typed transport state change for one connection.
type TransitionEvent int

const (
	BoundRX TransitionEvent = iota
	BoundTX
	BoundTRX
	Closed
)

func (e TransitionEvent) String() string {
	switch e {
	case BoundRX:
		return "BOUND_RX"
	case BoundTX:
		return "BOUND_TX"
	case BoundTRX:
		return "BOUND_TRX"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StatusNotifier pushes tenant status and session-count changes to the
// control plane. Implementations rate-limit sends; a nil notifier skips
// notification entirely without affecting core correctness.
type StatusNotifier interface {
	NotifyStatus(ctx context.Context, networkID int, status string)
	NotifySessionCount(ctx context.Context, networkID int, count int)
}

// StateListener updates one tenant's bind accounting on connection state
// transitions. One instance is attached per connection; transitions for
// the same tenant are serialized by the listener mutex shared through the
// session.
type StateListener struct {
	sess     *SpSession
	notifier StatusNotifier
	store    store.Store
	sender   DeliverSender

	// serializes transition processing per tenant
	mu *sync.Mutex
}

// NewStateListener wires a listener for one connection of the tenant.
func NewStateListener(sess *SpSession, notifier StatusNotifier, s store.Store, sender DeliverSender) *StateListener {
	return &StateListener{
		sess:     sess,
		notifier: notifier,
		store:    s,
		sender:   sender,
		mu:       &sess.transitionMu,
	}
}

// OnTransition applies one transport state change for the connection.
func (l *StateListener) OnTransition(ctx context.Context, event TransitionEvent, conn Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sess.Status() == sp.StatusStopped {
		slog.WarnContext(ctx, "Service provider is stopped, ignoring state change",
			slog.String("system_id", l.sess.Provider().SystemID),
			slog.String("event", event.String()))
		return
	}

	switch event {
	case BoundRX, BoundTX, BoundTRX:
		l.boundProcessor(ctx, conn)
		l.sess.Persist(ctx)
	case Closed:
		l.closeProcessor(ctx, conn)
		l.sess.Persist(ctx)
	}
}

func (l *StateListener) boundProcessor(ctx context.Context, conn Conn) {
	s := l.sess
	s.mu.Lock()
	s.addConn(conn)
	if s.reserved > 0 {
		// settle the slot claimed during bind negotiation
		s.reserved--
	}
	provider := s.provider
	firstBind := provider.CurrentBindsCount == 0

	if firstBind {
		l.setStatus(ctx, provider, EventBindStarted, sp.StatusBinding)
	}
	provider.CurrentBindsCount++
	provider.Binds = append(provider.Binds, conn.ID())
	count := provider.CurrentBindsCount
	networkID := provider.NetworkID
	s.mu.Unlock()

	if firstBind {
		l.notifyStatus(ctx, networkID, sp.StatusBinding)
	}
	l.notifyCount(ctx, networkID, count)

	if count == 1 {
		s.mu.Lock()
		l.setStatus(ctx, provider, EventBindConfirmed, sp.StatusBound)
		s.mu.Unlock()
		l.notifyStatus(ctx, networkID, sp.StatusBound)
		// Drain off the callback so the bind acknowledgment is never
		// delayed by pending traffic.
		go l.drainPending(context.WithoutCancel(ctx))
	}
}

func (l *StateListener) closeProcessor(ctx context.Context, conn Conn) {
	s := l.sess
	s.mu.Lock()
	s.removeConn(conn)
	provider := s.provider
	lastBind := provider.CurrentBindsCount == 1

	if lastBind {
		l.setStatus(ctx, provider, EventUnbindStarted, sp.StatusUnbinding)
	}
	provider.CurrentBindsCount--
	if provider.CurrentBindsCount < 0 {
		provider.CurrentBindsCount = 0
	}
	for i, bindID := range provider.Binds {
		if bindID == conn.ID() {
			provider.Binds = append(provider.Binds[:i], provider.Binds[i+1:]...)
			break
		}
	}
	count := provider.CurrentBindsCount
	networkID := provider.NetworkID
	s.mu.Unlock()

	if lastBind {
		l.notifyStatus(ctx, networkID, sp.StatusUnbinding)
	}
	l.notifyCount(ctx, networkID, count)

	if count == 0 {
		s.mu.Lock()
		l.setStatus(ctx, provider, EventUnbindCompleted, sp.StatusStarted)
		s.mu.Unlock()
		l.notifyStatus(ctx, networkID, sp.StatusStarted)
	}
}

// setStatus validates the transition and records the new status. An
// invalid transition is logged and the target applied anyway: the record
// must track the transport's reality.
func (l *StateListener) setStatus(ctx context.Context, provider *sp.ServiceProvider, event, target string) {
	next, err := ApplyTransition(provider.Status, event)
	if err != nil {
		slog.WarnContext(ctx, "Unexpected lifecycle transition",
			slog.String("system_id", provider.SystemID),
			slog.String("from", provider.Status),
			slog.String("event", event))
		next = target
	}
	provider.Status = next
}

func (l *StateListener) notifyStatus(ctx context.Context, networkID int, status string) {
	if l.notifier == nil {
		return
	}
	l.notifier.NotifyStatus(ctx, networkID, status)
}

func (l *StateListener) notifyCount(ctx context.Context, networkID, count int) {
	if l.notifier == nil {
		return
	}
	l.notifier.NotifySessionCount(ctx, networkID, count)
}

// drainPending delivers notifications queued while the tenant had no live
// connection. Items that still cannot be delivered go back on the queue.
func (l *StateListener) drainPending(ctx context.Context) {
	provider := l.sess.Provider()
	key := PendingQueueKey(provider.SystemID)

	size, err := l.store.ListLen(ctx, key)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read pending queue length",
			slog.String("system_id", provider.SystemID), slog.Any("error", err))
		return
	}
	if size < 1 {
		slog.DebugContext(ctx, "Tenant bound with no pending deliver_sm",
			slog.String("system_id", provider.SystemID))
		return
	}

	items, err := l.store.ListPop(ctx, key, int(size))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to pop pending deliver_sm items",
			slog.String("system_id", provider.SystemID), slog.Any("error", err))
		return
	}

	for _, raw := range items {
		event, err := sp.DecodeMessageEvent(raw)
		if err != nil {
			slog.ErrorContext(ctx, "Skipping unparseable pending deliver_sm",
				slog.Any("error", err))
			continue
		}
		if err := l.sender.SendDeliver(ctx, l.sess, event); err != nil {
			slog.WarnContext(ctx, "No active session to send pending deliver_sm",
				slog.String("message_id", event.ID), slog.Any("error", err))
			if pushErr := l.store.ListPush(ctx, key, raw); pushErr != nil {
				slog.ErrorContext(ctx, "Failed to requeue pending deliver_sm",
					slog.Any("error", pushErr))
			}
		}
	}
}
