// Package session owns the per-tenant live state: the bound connections,
// the round-robin cursor, the cached credit flag and the state listener
// that keeps bind accounting in step with transport events.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/kelvradu/smppgate/internal/sp"
	"github.com/kelvradu/smppgate/internal/store"
)

// ErrNoLiveConn is returned by a DeliverSender when the tenant session has
// no live connection to write through.
var ErrNoLiveConn = errors.New("session: no live connection")

// Conn is one live bound client connection. Implemented by the SMPP
// server's connection handler.
type Conn interface {
	// ID uniquely identifies the connection for bind accounting.
	ID() string
	// WriteRaw writes a fully marshaled PDU to the client.
	WriteRaw(p []byte) error
	// Unbind delivers a best-effort unbind request and closes.
	Unbind() error
	// Close tears the transport down immediately.
	Close() error
}

// DeliverSender renders and writes one notification message over a live
// connection of the given session. Returns ErrNoLiveConn when the session
// has no connection to try.
type DeliverSender interface {
	SendDeliver(ctx context.Context, sess *SpSession, event *sp.MessageEvent) error
}

// PendingQueueKey names the per-tenant durable queue of notifications that
// could not be delivered because no connection was live.
func PendingQueueKey(systemID string) string {
	return systemID + "_smpp_pending_dlr"
}

// SpSession wraps one service provider's configuration plus its in-process
// connection handles. The connection list and the round-robin cursor share
// one mutex so add/remove never races with an in-progress selection.
type SpSession struct {
	store    store.Store
	hashName string

	mu       sync.Mutex
	provider *sp.ServiceProvider
	conns    []Conn
	rrIndex  int

	// bind slots admitted by the negotiator but not yet recorded by the
	// state listener; counted against the max-binds gate so concurrent
	// binds cannot all pass it
	reserved int

	// serializes state-machine transitions across this tenant's
	// connections; shared by every StateListener attached to it
	transitionMu sync.Mutex

	hasCredit atomic.Bool
}

func NewSpSession(s store.Store, hashName string, provider *sp.ServiceProvider) *SpSession {
	sess := &SpSession{store: s, hashName: hashName, provider: provider}
	sess.hasCredit.Store(provider.HasAvailableCredit)
	slog.Info("Initializing session for service provider",
		slog.String("system_id", provider.SystemID))
	return sess
}

// Provider returns the current tenant record. Callers must treat it as
// read-only; mutation goes through the state listener or ApplyUpdate.
func (s *SpSession) Provider() *sp.ServiceProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider
}

// HasAvailableCredit is the lock-free credit admission gate.
func (s *SpSession) HasAvailableCredit() bool {
	return s.hasCredit.Load()
}

// Status reads the tenant's lifecycle status under the session lock.
func (s *SpSession) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider.Status
}

// BindCount reads the recorded bind count under the session lock.
func (s *SpSession) BindCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider.CurrentBindsCount
}

// TryReserveBind claims a bind slot against the tenant's limit. A claim
// is settled when the state listener records the bind, or given back with
// ReleaseBind when the handshake fails after admission. Outstanding
// claims count toward the gate, so two concurrent binds racing for the
// last slot cannot both pass.
func (s *SpSession) TryReserveBind() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := s.provider.MaxBinds
	if max > 0 && s.provider.CurrentBindsCount+s.reserved >= max {
		return false
	}
	s.reserved++
	return true
}

// ReleaseBind gives back an unsettled bind reservation.
func (s *SpSession) ReleaseBind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved > 0 {
		s.reserved--
	}
}

// ConnCount returns the number of live connections.
func (s *SpSession) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// NextRoundRobin returns the next live connection, or nil when the session
// has none. The cursor is normalized back to zero when concurrent
// disconnects shrank the list underneath it.
func (s *SpSession) NextRoundRobin() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	if s.rrIndex >= len(s.conns) {
		s.rrIndex = 0
	}
	next := s.conns[s.rrIndex]
	s.rrIndex = (s.rrIndex + 1) % len(s.conns)
	return next
}

func (s *SpSession) addConn(c Conn) {
	s.conns = append(s.conns, c)
}

func (s *SpSession) removeConn(c Conn) {
	for i, existing := range s.conns {
		if existing.ID() == c.ID() {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

// Persist writes the tenant record to the external store, keyed by
// system id. Failures are logged; the in-memory state stays authoritative.
func (s *SpSession) Persist(ctx context.Context) {
	s.mu.Lock()
	provider := s.provider
	encoded, err := provider.Encode()
	s.mu.Unlock()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode service provider",
			slog.String("system_id", provider.SystemID), slog.Any("error", err))
		return
	}
	if err := s.store.HSet(ctx, s.hashName, provider.SystemID, encoded); err != nil {
		slog.ErrorContext(ctx, "Failed to persist service provider",
			slog.String("system_id", provider.SystemID), slog.Any("error", err))
	}
}

// ApplyUpdate replaces the tenant configuration wholesale. When the update
// disables the tenant, all live connections are unbound, bind accounting is
// zeroed and the status forced to STOPPED; the return value reports that a
// STOPPED notification is due.
func (s *SpSession) ApplyUpdate(ctx context.Context, updated *sp.ServiceProvider) bool {
	s.mu.Lock()
	s.provider = updated
	s.hasCredit.Store(updated.HasAvailableCredit)

	if updated.Enabled != 0 {
		s.mu.Unlock()
		s.Persist(ctx)
		return false
	}

	slog.InfoContext(ctx, "Stopping service provider",
		slog.String("system_id", updated.SystemID))
	updated.Status = sp.StatusStopped
	updated.Binds = nil
	updated.CurrentBindsCount = 0
	s.reserved = 0
	toClose := make([]Conn, len(s.conns))
	copy(toClose, s.conns)
	s.conns = nil
	s.mu.Unlock()

	for _, c := range toClose {
		if err := c.Unbind(); err != nil {
			slog.ErrorContext(ctx, "Error while unbinding connection",
				slog.String("conn_id", c.ID()), slog.Any("error", err))
		}
	}
	s.Persist(ctx)
	return true
}

// Destroy persists the final state and closes any remaining connections.
func (s *SpSession) Destroy(ctx context.Context) {
	s.mu.Lock()
	toClose := make([]Conn, len(s.conns))
	copy(toClose, s.conns)
	s.conns = nil
	systemID := s.provider.SystemID
	s.mu.Unlock()

	slog.InfoContext(ctx, "Destroying session", slog.String("system_id", systemID))
	for _, c := range toClose {
		_ = c.Close()
	}
	s.Persist(ctx)
}

// Registry maps system id to live tenant session. It is injected into the
// bind negotiator, the dispatcher and the control-plane handler.
type Registry struct {
	sessions cmap.ConcurrentMap[string, *SpSession]
}

func NewRegistry() *Registry {
	return &Registry{sessions: cmap.New[*SpSession]()}
}

func (r *Registry) Get(systemID string) (*SpSession, bool) {
	return r.sessions.Get(systemID)
}

// GetOrCreate returns the session for a tenant, creating it on first bind.
func (r *Registry) GetOrCreate(systemID string, create func() *SpSession) *SpSession {
	if existing, ok := r.sessions.Get(systemID); ok {
		return existing
	}
	created := create()
	if !r.sessions.SetIfAbsent(systemID, created) {
		existing, _ := r.sessions.Get(systemID)
		return existing
	}
	return created
}

func (r *Registry) Set(systemID string, sess *SpSession) {
	r.sessions.Set(systemID, sess)
}

func (r *Registry) Remove(systemID string) {
	r.sessions.Remove(systemID)
}

func (r *Registry) Count() int {
	return r.sessions.Count()
}
