package session_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kelvradu/smppgate/internal/session"
	"github.com/kelvradu/smppgate/internal/sp"
	"github.com/kelvradu/smppgate/internal/store"
)

const providersHash = "service_providers"

type fakeConn struct {
	id string

	mu      sync.Mutex
	writes  int
	unbound bool
	closed  bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) WriteRaw([]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	return nil
}

func (c *fakeConn) Unbind() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unbound = true
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []*sp.MessageEvent
	err  error
}

func (s *fakeSender) SendDeliver(_ context.Context, _ *session.SpSession, event *sp.MessageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, event)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type notification struct {
	networkID int
	kind      string
	value     string
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []notification
}

func (n *fakeNotifier) NotifyStatus(_ context.Context, networkID int, status string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, notification{networkID, "status", status})
}

func (n *fakeNotifier) NotifySessionCount(_ context.Context, networkID, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, notification{networkID, "sessions", fmt.Sprintf("%d", count)})
}

func newProvider() *sp.ServiceProvider {
	return &sp.ServiceProvider{
		NetworkID:          7,
		SystemID:           "tenant1",
		Password:           "secret",
		Protocol:           "SMPP",
		BindType:           sp.BindTransceiver,
		MaxBinds:           3,
		Status:             sp.StatusStarted,
		Enabled:            1,
		HasAvailableCredit: true,
	}
}

func bindConns(t *testing.T, sess *session.SpSession, l *session.StateListener, n int) []*fakeConn {
	t.Helper()
	ctx := context.Background()
	conns := make([]*fakeConn, n)
	for i := range conns {
		conns[i] = &fakeConn{id: fmt.Sprintf("conn-%d", i)}
		l.OnTransition(ctx, session.BoundTRX, conns[i])
	}
	if got := sess.ConnCount(); got != n {
		t.Fatalf("ConnCount = %d, want %d", got, n)
	}
	return conns
}

func TestNextRoundRobinEmpty(t *testing.T) {
	sess := session.NewSpSession(store.NewMemory(), providersHash, newProvider())
	if conn := sess.NextRoundRobin(); conn != nil {
		t.Fatalf("expected nil from empty session, got %v", conn.ID())
	}
}

func TestNextRoundRobinRotation(t *testing.T) {
	mem := store.NewMemory()
	sess := session.NewSpSession(mem, providersHash, newProvider())
	l := session.NewStateListener(sess, nil, mem, &fakeSender{})
	bindConns(t, sess, l, 3)

	want := []string{"conn-0", "conn-1", "conn-2", "conn-0", "conn-1", "conn-2"}
	for i, id := range want {
		next := sess.NextRoundRobin()
		if next == nil || next.ID() != id {
			t.Fatalf("pick %d = %v, want %s", i, next, id)
		}
	}
}

func TestNextRoundRobinCursorNormalized(t *testing.T) {
	mem := store.NewMemory()
	sess := session.NewSpSession(mem, providersHash, newProvider())
	l := session.NewStateListener(sess, nil, mem, &fakeSender{})
	conns := bindConns(t, sess, l, 3)

	// advance the cursor to the last slot, then shrink the list under it
	sess.NextRoundRobin()
	sess.NextRoundRobin()
	l.OnTransition(context.Background(), session.Closed, conns[2])

	next := sess.NextRoundRobin()
	if next == nil {
		t.Fatal("expected a connection after removal")
	}
	if next.ID() != "conn-0" {
		t.Errorf("normalized pick = %s, want conn-0", next.ID())
	}
}

func TestTryReserveBindHonorsLimit(t *testing.T) {
	provider := newProvider()
	provider.MaxBinds = 2
	sess := session.NewSpSession(store.NewMemory(), providersHash, provider)

	if !sess.TryReserveBind() || !sess.TryReserveBind() {
		t.Fatal("reservations under the limit were refused")
	}
	if sess.TryReserveBind() {
		t.Error("reservation past the limit was granted")
	}
	sess.ReleaseBind()
	if !sess.TryReserveBind() {
		t.Error("released slot could not be reclaimed")
	}
}

func TestReserveBindSettledByListener(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	provider := newProvider()
	provider.MaxBinds = 2
	sess := session.NewSpSession(mem, providersHash, provider)
	l := session.NewStateListener(sess, nil, mem, &fakeSender{})

	if !sess.TryReserveBind() {
		t.Fatal("first reservation refused")
	}
	l.OnTransition(ctx, session.BoundTRX, &fakeConn{id: "c1"})

	// the recorded bind consumed the reservation, not a second slot
	if sess.BindCount() != 1 {
		t.Fatalf("BindCount = %d, want 1", sess.BindCount())
	}
	if !sess.TryReserveBind() {
		t.Error("second slot unavailable after the first settled")
	}
	if sess.TryReserveBind() {
		t.Error("reservation past the limit was granted")
	}
}

func TestConcurrentBindsRespectMaxBinds(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	provider := newProvider()
	provider.MaxBinds = 2
	sess := session.NewSpSession(mem, providersHash, provider)

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if !sess.TryReserveBind() {
				return
			}
			admitted.Add(1)
			l := session.NewStateListener(sess, nil, mem, &fakeSender{})
			l.OnTransition(ctx, session.BoundTRX, &fakeConn{id: fmt.Sprintf("c-%d", n)})
		}(i)
	}
	wg.Wait()

	if admitted.Load() != 2 {
		t.Errorf("admitted = %d, want 2", admitted.Load())
	}
	if sess.ConnCount() != 2 || sess.BindCount() != 2 {
		t.Errorf("conns=%d binds=%d, want 2/2", sess.ConnCount(), sess.BindCount())
	}
}

func TestListenerBindAccounting(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	notifier := &fakeNotifier{}
	sess := session.NewSpSession(mem, providersHash, newProvider())
	l := session.NewStateListener(sess, notifier, mem, &fakeSender{})

	c1 := &fakeConn{id: "c1"}
	l.OnTransition(ctx, session.BoundTRX, c1)

	p := sess.Provider()
	if p.Status != sp.StatusBound {
		t.Errorf("status after first bind = %s, want BOUND", p.Status)
	}
	if p.CurrentBindsCount != 1 || len(p.Binds) != 1 || p.Binds[0] != "c1" {
		t.Errorf("bind accounting = %d %v", p.CurrentBindsCount, p.Binds)
	}

	c2 := &fakeConn{id: "c2"}
	l.OnTransition(ctx, session.BoundRX, c2)
	p = sess.Provider()
	if p.Status != sp.StatusBound || p.CurrentBindsCount != 2 {
		t.Errorf("after second bind: status=%s count=%d", p.Status, p.CurrentBindsCount)
	}

	l.OnTransition(ctx, session.Closed, c1)
	p = sess.Provider()
	if p.Status != sp.StatusBound || p.CurrentBindsCount != 1 || p.Binds[0] != "c2" {
		t.Errorf("after first close: status=%s count=%d binds=%v", p.Status, p.CurrentBindsCount, p.Binds)
	}

	l.OnTransition(ctx, session.Closed, c2)
	p = sess.Provider()
	if p.Status != sp.StatusStarted || p.CurrentBindsCount != 0 || len(p.Binds) != 0 {
		t.Errorf("after last close: status=%s count=%d binds=%v", p.Status, p.CurrentBindsCount, p.Binds)
	}

	// record is persisted under the system id
	raw, err := mem.HGet(ctx, providersHash, "tenant1")
	if err != nil {
		t.Fatalf("persisted record missing: %v", err)
	}
	persisted, err := sp.DecodeServiceProvider(raw)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Status != sp.StatusStarted || persisted.CurrentBindsCount != 0 {
		t.Errorf("persisted: status=%s count=%d", persisted.Status, persisted.CurrentBindsCount)
	}
}

func TestListenerNotifications(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	notifier := &fakeNotifier{}
	sess := session.NewSpSession(mem, providersHash, newProvider())
	l := session.NewStateListener(sess, notifier, mem, &fakeSender{})

	c1 := &fakeConn{id: "c1"}
	l.OnTransition(ctx, session.BoundTRX, c1)
	l.OnTransition(ctx, session.Closed, c1)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	want := []notification{
		{7, "status", sp.StatusBinding},
		{7, "sessions", "1"},
		{7, "status", sp.StatusBound},
		{7, "status", sp.StatusUnbinding},
		{7, "sessions", "0"},
		{7, "status", sp.StatusStarted},
	}
	if len(notifier.notes) != len(want) {
		t.Fatalf("notifications = %v, want %v", notifier.notes, want)
	}
	for i := range want {
		if notifier.notes[i] != want[i] {
			t.Errorf("notification %d = %v, want %v", i, notifier.notes[i], want[i])
		}
	}
}

func TestListenerIgnoresStoppedTenant(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	provider := newProvider()
	provider.Status = sp.StatusStopped
	sess := session.NewSpSession(mem, providersHash, provider)
	l := session.NewStateListener(sess, nil, mem, &fakeSender{})

	l.OnTransition(ctx, session.BoundTRX, &fakeConn{id: "c1"})
	if sess.ConnCount() != 0 {
		t.Error("stopped tenant accepted a connection")
	}
	if sess.Provider().CurrentBindsCount != 0 {
		t.Error("stopped tenant counted a bind")
	}
}

func TestApplyUpdateDisableStopsSession(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	sess := session.NewSpSession(mem, providersHash, newProvider())
	l := session.NewStateListener(sess, nil, mem, &fakeSender{})
	conns := bindConns(t, sess, l, 2)

	updated := newProvider()
	updated.Enabled = 0
	if !sess.ApplyUpdate(ctx, updated) {
		t.Fatal("ApplyUpdate should report a forced stop")
	}

	p := sess.Provider()
	if p.Status != sp.StatusStopped || p.CurrentBindsCount != 0 || len(p.Binds) != 0 {
		t.Errorf("after disable: status=%s count=%d binds=%v", p.Status, p.CurrentBindsCount, p.Binds)
	}
	if sess.ConnCount() != 0 {
		t.Error("connections survived the disable")
	}
	for _, c := range conns {
		c.mu.Lock()
		if !c.unbound {
			t.Errorf("connection %s was not unbound", c.id)
		}
		c.mu.Unlock()
	}
}

func TestApplyUpdateEnabledKeepsConns(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	sess := session.NewSpSession(mem, providersHash, newProvider())
	l := session.NewStateListener(sess, nil, mem, &fakeSender{})
	bindConns(t, sess, l, 2)

	updated := newProvider()
	updated.HasAvailableCredit = false
	if sess.ApplyUpdate(ctx, updated) {
		t.Fatal("enabled update must not report a stop")
	}
	if sess.ConnCount() != 2 {
		t.Errorf("ConnCount = %d, want 2", sess.ConnCount())
	}
	if sess.HasAvailableCredit() {
		t.Error("credit flag not refreshed from update")
	}
}

func TestDrainPendingOnFirstBind(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	sender := &fakeSender{}
	sess := session.NewSpSession(mem, providersHash, newProvider())
	l := session.NewStateListener(sess, nil, mem, sender)

	key := session.PendingQueueKey("tenant1")
	for i := 0; i < 2; i++ {
		event := &sp.MessageEvent{ID: fmt.Sprintf("m-%d", i), MessageID: fmt.Sprintf("m-%d", i), SystemID: "tenant1"}
		encoded, err := event.Encode()
		if err != nil {
			t.Fatal(err)
		}
		if err := mem.ListPush(ctx, key, encoded); err != nil {
			t.Fatal(err)
		}
	}

	l.OnTransition(ctx, session.BoundTRX, &fakeConn{id: "c1"})

	deadline := time.After(2 * time.Second)
	for sender.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("pending drain incomplete: sent %d of 2", sender.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if n, _ := mem.ListLen(ctx, key); n != 0 {
		t.Errorf("pending queue length after drain = %d", n)
	}
}

func TestDrainPendingRequeuesUndeliverable(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	sender := &fakeSender{err: session.ErrNoLiveConn}
	sess := session.NewSpSession(mem, providersHash, newProvider())
	l := session.NewStateListener(sess, nil, mem, sender)

	key := session.PendingQueueKey("tenant1")
	event := &sp.MessageEvent{ID: "m-0", MessageID: "m-0", SystemID: "tenant1"}
	encoded, _ := event.Encode()
	if err := mem.ListPush(ctx, key, encoded); err != nil {
		t.Fatal(err)
	}

	l.OnTransition(ctx, session.BoundTRX, &fakeConn{id: "c1"})

	deadline := time.After(2 * time.Second)
	for {
		if n, _ := mem.ListLen(ctx, key); n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("undeliverable item was not requeued")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRegistryGetOrCreate(t *testing.T) {
	mem := store.NewMemory()
	reg := session.NewRegistry()

	created := 0
	factory := func() *session.SpSession {
		created++
		return session.NewSpSession(mem, providersHash, newProvider())
	}

	first := reg.GetOrCreate("tenant1", factory)
	second := reg.GetOrCreate("tenant1", factory)
	if first != second {
		t.Error("GetOrCreate returned different sessions for one tenant")
	}
	if created != 1 {
		t.Errorf("factory invoked %d times, want 1", created)
	}
	if reg.Count() != 1 {
		t.Errorf("Count = %d, want 1", reg.Count())
	}

	reg.Remove("tenant1")
	if _, ok := reg.Get("tenant1"); ok {
		t.Error("session survived Remove")
	}
}

func TestPendingQueueKey(t *testing.T) {
	if got := session.PendingQueueKey("acme"); got != "acme_smpp_pending_dlr" {
		t.Errorf("PendingQueueKey = %q", got)
	}
}
