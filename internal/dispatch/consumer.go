package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kelvradu/smppgate/internal/config"
	"github.com/kelvradu/smppgate/internal/logging"
	"github.com/kelvradu/smppgate/internal/registry"
	"github.com/kelvradu/smppgate/internal/session"
	"github.com/kelvradu/smppgate/internal/sp"
	"github.com/kelvradu/smppgate/internal/store"
)

// Consumer drains the outbound notification queue on a fixed interval.
// Each tick fans out to a fixed pool of workers, each popping one batch.
// Items addressed to a tenant with no live connection are parked on that
// tenant's pending queue instead of being dropped.
type Consumer struct {
	store    store.Store
	queue    string
	tenants  *registry.TenantRegistry
	sessions *session.Registry
	sender   session.DeliverSender
	cfg      config.DispatcherConfig
}

func NewConsumer(s store.Store, queue string, tenants *registry.TenantRegistry, sessions *session.Registry, sender session.DeliverSender, cfg config.DispatcherConfig) *Consumer {
	return &Consumer{
		store:    s,
		queue:    queue,
		tenants:  tenants,
		sessions: sessions,
		sender:   sender,
		cfg:      cfg,
	}
}

// Run blocks until ctx is canceled, processing the queue every interval.
func (c *Consumer) Run(ctx context.Context) {
	slog.InfoContext(ctx, "Starting deliver_sm dispatcher",
		slog.Duration("interval", c.cfg.Interval),
		slog.Int("workers", c.cfg.Workers),
		slog.Int("batch_size", c.cfg.BatchSize))

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping deliver_sm dispatcher")
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Consumer) tick(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		workerCtx := logging.ContextWithWorkerID(ctx, fmt.Sprintf("dispatch-%d", i))
		go func(ctx context.Context) {
			defer wg.Done()
			c.processBatch(ctx)
		}(workerCtx)
	}
	wg.Wait()
}

func (c *Consumer) processBatch(ctx context.Context) {
	items, err := c.store.ListPop(ctx, c.queue, c.cfg.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to pop deliver_sm batch", slog.Any("error", err))
		return
	}
	for _, raw := range items {
		c.processItem(ctx, raw)
	}
}

// processItem routes one queued notification to its tenant session. An
// item whose tenant is offline goes to the tenant's pending queue; an item
// that cannot even be attributed to a tenant is logged and dropped.
func (c *Consumer) processItem(ctx context.Context, raw string) {
	event, err := sp.DecodeMessageEvent(raw)
	if err != nil {
		slog.ErrorContext(ctx, "Skipping unparseable deliver_sm item", slog.Any("error", err))
		return
	}
	ctx = logging.ContextWithMessageID(ctx, event.MessageID)

	systemID := event.SystemID
	if systemID == "" {
		resolved, ok := c.tenants.SystemIDForNetworkID(event.DestNetworkID)
		if !ok {
			slog.ErrorContext(ctx, "No tenant for destination network id, dropping deliver_sm",
				slog.Int("network_id", event.DestNetworkID))
			return
		}
		systemID = resolved
		event.SystemID = resolved
	}
	ctx = logging.ContextWithSystemID(ctx, systemID)

	sess, ok := c.sessions.Get(systemID)
	if !ok {
		c.park(ctx, systemID, raw)
		return
	}

	if err := c.sender.SendDeliver(ctx, sess, event); err != nil {
		// only ErrNoLiveConn escapes the sender; anything else was
		// already audited and consumed there
		c.park(ctx, systemID, raw)
	}
}

func (c *Consumer) park(ctx context.Context, systemID, raw string) {
	key := session.PendingQueueKey(systemID)
	if err := c.store.ListPush(ctx, key, raw); err != nil {
		slog.ErrorContext(ctx, "Failed to park deliver_sm on pending queue",
			slog.String("queue", key), slog.Any("error", err))
		return
	}
	slog.DebugContext(ctx, "Tenant offline, deliver_sm parked",
		slog.String("queue", key))
}
