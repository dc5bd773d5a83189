// Package cdr writes call-detail-record audit entries describing a
// message's lifecycle events.
package cdr

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kelvradu/smppgate/internal/store"
)

// Audit statuses.
const (
	StatusReceived = "RECEIVED"
	StatusEnqueue  = "ENQUEUE"
	StatusSent     = "SENT"
	StatusFailed   = "FAILED"
)

// Module identifier stamped on every detail this gateway emits.
const ModuleSMPPServer = "SMPP_SERVER"

// Detail is one audit entry.
type Detail struct {
	Module      string `json:"module"`
	MessageType string `json:"message_type"`
	MessageID   string `json:"message_id"`
	Status      string `json:"status"`
	Comment     string `json:"comment,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// Processor accepts audit details and finalize signals. A nil-safe no-op
// implementation is fine for deployments without a CDR pipeline.
type Processor interface {
	Put(ctx context.Context, detail Detail)
	Finalize(ctx context.Context, messageID string)
}

// StoreProcessor pushes details onto store lists consumed by the CDR
// pipeline. Write failures are logged and dropped: audit must never break
// the message path.
type StoreProcessor struct {
	store        store.Store
	detailList   string
	finalizeList string
}

var _ Processor = (*StoreProcessor)(nil)

func NewStoreProcessor(s store.Store, detailList, finalizeList string) *StoreProcessor {
	return &StoreProcessor{store: s, detailList: detailList, finalizeList: finalizeList}
}

func (p *StoreProcessor) Put(ctx context.Context, detail Detail) {
	if detail.Timestamp == 0 {
		detail.Timestamp = time.Now().UnixMilli()
	}
	b, err := json.Marshal(detail)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal CDR detail", slog.Any("error", err))
		return
	}
	if err := p.store.ListPush(ctx, p.detailList, string(b)); err != nil {
		slog.ErrorContext(ctx, "Failed to push CDR detail", slog.Any("error", err))
	}
}

func (p *StoreProcessor) Finalize(ctx context.Context, messageID string) {
	if err := p.store.ListPush(ctx, p.finalizeList, messageID); err != nil {
		slog.ErrorContext(ctx, "Failed to push CDR finalize signal",
			slog.String("message_id", messageID), slog.Any("error", err))
	}
}

// Nop discards all audit entries.
type Nop struct{}

var _ Processor = Nop{}

func (Nop) Put(context.Context, Detail)      {}
func (Nop) Finalize(context.Context, string) {}
