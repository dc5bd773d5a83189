// Package multipart buffers concatenated message segments until every
// part has arrived, then emits one logical message to the outbound
// submission path.
package multipart

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kelvradu/smppgate/internal/cdr"
	"github.com/kelvradu/smppgate/internal/sp"
	"github.com/kelvradu/smppgate/internal/store"
)

// Segment is one physical part's payload plus its normalized linkage.
type Segment struct {
	ReferenceNumber string
	TotalSegments   int
	SegmentSequence int
	ShortMessage    string
	UdhJSON         string
}

// bufferKey identifies a reassembly buffer. A struct key avoids collision
// ambiguity when ids contain delimiter characters.
type bufferKey struct {
	SystemID        string
	ReferenceNumber string
}

func (k bufferKey) storeField() string {
	return k.SystemID + k.ReferenceNumber
}

type buffer struct {
	event    *sp.MessageEvent
	received int
}

// Reassembler collects segments per (tenant, reference number). Incomplete
// buffers are snapshotted to the external store so reassembly survives a
// process restart.
type Reassembler struct {
	store        store.Store
	partsHash    string
	outboundList string
	cdrProcessor cdr.Processor

	mu      sync.Mutex
	buffers map[bufferKey]*buffer
}

func NewReassembler(s store.Store, partsHash, outboundList string, processor cdr.Processor) *Reassembler {
	return &Reassembler{
		store:        s,
		partsHash:    partsHash,
		outboundList: outboundList,
		cdrProcessor: processor,
		buffers:      make(map[bufferKey]*buffer),
	}
}

// ProcessSegment folds one segment into its buffer and emits the completed
// message when the declared total has been received. Failures are logged
// and swallowed: reassembly must never abort the caller's PDU handler.
func (r *Reassembler) ProcessSegment(ctx context.Context, skeleton *sp.MessageEvent, seg Segment) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "Panic while processing message part",
				slog.Any("panic", rec))
		}
	}()

	key := bufferKey{SystemID: skeleton.SystemID, ReferenceNumber: seg.ReferenceNumber}

	r.mu.Lock()
	buf, ok := r.buffers[key]
	if !ok {
		parentID := uuid.NewString()
		skeleton.ID = parentID
		skeleton.MessageID = parentID
		skeleton.ParentID = parentID
		skeleton.MsgReferenceNumber = seg.ReferenceNumber
		skeleton.TotalSegment = seg.TotalSegments
		buf = &buffer{event: skeleton}
		r.buffers[key] = buf
	}

	buf.event.MessageParts = append(buf.event.MessageParts, sp.MessagePart{
		MessageID:          buf.event.MessageID,
		ShortMessage:       seg.ShortMessage,
		MsgReferenceNumber: seg.ReferenceNumber,
		TotalSegment:       seg.TotalSegments,
		SegmentSequence:    seg.SegmentSequence,
		UdhJSON:            seg.UdhJSON,
	})
	buf.received++

	// completion is judged against the total declared by the first-seen
	// segment
	total := buf.event.TotalSegment
	complete := buf.received == total
	event := buf.event
	received := buf.received
	messageID := event.MessageID
	var encodedSnapshot string
	var encodeErr error
	if complete {
		// removing the buffer hands this goroutine exclusive ownership
		// of the event; emit can run unlocked
		delete(r.buffers, key)
	} else {
		// serialize while still holding the mutex: a concurrent segment
		// for the same key appends to event.MessageParts under it
		encodedSnapshot, encodeErr = event.Encode()
	}
	r.mu.Unlock()

	comment := fmt.Sprintf("MULTIPART MESSAGE RECEIVED %d OF %d", received, total)

	if !complete {
		r.snapshot(ctx, key, messageID, encodedSnapshot, encodeErr)
		r.cdrProcessor.Put(ctx, cdr.Detail{
			Module:      cdr.ModuleSMPPServer,
			MessageType: "MESSAGE",
			MessageID:   messageID,
			Status:      cdr.StatusEnqueue,
			Comment:     comment,
		})
		return
	}

	r.emit(ctx, key, event, comment)
}

// emit assembles the final payload in segment order, pushes the logical
// message to the outbound queue and clears all buffer state.
func (r *Reassembler) emit(ctx context.Context, key bufferKey, event *sp.MessageEvent, comment string) {
	parts := event.MessageParts
	sort.SliceStable(parts, func(i, j int) bool {
		return parts[i].SegmentSequence < parts[j].SegmentSequence
	})

	assembled := ""
	for _, part := range parts {
		assembled += part.ShortMessage
	}
	event.ShortMessage = assembled

	encoded, err := event.Encode()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode reassembled message",
			slog.String("message_id", event.MessageID), slog.Any("error", err))
		return
	}
	if err := r.store.ListPush(ctx, r.outboundList, encoded); err != nil {
		slog.ErrorContext(ctx, "Failed to enqueue reassembled message",
			slog.String("message_id", event.MessageID), slog.Any("error", err))
		return
	}

	r.cdrProcessor.Put(ctx, cdr.Detail{
		Module:      cdr.ModuleSMPPServer,
		MessageType: "MESSAGE",
		MessageID:   event.MessageID,
		Status:      cdr.StatusReceived,
		Comment:     comment,
	})

	if err := r.store.HDel(ctx, r.partsHash, key.storeField()); err != nil {
		slog.ErrorContext(ctx, "Failed to delete reassembly snapshot",
			slog.String("message_id", event.MessageID), slog.Any("error", err))
	}
	slog.DebugContext(ctx, "Multipart message assembled",
		slog.String("message_id", event.MessageID),
		slog.Int("segments", len(parts)))
}

// snapshot persists the buffer's already-serialized state for crash
// recovery. Serialization happens under the buffer mutex in the caller.
func (r *Reassembler) snapshot(ctx context.Context, key bufferKey, messageID, encoded string, encodeErr error) {
	if encodeErr != nil {
		slog.ErrorContext(ctx, "Failed to encode reassembly snapshot",
			slog.String("message_id", messageID), slog.Any("error", encodeErr))
		return
	}
	if err := r.store.HSet(ctx, r.partsHash, key.storeField(), encoded); err != nil {
		slog.ErrorContext(ctx, "Failed to persist reassembly snapshot",
			slog.String("message_id", messageID), slog.Any("error", err))
	}
}

// DropTenant discards any in-flight buffers for a tenant being torn down.
func (r *Reassembler) DropTenant(ctx context.Context, systemID string) {
	r.mu.Lock()
	var fields []string
	for key := range r.buffers {
		if key.SystemID == systemID {
			delete(r.buffers, key)
			fields = append(fields, key.storeField())
		}
	}
	r.mu.Unlock()

	if len(fields) > 0 {
		if err := r.store.HDel(ctx, r.partsHash, fields...); err != nil {
			slog.ErrorContext(ctx, "Failed to delete reassembly snapshots",
				slog.String("system_id", systemID), slog.Any("error", err))
		}
	}
}
