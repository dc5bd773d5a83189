package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	SystemIDKey   contextKey = "system_id"
	NetworkIDKey  contextKey = "network_id"
	MessageIDKey  contextKey = "msg_id"
	RefNumberKey  contextKey = "ref_num"
	WorkerIDKey   contextKey = "worker_id"
	RemoteAddrKey contextKey = "remote_addr"
	CommandIDKey  contextKey = "cmd_id"
	SeqNumberKey  contextKey = "seq_num"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if sysID, ok := ctx.Value(SystemIDKey).(string); ok {
		r.AddAttrs(slog.String("system_id", sysID))
	}
	if networkID, ok := ctx.Value(NetworkIDKey).(int); ok {
		r.AddAttrs(slog.Int("network_id", networkID))
	}
	if msgID, ok := ctx.Value(MessageIDKey).(string); ok {
		r.AddAttrs(slog.String("msg_id", msgID))
	}
	if refNum, ok := ctx.Value(RefNumberKey).(string); ok {
		r.AddAttrs(slog.String("ref_num", refNum))
	}
	if workerID, ok := ctx.Value(WorkerIDKey).(string); ok {
		r.AddAttrs(slog.String("worker_id", workerID))
	}
	if addr, ok := ctx.Value(RemoteAddrKey).(string); ok {
		r.AddAttrs(slog.String("remote_addr", addr))
	}
	if cmdID, ok := ctx.Value(CommandIDKey).(string); ok {
		r.AddAttrs(slog.String("cmd_id", cmdID))
	}
	if seqNum, ok := ctx.Value(SeqNumberKey).(int32); ok {
		r.AddAttrs(slog.Int("seq_num", int(seqNum)))
	}
	return h.Handler.Handle(ctx, r)
}

func ContextWithSystemID(ctx context.Context, systemID string) context.Context {
	return context.WithValue(ctx, SystemIDKey, systemID)
}

func ContextWithNetworkID(ctx context.Context, networkID int) context.Context {
	return context.WithValue(ctx, NetworkIDKey, networkID)
}

func ContextWithMessageID(ctx context.Context, msgID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, msgID)
}

func ContextWithRefNumber(ctx context.Context, refNum string) context.Context {
	return context.WithValue(ctx, RefNumberKey, refNum)
}

func ContextWithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}

func ContextWithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}

func ContextWithPDUInfo(ctx context.Context, commandID string, seqNumber int32) context.Context {
	ctx = context.WithValue(ctx, CommandIDKey, commandID)
	return context.WithValue(ctx, SeqNumberKey, seqNumber)
}
