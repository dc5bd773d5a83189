package controlplane

import (
	"context"
	"log/slog"

	"github.com/kelvradu/smppgate/internal/logging"
	"github.com/kelvradu/smppgate/internal/multipart"
	"github.com/kelvradu/smppgate/internal/registry"
	"github.com/kelvradu/smppgate/internal/session"
	"github.com/kelvradu/smppgate/internal/sp"
)

// Inbound frame destinations.
const (
	DestUpdateServiceProvider  = "/app/updateServiceProvider"
	DestServiceProviderDeleted = "/app/serviceProviderDeleted"
	DestUpdateServerHandler    = "/app/updateServerHandler"
	DestGeneralSettings        = "/app/generalSettings"
	DestResponse               = "/app/response"
)

// FrameHandler applies inbound configuration-change frames. It owns the
// cross-component orchestration: a tenant delete, for example, tears down
// the live session, the reassembly buffers and the registry record in order.
type FrameHandler struct {
	socket      *SocketSession
	tenants     *registry.TenantRegistry
	sessions    *session.Registry
	state       *registry.ServerState
	settings    *registry.GeneralSettingsCache
	reassembler *multipart.Reassembler
	notifier    session.StatusNotifier
}

func NewFrameHandler(socket *SocketSession, tenants *registry.TenantRegistry, sessions *session.Registry, state *registry.ServerState, settings *registry.GeneralSettingsCache, reassembler *multipart.Reassembler, notifier session.StatusNotifier) *FrameHandler {
	return &FrameHandler{
		socket:      socket,
		tenants:     tenants,
		sessions:    sessions,
		state:       state,
		settings:    settings,
		reassembler: reassembler,
		notifier:    notifier,
	}
}

// Handle dispatches one inbound frame and acknowledges it.
func (h *FrameHandler) Handle(ctx context.Context, frame Frame) {
	slog.InfoContext(ctx, "Handling control plane frame",
		slog.String("destination", frame.Destination),
		slog.String("payload", frame.Payload))

	switch frame.Destination {
	case DestUpdateServiceProvider:
		h.updateServiceProvider(ctx, frame.Payload)
	case DestServiceProviderDeleted:
		h.serviceProviderDeleted(ctx, frame.Payload)
	case DestUpdateServerHandler:
		h.state.Refresh(ctx)
	case DestGeneralSettings:
		h.settings.Refresh(ctx)
	default:
		slog.WarnContext(ctx, "Unknown control plane destination",
			slog.String("destination", frame.Destination))
		return
	}

	if err := h.socket.Send(ctx, DestResponse, "OK"); err != nil {
		slog.ErrorContext(ctx, "Failed to acknowledge control plane frame", slog.Any("error", err))
	}
}

// updateServiceProvider re-reads one tenant record from the store and
// applies it to both the registry view and the live session. A disabling
// update forces the session down and reports STOPPED.
func (h *FrameHandler) updateServiceProvider(ctx context.Context, systemID string) {
	ctx = logging.ContextWithSystemID(ctx, systemID)

	provider, err := h.tenants.FetchFromStore(ctx, systemID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to fetch updated service provider", slog.Any("error", err))
		return
	}
	h.tenants.Upsert(provider)

	sess, ok := h.sessions.Get(systemID)
	if !ok {
		return
	}
	if sess.ApplyUpdate(ctx, provider) && h.notifier != nil {
		h.notifier.NotifyStatus(ctx, provider.NetworkID, sp.StatusStopped)
	}
}

// serviceProviderDeleted tears a tenant down completely.
func (h *FrameHandler) serviceProviderDeleted(ctx context.Context, systemID string) {
	ctx = logging.ContextWithSystemID(ctx, systemID)
	slog.InfoContext(ctx, "Deleting service provider")

	if sess, ok := h.sessions.Get(systemID); ok {
		sess.Destroy(ctx)
		h.sessions.Remove(systemID)
	}
	h.reassembler.DropTenant(ctx, systemID)
	h.tenants.Delete(ctx, systemID)
}
