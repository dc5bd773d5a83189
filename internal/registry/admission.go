package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/kelvradu/smppgate/internal/config"
	"github.com/kelvradu/smppgate/internal/sp"
	"github.com/kelvradu/smppgate/internal/store"
)

// ServerState is the external administrative toggle. When STOPPED, every
// new bind attempt is rejected before any PDU exchange.
type ServerState struct {
	store    store.Store
	hashName string
	key      string

	state atomic.Value // string
}

func NewServerState(s store.Store, hashName, key string) *ServerState {
	ss := &ServerState{store: s, hashName: hashName, key: key}
	ss.state.Store(sp.StatusStarted)
	return ss
}

// Refresh re-reads the administrative state from the configuration hash.
// A missing or malformed record keeps the previous state.
func (s *ServerState) Refresh(ctx context.Context) {
	raw, err := s.store.HGet(ctx, s.hashName, s.key)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read server handler record",
			slog.String("hash", s.hashName), slog.String("key", s.key), slog.Any("error", err))
		return
	}
	var record struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		slog.ErrorContext(ctx, "Malformed server handler record", slog.Any("error", err))
		return
	}
	if record.State != "" {
		s.state.Store(record.State)
	}
}

// IsStopped reports whether bind admission is administratively disabled.
func (s *ServerState) IsStopped() bool {
	return strings.EqualFold(s.state.Load().(string), sp.StatusStopped)
}

// AutoRegister publishes this instance's descriptor to the service
// registry hash so the operator UI can discover it.
type AutoRegister struct {
	store    store.Store
	hashName string
	instance config.InstanceConfig
}

func NewAutoRegister(s store.Store, hashName string, instance config.InstanceConfig) *AutoRegister {
	return &AutoRegister{store: s, hashName: hashName, instance: instance}
}

func (a *AutoRegister) descriptor(state string) string {
	if state == "" {
		state = a.instance.InitialStatus
	}
	b, _ := json.Marshal(map[string]string{
		"name":     a.instance.Name,
		"ip":       a.instance.IP,
		"port":     a.instance.Port,
		"protocol": a.instance.Protocol,
		"scheme":   a.instance.Scheme,
		"apiKey":   a.instance.APIKey,
		"state":    state,
	})
	return string(b)
}

// Register writes the instance descriptor at startup.
func (a *AutoRegister) Register(ctx context.Context) {
	slog.InfoContext(ctx, "Registering instance in service registry",
		slog.String("instance", a.instance.Name))
	if err := a.store.HSet(ctx, a.hashName, a.instance.Name, a.descriptor("")); err != nil {
		slog.ErrorContext(ctx, "Failed to register instance", slog.Any("error", err))
	}
}

// Unregister marks the instance STOPPED and removes the descriptor.
func (a *AutoRegister) Unregister(ctx context.Context) {
	slog.InfoContext(ctx, "Unregistering instance from service registry",
		slog.String("instance", a.instance.Name))
	if err := a.store.HSet(ctx, a.hashName, a.instance.Name, a.descriptor(sp.StatusStopped)); err != nil {
		slog.ErrorContext(ctx, "Failed to update instance state", slog.Any("error", err))
	}
	if err := a.store.HDel(ctx, a.hashName, a.instance.Name); err != nil {
		slog.ErrorContext(ctx, "Failed to remove instance descriptor", slog.Any("error", err))
	}
}
