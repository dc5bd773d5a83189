package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/kelvradu/smppgate/internal/sp"
	"github.com/kelvradu/smppgate/internal/store"
)

// ErrNoGeneralSettings is returned when the settings record is absent at
// startup. The gateway cannot resolve encodings without it.
var ErrNoGeneralSettings = errors.New("registry: general settings not found in store")

// GeneralSettingsCache caches the global protocol defaults. Reads are
// lock-free; Refresh atomically replaces the whole value.
type GeneralSettingsCache struct {
	store    store.Store
	hashName string
	key      string

	current atomic.Pointer[sp.GeneralSettings]
}

func NewGeneralSettingsCache(s store.Store, hashName, key string) *GeneralSettingsCache {
	return &GeneralSettingsCache{store: s, hashName: hashName, key: key}
}

// Init performs the initial load. Failing here is fatal for the caller.
func (c *GeneralSettingsCache) Init(ctx context.Context) error {
	gs, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	c.current.Store(gs)
	return nil
}

// Current returns the cached settings. Never nil after a successful Init.
func (c *GeneralSettingsCache) Current() *sp.GeneralSettings {
	return c.current.Load()
}

// Refresh re-reads the settings on an external notification. The previous
// value is kept when the read fails.
func (c *GeneralSettingsCache) Refresh(ctx context.Context) bool {
	gs, err := c.fetch(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to refresh general settings", slog.Any("error", err))
		return false
	}
	c.current.Store(gs)
	return true
}

func (c *GeneralSettingsCache) fetch(ctx context.Context) (*sp.GeneralSettings, error) {
	raw, err := c.store.HGet(ctx, c.hashName, c.key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoGeneralSettings
	}
	if err != nil {
		return nil, err
	}
	return sp.DecodeGeneralSettings(raw)
}
