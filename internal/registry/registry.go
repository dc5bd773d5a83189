// Package registry owns the in-memory views of externally stored
// configuration: the tenant set, the cached general settings and the
// server admission state.
package registry

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/kelvradu/smppgate/internal/sp"
	"github.com/kelvradu/smppgate/internal/store"
)

// TenantRegistry is the concurrently readable set of service providers
// admitted on this gateway, refreshed from the external store.
type TenantRegistry struct {
	store    store.Store
	hashName string

	providers cmap.ConcurrentMap[string, *sp.ServiceProvider] // key: system id
	networkID cmap.ConcurrentMap[string, string]              // key: network id, value: system id
}

func NewTenantRegistry(s store.Store, hashName string) *TenantRegistry {
	return &TenantRegistry{
		store:     s,
		hashName:  hashName,
		providers: cmap.New[*sp.ServiceProvider](),
		networkID: cmap.New[string](),
	}
}

// Load bulk-fetches all tenant records, keeping only SMPP providers.
// Records that fail to parse are logged and skipped; one bad record never
// aborts the load.
func (r *TenantRegistry) Load(ctx context.Context) error {
	entries, err := r.store.HGetAll(ctx, r.hashName)
	if err != nil {
		return err
	}

	loaded := 0
	for field, raw := range entries {
		provider, err := sp.DecodeServiceProvider(raw)
		if err != nil {
			slog.ErrorContext(ctx, "Skipping unparseable service provider record",
				slog.String("field", field), slog.Any("error", err))
			continue
		}
		if !strings.EqualFold(provider.Protocol, "smpp") {
			continue
		}
		r.put(provider)
		loaded++
	}
	slog.InfoContext(ctx, "Service providers loaded", slog.Int("count", loaded))
	return nil
}

func (r *TenantRegistry) put(provider *sp.ServiceProvider) {
	r.providers.Set(provider.SystemID, provider)
	r.networkID.Set(strconv.Itoa(provider.NetworkID), provider.SystemID)
}

// GetBySystemID returns the tenant record for a system id.
func (r *TenantRegistry) GetBySystemID(systemID string) (*sp.ServiceProvider, bool) {
	return r.providers.Get(systemID)
}

// SystemIDForNetworkID resolves the numeric network id to a system id.
func (r *TenantRegistry) SystemIDForNetworkID(networkID int) (string, bool) {
	return r.networkID.Get(strconv.Itoa(networkID))
}

// Upsert replaces the in-memory record for a tenant.
func (r *TenantRegistry) Upsert(provider *sp.ServiceProvider) {
	r.put(provider)
}

// Delete drops the tenant from the registry and the external store.
// Teardown of a live session is orchestrated by the control-plane handler,
// which owns both this registry and the session registry.
func (r *TenantRegistry) Delete(ctx context.Context, systemID string) {
	if provider, ok := r.providers.Get(systemID); ok {
		r.networkID.Remove(strconv.Itoa(provider.NetworkID))
	}
	r.providers.Remove(systemID)
	if err := r.store.HDel(ctx, r.hashName, systemID); err != nil {
		slog.ErrorContext(ctx, "Failed to delete service provider from store",
			slog.String("system_id", systemID), slog.Any("error", err))
	}
}

// FetchFromStore re-reads one tenant record from the external store,
// bypassing the in-memory view. Used on update notifications.
func (r *TenantRegistry) FetchFromStore(ctx context.Context, systemID string) (*sp.ServiceProvider, error) {
	raw, err := r.store.HGet(ctx, r.hashName, systemID)
	if err != nil {
		return nil, err
	}
	return sp.DecodeServiceProvider(raw)
}

// Count returns the number of registered tenants.
func (r *TenantRegistry) Count() int {
	return r.providers.Count()
}
