package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kelvradu/smppgate/internal/config"
	"github.com/kelvradu/smppgate/internal/registry"
	"github.com/kelvradu/smppgate/internal/sp"
	"github.com/kelvradu/smppgate/internal/store"
)

const (
	providersHash = "service_providers"
	configHash    = "configurations"
	settingsHash  = "general_settings"
	settingsKey   = "smpp_http"
	serverKey     = "smpp_server"
)

func seedProvider(t *testing.T, mem *store.Memory, p *sp.ServiceProvider) {
	t.Helper()
	encoded, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.HSet(context.Background(), providersHash, p.SystemID, encoded); err != nil {
		t.Fatal(err)
	}
}

func TestTenantRegistryLoad(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	seedProvider(t, mem, &sp.ServiceProvider{SystemID: "smpp1", NetworkID: 1, Protocol: "SMPP"})
	seedProvider(t, mem, &sp.ServiceProvider{SystemID: "smpp2", NetworkID: 2, Protocol: "smpp"})
	seedProvider(t, mem, &sp.ServiceProvider{SystemID: "http1", NetworkID: 3, Protocol: "HTTP"})
	// one corrupt record must not abort the load
	if err := mem.HSet(ctx, providersHash, "broken", "{not json"); err != nil {
		t.Fatal(err)
	}

	reg := registry.NewTenantRegistry(mem, providersHash)
	if err := reg.Load(ctx); err != nil {
		t.Fatal(err)
	}

	if reg.Count() != 2 {
		t.Fatalf("Count = %d, want 2 (smpp only)", reg.Count())
	}
	if _, ok := reg.GetBySystemID("http1"); ok {
		t.Error("non-smpp provider was loaded")
	}
	if _, ok := reg.GetBySystemID("smpp1"); !ok {
		t.Error("smpp provider missing after load")
	}

	systemID, ok := reg.SystemIDForNetworkID(2)
	if !ok || systemID != "smpp2" {
		t.Errorf("SystemIDForNetworkID(2) = %q, %v", systemID, ok)
	}
}

func TestTenantRegistryUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	reg := registry.NewTenantRegistry(mem, providersHash)

	provider := &sp.ServiceProvider{SystemID: "acme", NetworkID: 9, Protocol: "SMPP"}
	seedProvider(t, mem, provider)
	reg.Upsert(provider)

	if _, ok := reg.SystemIDForNetworkID(9); !ok {
		t.Fatal("network id index missing after upsert")
	}

	reg.Delete(ctx, "acme")
	if _, ok := reg.GetBySystemID("acme"); ok {
		t.Error("provider survived delete")
	}
	if _, ok := reg.SystemIDForNetworkID(9); ok {
		t.Error("network id index survived delete")
	}
	if _, err := mem.HGet(ctx, providersHash, "acme"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("store record survived delete: %v", err)
	}
}

func TestTenantRegistryFetchFromStore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	reg := registry.NewTenantRegistry(mem, providersHash)

	seedProvider(t, mem, &sp.ServiceProvider{SystemID: "acme", NetworkID: 9, Protocol: "SMPP", MaxBinds: 5})

	provider, err := reg.FetchFromStore(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if provider.MaxBinds != 5 {
		t.Errorf("MaxBinds = %d, want 5", provider.MaxBinds)
	}

	if _, err := reg.FetchFromStore(ctx, "nope"); err == nil {
		t.Error("expected error for missing record")
	}
}

func TestGeneralSettingsCache(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	cache := registry.NewGeneralSettingsCache(mem, settingsHash, settingsKey)

	if err := cache.Init(ctx); !errors.Is(err, registry.ErrNoGeneralSettings) {
		t.Fatalf("Init on empty store = %v, want ErrNoGeneralSettings", err)
	}

	if err := mem.HSet(ctx, settingsHash, settingsKey, `{"id":1,"validity_period":60,"encoding_gsm7":0}`); err != nil {
		t.Fatal(err)
	}
	if err := cache.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if cache.Current().ValidityPeriod != 60 {
		t.Errorf("ValidityPeriod = %d, want 60", cache.Current().ValidityPeriod)
	}

	// refresh picks up new values
	if err := mem.HSet(ctx, settingsHash, settingsKey, `{"id":1,"validity_period":120}`); err != nil {
		t.Fatal(err)
	}
	if !cache.Refresh(ctx) {
		t.Fatal("Refresh failed")
	}
	if cache.Current().ValidityPeriod != 120 {
		t.Errorf("ValidityPeriod after refresh = %d, want 120", cache.Current().ValidityPeriod)
	}

	// a failed refresh keeps the previous value
	if err := mem.HDel(ctx, settingsHash, settingsKey); err != nil {
		t.Fatal(err)
	}
	if cache.Refresh(ctx) {
		t.Error("Refresh reported success on missing record")
	}
	if cache.Current().ValidityPeriod != 120 {
		t.Errorf("stale value lost after failed refresh: %d", cache.Current().ValidityPeriod)
	}
}

func TestServerState(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	state := registry.NewServerState(mem, configHash, serverKey)

	if state.IsStopped() {
		t.Fatal("fresh state reports stopped")
	}

	if err := mem.HSet(ctx, configHash, serverKey, `{"state":"STOPPED"}`); err != nil {
		t.Fatal(err)
	}
	state.Refresh(ctx)
	if !state.IsStopped() {
		t.Error("state not refreshed to STOPPED")
	}

	// malformed record keeps the previous state
	if err := mem.HSet(ctx, configHash, serverKey, "{broken"); err != nil {
		t.Fatal(err)
	}
	state.Refresh(ctx)
	if !state.IsStopped() {
		t.Error("malformed record reset the state")
	}

	if err := mem.HSet(ctx, configHash, serverKey, `{"state":"STARTED"}`); err != nil {
		t.Fatal(err)
	}
	state.Refresh(ctx)
	if state.IsStopped() {
		t.Error("state not refreshed to STARTED")
	}
}

func TestAutoRegister(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	instance := config.InstanceConfig{
		Name: "smpp-server", IP: "127.0.0.1", Port: "2775",
		Protocol: "SMPP", Scheme: "tcp", InitialStatus: "STARTED",
	}
	ar := registry.NewAutoRegister(mem, configHash, instance)

	ar.Register(ctx)
	raw, err := mem.HGet(ctx, configHash, "smpp-server")
	if err != nil {
		t.Fatalf("descriptor not written: %v", err)
	}
	if raw == "" {
		t.Fatal("empty descriptor")
	}

	ar.Unregister(ctx)
	if _, err := mem.HGet(ctx, configHash, "smpp-server"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("descriptor survived unregister: %v", err)
	}
}
