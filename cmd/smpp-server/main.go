package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kelvradu/smppgate/internal/cdr"
	"github.com/kelvradu/smppgate/internal/config"
	"github.com/kelvradu/smppgate/internal/controlplane"
	"github.com/kelvradu/smppgate/internal/dispatch"
	"github.com/kelvradu/smppgate/internal/logging"
	"github.com/kelvradu/smppgate/internal/multipart"
	"github.com/kelvradu/smppgate/internal/registry"
	"github.com/kelvradu/smppgate/internal/session"
	"github.com/kelvradu/smppgate/internal/smppserver"
	"github.com/kelvradu/smppgate/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	baseHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(logging.NewContextHandler(baseHandler)))
	slog.Info("Logging initialized", "level", logLevel.String())

	var kv store.Store
	if cfg.DatabaseURL != "" {
		dbpool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		defer dbpool.Close()
		if err := dbpool.Ping(ctx); err != nil {
			log.Fatalf("Failed to ping database: %v", err)
		}
		slog.Info("Database connection pool established")
		kv = store.NewPostgres(dbpool)
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store")
		kv = store.NewMemory()
	}

	tenants := registry.NewTenantRegistry(kv, cfg.StoreKeys.ServiceProvidersHash)
	if err := tenants.Load(ctx); err != nil {
		log.Fatalf("Failed to load service providers: %v", err)
	}

	settings := registry.NewGeneralSettingsCache(kv, cfg.StoreKeys.GeneralSettingsHash, cfg.StoreKeys.GeneralSettingsKey)
	if err := settings.Init(ctx); err != nil {
		log.Fatalf("Failed to load general settings: %v", err)
	}

	serverState := registry.NewServerState(kv, cfg.StoreKeys.ConfigurationHash, cfg.StoreKeys.ServerKey)
	serverState.Refresh(ctx)

	autoRegister := registry.NewAutoRegister(kv, cfg.StoreKeys.ConfigurationHash, cfg.Instance)
	autoRegister.Register(ctx)
	defer autoRegister.Unregister(context.WithoutCancel(ctx))

	cdrProcessor := cdr.NewStoreProcessor(kv, cfg.StoreKeys.CdrList, cfg.StoreKeys.CdrFinalizeList)
	sessions := session.NewRegistry()
	reassembler := multipart.NewReassembler(kv, cfg.StoreKeys.MessagePartsHash, cfg.StoreKeys.PreMessageList, cdrProcessor)
	deliverer := dispatch.NewDeliverer(settings, cdrProcessor)

	var (
		socket   *controlplane.SocketSession
		notifier session.StatusNotifier
	)
	if cfg.ControlPlane.Enabled {
		socket = controlplane.NewSocketSession(cfg.ControlPlane)
		notifier = controlplane.NewWsStatusNotifier(socket, cfg.ControlPlane.NotifyDelay)
		frameHandler := controlplane.NewFrameHandler(socket, tenants, sessions, serverState, settings, reassembler, notifier)
		go socket.Run(ctx, frameHandler)
	}

	consumer := dispatch.NewConsumer(kv, cfg.StoreKeys.DeliverQueue, tenants, sessions, deliverer, cfg.DispatcherConfig)
	go consumer.Run(ctx)

	server := smppserver.NewServer(cfg.ServerConfig, cfg.Instance.Name, smppserver.Deps{
		Tenants:     tenants,
		Sessions:    sessions,
		Store:       kv,
		Keys:        cfg.StoreKeys,
		State:       serverState,
		Settings:    settings,
		Reassembler: reassembler,
		CDR:         cdrProcessor,
		Notifier:    notifier,
		Sender:      deliverer,
	})
	go func() {
		if err := server.ListenAndServe(); err != nil {
			slog.Error("SMPP server failed", slog.Any("error", err))
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received, shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("SMPP server shutdown failed", slog.Any("error", err))
	}
	slog.Info("Gateway stopped")
}
