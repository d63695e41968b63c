// Command syncd runs the till synchronization engine: it owns the local
// cache, keeps it reconciled with the relay network, and serves the loopback
// admin/UI API. Business logic lives in the internal packages; main only
// wires dependencies and the process lifecycle.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tillsync/internal/cache"
	"tillsync/internal/codec"
	"tillsync/internal/event"
	"tillsync/internal/identity"
	"tillsync/internal/outbox"
	"tillsync/internal/platform/config"
	"tillsync/internal/platform/httpserver"
	"tillsync/internal/platform/logger"
	"tillsync/internal/platform/metrics"
	platformredis "tillsync/internal/platform/redis"
	"tillsync/internal/record"
	"tillsync/internal/relay"
	"tillsync/internal/session"
	syncengine "tillsync/internal/sync"
	transporthttp "tillsync/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "syncd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Node.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()

	id, err := identity.LoadOrCreate(ctx, store)
	if err != nil {
		return fmt.Errorf("load device identity: %w", err)
	}
	log.Info("device identity ready", "device_id", id.DeviceID(), "pubkey", id.PublicKey())

	localKey, err := loadLocalKey(ctx, store)
	if err != nil {
		return fmt.Errorf("load local encryption key: %w", err)
	}
	cdc, err := codec.New(codec.Capabilities{
		TeamCode: cfg.Node.TeamCode,
		Secrets:  id,
		LocalKey: localKey,
	})
	if err != nil {
		return fmt.Errorf("build codec: %w", err)
	}

	m := metrics.New()

	pool := relay.NewPool(relay.PoolConfig{
		Defaults:     cfg.Relay.Defaults,
		Store:        store,
		QueryTimeout: cfg.Relay.QueryTimeout,
		Logger:       log,
	})
	if err := pool.Load(ctx); err != nil {
		return fmt.Errorf("load relay list: %w", err)
	}
	defer pool.Close()

	var teamScope string
	if cfg.Node.TeamCode != "" {
		teamScope = codec.TeamScope(cfg.Node.TeamCode)
		log.Info("team mode enabled", "scope", teamScope)
	}

	fabric := event.NewFabric(event.FabricConfig{
		Transport: pool,
		Codec:     cdc,
		Identity:  id,
		TeamScope: teamScope,
		Logger:    log,
		Metrics:   m,
	})

	// The remotely published relay list merges in the background; startup
	// never waits on the network.
	go pool.RefreshRemote(ctx, func(ctx context.Context) ([]relay.Endpoint, error) {
		return fetchRelayList(ctx, fabric)
	})

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	var bus session.Bus
	if redisClient != nil {
		defer redisClient.Close()
		bus = session.NewRedisBus(redisClient, "", log)
		log.Info("session bus on redis")
	} else {
		bus = session.NewMemoryBus()
	}
	defer bus.Close()

	worker := outbox.NewWorker(store, fabric, outbox.Config{
		Interval: cfg.Sync.OutboxInterval,
	}, log, m)
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("outbox worker stopped", "error", err)
		}
	}()

	var syncers []transporthttp.Syncer
	var orchestrators []*syncengine.Orchestrator
	for _, kind := range record.Kinds {
		orch := syncengine.New(syncengine.Config{
			Kind:               kind,
			Storage:            store,
			Fabric:             fabric,
			Bus:                bus,
			Drain:              worker.Drain,
			Origin:             id.DeviceID(),
			Encrypt:            true,
			PageSize:           cfg.Sync.PageSize,
			RecentWindow:       cfg.Sync.RecentWindow,
			ActivePollInterval: cfg.Sync.ActivePollInterval,
			FullSyncInterval:   cfg.Sync.FullSyncInterval,
			Logger:             log,
			Metrics:            m,
		})
		if err := orch.Init(ctx); err != nil {
			return fmt.Errorf("init %s orchestrator: %w", kind.Name, err)
		}
		orchestrators = append(orchestrators, orch)
		syncers = append(syncers, orch)
	}
	defer func() {
		for _, orch := range orchestrators {
			orch.Close()
		}
	}()

	registry := session.NewRegistry()
	realtime := transporthttp.NewRealtime(bus, registry, log)

	health := []transporthttp.HealthChecker{store}
	if redisClient != nil {
		health = append(health, redisClient)
	}
	handler := transporthttp.NewHandler(pool, syncers, realtime, health, log)
	srv := httpserver.New(cfg.HTTP.Addr, transporthttp.NewRouter(handler))

	errc := make(chan error, 1)
	go func() {
		log.Info("admin server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

const localKeySetting = "identity.local_key"

// loadLocalKey restores or generates the device-local content key used when
// no team or peer key material is configured.
func loadLocalKey(ctx context.Context, store *cache.Store) ([]byte, error) {
	raw, err := store.GetSetting(ctx, localKeySetting)
	if err != nil {
		return nil, err
	}
	if raw != "" {
		return hex.DecodeString(raw)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := store.SetSetting(ctx, localKeySetting, hex.EncodeToString(key)); err != nil {
		return nil, err
	}
	return key, nil
}

// fetchRelayList pulls the team's published relay list, a replaceable event
// other devices update when the relay set changes.
func fetchRelayList(ctx context.Context, fabric *event.Fabric) ([]relay.Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	decoded, err := fabric.QueryByAddress(ctx, event.KindRelayList, "relays")
	if err != nil {
		return nil, err
	}
	if decoded == nil {
		return nil, nil
	}
	var list struct {
		Relays []relay.Endpoint `json:"relays"`
	}
	if err := json.Unmarshal(decoded.Payload, &list); err != nil {
		return nil, fmt.Errorf("parse relay list event: %w", err)
	}
	return list.Relays, nil
}
