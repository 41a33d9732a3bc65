package main

import (
	"context"
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/gridrock/gridpool/internal/api"
	"github.com/gridrock/gridpool/internal/config"
	"github.com/gridrock/gridpool/internal/driver"
	"github.com/gridrock/gridpool/internal/inventory"
	"github.com/gridrock/gridpool/internal/lock"
	"github.com/gridrock/gridpool/internal/node"
	"github.com/gridrock/gridpool/internal/proxy"
	"github.com/gridrock/gridpool/internal/session"
	"github.com/gridrock/gridpool/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()
	log.Printf("config loaded: store=%s inventory=%s driver=%s", cfg.StoreBackend, cfg.InventoryBackend, cfg.DriverBackend)

	var st store.Store
	var locker lock.Locker
	switch cfg.StoreBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis not reachable at %s: %v", cfg.RedisAddr, err)
		}
		st = store.NewRedisStore(client, cfg.KeyPrefix)
		locker = lock.NewRedisLocker(client, cfg.KeyPrefix+":lock")
	case "postgres":
		pgStore, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("postgres store: %v", err)
		}
		defer pgStore.Close()
		st = pgStore
		locker = lock.NewMemoryLocker()
	case "memory":
		st = store.NewMemoryStore()
		locker = lock.NewMemoryLocker()
	default:
		log.Fatalf("unknown store backend %q", cfg.StoreBackend)
	}

	var provider inventory.Provider
	switch cfg.InventoryBackend {
	case "static":
		provider = inventory.NewStaticProvider(cfg.StaticNodes)
	case "cloud":
		provider = inventory.NewCloudProvider(cfg.CloudInventoryURL, inventory.CloudConfig{
			PoolTag:      cfg.CloudPoolTag,
			NodePort:     cfg.CloudNodePort,
			UsePublicDNS: cfg.CloudUsePublicDNS,
		})
	default:
		log.Fatalf("unknown inventory backend %q", cfg.InventoryBackend)
	}

	var drv driver.Client
	switch cfg.DriverBackend {
	case "http":
		drv = driver.NewHTTPClient(cfg.DriverTimeout)
	case "noop":
		drv = driver.NoopClient{}
	default:
		log.Fatalf("unknown driver backend %q", cfg.DriverBackend)
	}

	nodes := node.NewPool(st, provider, node.Config{DefaultMaxSessions: cfg.NodeMaxSessions})
	proxies := proxy.NewPool(st, nil)
	sessions := session.NewPool(st, nodes, proxies, drv, locker, session.Config{
		AllocWait: cfg.AllocWait,
		AllocTTL:  cfg.AllocTTL,
	})

	if err := nodes.Refresh(ctx); err != nil {
		log.Printf("initial fleet refresh failed: %v", err)
	}

	server := api.NewServer(nodes, sessions, proxies)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	log.Printf("gridpool listening on %s", cfg.HTTPAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("gridpool failed: %v", err)
	}
}
