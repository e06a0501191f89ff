package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/sonicvault/vaultd/cmd/settlement-worker/worker"
	"github.com/sonicvault/vaultd/common/bootstrap"
	"github.com/sonicvault/vaultd/common/clients"
	rediscommon "github.com/sonicvault/vaultd/common/redis"
	"github.com/sonicvault/vaultd/common/repository"
	"github.com/sonicvault/vaultd/common/server"
	"github.com/sonicvault/vaultd/common/settlement"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Worker applies schema-owned migrations only from the API service
	components, err := bootstrap.Setup(ctx, "settlement-worker",
		bootstrap.WithoutMigrations(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap settlement-worker: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	cfg := components.Config

	redisRaw := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisClient := rediscommon.NewClient(redisRaw, components.Logger)

	claimRepo := repository.NewClaimRepository(components.DB)
	positionRepo := repository.NewPositionRepository(components.DB)
	chainClient := clients.NewChainClient(cfg.Chain.NodeURL, cfg.Chain.RequestTimeout, components.Logger)

	coordinator := settlement.NewCoordinator(
		claimRepo,
		positionRepo,
		chainClient,
		redisClient,
		cfg.Settlement,
		components.Logger,
	)

	consumer := worker.NewClaimConsumer(redisRaw, coordinator, components.Logger)
	reconciler := worker.NewReconciler(coordinator, cfg.Settlement.ReconcileEvery, components.Logger)

	go func() {
		if err := consumer.Start(ctx); err != nil {
			components.Logger.Error("claim consumer exited", "error", err)
			cancel()
		}
	}()
	go reconciler.Start(ctx)

	// Health endpoint for container liveness checks
	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler(cfg.Service.Name))

	srv := server.New(
		cfg.Service.Name,
		cfg.Service.Port,
		mux,
		components.Logger,
	)

	components.Logger.Info("settlement worker ready",
		"port", cfg.Service.Port,
		"reconcile_interval", cfg.Settlement.ReconcileEvery)

	// Blocks until SIGINT/SIGTERM, then drains in-flight requests
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
