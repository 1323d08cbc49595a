// Package main provides the lobby server binary that registers hosted
// sessions and serves searches and joins over gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/cory-johannsen/mansion/internal/config"
	"github.com/cory-johannsen/mansion/internal/lobby"
	"github.com/cory-johannsen/mansion/internal/observability"
	"github.com/cory-johannsen/mansion/internal/server"
	"github.com/cory-johannsen/mansion/internal/storage/postgres"
	"github.com/cory-johannsen/mansion/internal/storage/redis"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	healthInterval := flag.Duration("health-interval", 30*time.Second, "database health check interval")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "lobbyserver")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting lobby server",
		zap.String("grpc_addr", cfg.Lobby.Addr()),
		zap.String("store", cfg.Lobby.Store),
	)

	lifecycle := server.NewLifecycle(logger)

	store, err := openStore(ctx, cfg, lifecycle, *healthInterval, logger)
	if err != nil {
		logger.Fatal("opening lobby store", zap.Error(err))
	}

	svc := lobby.NewService(store, logger)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(lobby.LoggingInterceptor(logger)))
	lobby.Register(grpcServer, lobby.NewServer(svc, logger))

	lifecycle.Add("grpc", &server.FuncService{
		StartFn: func(context.Context) error {
			lis, err := net.Listen("tcp", cfg.Lobby.Addr())
			if err != nil {
				return fmt.Errorf("listening on %s: %w", cfg.Lobby.Addr(), err)
			}
			logger.Info("gRPC server listening",
				zap.String("addr", lis.Addr().String()),
			)
			return grpcServer.Serve(lis)
		},
		StopFn: func() {
			grpcServer.GracefulStop()
		},
	})

	logger.Info("lobby server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// openStore builds the configured lobby store and registers any connection it
// owns with the lifecycle so it is closed on shutdown.
func openStore(ctx context.Context, cfg config.Config, lc *server.Lifecycle, healthInterval time.Duration, logger *zap.Logger) (lobby.Store, error) {
	switch cfg.Lobby.Store {
	case config.StoreMemory:
		return lobby.NewMemoryStore(), nil

	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		lc.Add("postgres", &server.FuncService{
			StartFn: func(ctx context.Context) error {
				return pool.Watch(ctx, healthInterval, 5*time.Second)
			},
			StopFn: pool.Close,
		})
		return postgres.NewLobbyRepository(pool.DB()), nil

	case config.StoreRedis:
		store, err := redis.Dial(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		lc.Add("redis", &server.FuncService{
			StartFn: func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			},
			StopFn: func() {
				if err := store.Close(); err != nil {
					logger.Warn("closing redis client", zap.Error(err))
				}
			},
		})
		return store, nil

	default:
		return nil, fmt.Errorf("unknown lobby store %q", cfg.Lobby.Store)
	}
}
