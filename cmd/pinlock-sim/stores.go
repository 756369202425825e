package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	goPin "github.com/MrEthical07/goPin"
	"github.com/MrEthical07/goPin/lockout/pgstore"
	"github.com/MrEthical07/goPin/lockout/redisstore"
	"github.com/MrEthical07/goPin/lockout/sqlitestore"
)

func openFailureStore(ctx context.Context, sc simConfig, local *sqlitestore.Store, logger *slog.Logger) (goPin.FailureStore, func(), error) {
	switch sc.Store {
	case "sqlite":
		logger.Info("failure records in sqlite", "path", sc.SQLitePath)
		return local, func() {}, nil

	case "redis":
		addr := sc.RedisAddr
		var mr *miniredis.Miniredis
		if addr == "" {
			var err error
			mr, err = miniredis.Run()
			if err != nil {
				return nil, nil, fmt.Errorf("start miniredis: %w", err)
			}
			addr = mr.Addr()
			logger.Info("failure records in miniredis", "addr", addr)
		} else {
			logger.Info("failure records in redis", "addr", addr)
		}

		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			if mr != nil {
				mr.Close()
			}
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		cleanup := func() {
			_ = client.Close()
			if mr != nil {
				mr.Close()
			}
		}
		return redisstore.New(client, redisstore.Config{Prefix: "gopin"}), cleanup, nil

	case "postgres":
		if sc.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("GOPIN_DATABASE_URL is required for the postgres store")
		}
		pool, err := pgxpool.New(ctx, sc.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := pgstore.New(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("failure records in postgres")
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown GOPIN_STORE %q", sc.Store)
	}
}
