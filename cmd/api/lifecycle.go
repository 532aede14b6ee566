package main

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/educert-api/internal/chain"
	"github.com/noah-isme/educert-api/internal/database"
	"github.com/noah-isme/educert-api/internal/handler"
	"github.com/noah-isme/educert-api/internal/lifecycle"
)

const shutdownTimeout = 10 * time.Second

func healthProbes(db *gorm.DB, redisClient *redis.Client, contract chain.Contract) map[string]handler.HealthProbe {
	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"ledger": func(ctx context.Context) error {
			// Any answer from the contract, even a revert, proves an endpoint is up.
			_, err := contract.HasMinted(ctx, "health-probe", string(lifecycle.TypeDegree))
			if errors.Is(err, chain.ErrUnavailable) {
				return err
			}
			return nil
		},
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error {
			return database.PingRedis(ctx, redisClient)
		}
	}
	return probes
}

func shutdown(app *fiber.App, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return
	}
	logger.Info().Msg("server stopped")
}
