package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/educert-api/internal/chain"
	"github.com/noah-isme/educert-api/internal/config"
	"github.com/noah-isme/educert-api/internal/database"
	"github.com/noah-isme/educert-api/internal/handler"
	"github.com/noah-isme/educert-api/internal/lease"
	"github.com/noah-isme/educert-api/internal/middleware"
	"github.com/noah-isme/educert-api/internal/models"
	"github.com/noah-isme/educert-api/internal/observability"
	"github.com/noah-isme/educert-api/internal/repository"
	"github.com/noah-isme/educert-api/internal/router"
	"github.com/noah-isme/educert-api/internal/service"
	cloud "github.com/noah-isme/educert-api/pkg/cloudinary"
	"github.com/noah-isme/educert-api/pkg/localstore"
)

const uploadsRoute = "/uploads"

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "educert-api").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	observability.RegisterMetrics()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Drain()
	}

	contract, closeContract := buildContract(cfg, logger)
	defer closeContract()

	var locker lease.Locker = lease.NewMemoryLocker()
	if redisClient != nil {
		locker = lease.NewRedisLocker(redisClient, cfg.LeasePrefix)
	}

	storage, staticDir := buildStorage(cfg, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())

	studentRepo := repository.NewStudentRepository(db)
	certificateRepo := repository.NewCertificateRepository(db)
	syncJobRepo := repository.NewSyncJobRepository(db)
	documentRepo := repository.NewDocumentRepository(db)

	events := service.NewStatusEventService(redisClient, natsConn, cfg.EventsChannel, logger)
	worker := service.NewSyncWorker(syncJobRepo, service.SyncWorkerConfig{
		Interval:    cfg.SyncInterval,
		MaxAttempts: cfg.SyncMaxAttempts,
		MaxBackoff:  cfg.SyncMaxBackoff,
	}, logger)
	reconciler := service.NewReconcileService(studentRepo, certificateRepo, contract, events, worker, logger)
	gate := service.NewEligibilityService(certificateRepo, contract, logger)

	issuer, err := service.NewCertificateService(service.CertificateDependencies{
		Students:     studentRepo,
		Certificates: certificateRepo,
		Contract:     contract,
		Reconciler:   reconciler,
		Events:       events,
	}, validate, cfg.MetadataBaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build certificate service")
	}

	students := service.NewStudentService(service.StudentDependencies{
		Students:     studentRepo,
		Certificates: certificateRepo,
		Contract:     contract,
		Reconciler:   reconciler,
		Issuer:       issuer,
		Events:       events,
	}, validate, logger)

	mint := service.NewMintService(service.MintDependencies{
		Students:     studentRepo,
		Certificates: certificateRepo,
		Contract:     contract,
		Gate:         gate,
		Reconciler:   reconciler,
		Queue:        worker,
		Events:       events,
		Locker:       locker,
	}, service.MintConfig{LeaseTTL: cfg.MintLeaseTTL, Timeout: cfg.MintTimeout}, logger)

	activity := service.NewActivityService(certificateRepo, logger)
	documents := service.NewDocumentService(storage, documentRepo, cfg.UploadMaxSizeMB, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events.Start(ctx)
	worker.Start(ctx, reconciler)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxSizeMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{
		Logger:         &logger,
		AllowedOrigins: cfg.CORSOrigins,
		AccessLog:      cfg.AppEnv != "production",
	})
	if staticDir != "" {
		app.Static(uploadsRoute, staticDir)
	}

	router.Register(app, cfg, router.Dependencies{
		StudentHandler:     handler.NewStudentHandler(students, gate, logger),
		CertificateHandler: handler.NewCertificateHandler(issuer, activity, logger),
		MintHandler:        handler.NewMintHandler(mint, logger),
		DocumentHandler:    handler.NewDocumentHandler(documents, logger),
		EventsHandler:      handler.NewEventsHandler(events, logger),
		HealthProbes:       healthProbes(db, redisClient, contract),
		JWTMiddleware:      middleware.JWTProtected(cfg.JWTSecret),
		MintRateLimit:      middleware.RateLimit("mint", cfg.MintRateLimit, cfg.MintRateWindow),
		Logger:             logger,
	})

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress()).Str("chain_mode", cfg.ChainMode).Msg("http server starting")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	shutdown(app, logger)
}

func buildContract(cfg config.Config, logger zerolog.Logger) (chain.Contract, func()) {
	if cfg.ChainMode == config.ChainModeMemory {
		logger.Warn().Msg("using in-memory ledger, certificates are not written to a blockchain")
		return chain.NewMemory(), func() {}
	}

	contract, err := chain.NewEthereumContract(chain.Config{
		RPCURLs:         cfg.ChainRPCURLs,
		ContractAddress: cfg.ContractAddress,
		ChainID:         cfg.ChainID,
		PrivateKey:      cfg.AdminPrivateKey,
		ABI:             cfg.ContractABI,
		CallTimeout:     cfg.RPCTimeout,
		Confirmations:   cfg.Confirmations,
		PollInterval:    cfg.PollInterval,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure contract client")
	}
	return contract, contract.Close
}

func buildStorage(cfg config.Config, logger zerolog.Logger) (service.FileStorage, string) {
	cloudCfg := cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}
	if cloudCfg.Enabled() {
		uploader, err := cloud.New(cloudCfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create cloudinary client")
		}
		return uploader, ""
	}

	store, err := localstore.New(cfg.UploadDir, uploadsRoute, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare upload directory")
	}
	logger.Warn().Str("dir", store.Dir()).Msg("cloudinary not configured, storing documents on disk")
	return store, store.Dir()
}
