package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-realtime/internal/config"
	"github.com/noah-isme/gema-realtime/internal/database"
	"github.com/noah-isme/gema-realtime/internal/handler"
	"github.com/noah-isme/gema-realtime/internal/middleware"
	"github.com/noah-isme/gema-realtime/internal/netutil"
	"github.com/noah-isme/gema-realtime/internal/observability"
	"github.com/noah-isme/gema-realtime/internal/realtime"
	"github.com/noah-isme/gema-realtime/internal/repository"
	"github.com/noah-isme/gema-realtime/internal/router"
	"github.com/noah-isme/gema-realtime/internal/service"
	cloud "github.com/noah-isme/gema-realtime/pkg/cloudinary"
)

func main() {
	bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg)
	observability.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New(validator.WithRequiredStructEnabled())

	var db *gorm.DB
	if cfg.DevMode {
		logger.Warn().Msg("AUTH_DEV_MODE enabled: running without database, identity taken from request headers")
	} else {
		db, err = database.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
	}

	hubOpts := []realtime.HubOption{}
	var (
		natsConn    *nats.Conn
		redisClient *redis.Client
	)
	switch {
	case cfg.NATSURL != "":
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		hubOpts = append(hubOpts, realtime.WithRelay(realtime.NewNATSRelay(natsConn, cfg.RealtimeChannel, logger)))
	case cfg.RedisURL != "":
		redisClient, err = database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		hubOpts = append(hubOpts, realtime.WithRelay(realtime.NewRedisRelay(redisClient, cfg.RealtimeChannel, logger)))
	}

	hub := realtime.NewHub(logger, hubOpts...)
	if err := hub.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to realtime relay")
	}

	var presenceStore repository.PresenceRepository
	if db != nil {
		presenceStore = repository.NewPresenceRepository(db)
	} else {
		presenceStore = repository.NewMemoryPresenceRepository()
	}
	presenceService := service.NewPresenceService(presenceStore, hub, validate, logger)

	dispatcherCfg := realtime.DispatcherConfig{
		Hub:         hub,
		Presence:    presenceService,
		DevTriggers: cfg.DevMode,
		Validator:   validate,
		Logger:      logger,
	}

	var (
		threads  repository.ThreadRepository
		messages repository.MessageRepository
		audit    repository.AuditRepository
	)
	if db != nil {
		threads = repository.NewThreadRepository(db)
		messages = repository.NewMessageRepository(db)
		audit = repository.NewAuditRepository(db)
	} else {
		logger.Warn().Msg("dev mode: messaging is served from memory and is lost on restart")
		store := repository.NewMemoryMessagingStore()
		threads = store.Threads()
		messages = store.Messages()
	}

	cipher, err := service.NewContentCipher(cfg.MessageEncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise message cipher")
	}
	if db != nil && !cipher.Enabled() {
		logger.Warn().Msg("MSG_ENCRYPTION_KEY missing or too short: message bodies are stored as plaintext")
	}

	messageService := service.NewMessageService(service.MessageServiceConfig{
		Threads:            threads,
		Messages:           messages,
		Audit:              audit,
		Broadcaster:        hub,
		Storage:            newAttachmentStorage(cfg, logger),
		Cipher:             cipher,
		MaxAttachmentBytes: int64(cfg.AttachmentMaxMB) << 20,
		Validator:          validate,
		Logger:             logger,
	})
	// Socket acks and typing need durable participants; in dev mode they stay no-ops.
	if db != nil {
		dispatcherCfg.Deliveries = messageService
		dispatcherCfg.Participants = messageService
	}

	sendLimit := middleware.RateLimit("messages_send", 30, time.Minute)
	messageHandler := handler.NewMessageHandler(messageService, validate, sendLimit, logger)

	dispatcher := realtime.NewDispatcher(dispatcherCfg)
	gatewayCfg := realtime.GatewayConfig{
		PingInterval: cfg.PingInterval,
		PingTimeout:  cfg.PingTimeout,
		PollTimeout:  cfg.PollTimeout,
		Logger:       logger,
	}
	gateway := realtime.NewGateway(dispatcher, gatewayCfg)
	go gateway.Run(ctx)

	var clock handler.DatabaseClock
	authMiddleware := middleware.DevIdentity()
	if db != nil {
		clock = database.NewClock(db)
		authMiddleware = middleware.JWTProtected(cfg.JWTSecret)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    cfg.AttachmentMaxMB * 2 << 20, // attachments arrive base64 encoded
	})

	middleware.Register(app, middleware.Config{
		Logger:         &logger,
		FrontendOrigin: cfg.FrontendOrigin,
		AccessLog:      cfg.AppEnv == "development",
	})
	router.Register(app, cfg, router.Dependencies{
		DatabaseHealth:   handler.NewDatabaseHealthHandler(clock, cfg.DevMode, logger),
		BroadcastHandler: handler.NewBroadcastHandler(hub, validate, logger),
		PresenceHandler:  handler.NewPresenceHandler(presenceService, validate, logger),
		MessageHandler:   messageHandler,
		SocketHandler:    handler.NewSocketHandler(ctx, gateway, gatewayCfg, cfg.FrontendOrigin, logger),
		AuthMiddleware:   authMiddleware,
		BroadcastLimiter: middleware.RateLimit("test_broadcast", 5, time.Second),
	})

	ln, err := netutil.ListenFirstFree("0.0.0.0", cfg.AppPort, cfg.PortScanRange)
	if err != nil {
		logger.Fatal().Err(err).Int("start_port", cfg.AppPort).Int("range", cfg.PortScanRange).Msg("no free port available")
	}
	if actual := listenerPort(ln); actual != cfg.AppPort {
		logger.Warn().Int("requested", cfg.AppPort).Int("port", actual).Msg("requested port busy, using next free port")
	}
	logger.Info().Str("addr", ln.Addr().String()).Bool("dev_mode", cfg.DevMode).Msg("realtime server listening")

	go func() {
		// The scanned listener is held from bind to shutdown, so a late port
		// conflict cannot occur and there is nothing to rescan. Any other
		// serve error leaves the process without a socket: log it and exit.
		if err := app.Listener(ln); err != nil {
			logger.Error().Err(err).Str("addr", ln.Addr().String()).Msg("http server stopped with error, shutting down")
			stop()
		}
	}()

	if db != nil {
		// Provisioning runs after bind so the health endpoints answer while DDL is applied.
		if err := database.NewSchemaProvisioner(db, logger).Ensure(ctx); err != nil {
			logger.Error().Err(err).Msg("schema provisioning incomplete")
		}
	}

	<-ctx.Done()
	shutdown(app, hub, redisClient, natsConn, logger)
}

func newLogger(cfg config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.AppEnv == "development" {
		level = zerolog.DebugLevel
	}

	var logger zerolog.Logger
	if cfg.AppEnv == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("app", cfg.AppName).Logger()
}

func newAttachmentStorage(cfg config.Config, logger zerolog.Logger) service.FileStorage {
	if !cfg.CloudinaryEnabled() {
		return service.NewLocalFileStorage(cfg.AttachmentDir)
	}

	store, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("cloudinary unavailable, storing attachments on local disk")
		return service.NewLocalFileStorage(cfg.AttachmentDir)
	}
	return store
}

func listenerPort(ln net.Listener) int {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func shutdown(app *fiber.App, hub *realtime.Hub, redisClient *redis.Client, natsConn *nats.Conn, logger zerolog.Logger) {
	logger.Info().Msg("shutting down")
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if redisClient != nil {
		_ = redisClient.Close()
	}
	if natsConn != nil {
		natsConn.Close()
	}
	logger.Info().Msg("server stopped")
}
