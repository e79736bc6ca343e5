package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/orderlink/realtime-server-go/internal/auth"
	"github.com/orderlink/realtime-server-go/internal/config"
	"github.com/orderlink/realtime-server-go/internal/database"
	"github.com/orderlink/realtime-server-go/internal/directory"
	"github.com/orderlink/realtime-server-go/internal/handler"
	"github.com/orderlink/realtime-server-go/internal/jobs"
	"github.com/orderlink/realtime-server-go/internal/middleware"
	"github.com/orderlink/realtime-server-go/internal/notify"
	"github.com/orderlink/realtime-server-go/internal/redis"
	"github.com/orderlink/realtime-server-go/internal/repository"
	"github.com/orderlink/realtime-server-go/internal/room"
	"github.com/orderlink/realtime-server-go/internal/service"
	"github.com/orderlink/realtime-server-go/internal/session"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	checks := map[string]handler.Pinger{}

	var (
		messageStore repository.MessageStore
		markerStore  repository.ReadMarkerStore
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		log.Info().Msg("database connected")

		if err := db.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}

		messageStore = repository.NewMessageRepository(db)
		markerStore = repository.NewReadMarkerRepository(db.DB)
		checks["postgres"] = handler.PingFunc(db.Ping)
	default:
		log.Warn().Msg("using in-memory message store: history is lost on restart")
		messageStore = repository.NewMemoryMessageStore()
		markerStore = repository.NewMemoryReadMarkerStore()
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")
	checks["redis"] = handler.PingFunc(redisClient.HealthCheck)

	unread := repository.NewRedisUnreadCounter(redisClient)
	locations := repository.NewRedisLocationStore(redisClient, cfg.LocationTTL())

	var dir directory.Directory
	if cfg.OrderDirectoryURL != "" {
		dir = directory.NewHTTPDirectory(cfg.OrderDirectoryURL, cfg.DirectoryTimeout())
	} else {
		static, err := directory.ParseStatic(cfg.OrderDirectoryStatic)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to parse ORDER_DIRECTORY_STATIC")
		}
		dir = static
	}

	var sink notify.Sink
	switch cfg.NotifyDriver {
	case config.NotifyDriverNATS:
		nc, err := notify.ConnectNATS(cfg.NATSURL, "orderlink-realtime")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to nats")
		}
		natsSink := notify.NewNATSSink(nc)
		defer natsSink.Close()
		sink = natsSink
		log.Info().Msg("nats connected")
	case config.NotifyDriverRedis:
		sink = notify.NewRedisSink(redisClient)
	default:
		sink = notify.Noop{}
	}
	notifier := notify.NewNotifier(sink, config.NotifyTimeout)

	registry := room.NewRegistry(dir)
	typing := service.NewTypingService(registry, cfg.TypingTimeout())
	rooms := service.NewRoomService(registry, messageStore, markerStore, locations, typing, cfg.HistoryPageSize, cfg.LocationStaleAfter())
	sessions := service.NewSessionService(session.NewManager(), registry, rooms, typing, cfg.SessionBuffer)
	messages := service.NewMessageService(registry, messageStore, unread, notifier, cfg.HistoryPageSize, cfg.HistoryMaxPageSize)
	receipts := service.NewReceiptService(registry, messageStore, markerStore, unread, notifier)

	gateway := handler.NewGateway(handler.Services{
		Sessions: sessions,
		Rooms:    rooms,
		Messages: messages,
		Typing:   typing,
		Receipts: receipts,
		Location: service.NewLocationService(registry, dir, locations),
	}, handler.GatewayOptions{
		AllowedOrigins:    cfg.AllowedOrigins,
		InboundRatePerSec: cfg.InboundRatePerSec,
		InboundBurst:      cfg.InboundBurst,
	})
	trackingHandler := handler.NewTrackingEventsHandler(sessions, rooms)
	historyHandler := handler.NewHistoryHandler(messages, receipts)
	healthHandler := handler.NewHealthHandler(checks, sessions.Count)

	authMiddleware := middleware.NewAuthMiddleware(auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer))
	ipRateLimitMiddleware := middleware.NewIPRateLimitMiddleware(middleware.NewRateLimiter(), config.IPRateLimitPerMin, "v1")
	connectRateLimitMiddleware := middleware.NewConnectRateLimitMiddleware(middleware.NewRedisRateLimiter(redisClient.Client), cfg.ConnectRatePerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(ipRateLimitMiddleware.Handler)
		r.Use(authMiddleware.Handler)

		// Long-lived streams stay outside the request timeout.
		r.With(connectRateLimitMiddleware.Handler).Get("/ws", gateway.ServeHTTP)
		r.Get("/orders/{orderId}/tracking/events", trackingHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(bodyLimitMiddleware.Handler)
			r.Mount("/", historyHandler.Routes())
		})
	})

	maintenanceJob := jobs.NewMaintenanceJob(rooms, cfg.RoomIdleTTL(), config.MaintenanceJobInterval)
	maintenanceJob.Start()
	defer maintenanceJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("store", cfg.StoreDriver).Str("notify", cfg.NotifyDriver).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	// Hijacked websocket connections are not tracked by server.Shutdown.
	closed := sessions.Shutdown()
	log.Info().Int("sessions", closed).Msg("closed live sessions")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
