package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"conversation-service/internal/auth"
	"conversation-service/internal/config"
	"conversation-service/internal/db"
	grpcserver "conversation-service/internal/grpc"
	"conversation-service/internal/handlers"
	"conversation-service/internal/idempotency"
	"conversation-service/internal/middleware"
	"conversation-service/internal/observability"
	"conversation-service/internal/rabbitmq"
	"conversation-service/internal/repositories"
	"conversation-service/internal/service"
	"conversation-service/internal/telemetry"
	"conversation-service/internal/ws"
)

const (
	auditRoutingKey     = "audit.conversations"
	healthProbeInterval = 15 * time.Second
	shutdownTimeout     = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the live hub, the fallback API and the admin gRPC server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type stores struct {
	convs  repositories.ConversationRepository
	msgs   repositories.MessageRepository
	states repositories.StateRepository
	ping   grpcserver.CheckFunc
	close  func() error
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (stores, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn("using in-memory store, data is lost on exit")
		mem := repositories.NewMemoryStore(nil)
		return stores{convs: mem, msgs: mem, states: mem, close: func() error { return nil }}, nil
	}

	database, err := db.Connect(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return stores{}, err
	}
	if err := db.Migrate(ctx, database, logger); err != nil {
		_ = database.Close()
		return stores{}, err
	}
	return stores{
		convs:  repositories.NewConversationRepo(database),
		msgs:   repositories.NewMessageRepo(database),
		states: repositories.NewStateRepo(database),
		ping:   database.PingContext,
		close:  database.Close,
	}, nil
}

func openIdempotency(ctx context.Context, cfg *config.Config, logger *zap.Logger) (idempotency.Store, func() error) {
	memory := idempotency.NewMemoryStore(cfg.Redis.IdempotencyTTL)
	if cfg.Redis.URL == "" {
		return memory, func() error { return nil }
	}
	store, err := idempotency.NewRedisStore(ctx, cfg.Redis.URL, cfg.Redis.IdempotencyTTL)
	if err != nil {
		logger.Warn("redis unavailable, idempotency cache kept in process", zap.Error(err))
		return memory, func() error { return nil }
	}
	return store, store.Close
}

func hubOptions(cfg config.HubConfig) ws.Options {
	opts := ws.DefaultOptions()
	opts.AckTimeout = cfg.AckTimeout
	opts.WriteWait = cfg.WriteWait
	opts.PongWait = cfg.PongWait
	opts.SendBuffer = cfg.SendBuffer
	return opts
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, cfg.Telemetry.Environment)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.close() }()

	idem, closeIdem := openIdempotency(ctx, cfg, logger)
	defer func() { _ = closeIdem() }()

	publisher := rabbitmq.NewPublisher(ctx, rabbitmq.Options{
		URL:           cfg.AMQP.URL,
		Exchange:      cfg.AMQP.Exchange,
		RetryAttempts: 5,
		Delay:         time.Second,
		Logger:        logger,
	})
	defer func() { _ = publisher.Close() }()
	logger.Info("event bus ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))

	events := observability.NewEventPublisher(publisher, logger)
	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, cfg.Telemetry.ServiceName, cfg.Telemetry.Environment, logger)

	hub := ws.NewHub(events, logger)
	directory := service.NewDirectory(st.convs, hub, audit, logger)
	pipeline := service.NewPipeline(st.convs, st.msgs, idem, hub, logger)
	syncer := service.NewSynchronizer(st.convs, st.msgs, st.states, hub, logger, cfg.Hub.ReadReceipts)
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.Telemetry.ServiceName),
		observability.RequestIDMiddleware(),
		observability.HTTPMetricsMiddleware(),
	)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", ws.NewHandler(hub, directory, pipeline, syncer, verifier, events, logger, hubOptions(cfg.Hub)).Serve)

	api := router.Group("/api", middleware.AuthMiddleware(verifier))
	handlers.RegisterRoutes(api,
		handlers.NewConversationHandler(directory, syncer),
		handlers.NewMessageHandler(pipeline, syncer))
	handlers.RegisterDebugRoutes(api, hub, audit, cfg.Server.Debug)

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	health := grpcserver.NewServer(st.ping, logger)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go health.Watch(ctx, healthProbeInterval)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc server listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := health.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	health.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	return runErr
}
