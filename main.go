package main

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
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chat-hub/internal/auth"
	"chat-hub/internal/bridge"
	"chat-hub/internal/cache"
	"chat-hub/internal/config"
	"chat-hub/internal/db"
	"chat-hub/internal/gateway"
	"chat-hub/internal/handlers"
	"chat-hub/internal/log"
	"chat-hub/internal/middleware"
	"chat-hub/internal/observability"
	"chat-hub/internal/rabbitmq"
	"chat-hub/internal/repositories"
	"chat-hub/internal/telemetry"
	"chat-hub/internal/ws"
)

const serviceName = "chat-hub"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Log.ServiceName == "" {
		cfg.Log.ServiceName = serviceName
	}
	log.Init(cfg.Log)
	logger := log.L()

	if err := run(cfg); err != nil {
		logger.Fatal().Err(err).Msg("chat hub stopped")
	}
}

func run(cfg *config.Config) error {
	logger := log.L()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.Enabled, cfg.Tracing.Endpoint, serviceName)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("shutdown tracing")
		}
	}()

	database, err := db.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer database.Close()

	convRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	var mirror ws.PresenceMirror
	if cfg.Redis.Address != "" {
		client, err := cache.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, presence mirror disabled")
		} else {
			defer client.Close()
			mirror = cache.NewPresenceMirror(client, cfg.Redis.PresencePrefix, cfg.Redis.PresenceTTL)
		}
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Msg("event publisher ready")
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRoutingKey, serviceName, cfg.Server.Env)

	authorize := func(ctx context.Context, room ws.RoomID, userID int) (bool, error) {
		return convRepo.IsParticipant(ctx, int(room), userID)
	}
	hub := ws.NewHub(ws.HubConfig{PresenceGrace: cfg.Hub.PresenceGrace, IOTimeout: cfg.Hub.PersistTimeout}, authorize, userRepo, mirror)
	b := bridge.New(convRepo, messageRepo, userRepo, hub, audit, bridge.Config{PersistTimeout: cfg.Hub.PersistTimeout})

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	gw := gateway.New(b, verifier, gateway.Config{
		Client: ws.ClientConfig{
			SendBuffer:     cfg.Hub.SendBuffer,
			MaxMessageSize: cfg.Hub.MaxMessageSize,
			PingInterval:   cfg.Hub.PingInterval,
			PongWait:       cfg.Hub.PongWait,
			WriteWait:      cfg.Hub.WriteWait,
		},
		TypingExpiry: cfg.Hub.TypingExpiry,
	})

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(log.GinMiddleware(logger))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.Registry.Len()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", gw.Handle)

	api := router.Group("/api/v1", middleware.AuthMiddleware(verifier))
	handlers.RegisterRoutes(api,
		handlers.NewConversationHandler(b, audit),
		handlers.NewMessageHandler(b, audit),
		handlers.NewPresenceHandler(b, audit),
	)
	handlers.RegisterDebugRoutes(router, audit, hub, cfg.IsDevelopment())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		logger.Info().Str("addr", lis.Addr().String()).Msg("grpc health server listening")
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		closed := hub.CloseAll()
		logger.Info().Int("connections", closed).Msg("closed live connections")
		grpcServer.GracefulStop()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
