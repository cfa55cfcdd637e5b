package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpc "google.golang.org/grpc"

	"atelier/internal/changefeed"
	"atelier/internal/config"
	"atelier/internal/conversations"
	"atelier/internal/db"
	grpcdirectory "atelier/internal/grpc"
	"atelier/internal/handlers"
	"atelier/internal/logging"
	"atelier/internal/middleware"
	"atelier/internal/observability"
	"atelier/internal/profiles"
	"atelier/internal/rabbitmq"
	"atelier/internal/relationships"
	"atelier/internal/repositories"
	"atelier/internal/telemetry"
	"atelier/internal/ws"
)

const serviceName = "atelier-inbox"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("atelier")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Configure(cfg.Log.Level, cfg.Log.JSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing.OTLPEndpoint, cfg.Tracing.ServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}

	database, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()
	if err := db.Migrate(ctx, database); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate db")
	}

	broker := changefeed.NewBroker(256)
	listener := changefeed.NewPGListener(cfg.DB.DSN, broker)
	go func() {
		if err := listener.Run(ctx); err != nil {
			log.Error().Err(err).Msg("change listener stopped")
			stop()
		}
	}()

	connectionRepo := repositories.NewConnectionRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	localProfiles := profiles.NewPostgresDirectory(database)

	var directory profiles.Directory = localProfiles
	if cfg.Profiles.Source == "grpc" {
		conn, err := grpcdirectory.DialProfileDirectory(cfg.Profiles.GRPCAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Profiles.GRPCAddr).Msg("failed to connect to profile directory")
		}
		defer conn.Close()
		directory = grpcdirectory.NewProfileClient(conn)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	log.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("event publisher ready")
	emitter := telemetry.NewEmitter(publisher, serviceName, cfg.Server.Environment)

	relationshipSvc := relationships.NewService(connectionRepo, directory,
		relationships.WithEvents(emitter),
		relationships.WithStoreTimeout(cfg.Store.Timeout),
	)
	conversationSvc := conversations.NewService(messageRepo, directory,
		conversations.WithEvents(emitter),
		conversations.WithStoreTimeout(cfg.Store.Timeout),
	)

	verifier := middleware.NewTokenVerifier(cfg.Auth.JWTSecret)
	hub := ws.NewHub()
	go func() {
		if err := hub.Run(ctx, broker); err != nil {
			log.Error().Err(err).Msg("connection push stopped")
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestID())

	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, localProfiles, verifier, cfg.Server.DebugRoutes)

	inboxWS := ws.NewInboxWebSocketHandler(hub, conversationSvc, broker)
	router.GET("/ws/inbox", middleware.AuthMiddleware(verifier, true), inboxWS.Handle)

	api := router.Group("/", middleware.AuthMiddleware(verifier, false))
	handlers.NewConnectionHandler(relationshipSvc).Register(api)
	handlers.NewConversationHandler(conversationSvc).Register(api)

	httpServer := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: true,
		}).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	grpcdirectory.RegisterProfileDirectoryServer(grpcServer, grpcdirectory.NewProfileServer(localProfiles))

	grpcListener, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Server.GRPCPort).Msg("failed to listen for grpc")
	}
	go func() {
		log.Info().Str("port", cfg.Server.GRPCPort).Msg("grpc server listening")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("grpc server error")
			stop()
		}
	}()
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	grpcServer.GracefulStop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
}
