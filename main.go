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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"realtime-chat/internal/auth"
	"realtime-chat/internal/config"
	"realtime-chat/internal/db"
	grpcserver "realtime-chat/internal/grpc"
	"realtime-chat/internal/handlers"
	"realtime-chat/internal/middleware"
	"realtime-chat/internal/observability"
	"realtime-chat/internal/rabbitmq"
	"realtime-chat/internal/repositories"
	"realtime-chat/internal/storage"
	"realtime-chat/internal/telemetry"
	"realtime-chat/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logrus.WithError(err).Fatal("failed to init tracing")
	}

	database, err := db.Connect(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to db")
	}
	pool := db.NewPool(cfg.StoreConcurrency)

	authenticator, err := auth.NewAuthenticator(ctx, cfg.JWTSecret, cfg.JWKSURL)
	if err != nil {
		logrus.WithError(err).Fatal("failed to init authenticator")
	}
	defer authenticator.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	logrus.WithFields(logrus.Fields{
		"mode":   rabbitmq.PublisherMode(publisher),
		"reason": rabbitmq.PublisherNoopReason(publisher),
	}).Info("event publisher ready")
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", cfg.ServiceName, cfg.Environment)

	var avatars storage.AvatarStore
	if cfg.AvatarStorageEnabled() {
		store, err := storage.NewS3AvatarStore(ctx, storage.S3Options{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			BaseEndpoint:  cfg.S3BaseEndpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
		if err != nil {
			logrus.WithError(err).Warn("avatar storage disabled")
		} else {
			avatars = store
		}
	}

	userRepo := repositories.NewUserRepo(database)
	connectionRepo := repositories.NewConnectionRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	bus := ws.NewBus()
	chatPresence := ws.NewPresence(observability.SetPresenceOnline)
	callSessions := ws.NewPresence(nil)
	calls := handlers.NewCallRegistry()

	chatRouter := handlers.NewChatRouter(bus, chatPresence, userRepo, connectionRepo, messageRepo, avatars, pool, audit)
	callRouter := handlers.NewCallRouter(bus, chatPresence, callSessions, userRepo, pool, calls, audit)

	chatWS := ws.NewEndpoint("chat", bus, chatRouter, authenticator, userRepo, pool, cfg.SendBuffer)
	callWS := ws.NewEndpoint("call", bus, callRouter, authenticator, userRepo, pool, cfg.SendBuffer)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ws/chat", chatWS.Handle)
	router.GET("/ws/video", callWS.Handle)

	debug := router.Group("/", middleware.AuthMiddleware(authenticator))
	handlers.RegisterDebugRoutes(debug, handlers.DebugDeps{
		Emitter:  audit,
		Chat:     chatPresence,
		Calls:    callSessions,
		Bus:      bus,
		Registry: calls,
	}, cfg.DebugRoutes)

	admin := grpcserver.NewAdminServer(cfg.ServiceName)
	admin.SetServing(true)
	go admin.Monitor(ctx, 15*time.Second, database.PingContext)

	lis, err := net.Listen("tcp", cfg.AdminGRPCAddr)
	if err != nil {
		logrus.WithError(err).Fatal("failed to listen for admin grpc")
	}
	go func() {
		if err := admin.Serve(lis); err != nil {
			logrus.WithError(err).Error("admin grpc server stopped")
		}
	}()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		logrus.WithField("addr", srv.Addr).Info("chat service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http shutdown")
	}
	for _, endpoint := range []*ws.Endpoint{chatWS, callWS} {
		if err := endpoint.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("websocket shutdown")
		}
	}
	admin.Stop()
	if err := publisher.Close(); err != nil {
		logrus.WithError(err).Warn("publisher close")
	}
	if err := database.Close(); err != nil {
		logrus.WithError(err).Warn("db close")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("tracing shutdown")
	}
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
