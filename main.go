package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"chat-sync/internal/api"
	"chat-sync/internal/config"
	"chat-sync/internal/handlers"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/session"
	msgsync "chat-sync/internal/sync"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/transport"
	"chat-sync/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()
	zlog := logger.Sugar()

	if cfg.Username == "" {
		zlog.Fatal("username is required (CHATSYNC_USERNAME)")
	}

	sessionID := uuid.NewString()
	auditPublisher := rabbitmq.NewPublisher(cfg.AuditAMQPURL, cfg.AuditExchange, zlog)
	defer auditPublisher.Close()
	audit := telemetry.NewAuditEmitter(auditPublisher, "sync_events.sessions", "chat-sync", cfg.Environment, sessionID)

	conn := transport.NewAMQPConnection(cfg.BrokerExchange, cfg.ConnectTimeout, zlog)
	client := api.NewHTTPClient(cfg.APIBaseURL, cfg.APIToken, cfg.HTTPTimeout, zlog)
	engine := msgsync.New(cfg.RecencyWindow, zlog)

	sess := session.New(session.Config{
		TenantID:             cfg.TenantID,
		Self:                 cfg.Username,
		RequestTimeout:       cfg.HTTPTimeout,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, conn, client, engine, audit, zlog)

	hub := ws.NewHub(zlog)
	sess.OnChange(hub.BroadcastState)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sess.Start(ctx, cfg.BrokerCredential)

	sessionHandler := handlers.NewSessionHandler(sess)
	stateWS := ws.NewStateStreamHandler(hub, sess, zlog)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(cfg.UIToken)

	router.GET("/state", authMiddleware, sessionHandler.GetState)
	router.POST("/conversation/peer", authMiddleware, sessionHandler.SelectPeer)
	router.POST("/conversation/send", authMiddleware, sessionHandler.Send)
	router.POST("/conversation/history/retry", authMiddleware, sessionHandler.RetryHistory)
	router.POST("/conversation/typing", authMiddleware, sessionHandler.SetTyping)
	router.GET("/ws", authMiddleware, stateWS.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	zlog.Infow("chat-sync daemon starting", "addr", cfg.ListenAddr, "user", cfg.Username, "tenant", cfg.TenantID)
	if err := router.Run(cfg.ListenAddr); err != nil {
		zlog.Fatalw("server error", "error", err)
	}
}
