package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"hospital-chat/internal/auth"
	"hospital-chat/internal/config"
	"hospital-chat/internal/db"
	"hospital-chat/internal/handlers"
	"hospital-chat/internal/middleware"
	"hospital-chat/internal/observability"
	"hospital-chat/internal/presence"
	"hospital-chat/internal/rabbitmq"
	"hospital-chat/internal/repositories"
	"hospital-chat/internal/telemetry"
	"hospital-chat/internal/ws"
)

func main() {
	cfg := config.Load()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), cfg.OTLPEndpoint, "hospital-chat", cfg.Environment)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
	}

	eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		log.Printf("ws event publishing disabled: %v", err)
	} else {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit.chat", "hospital-chat", cfg.Environment)

	verifier := auth.NewTokenVerifier(cfg.JWTSecret)

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	tracker := presence.NewTracker()
	hub := ws.NewHub(tracker)

	chatHandler := handlers.NewChatHandler(chatRepo, messageRepo, userRepo, hub, audit)
	groupHandler := handlers.NewGroupHandler(chatRepo, userRepo, hub, audit)
	directoryHandler := handlers.NewDirectoryHandler(userRepo, tracker)
	sessionWS := ws.NewSessionHandler(hub, chatRepo, messageRepo, verifier)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("hospital-chat"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/chats", authMiddleware, chatHandler.ListChats)
	router.POST("/chats", authMiddleware, chatHandler.StartChat)
	router.POST("/chats/group", authMiddleware, groupHandler.CreateGroup)
	router.PUT("/chats/group/rename", authMiddleware, groupHandler.RenameGroup)
	router.PUT("/chats/group/add", authMiddleware, groupHandler.AddMember)
	router.PUT("/chats/group/remove", authMiddleware, groupHandler.RemoveMember)
	router.GET("/chats/admins/hospital", authMiddleware, directoryHandler.ListHospitalStaff)
	router.POST("/chats/message", authMiddleware, chatHandler.PostChatMessage)
	router.GET("/chats/:chat_id", authMiddleware, chatHandler.GetChatMessages)
	router.PUT("/chats/:chat_id/read", authMiddleware, chatHandler.MarkChatRead)

	router.GET("/ws", sessionWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
