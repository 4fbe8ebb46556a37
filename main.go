package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"trip-chat-service/internal/chat"
	"trip-chat-service/internal/clients"
	"trip-chat-service/internal/db"
	"trip-chat-service/internal/handlers"
	"trip-chat-service/internal/middleware"
	"trip-chat-service/internal/observability"
	"trip-chat-service/internal/presence"
	"trip-chat-service/internal/rabbitmq"
	"trip-chat-service/internal/repositories"
	"trip-chat-service/internal/telemetry"
	"trip-chat-service/internal/ws"
)

func main() {
	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, os.Getenv("OTLP_ENDPOINT"), getEnv("ENVIRONMENT", "development"))
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	auditPublisher := rabbitmq.NewPublisher(os.Getenv("AMQP_URL"), getEnv("AMQP_EXCHANGE", "trip_events"))
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s reason=%q", rabbitmq.PublisherMode(auditPublisher), rabbitmq.PublisherNoopReason(auditPublisher))

	if amqpURL := os.Getenv("AMQP_URL"); amqpURL != "" {
		eventPublisher, err := observability.NewAMQPPublisher(amqpURL, getEnv("AMQP_EXCHANGE", "trip_events"))
		if err != nil {
			log.Printf("ws event publisher disabled: %v", err)
		} else {
			observability.SetPublisher(eventPublisher)
			defer eventPublisher.Close()
		}
	}

	audit := telemetry.NewAuditEmitter(auditPublisher, "audit_log.chat", "trip-chat-service", getEnv("ENVIRONMENT", "development"))

	authClient := clients.NewAuthClient(getEnv("AUTH_BASE_URL", "http://localhost:8084"))
	tripClient := clients.NewTripClient(getEnv("TRIPS_BASE_URL", "http://localhost:8085"))

	messageRepo := repositories.NewMessageRepo(database)
	chatService := chat.NewService(messageRepo, tripClient)

	registry := presence.NewRegistry()
	typingTTL := presence.DefaultTypingTTL
	if raw := os.Getenv("TYPING_TTL"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			typingTTL = parsed
		}
	}
	typing := presence.NewTypingTracker(typingTTL, nil)

	hub := ws.NewHub()
	sessionManager := ws.NewSessionManager(hub, registry, typing, tripClient)
	gateway := ws.NewGateway(hub, sessionManager, chatService, typing, tripClient)
	typing.SetNotifier(gateway)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go typing.Run(sweepCtx)

	chatWS := ws.NewChatWebSocketHandler(hub, sessionManager, gateway, authClient)
	messageHandler := handlers.NewMessageHandler(messageRepo, tripClient, gateway, audit)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("trip-chat-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(authClient)

	router.GET("/trips/:trip_id/messages", authMiddleware, messageHandler.GetTripMessages)
	router.POST("/trips/:trip_id/messages", authMiddleware, messageHandler.PostTripMessage)
	router.GET("/ws/trips/:trip_id", chatWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	handlers.RegisterDebugRoutes(router, audit, os.Getenv("DEBUG_ROUTES") == "true")

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
