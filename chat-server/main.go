package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/igor-kralichev/yams-chat/chat"
)

// Command-line flags
var (
	serverPort   = flag.Int("port", 8002, "Server port")
	pg           = flag.String("pg", "", "PostgreSQL connection string")
	redisAddr    = flag.String("redis", "redis://localhost:6379/0", "Redis server dsn")
	jwtSecret    = flag.String("jwt-secret", "", "HS256 secret for bearer token verification")
	pingInterval = flag.Duration("ping-interval", 30*time.Second, "Idle interval between keepalive probes")
	pongWait     = flag.Duration("pong-wait", 10*time.Second, "Deadline for the keepalive confirmation")
	maxConns     = flag.Int("pg-max-conns", 100, "Maximum PostgreSQL connections")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if *jwtSecret == "" {
		logger.Fatal("jwt-secret is required")
	}
	if *pg == "" {
		logger.Fatal("pg connection string is required")
	}

	options, err := redis.ParseURL(*redisAddr)
	if err != nil {
		logger.WithError(err).Fatal("Failed to parse Redis DSN")
	}
	rdb := redis.NewClient(options)

	db, err := chat.NewDbClient(*pg, *maxConns, 0)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to PostgreSQL")
	}

	auth := chat.NewAuthenticator(*jwtSecret)
	registry := chat.NewRegistry()
	bridge := chat.NewBridge(rdb, logger)
	presence := chat.NewPresence(rdb)

	handler := NewChatHandler(logger, auth, db, registry, bridge, presence, *pingInterval, *pongWait)

	app := fiber.New(fiber.Config{
		AppName:     "YAMS Chat",
		ReadTimeout: 5 * time.Second,
		ProxyHeader: fiber.HeaderXForwardedFor,
	})
	app.Use(fiberlogger.New())

	app.Get("/healthz", healthzHandler(rdb, db, registry))

	api := app.Group("/chat")
	api.Get("/my-chats", ChatsHandler(logger, auth, db))

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/deals/:deal_id/:consumer_id", websocket.New(handler.Handle))

	go func() {
		logger.WithField("port", *serverPort).Info("Starting chat server")
		if err := app.Listen(fmt.Sprintf(":%d", *serverPort)); err != nil {
			logger.WithError(err).Fatal("Server stopped")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Received shutdown signal, stopping...")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
	db.Pool.Close()
	if err := rdb.Close(); err != nil {
		logger.WithError(err).Error("Error closing Redis client")
	}
}
