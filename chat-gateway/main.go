package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// Command-line flags
var (
	serverPort   = flag.Int("port", 8000, "Server port")
	backendAddr  = flag.String("backend", "ws://localhost:8002", "Chat server websocket base URL")
	pingInterval = flag.Duration("ping-interval", 30*time.Second, "Interval between backend liveness probes")
	pongWait     = flag.Duration("pong-wait", 10*time.Second, "Deadline for the backend pong")
)

const backendHealthTimeout = 3 * time.Second

// backendHTTPBase turns the backend ws URL into its http counterpart for
// health probing.
func backendHTTPBase(wsBase string) string {
	if strings.HasPrefix(wsBase, "wss://") {
		return "https://" + strings.TrimPrefix(wsBase, "wss://")
	}
	return "http://" + strings.TrimPrefix(wsBase, "ws://")
}

func healthzHandler(backendBase string) fiber.Handler {
	healthURL := backendHTTPBase(backendBase) + "/healthz"
	return func(c *fiber.Ctx) error {
		status, body, err := fasthttp.GetTimeout(nil, healthURL, backendHealthTimeout)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).
				JSON(fiber.Map{"ok": false, "error": err.Error()})
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(status).Send(body)
	}
}

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	proxy := NewProxy(logger, strings.TrimRight(*backendAddr, "/"), *pingInterval, *pongWait)

	app := fiber.New(fiber.Config{
		AppName:     "YAMS Gateway",
		ProxyHeader: fiber.HeaderXForwardedFor,
	})
	app.Use(fiberlogger.New())

	app.Get("/healthz", healthzHandler(*backendAddr))

	api := app.Group("/api/chat")
	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/deals/:deal_id/:consumer_id", websocket.New(proxy.Handle))

	go func() {
		logger.WithFields(logrus.Fields{
			"port":    *serverPort,
			"backend": *backendAddr,
		}).Info("Starting gateway")
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
}
