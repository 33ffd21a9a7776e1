package main

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/igor-kralichev/yams-chat/chat"
)

const healthTimeout = 2 * time.Second

type componentHealth struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type healthzResponse struct {
	OK          bool                       `json:"ok"`
	Now         int64                      `json:"now"`
	Connections int                        `json:"connections"`
	Components  map[string]componentHealth `json:"components"`
}

func healthzHandler(rdb *redis.Client, db *chat.DbClient, registry *chat.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
		defer cancel()

		response := healthzResponse{
			OK:          true,
			Now:         time.Now().Unix(),
			Connections: registry.Size(),
			Components:  make(map[string]componentHealth),
		}

		redisStatus := componentHealth{OK: true}
		if err := rdb.Ping(ctx).Err(); err != nil {
			redisStatus = componentHealth{OK: false, Error: err.Error()}
		}
		response.OK = response.OK && redisStatus.OK
		response.Components["redis"] = redisStatus

		pgStatus := componentHealth{OK: true}
		if err := db.Pool.Ping(ctx); err != nil {
			pgStatus = componentHealth{OK: false, Error: err.Error()}
		}
		response.OK = response.OK && pgStatus.OK
		response.Components["postgres"] = pgStatus

		if response.OK {
			return c.Status(fiber.StatusOK).JSON(response)
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}
}
