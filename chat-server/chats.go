package main

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/igor-kralichev/yams-chat/chat"
)

// ChatsHandler returns the chat listing for the calling account: one entry
// per (deal, consumer) pair with the latest message of that pair.
func ChatsHandler(logger *logrus.Logger, auth *chat.Authenticator, store chat.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := chat.TokenFromUpgrade(c.Get("Authorization"), "")
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(chat.ErrorFrame{Error: err.Error()})
		}
		accountID, err := auth.Verify(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(chat.ErrorFrame{Error: err.Error()})
		}

		chats, err := store.ListChats(c.Context(), accountID)
		if err != nil {
			logger.WithError(err).WithField("account", accountID).
				Error("Ошибка при получении чатов")
			return c.Status(fiber.StatusInternalServerError).
				JSON(chat.ErrorFrame{Error: "Ошибка при получении чатов"})
		}
		if len(chats) == 0 {
			return c.Status(fiber.StatusNotFound).JSON(chat.ErrorFrame{Error: "Чаты не найдены"})
		}
		return c.JSON(chats)
	}
}
