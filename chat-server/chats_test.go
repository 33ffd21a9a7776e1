package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/igor-kralichev/yams-chat/chat"
)

const testSecret = "test-secret"

func signToken(t *testing.T, accountID string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func newChatsApp(store chat.Store) *fiber.App {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	auth := chat.NewAuthenticator(testSecret)

	app := fiber.New()
	app.Get("/chat/my-chats", ChatsHandler(logger, auth, store))
	return app
}

func chatsRequest(t *testing.T, app *fiber.App, authHeader string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/chat/my-chats", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestChatsHandler_ListsChats(t *testing.T) {
	store := newFakeStore()
	deal := &chat.Deal{ID: 1, SellerID: testSellerID, Name: "Ноутбук"}
	store.deals[deal.ID] = deal
	key := chat.ChannelKey{DealID: deal.ID, ConsumerID: testConsumerID}
	ctx := context.Background()
	if _, err := store.InsertMessage(ctx, key, testConsumerID, testSellerID, "Здравствуйте"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.InsertMessage(ctx, key, testSellerID, testConsumerID, "Добрый день"); err != nil {
		t.Fatal(err)
	}

	app := newChatsApp(store)
	resp := chatsRequest(t, app, "Bearer "+signToken(t, "10", time.Hour))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var chats []*chat.ChatSummary
	if err := json.NewDecoder(resp.Body).Decode(&chats); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("expected one chat, got %d", len(chats))
	}
	got := chats[0]
	if got.DealID != deal.ID || got.ConsumerID != testConsumerID {
		t.Errorf("unexpected chat key: deal %d consumer %d", got.DealID, got.ConsumerID)
	}
	if got.LastMessage == nil || *got.LastMessage != "Добрый день" {
		t.Errorf("expected the latest message, got %v", got.LastMessage)
	}
	if got.IsPurchaser {
		t.Errorf("the seller is not the purchaser of this chat")
	}
}

func TestChatsHandler_NoChats(t *testing.T) {
	app := newChatsApp(newFakeStore())
	resp := chatsRequest(t, app, "Bearer "+signToken(t, "10", time.Hour))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var frame chat.ErrorFrame
	if err := json.NewDecoder(resp.Body).Decode(&frame); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if frame.Error != "Чаты не найдены" {
		t.Errorf("unexpected error %q", frame.Error)
	}
}

func TestChatsHandler_Unauthorized(t *testing.T) {
	app := newChatsApp(newFakeStore())

	for name, header := range map[string]string{
		"missing header": "",
		"bad scheme":     "Basic dXNlcjpwYXNz",
		"expired token":  "Bearer " + signToken(t, "10", -time.Hour),
	} {
		t.Run(name, func(t *testing.T) {
			resp := chatsRequest(t, app, header)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}
