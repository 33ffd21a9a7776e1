package chat

import (
	"fmt"
	"time"
)

// ChannelKey identifies a deal chat: one channel per (deal, consumer) pair.
// The participant set of a channel is always {deal.seller_id, consumer_id}.
type ChannelKey struct {
	DealID     int64
	ConsumerID int64
}

// Topic is the broker channel messages of this chat are published on.
func (k ChannelKey) Topic() string {
	return fmt.Sprintf("deal:%d:consumer:%d", k.DealID, k.ConsumerID)
}

// PresenceKey is the Redis set holding account ids currently attached to the
// channel on any process.
func (k ChannelKey) PresenceKey() string {
	return fmt.Sprintf("deal:%d:consumer:%d:users", k.DealID, k.ConsumerID)
}

func (k ChannelKey) String() string {
	return k.Topic()
}

// Message is a persisted chat message. Rows are append-only; id and created_at
// are assigned by the store at insert time.
type Message struct {
	ID          int64     `json:"id" msgpack:"id"`
	DealID      int64     `json:"deal_id" msgpack:"deal_id"`
	ConsumerID  int64     `json:"consumer_id" msgpack:"consumer_id"`
	SenderID    int64     `json:"sender_id" msgpack:"sender_id"`
	RecipientID int64     `json:"recipient_id" msgpack:"recipient_id"`
	Content     string    `json:"content" msgpack:"content"`
	CreatedAt   time.Time `json:"created_at" msgpack:"created_at"`
}

func (m *Message) Channel() ChannelKey {
	return ChannelKey{DealID: m.DealID, ConsumerID: m.ConsumerID}
}

// Deal is the store's view of a deal, reduced to what the chat needs.
type Deal struct {
	ID       int64  `json:"id"`
	SellerID int64  `json:"seller_id"`
	Name     string `json:"name_deal"`
}

// Account is the store's view of an account.
type Account struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// ChatSummary is one row of the chat listing: the latest message of a
// (deal, consumer) pair the calling account participates in.
type ChatSummary struct {
	DealID        int64             `json:"deal_id"`
	ConsumerID    int64             `json:"consumer_id"`
	NameDeal      string            `json:"name_deal"`
	LastMessage   *string           `json:"last_message"`
	LastMessageAt *time.Time        `json:"last_message_at"`
	Participants  map[string]string `json:"participants"`
	IsPurchaser   bool              `json:"is_purchaser"`
}

// ErrorFrame is the in-band error reply for recoverable protocol errors.
// The connection stays open after one of these.
type ErrorFrame struct {
	Error string `json:"error"`
}

// PingFrame is the application-level keepalive probe.
type PingFrame struct {
	Type string `json:"type"`
}
