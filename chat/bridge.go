package chat

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// Bridge is the pub/sub integration that makes the chat correct across
// processes: every persisted message is published on the channel topic, and
// every attached connection holds one subscription to its channel topic.
type Bridge struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

func NewBridge(rdb *redis.Client, logger *logrus.Logger) *Bridge {
	return &Bridge{rdb: rdb, logger: logger}
}

// Publish serializes a persisted message and publishes it on the channel
// topic. The message must already carry its store-assigned id and timestamp
// so every subscriber sees the canonical row.
func (b *Bridge) Publish(ctx context.Context, msg *Message) error {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return Error{Kind: DependencyFault, Message: err.Error()}
	}
	if err := b.rdb.Publish(ctx, msg.Channel().Topic(), payload).Err(); err != nil {
		return Error{Kind: DependencyFault, Message: err.Error()}
	}
	return nil
}

// Listen opens one subscription to the channel topic and forwards each
// decoded message through deliver until ctx is canceled or deliver fails.
// A malformed broadcast is logged and skipped; it never kills a live
// connection. The subscription is released on return.
func (b *Bridge) Listen(ctx context.Context, key ChannelKey, deliver func(*Message) error) error {
	pubsub := b.rdb.Subscribe(ctx, key.Topic())
	defer pubsub.Close()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return Error{Kind: DependencyFault, Message: "подписка на канал закрыта"}
			}
			var m Message
			if err := msgpack.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.logger.WithError(err).WithField("channel", key.String()).
					Error("Ошибка разбора сообщения брокера")
				continue
			}
			if err := deliver(&m); err != nil {
				return Error{Kind: DependencyFault, Message: err.Error()}
			}
		}
	}
}
