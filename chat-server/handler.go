package main

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/igor-kralichev/yams-chat/chat"
)

// wsConn is the slice of the websocket connection the session uses. The
// production value is *websocket.Conn; tests substitute a scripted fake.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// ChatHandler owns the collaborators shared by all chat connections.
type ChatHandler struct {
	logger       *logrus.Logger
	auth         *chat.Authenticator
	store        chat.Store
	registry     *chat.Registry
	bridge       *chat.Bridge
	presence     *chat.Presence
	pingInterval time.Duration
	pongWait     time.Duration
}

func NewChatHandler(
	logger *logrus.Logger,
	auth *chat.Authenticator,
	store chat.Store,
	registry *chat.Registry,
	bridge *chat.Bridge,
	presence *chat.Presence,
	pingInterval time.Duration,
	pongWait time.Duration,
) *ChatHandler {
	return &ChatHandler{
		logger:       logger,
		auth:         auth,
		store:        store,
		registry:     registry,
		bridge:       bridge,
		presence:     presence,
		pingInterval: pingInterval,
		pongWait:     pongWait,
	}
}

// Handle runs one chat connection through its lifecycle: authenticate,
// authorize, replay history, then go live. Both credential checks complete
// before any registry or store mutation.
func (h *ChatHandler) Handle(c *websocket.Conn) {
	ctx := context.Background()

	dealID, err1 := strconv.ParseInt(c.Params("deal_id"), 10, 64)
	consumerID, err2 := strconv.ParseInt(c.Params("consumer_id"), 10, 64)
	if err1 != nil || err2 != nil {
		refuse(c, chat.Error{Kind: chat.AuthzError, Message: "Недопустимый путь канала"})
		return
	}
	key := chat.ChannelKey{DealID: dealID, ConsumerID: consumerID}

	token, err := chat.TokenFromUpgrade(c.Headers("Authorization"), c.Query("token"))
	if err != nil {
		h.logger.WithError(err).WithField("channel", key.String()).Warn("Ошибка аутентификации")
		refuse(c, err)
		return
	}
	accountID, err := h.auth.Verify(token)
	if err != nil {
		h.logger.WithError(err).WithField("channel", key.String()).Warn("Ошибка аутентификации")
		refuse(c, err)
		return
	}

	deal, _, err := chat.Authorize(ctx, h.store, key, accountID)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"channel": key.String(),
			"account": accountID,
		}).Warn("Отказ в подключении")
		refuse(c, err)
		return
	}

	s := &session{
		logger:       h.logger,
		conn:         c,
		key:          key,
		accountID:    accountID,
		deal:         deal,
		store:        h.store,
		registry:     h.registry,
		bridge:       h.bridge,
		presence:     h.presence,
		pingInterval: h.pingInterval,
		pongWait:     h.pongWait,
		pong:         make(chan struct{}, 1),
	}
	s.run(ctx)
}

// refuse closes a connection that never became attached.
func refuse(c wsConn, err error) {
	code := websocket.CloseInternalServerErr
	reason := "Ошибка сервера"
	var cerr chat.Error
	if errors.As(err, &cerr) {
		code = cerr.CloseCode()
		reason = cerr.Message
	}
	deadline := time.Now().Add(time.Second)
	_ = c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.Close()
}

// session is one attached connection and its concurrent activities.
type session struct {
	logger       *logrus.Logger
	conn         wsConn
	key          chat.ChannelKey
	accountID    int64
	deal         *chat.Deal
	store        chat.Store
	registry     *chat.Registry
	bridge       *chat.Bridge
	presence     *chat.Presence
	pingInterval time.Duration
	pongWait     time.Duration

	writeMu sync.Mutex
	pong    chan struct{}
}

// run replays history, attaches the session and drives the live state until
// teardown. Cleanup runs on every exit path: the registry entry goes first,
// then the close handshake.
func (s *session) run(ctx context.Context) {
	if err := s.replay(ctx); err != nil {
		s.logger.WithError(err).WithField("channel", s.key.String()).
			Error("Ошибка при загрузке истории")
		refuse(s.conn, err)
		return
	}

	client := &chat.Client{
		AccountID: s.accountID,
		Channel:   s.key,
		Send:      s.send,
	}
	s.registry.Attach(client)
	if err := s.presence.Join(ctx, s.key, s.accountID); err != nil {
		s.logger.WithError(err).WithField("channel", s.key.String()).
			Error("Ошибка обновления присутствия")
	}
	s.logger.WithFields(logrus.Fields{
		"channel": s.key.String(),
		"account": s.accountID,
	}).Info("Клиент подключен")

	err := s.live(ctx)

	s.registry.Detach(client)
	if lerr := s.presence.Leave(context.Background(), s.key, s.accountID); lerr != nil {
		s.logger.WithError(lerr).WithField("channel", s.key.String()).
			Error("Ошибка обновления присутствия")
	}
	s.close(err)
	s.logger.WithFields(logrus.Fields{
		"channel": s.key.String(),
		"account": s.accountID,
	}).Info("Клиент отключен")
}

// replay streams the channel history in creation order. It finishes before
// any live frame is sent; a message that fails to serialize is logged and
// skipped rather than aborting the replay.
func (s *session) replay(ctx context.Context) error {
	participants := chat.Participants(s.deal, s.key.ConsumerID).ToSlice()
	msgs, err := s.store.ListMessages(ctx, s.key, participants)
	if err != nil {
		return chat.Error{Kind: chat.DependencyFault, Message: "Ошибка при загрузке истории"}
	}
	for _, msg := range msgs {
		if err := s.sendJSON(msg); err != nil {
			s.logger.WithError(err).WithField("channel", s.key.String()).
				Error("Ошибка при отправке истории")
		}
	}
	return nil
}

// live runs the three connection activities under one cancellation scope:
// inbound processing, the broker subscription, and the liveness probe.
// Whichever fails first cancels the siblings.
func (s *session) live(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// Unblock the blocking read when a sibling activity fails.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.SetReadDeadline(time.Now())
		case <-stopWatch:
		}
	}()

	s.conn.SetPongHandler(func(string) error {
		select {
		case s.pong <- struct{}{}:
		default:
		}
		return nil
	})

	g.Go(func() error { return s.readLoop(ctx) })
	g.Go(func() error {
		return s.bridge.Listen(ctx, s.key, func(m *chat.Message) error {
			return s.sendJSON(m)
		})
	})
	g.Go(func() error { return s.keepalive(ctx) })

	return g.Wait()
}

// readLoop processes inbound client frames. Protocol errors get an error
// frame and the loop continues; only transport errors end it.
func (s *session) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		content, err := chat.ParseInbound(data)
		if err != nil {
			var cerr chat.Error
			if errors.As(err, &cerr) && !cerr.Fatal() {
				_ = s.sendJSON(chat.ErrorFrame{Error: cerr.Message})
				continue
			}
			return err
		}

		recipientID := chat.Recipient(s.deal, s.key.ConsumerID, s.accountID)

		// Persist first: the broker must only ever carry the canonical row.
		msg, err := s.store.InsertMessage(ctx, s.key, s.accountID, recipientID, content)
		if err != nil {
			s.logger.WithError(err).WithField("channel", s.key.String()).
				Error("Ошибка при сохранении сообщения")
			_ = s.sendJSON(chat.ErrorFrame{Error: "Ошибка сервера"})
			continue
		}
		if err := s.bridge.Publish(ctx, msg); err != nil {
			s.logger.WithError(err).WithField("channel", s.key.String()).
				Error("Ошибка публикации сообщения")
		}
	}
}

// keepalive probes the peer after each idle interval and waits for a pong
// within the deadline. An unresponsive peer tears this connection down.
func (s *session) keepalive(ctx context.Context) error {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	probe, _ := json.Marshal(chat.PingFrame{Type: "ping"})
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := s.send(probe); err != nil {
			return chat.Error{Kind: chat.LivenessFault, Message: "Ошибка отправки ping"}
		}
		if err := s.conn.WriteControl(websocket.PingMessage, nil,
			time.Now().Add(s.pongWait)); err != nil {
			return chat.Error{Kind: chat.LivenessFault, Message: "Ошибка отправки ping"}
		}

		select {
		case <-s.pong:
		case <-ctx.Done():
			return nil
		case <-time.After(s.pongWait):
			return chat.Error{Kind: chat.LivenessFault, Message: "Клиент не отвечает на ping"}
		}
	}
}

// send serializes outbound writes so replay, live, ping and error frames
// never interleave mid-frame. Every write carries a deadline: a peer that
// stops reading surfaces as a write error instead of wedging the writer
// mutex and the liveness probe behind it.
func (s *session) send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.pongWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *session) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.send(data)
}

// close finishes the close handshake after the registry entry is gone.
func (s *session) close(err error) {
	code := websocket.CloseNormalClosure
	reason := ""
	var cerr chat.Error
	if errors.As(err, &cerr) {
		code = cerr.CloseCode()
		reason = cerr.Message
	}
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.conn.Close()
}
