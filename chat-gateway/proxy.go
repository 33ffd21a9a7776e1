package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/igor-kralichev/yams-chat/chat"
)

// relayConn is the slice of a websocket leg the relay uses. Both the client
// leg (fiber upgrade) and the backend leg (dialed) satisfy it.
type relayConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Proxy forwards chat websocket connections to the backend. It re-attaches
// the bearer credential to the backend handshake and pipes frames both ways
// without inspecting them; the backend re-validates everything.
type Proxy struct {
	logger       *logrus.Logger
	backendBase  string
	dialer       *fws.Dialer
	pingInterval time.Duration
	pongWait     time.Duration
}

func NewProxy(logger *logrus.Logger, backendBase string, pingInterval, pongWait time.Duration) *Proxy {
	return &Proxy{
		logger:      logger,
		backendBase: backendBase,
		dialer: &fws.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		pingInterval: pingInterval,
		pongWait:     pongWait,
	}
}

// Handle runs one proxied connection: extract the credential, dial the
// backend with it, then relay until either leg closes or the backend stops
// answering pings.
func (p *Proxy) Handle(client *websocket.Conn) {
	dealID := client.Params("deal_id")
	consumerID := client.Params("consumer_id")

	token, err := chat.TokenFromUpgrade(client.Headers("Authorization"), client.Query("token"))
	if err != nil {
		deadline := time.Now().Add(time.Second)
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), deadline)
		_ = client.Close()
		return
	}

	backendURL := fmt.Sprintf("%s/chat/ws/deals/%s/%s", p.backendBase, dealID, consumerID)
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	backend, resp, err := p.dialer.Dial(backendURL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		p.logger.WithError(err).WithFields(logrus.Fields{
			"backend": backendURL,
			"status":  status,
		}).Error("Backend dial failed")
		deadline := time.Now().Add(time.Second)
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "Сервис чата недоступен"), deadline)
		_ = client.Close()
		return
	}

	p.relay(client, backend)
}

// relay pipes frames between the two legs and probes the backend's liveness.
// Closing either leg, or a missed backend pong, cancels all three activities
// and closes both legs.
func (p *Proxy) relay(client, backend relayConn) {
	g, ctx := errgroup.WithContext(context.Background())

	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = client.SetReadDeadline(time.Now())
			_ = backend.SetReadDeadline(time.Now())
		case <-stopWatch:
		}
	}()

	pong := make(chan struct{}, 1)
	backend.SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	g.Go(func() error { return p.pipe(ctx, client, backend) })
	g.Go(func() error { return p.pipe(ctx, backend, client) })
	g.Go(func() error { return p.pingBackend(ctx, backend, pong) })

	err := g.Wait()
	close(stopWatch)

	if err != nil && !errors.Is(err, context.Canceled) {
		var closeErr *fws.CloseError
		if !errors.As(err, &closeErr) {
			p.logger.WithError(err).Error("Relay terminated")
		}
	}

	closeBoth(client, backend, err)
}

// pipe forwards frames one at a time from src to dst, propagating the close
// code when src closes. It never buffers more than one frame. Each write
// carries a deadline so a leg that stops reading surfaces as a write error
// instead of wedging the relay.
func (p *Proxy) pipe(ctx context.Context, src, dst relayConn) error {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			deadline := time.Now().Add(time.Second)
			_ = dst.WriteControl(fws.CloseMessage,
				fws.FormatCloseMessage(closeCodeFrom(err), ""), deadline)
			return err
		}
		_ = dst.SetWriteDeadline(time.Now().Add(p.pongWait))
		if err := dst.WriteMessage(mt, data); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return chat.Error{Kind: chat.LivenessFault, Message: "Получатель не читает данные"}
		}
	}
}

// pingBackend probes the backend leg with control pings. A missed pong means
// the backend is gone and both legs come down.
func (p *Proxy) pingBackend(ctx context.Context, backend relayConn, pong chan struct{}) error {
	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := backend.WriteControl(fws.PingMessage, nil, time.Now().Add(p.pongWait)); err != nil {
			return chat.Error{Kind: chat.LivenessFault, Message: "Сервер не отвечает на пинг"}
		}
		select {
		case <-pong:
		case <-ctx.Done():
			return nil
		case <-time.After(p.pongWait):
			return chat.Error{Kind: chat.LivenessFault, Message: "Сервер не отвечает на пинг"}
		}
	}
}

// closeCodeFrom recovers the close code carried by a read error, so the
// other leg observes the same close the failed leg did.
func closeCodeFrom(err error) int {
	var closeErr *fws.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return fws.CloseInternalServerErr
}

func closeBoth(client, backend relayConn, err error) {
	code := fws.CloseNormalClosure
	var cerr chat.Error
	if errors.As(err, &cerr) {
		code = cerr.CloseCode()
	}
	deadline := time.Now().Add(time.Second)
	_ = client.WriteControl(fws.CloseMessage, fws.FormatCloseMessage(code, ""), deadline)
	_ = backend.WriteControl(fws.CloseMessage, fws.FormatCloseMessage(code, ""), deadline)
	_ = client.Close()
	_ = backend.Close()
}
