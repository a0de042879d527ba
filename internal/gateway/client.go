package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/recruiter/internal/chat"
	"github.com/ent0n29/recruiter/internal/observability"
	"github.com/ent0n29/recruiter/internal/policy"
	"github.com/ent0n29/recruiter/internal/protocol"
	"github.com/ent0n29/recruiter/internal/reliability"
)

var ErrNotConnected = errors.New("gateway not connected")

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 90 * time.Second
	pingInterval = 30 * time.Second
)

// Config controls the bridge connection.
type Config struct {
	URL     string
	Token   string
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Client is a chat.Transport backed by a websocket bridge that owns the
// chat network session. It reconnects with capped exponential backoff.
type Client struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *observability.Metrics
	backoff reliability.Backoff

	mu     sync.Mutex
	conn   *websocket.Conn
	selfID string
}

func New(cfg Config) (*Client, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, errors.New("gateway url is required")
	}
	if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return nil, fmt.Errorf("gateway url %q must use ws:// or wss://", u)
	}
	header := http.Header{}
	if tok := strings.TrimSpace(cfg.Token); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:     u,
		header:  header,
		dialer:  &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:  logger.With("transport", "gateway"),
		metrics: cfg.Metrics,
		backoff: reliability.Backoff{Base: 500 * time.Millisecond, Cap: 30 * time.Second},
	}, nil
}

func (c *Client) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// Connected reports whether a bridge connection is open and has announced
// the bot identity, so sends can be delivered.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.selfID != ""
}

// Send writes a send command. Delivery is best-effort: the bridge acks
// asynchronously and failed acks are only logged.
func (c *Client) Send(ctx context.Context, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := protocol.Send{
		Type:          protocol.TypeSend,
		ChatID:        chatID,
		Text:          text,
		CorrelationID: uuid.NewString(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("gateway send: %w", err)
	}
	return nil
}

// Run keeps a connection open until ctx is done.
func (c *Client) Run(ctx context.Context, h chat.Handler) error {
	for {
		err := c.session(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		c.observe("disconnected")
		c.logger.Warn("gateway connection lost", "error", err)
		if err := c.backoff.Wait(ctx); err != nil {
			return nil
		}
	}
}

func (c *Client) session(ctx context.Context, h chat.Handler) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.backoff.Reset()
	c.observe("connected")
	c.logger.Info("gateway connected")

	done := make(chan struct{})
	defer func() {
		close(done)
		c.mu.Lock()
		c.conn = nil
		c.selfID = ""
		c.mu.Unlock()
		_ = conn.Close()
	}()
	go c.keepalive(ctx, conn, done)

	conn.SetReadLimit(32 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseGatewayMessage(data)
		if err != nil {
			c.logger.Warn("invalid gateway frame", "error", err)
			continue
		}
		switch m := parsed.(type) {
		case protocol.Ready:
			c.mu.Lock()
			c.selfID = m.SelfID
			c.mu.Unlock()
			c.logger.Info("gateway ready", "self_id", policy.MaskChatID(m.SelfID))
		case protocol.InboundMessage:
			h(ctx, toEvent(m))
		case protocol.Ack:
			if !m.OK {
				c.logger.Warn("gateway rejected send", "correlation_id", m.CorrelationID, "detail", m.Detail)
			}
		case protocol.ErrorEvent:
			c.logger.Warn("gateway error", "code", m.Code, "detail", m.Detail)
		}
	}
}

// keepalive pings the bridge and closes conn on shutdown so the blocked
// reader returns.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.mu.Unlock()
			if err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) observe(event string) {
	if c.metrics != nil {
		c.metrics.TransportEvents.WithLabelValues("gateway", event).Inc()
	}
}

func toEvent(m protocol.InboundMessage) chat.Event {
	ev := chat.Event{
		MessageID:     m.MessageID,
		ChatID:        m.ChatID,
		Body:          m.Body,
		SenderName:    m.SenderName,
		IsGroup:       m.IsGroup,
		HasAttachment: m.HasMedia && m.Media != nil,
	}
	if ev.HasAttachment {
		media := *m.Media
		ev.Fetch = func(context.Context) (chat.Attachment, error) {
			data, err := media.Decode()
			if err != nil {
				return chat.Attachment{}, err
			}
			return chat.Attachment{MimeType: media.MimeType, Data: data}, nil
		}
	}
	return ev
}
