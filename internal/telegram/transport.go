package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ent0n29/recruiter/internal/chat"
	"github.com/ent0n29/recruiter/internal/observability"
	"github.com/ent0n29/recruiter/internal/reliability"
)

const (
	pollTimeoutSeconds = 30
	maxAttachmentBytes = 20 << 20
	photoMimeType      = "image/jpeg"
)

// botAPI is the subset of *tgbotapi.BotAPI the transport uses.
type botAPI interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Config struct {
	Token   string
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Transport long-polls the Bot API and implements chat.Transport.
type Transport struct {
	api     botAPI
	selfID  string
	http    *http.Client
	logger  *slog.Logger
	metrics *observability.Metrics
	backoff reliability.Backoff

	mu     sync.Mutex
	offset int
}

func New(cfg Config) (*Transport, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return newTransport(api, strconv.FormatInt(api.Self.ID, 10), cfg), nil
}

func newTransport(api botAPI, selfID string, cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		api:     api,
		selfID:  selfID,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger.With("transport", "telegram"),
		metrics: cfg.Metrics,
		backoff: reliability.Backoff{Base: time.Second, Cap: time.Minute},
	}
}

func (t *Transport) SelfID() string { return t.selfID }

func (t *Transport) Send(ctx context.Context, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", chatID, err)
	}
	if _, err := t.api.Send(tgbotapi.NewMessage(id, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Run polls for updates until ctx is done. Poll failures back off and
// retry; they never end the loop.
func (t *Transport) Run(ctx context.Context, h chat.Handler) error {
	t.observe("connected")
	for ctx.Err() == nil {
		updates, err := t.poll()
		if err != nil {
			t.observe("poll_error")
			t.logger.Warn("telegram poll failed", "error", err)
			if t.backoff.Wait(ctx) != nil {
				return nil
			}
			continue
		}
		t.backoff.Reset()
		for _, u := range updates {
			ev, ok := t.toEvent(u)
			if !ok {
				continue
			}
			h(ctx, ev)
		}
	}
	return nil
}

func (t *Transport) poll() ([]tgbotapi.Update, error) {
	t.mu.Lock()
	cfg := tgbotapi.NewUpdate(t.offset)
	t.mu.Unlock()
	cfg.Timeout = pollTimeoutSeconds
	cfg.AllowedUpdates = []string{"message"}

	updates, err := t.api.GetUpdates(cfg)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	for _, u := range updates {
		if u.UpdateID >= t.offset {
			t.offset = u.UpdateID + 1
		}
	}
	t.mu.Unlock()
	return updates, nil
}

func (t *Transport) toEvent(u tgbotapi.Update) (chat.Event, bool) {
	ev, fileID, mimeType, ok := mapUpdate(u)
	if !ok {
		return chat.Event{}, false
	}
	if fileID != "" {
		ev.Fetch = func(ctx context.Context) (chat.Attachment, error) {
			return t.download(ctx, fileID, mimeType)
		}
	}
	return ev, true
}

// mapUpdate normalizes a message update. It also returns the file id and
// MIME type of the attachment, if any.
func mapUpdate(u tgbotapi.Update) (chat.Event, string, string, bool) {
	m := u.Message
	if m == nil || m.Chat == nil {
		return chat.Event{}, "", "", false
	}
	ev := chat.Event{
		MessageID: strconv.Itoa(m.MessageID),
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		Body:      m.Text,
		IsGroup:   !m.Chat.IsPrivate(),
	}
	if ev.Body == "" {
		ev.Body = m.Caption
	}
	if m.From != nil {
		ev.SenderName = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
		if ev.SenderName == "" {
			ev.SenderName = m.From.UserName
		}
	}

	var fileID, mimeType string
	switch {
	case m.Document != nil:
		fileID = m.Document.FileID
		mimeType = m.Document.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
	case len(m.Photo) > 0:
		// Sizes are ordered smallest first.
		fileID = m.Photo[len(m.Photo)-1].FileID
		mimeType = photoMimeType
	}
	ev.HasAttachment = fileID != ""
	return ev, fileID, mimeType, true
}

func (t *Transport) download(ctx context.Context, fileID, mimeType string) (chat.Attachment, error) {
	link, err := t.api.GetFileDirectURL(fileID)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("resolve telegram file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return chat.Attachment{}, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		// The direct URL embeds the bot token.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return chat.Attachment{}, fmt.Errorf("download telegram file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return chat.Attachment{}, fmt.Errorf("download telegram file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("download telegram file: %w", err)
	}
	if len(data) > maxAttachmentBytes {
		return chat.Attachment{}, fmt.Errorf("telegram file exceeds %d bytes", maxAttachmentBytes)
	}
	return chat.Attachment{MimeType: mimeType, Data: data}, nil
}

func (t *Transport) observe(event string) {
	if t.metrics != nil {
		t.metrics.TransportEvents.WithLabelValues("telegram", event).Inc()
	}
}
