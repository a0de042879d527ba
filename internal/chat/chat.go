package chat

import (
	"context"
	"errors"
	"strings"
)

// ErrNoAttachment is returned by Event.FetchAttachment when the message
// carries no media.
var ErrNoAttachment = errors.New("message has no attachment")

// groupSuffix marks group conversation ids on the WhatsApp network.
const groupSuffix = "@g.us"

// Attachment is a downloaded media payload.
type Attachment struct {
	MimeType string
	Data     []byte
}

// Event is a single inbound message normalized by a transport.
type Event struct {
	MessageID     string
	ChatID        string
	Body          string
	SenderName    string
	HasAttachment bool
	IsGroup       bool

	// Fetch downloads the attachment. Nil when the transport delivered
	// no media.
	Fetch func(ctx context.Context) (Attachment, error)
}

// FetchAttachment downloads the event's media.
func (e Event) FetchAttachment(ctx context.Context) (Attachment, error) {
	if !e.HasAttachment || e.Fetch == nil {
		return Attachment{}, ErrNoAttachment
	}
	return e.Fetch(ctx)
}

// FromGroup reports whether the event belongs to a group conversation.
func (e Event) FromGroup() bool {
	return e.IsGroup || strings.HasSuffix(e.ChatID, groupSuffix)
}

// Sender delivers outbound text replies.
type Sender interface {
	Send(ctx context.Context, chatID, text string) error
}

// Handler consumes inbound events.
type Handler func(ctx context.Context, ev Event)

// Transport connects the service to a chat network.
type Transport interface {
	Sender
	// Run blocks delivering inbound events to h until ctx is done.
	Run(ctx context.Context, h Handler) error
	// SelfID returns the bot's own chat identity once known.
	SelfID() string
}
