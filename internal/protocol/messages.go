package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies gateway payload variants.
type MessageType string

const (
	TypeReady   MessageType = "ready"
	TypeMessage MessageType = "message"
	TypeSend    MessageType = "send"
	TypeAck     MessageType = "ack"
	TypeError   MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Ready is sent by the bridge once the chat network session is paired.
type Ready struct {
	Type   MessageType `json:"type"`
	SelfID string      `json:"self_id"`
}

type Media struct {
	MimeType   string `json:"mime_type"`
	DataBase64 string `json:"data_base64"`
}

// Decode returns the raw media bytes.
func (m Media) Decode() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.DataBase64)
	if err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}
	return data, nil
}

// InboundMessage is one chat message forwarded by the bridge.
type InboundMessage struct {
	Type       MessageType `json:"type"`
	MessageID  string      `json:"message_id"`
	ChatID     string      `json:"chat_id"`
	Body       string      `json:"body"`
	SenderName string      `json:"sender_name,omitempty"`
	IsGroup    bool        `json:"is_group"`
	HasMedia   bool        `json:"has_media"`
	Media      *Media      `json:"media,omitempty"`
}

// Send asks the bridge to deliver a text message.
type Send struct {
	Type          MessageType `json:"type"`
	ChatID        string      `json:"chat_id"`
	Text          string      `json:"text"`
	CorrelationID string      `json:"correlation_id"`
}

// Ack confirms or rejects a Send.
type Ack struct {
	Type          MessageType `json:"type"`
	CorrelationID string      `json:"correlation_id"`
	OK            bool        `json:"ok"`
	Detail        string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

// ParseGatewayMessage decodes a frame received from the bridge.
func ParseGatewayMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeReady:
		var msg Ready
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SelfID == "" {
			return nil, errors.New("invalid ready")
		}
		return msg, nil
	case TypeMessage:
		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ChatID == "" {
			return nil, errors.New("invalid message")
		}
		if msg.HasMedia && msg.Media == nil {
			return nil, errors.New("invalid message: has_media without media")
		}
		return msg, nil
	case TypeAck:
		var msg Ack
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeError:
		var msg ErrorEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
