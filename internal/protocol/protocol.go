// Package protocol defines the JSON envelope exchanged over the realtime channel.
//
// Every frame is a JSON object whose "type" field selects one variant of a closed
// set. Frames flowing client to server and server to client are decoded by
// separate functions because "message" and "typing" have different shapes in
// each direction.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nfrund/relay/internal/domain"
)

// Type is the discriminator carried in the "type" field.
type Type string

// Client to server.
const (
	TypeAuth           Type = "auth"
	TypeGetOnlineUsers Type = "get_online_users"
	TypeMessage        Type = "message"
	TypeTyping         Type = "typing"
	TypeDisconnect     Type = "disconnect"
)

// Server to client. TypeMessage and TypeTyping are shared with the client direction.
const (
	TypeAuthSuccess      Type = "auth_success"
	TypeOnlineUsers      Type = "online_users"
	TypeMessageSent      Type = "message_sent"
	TypeUserConnected    Type = "user_connected"
	TypeUserDisconnected Type = "user_disconnected"
	TypeError            Type = "error"
)

// Error texts sent back in error frames.
const (
	ErrTextInvalidFormat = "Invalid message format"
	ErrTextUnknownType   = "Unknown message type"
	ErrTextUserRequired  = "User ID required"
	ErrTextInvalidChat   = "Invalid message data"
	ErrTextInvalidTyping = "Invalid typing indicator data"
	ErrTextNotAuthed     = "Not authenticated"
)

// Frame is implemented by every envelope variant.
type Frame interface {
	FrameType() Type
}

type (
	// Auth binds the connection to an already verified user id.
	Auth struct {
		UserID string `json:"userId"`
	}
	GetOnlineUsers struct{}
	// ChatRequest is a chat message as submitted by a client, before stamping.
	ChatRequest struct {
		SenderID   string `json:"senderId"`
		ReceiverID string `json:"receiverId"`
		Message    string `json:"message"`
		SenderName string `json:"senderName,omitempty"`
	}
	TypingRequest struct {
		SenderID   string   `json:"senderId"`
		ReceiverID string   `json:"receiverId"`
		IsTyping   FlexBool `json:"isTyping"`
	}
	Disconnect struct{}
)

type (
	AuthSuccess struct {
		UserID    string    `json:"userId"`
		Timestamp time.Time `json:"timestamp"`
	}
	OnlineUsers struct {
		Users     []string  `json:"users"`
		Timestamp time.Time `json:"timestamp"`
	}
	// ChatDelivery is a stamped chat message forwarded to its receiver.
	ChatDelivery struct {
		ID         string    `json:"id"`
		SenderID   string    `json:"senderId"`
		ReceiverID string    `json:"receiverId"`
		Message    string    `json:"message"`
		Timestamp  time.Time `json:"timestamp"`
	}
	// MessageSent acknowledges a chat request. Sent is false when the receiver was not connected.
	MessageSent struct {
		MessageID string    `json:"messageId"`
		Sent      bool      `json:"sent"`
		Timestamp time.Time `json:"timestamp"`
	}
	TypingEvent struct {
		SenderID  string    `json:"senderId"`
		IsTyping  bool      `json:"isTyping"`
		Timestamp time.Time `json:"timestamp"`
	}
	UserConnected struct {
		UserID    string    `json:"userId"`
		Timestamp time.Time `json:"timestamp"`
	}
	UserDisconnected struct {
		UserID    string    `json:"userId"`
		Timestamp time.Time `json:"timestamp"`
	}
	Error struct {
		Error     string    `json:"error"`
		Timestamp time.Time `json:"timestamp"`
	}
)

func (Auth) FrameType() Type           { return TypeAuth }
func (GetOnlineUsers) FrameType() Type { return TypeGetOnlineUsers }
func (ChatRequest) FrameType() Type    { return TypeMessage }
func (TypingRequest) FrameType() Type  { return TypeTyping }
func (Disconnect) FrameType() Type     { return TypeDisconnect }

func (AuthSuccess) FrameType() Type      { return TypeAuthSuccess }
func (OnlineUsers) FrameType() Type      { return TypeOnlineUsers }
func (ChatDelivery) FrameType() Type     { return TypeMessage }
func (MessageSent) FrameType() Type      { return TypeMessageSent }
func (TypingEvent) FrameType() Type      { return TypeTyping }
func (UserConnected) FrameType() Type    { return TypeUserConnected }
func (UserDisconnected) FrameType() Type { return TypeUserDisconnected }
func (Error) FrameType() Type            { return TypeError }

// ChatMessage converts a delivery frame back into the domain type.
func (d ChatDelivery) ChatMessage() domain.ChatMessage {
	return domain.ChatMessage{
		ID:         d.ID,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Body:       d.Message,
		Timestamp:  d.Timestamp,
	}
}

// DeliveryOf builds the frame forwarded to a receiver.
func DeliveryOf(m domain.ChatMessage) ChatDelivery {
	return ChatDelivery{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Message:    m.Body,
		Timestamp:  m.Timestamp,
	}
}

// Encode marshals a frame and injects its type tag.
func Encode(f Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f.FrameType(), err)
	}
	tag, err := json.Marshal(f.FrameType())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(tag) + 9)
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// MustEncode is Encode for frames whose fields cannot fail to marshal.
func MustEncode(f Frame) []byte {
	data, err := Encode(f)
	if err != nil {
		panic(err)
	}
	return data
}

// ErrorFrame builds an encoded error frame stamped with now.
func ErrorFrame(text string) []byte {
	return MustEncode(Error{Error: text, Timestamp: time.Now().UTC()})
}

type header struct {
	Type Type `json:"type"`
}

func peek(data []byte) (Type, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrProtocol, ErrTextInvalidFormat)
	}
	if h.Type == "" {
		return "", fmt.Errorf("%w: missing type", domain.ErrProtocol)
	}
	return h.Type, nil
}

func decodeInto[T Frame](data []byte) (Frame, error) {
	var f T
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrProtocol, ErrTextInvalidFormat, err)
	}
	return f, nil
}

// UnknownTypeError reports a well formed frame with an unrecognised tag.
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("%s: %q", ErrTextUnknownType, string(e.Type))
}

func (e *UnknownTypeError) Unwrap() error { return domain.ErrProtocol }

// DecodeClient parses a frame sent by a client.
func DecodeClient(data []byte) (Frame, error) {
	t, err := peek(data)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeAuth:
		return decodeInto[Auth](data)
	case TypeGetOnlineUsers:
		return GetOnlineUsers{}, nil
	case TypeMessage:
		return decodeInto[ChatRequest](data)
	case TypeTyping:
		return decodeInto[TypingRequest](data)
	case TypeDisconnect:
		return Disconnect{}, nil
	default:
		return nil, &UnknownTypeError{Type: t}
	}
}

// DecodeServer parses a frame sent by the relay.
func DecodeServer(data []byte) (Frame, error) {
	t, err := peek(data)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeAuthSuccess:
		return decodeInto[AuthSuccess](data)
	case TypeOnlineUsers:
		return decodeInto[OnlineUsers](data)
	case TypeMessage:
		return decodeInto[ChatDelivery](data)
	case TypeMessageSent:
		return decodeInto[MessageSent](data)
	case TypeTyping:
		return decodeInto[TypingEvent](data)
	case TypeUserConnected:
		return decodeInto[UserConnected](data)
	case TypeUserDisconnected:
		return decodeInto[UserDisconnected](data)
	case TypeError:
		return decodeInto[Error](data)
	default:
		return nil, &UnknownTypeError{Type: t}
	}
}
