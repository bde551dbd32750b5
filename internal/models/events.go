package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventName tags an envelope on the live channel.
type EventName string

// Inbound events, sent by a session.
const (
	EventJoinConversation  EventName = "join_conversation"
	EventLeaveConversation EventName = "leave_conversation"
	EventSendMessage       EventName = "send_message"
	EventMarkRead          EventName = "mark_read"
	EventMarkDelivered     EventName = "mark_delivered"
)

// Outbound events, pushed by the hub.
const (
	EventAck                 EventName = "ack"
	EventMessage             EventName = "message"
	EventMessageUpdated      EventName = "message_updated"
	EventMessageRead         EventName = "message_read"
	EventConversationRead    EventName = "conversation_read"
	EventConversationUpdated EventName = "conversation_updated"
)

// Ack statuses.
const (
	AckOK    = "OK"
	AckError = "ERROR"
)

// Envelope is the frame exchanged over the live channel.
type Envelope struct {
	Event     EventName       `json:"event"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrInvalidEvent, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEvent, e.Event, err)
	}
	return nil
}

// NewEnvelope wraps payload under the given event name.
func NewEnvelope(event EventName, requestID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, RequestID: requestID, Data: data}, nil
}

var ErrInvalidEvent = errors.New("invalid event")

// InboundEvent is implemented by every payload a session may send.
type InboundEvent interface {
	Validate() error
}

type JoinConversation struct {
	ConversationID int `json:"conversation_id"`
}

func (p JoinConversation) Validate() error {
	return requirePositive("conversation_id", p.ConversationID)
}

type LeaveConversation struct {
	ConversationID int `json:"conversation_id"`
}

func (p LeaveConversation) Validate() error {
	return requirePositive("conversation_id", p.ConversationID)
}

type SendMessage struct {
	ConversationID  int               `json:"conversation_id"`
	Content         string            `json:"content"`
	Attachments     []AttachmentInput `json:"attachments,omitempty"`
	ClientMessageID string            `json:"client_message_id,omitempty"`
}

func (p SendMessage) Validate() error {
	if err := requirePositive("conversation_id", p.ConversationID); err != nil {
		return err
	}
	for i, a := range p.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return fmt.Errorf("%w: attachments[%d].url is required", ErrInvalidEvent, i)
		}
	}
	return nil
}

type MarkRead struct {
	ConversationID int   `json:"conversation_id"`
	MessageIDs     []int `json:"message_ids,omitempty"`
}

func (p MarkRead) Validate() error {
	return requirePositive("conversation_id", p.ConversationID)
}

type MarkDelivered struct {
	MessageID int `json:"message_id"`
}

func (p MarkDelivered) Validate() error {
	return requirePositive("message_id", p.MessageID)
}

// Ack answers an inbound request, echoing its request id.
type Ack struct {
	Status         string   `json:"status"`
	Code           string   `json:"code,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	ConversationID int      `json:"conversation_id,omitempty"`
	Message        *Message `json:"message,omitempty"`
	Changed        int      `json:"changed,omitempty"`
}

type MessageRead struct {
	MessageID      int       `json:"message_id"`
	ConversationID int       `json:"conversation_id"`
	UserID         int       `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

type ConversationRead struct {
	ConversationID int       `json:"conversation_id"`
	UserID         int       `json:"user_id"`
	MessageIDs     []int     `json:"message_ids,omitempty"`
	ReadAt         time.Time `json:"read_at"`
}

// Conversation actions carried by ConversationUpdated and audit records.
const (
	ActionGroupCreated   = "group_created"
	ActionMembersAdded   = "members_added"
	ActionMembersRemoved = "members_removed"
	ActionRenamed        = "renamed"
)

type ConversationUpdated struct {
	Conversation Conversation `json:"conversation"`
	Action       string       `json:"action"`
	UserIDs      []int        `json:"user_ids,omitempty"`
}

// DecodeInbound parses a raw frame into its envelope and typed, validated payload.
func DecodeInbound(raw []byte) (Envelope, InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	var payload InboundEvent
	switch env.Event {
	case EventJoinConversation:
		var p JoinConversation
		payload = &p
	case EventLeaveConversation:
		var p LeaveConversation
		payload = &p
	case EventSendMessage:
		var p SendMessage
		payload = &p
	case EventMarkRead:
		var p MarkRead
		payload = &p
	case EventMarkDelivered:
		var p MarkDelivered
		payload = &p
	default:
		return env, nil, fmt.Errorf("%w: unknown event %q", ErrInvalidEvent, env.Event)
	}

	if err := env.Decode(payload); err != nil {
		return env, nil, err
	}
	if err := payload.Validate(); err != nil {
		return env, nil, err
	}
	return env, payload, nil
}

func requirePositive(field string, v int) error {
	if v <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidEvent, field)
	}
	return nil
}
