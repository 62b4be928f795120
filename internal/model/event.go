package model

import (
	"time"
)

// EventType represents the type of turn event.
type EventType string

const (
	EventTypeError          EventType = "error"
	EventTypeRecursionLimit EventType = "recursion_limit"
	EventTypeTimeout        EventType = "timeout"
)

// InboundMessage is a customer message received from the messaging channel
// and queued for processing.
type InboundMessage struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Phone      string    `json:"phone"`
	Text       string    `json:"text"`
	Model      string    `json:"model,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// OutboundMessage is a reply handed to the messaging channel, with the flags
// the turn raised.
type OutboundMessage struct {
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Phone          string    `json:"phone"`
	Text           string    `json:"text"`
	NotifyHuman    bool      `json:"notify_human"`
	NotifyLead     bool      `json:"notify_lead"`
	NotifyOrder    bool      `json:"notify_order"`
	CreatedAt      time.Time `json:"created_at"`
}

// TurnEvent records a turn that did not produce a reply.
type TurnEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	TenantID       string         `json:"tenant_id"`
	Type           EventType      `json:"type"`
	Reason         string         `json:"reason"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
