package model

import (
	"encoding/json"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleFunction  Role = "function"
)

// Conversation is a thread with one phone number. It is active while it is not
// closed and has received a message recently.
type Conversation struct {
	Base
	TenantID      string    `gorm:"type:varchar(36);not null;index:idx_conversations_tenant_phone,priority:1" json:"tenant_id"`
	Phone         string    `gorm:"not null;index:idx_conversations_tenant_phone,priority:2" json:"phone"`
	Closed        bool      `gorm:"not null;default:false" json:"closed"`
	LastMessageAt time.Time `gorm:"not null;index" json:"last_message_at"`

	Messages []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// Message is a single persisted turn. Assistant messages carry the token usage
// of the model calls that produced them.
type Message struct {
	Base
	ConversationID   string `gorm:"type:varchar(36);not null;index" json:"conversation_id"`
	Role             Role   `gorm:"type:varchar(16);not null" json:"role"`
	Content          string `gorm:"type:text;not null" json:"content"`
	GPTData          string `gorm:"type:text" json:"gpt_data,omitempty"`
	PromptTokens     int    `gorm:"not null;default:0" json:"prompt_tokens"`
	CompletionTokens int    `gorm:"not null;default:0" json:"completion_tokens"`
}

// FunctionCallData is stored in GPTData for function-role messages.
type FunctionCallData struct {
	FunctionName string         `json:"functionName"`
	Args         map[string]any `json:"args,omitempty"`
}

// Encode returns the JSON form stored in Message.GPTData.
func (d FunctionCallData) Encode() string {
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(b)
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int64          `json:"total"`
	HasMore       bool           `json:"has_more"`
}
