package model

import (
	"github.com/shopspring/decimal"
)

// Provider names understood by the llm package.
const (
	ProviderOpenAI    = "OpenAI"
	ProviderGroq      = "Groq"
	ProviderGoogle    = "Google"
	ProviderAnthropic = "Anthropic"
)

// Tenant is a business using the platform. Everything else is scoped by it.
type Tenant struct {
	Base
	Name     string  `gorm:"not null" json:"name"`
	Prompt   string  `gorm:"type:text;not null" json:"prompt"`
	ModelID  *string `gorm:"type:varchar(36)" json:"model_id,omitempty"`
	Timezone string  `gorm:"not null;default:'America/Montevideo'" json:"timezone"`

	// Resale prices per million tokens.
	PromptTokensPrice     decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"prompt_tokens_price"`
	CompletionTokensPrice decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"completion_tokens_price"`

	Model     *LLMModel  `gorm:"foreignKey:ModelID" json:"model,omitempty"`
	Functions []Function `gorm:"many2many:tenant_functions" json:"functions,omitempty"`
}

// LLMProvider is a vendor endpoint with its credentials.
type LLMProvider struct {
	Base
	Name    string `gorm:"uniqueIndex;not null" json:"name"`
	APIKey  string `gorm:"not null" json:"-"`
	BaseURL string `json:"base_url,omitempty"`
}

// LLMModel is a model offered by a provider, priced per million tokens.
type LLMModel struct {
	Base
	Name        string          `gorm:"uniqueIndex;not null" json:"name"`
	ProviderID  string          `gorm:"type:varchar(36);not null;index" json:"provider_id"`
	InputPrice  decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"input_price"`
	OutputPrice decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"output_price"`

	Provider *LLMProvider `gorm:"foreignKey:ProviderID" json:"provider,omitempty"`
}

// Function is a tool definition advertised to the model. Parameters holds a
// JSON Schema object.
type Function struct {
	Base
	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Description string `gorm:"type:text;not null" json:"description"`
	Parameters  string `gorm:"type:text;not null" json:"parameters"`
}

// TenantFunction enables a function for a tenant.
type TenantFunction struct {
	TenantID   string `gorm:"type:varchar(36);primaryKey"`
	FunctionID string `gorm:"type:varchar(36);primaryKey"`
}
