package costs

import (
	"time"

	"github.com/google/uuid"
)

const (
	CostCenterClaude  = "claude_api"
	CostCenterOpenAI  = "openai_api"
	CostCenterStripe  = "stripe_fees"
	CostCenterStorage = "storage"
)

// CostEntry is an append-only ledger row. One row per successful provider
// call; failed calls write nothing. No soft delete, no updates.
type CostEntry struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID       *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	ManuscriptID *uuid.UUID `gorm:"type:uuid;index" json:"manuscript_id,omitempty"`

	CostCenter  string  `gorm:"column:cost_center;not null;index" json:"cost_center"`
	FeatureName string  `gorm:"column:feature_name;not null" json:"feature_name"`
	Operation   string  `gorm:"column:operation;not null" json:"operation"`
	CostUSD     float64 `gorm:"column:cost_usd;not null" json:"cost_usd"`

	InputTokens  *int   `gorm:"column:input_tokens" json:"input_tokens,omitempty"`
	OutputTokens *int   `gorm:"column:output_tokens" json:"output_tokens,omitempty"`
	Model        string `gorm:"column:model" json:"model"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (CostEntry) TableName() string { return "cost_entry" }
