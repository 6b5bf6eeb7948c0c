package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TokenUsage is what the model API reports for one generate call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// UsageRecord is one ledger row per successful reply. Record-only: nothing
// enforces a balance.
type UsageRecord struct {
	ID               int64
	PrincipalID      int64
	ConversationID   uuid.UUID
	Model            string
	PromptTokens     int
	CompletionTokens int
	Cost             decimal.Decimal
	CreatedAt        time.Time
}

// UsageTotals aggregates a principal's ledger.
type UsageTotals struct {
	Replies          int64
	PromptTokens     int64
	CompletionTokens int64
	Cost             decimal.Decimal
}
