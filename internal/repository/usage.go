package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mindfold/tutorbot/internal/domain"
	"github.com/shopspring/decimal"
)

// Usage is the record-only ledger of model calls.
type Usage struct {
	db *pgxpool.Pool
}

func NewUsage(db *pgxpool.Pool) *Usage {
	return &Usage{db: db}
}

func (r *Usage) Record(ctx context.Context, rec domain.UsageRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO usage_records (principal_id, conversation_id, model, prompt_tokens, completion_tokens, cost)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.PrincipalID, rec.ConversationID, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.Cost)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (r *Usage) TotalsByPrincipal(ctx context.Context, principalID int64) (*domain.UsageTotals, error) {
	row := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(cost), 0)
		FROM usage_records
		WHERE principal_id = $1`, principalID)

	t := &domain.UsageTotals{Cost: decimal.Zero}
	if err := row.Scan(&t.Replies, &t.PromptTokens, &t.CompletionTokens, &t.Cost); err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}
	return t, nil
}
