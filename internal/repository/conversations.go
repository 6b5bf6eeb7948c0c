package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mindfold/tutorbot/internal/domain"
)

// Conversations is the store adapter for chat records. The turn list is one
// jsonb document per conversation, replaced wholesale on every update
// (last-writer-wins, no optimistic-concurrency token).
type Conversations struct {
	db *pgxpool.Pool
}

func NewConversations(db *pgxpool.Pool) *Conversations {
	return &Conversations{db: db}
}

func (r *Conversations) Create(ctx context.Context, ownerID int64, mode domain.Mode, title string, turns []domain.Turn) (*domain.Conversation, error) {
	payload, err := marshalTurns(turns)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	row := r.db.QueryRow(ctx, `
		INSERT INTO conversations (id, owner_id, mode, title, turns)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		id, ownerID, string(mode), title, payload)

	c := &domain.Conversation{
		ID:      id,
		OwnerID: ownerID,
		Mode:    mode,
		Title:   title,
		Turns:   turns,
	}
	if err := row.Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

func (r *Conversations) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, owner_id, mode, title, turns, created_at, updated_at
		FROM conversations
		WHERE id = $1`, id)

	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// ListByOwner returns all of an owner's conversations, newest created first.
func (r *Conversations) ListByOwner(ctx context.Context, ownerID int64) ([]domain.Conversation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, owner_id, mode, title, turns, created_at, updated_at
		FROM conversations
		WHERE owner_id = $1
		ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var list []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		list = append(list, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return list, nil
}

// UpdateMessages replaces the whole turn list and bumps updated_at.
func (r *Conversations) UpdateMessages(ctx context.Context, id uuid.UUID, turns []domain.Turn) error {
	payload, err := marshalTurns(turns)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET turns = $2, updated_at = now()
		WHERE id = $1`, id, payload)
	if err != nil {
		return fmt.Errorf("update conversation turns: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

func (r *Conversations) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func marshalTurns(turns []domain.Turn) ([]byte, error) {
	if turns == nil {
		turns = []domain.Turn{}
	}
	payload, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("marshal turns: %w", err)
	}
	return payload, nil
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	var mode string
	var payload []byte
	if err := row.Scan(&c.ID, &c.OwnerID, &mode, &c.Title, &payload, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Mode = domain.Mode(mode)
	if err := json.Unmarshal(payload, &c.Turns); err != nil {
		return nil, fmt.Errorf("unmarshal turns: %w", err)
	}
	return c, nil
}
