package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mindfold/tutorbot/internal/domain"
)

type Principals struct {
	db *pgxpool.Pool
}

func NewPrincipals(db *pgxpool.Pool) *Principals {
	return &Principals{db: db}
}

// FindOrCreate returns the principal for a Telegram user, creating the row on
// first contact. The bool reports whether the principal is new.
func (r *Principals) FindOrCreate(ctx context.Context, telegramID int64, firstName, username string) (*domain.Principal, bool, error) {
	p, err := r.GetByTelegramID(ctx, telegramID)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, domain.ErrPrincipalNotFound) {
		return nil, false, err
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO principals (telegram_id, first_name, username)
		VALUES ($1, $2, $3)
		ON CONFLICT (telegram_id) DO UPDATE
		    SET first_name = EXCLUDED.first_name,
		        username   = EXCLUDED.username,
		        updated_at = now()
		RETURNING id, telegram_id, first_name, username, created_at, updated_at`,
		telegramID, firstName, username)

	p = &domain.Principal{}
	if err := row.Scan(&p.ID, &p.TelegramID, &p.FirstName, &p.Username, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, false, fmt.Errorf("create principal: %w", err)
	}
	return p, true, nil
}

func (r *Principals) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.Principal, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, telegram_id, first_name, username, created_at, updated_at
		FROM principals
		WHERE telegram_id = $1`, telegramID)

	p := &domain.Principal{}
	err := row.Scan(&p.ID, &p.TelegramID, &p.FirstName, &p.Username, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("get principal: %w", err)
	}
	return p, nil
}
