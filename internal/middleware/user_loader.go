package middleware

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/mindfold/tutorbot/internal/domain"
	"github.com/mindfold/tutorbot/internal/repository"
)

type ctxKey string

const userKey ctxKey = "principal"

// GetUser extracts the authenticated principal from context, or nil.
func GetUser(ctx context.Context) *domain.Principal {
	p, ok := ctx.Value(userKey).(*domain.Principal)
	if !ok {
		return nil
	}
	return p
}

// UserLoader returns middleware that resolves the sender into a principal
// and carries it in context. This is the sign-in path: the principal row is
// created on first contact.
func UserLoader(principals *repository.Principals) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			var from *models.User

			if update.Message != nil {
				from = update.Message.From
			} else if update.CallbackQuery != nil {
				from = &update.CallbackQuery.From
			}

			if from == nil {
				next(ctx, b, update)
				return
			}

			p, _, err := principals.FindOrCreate(ctx, from.ID, from.FirstName, from.Username)
			if err == nil && p != nil {
				ctx = context.WithValue(ctx, userKey, p)
			}

			next(ctx, b, update)
		}
	}
}
