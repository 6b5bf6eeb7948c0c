package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Recover returns middleware that recovers from handler panics, logging the
// originating chat and update so the failure can be traced.
func Recover() bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			defer func() {
				if r := recover(); r != nil {
					var chatID int64
					if update.Message != nil {
						chatID = update.Message.Chat.ID
					} else if update.CallbackQuery != nil && update.CallbackQuery.Message.Message != nil {
						chatID = update.CallbackQuery.Message.Message.Chat.ID
					}
					slog.Error("panic recovered in handler",
						"panic", r,
						"chat_id", chatID,
						"update_id", update.ID,
						"stack", string(debug.Stack()),
					)
				}
			}()
			next(ctx, b, update)
		}
	}
}
