package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/mindfold/tutorbot/internal/middleware"
)

func (h *Handler) handleUsage(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Chat.Type != "private" {
		return
	}

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	chatID := update.Message.Chat.ID

	totals, err := h.usage.TotalsByPrincipal(ctx, user.ID)
	if err != nil {
		slog.Error("usage totals", "error", err, "principal_id", user.ID)
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "❌ Couldn't load your usage totals.",
		})
		return
	}

	text := fmt.Sprintf(
		"📊 *Usage*\n\n"+
			"Replies: %d\n"+
			"Prompt tokens: %d\n"+
			"Completion tokens: %d\n"+
			"Estimated cost: $%s",
		totals.Replies,
		totals.PromptTokens,
		totals.CompletionTokens,
		totals.Cost.StringFixed(4),
	)

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdownV1,
	})
}
