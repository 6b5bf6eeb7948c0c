package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/mindfold/tutorbot/internal/domain"
	"github.com/mindfold/tutorbot/internal/middleware"
	tg "github.com/mindfold/tutorbot/internal/telegram"
)

func (h *Handler) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Chat.Type != "private" {
		return
	}

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	chatID := update.Message.Chat.ID
	h.sessions.Session(chatID, user)

	welcomeText := fmt.Sprintf(
		"👋 Welcome, *%s*!\n\n"+
			"I'm an AI-driven tutor. Pick a learning mode below:\n\n"+
			"🧠 *Socratic Guidance* — step-by-step inquiry. I won't give "+
			"answers directly, but guide you to find them yourself through "+
			"questioning.\n\n"+
			"⚖️ *Debate Mode* — devil's advocate. I challenge your viewpoints "+
			"and expose logical flaws to foster critical thinking.\n\n"+
			"📋 *Commands:*\n"+
			"/new — Start a new conversation\n"+
			"/chats — Browse past conversations\n"+
			"/files — Manage pending PDF attachments\n"+
			"/usage — Your usage totals\n\n"+
			"Attach PDFs by sending them as documents; they go to the model "+
			"with your next message.",
		user.FirstName,
	)

	keyboard := tg.InlineKeyboard(
		tg.ButtonRow(tg.InlineButton("🧠 Socratic Guidance", "mode_socratic")),
		tg.ButtonRow(tg.InlineButton("⚖️ Debate Mode", "mode_debate")),
	)

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        welcomeText,
		ParseMode:   models.ParseModeMarkdownV1,
		ReplyMarkup: keyboard,
	})
}

func (h *Handler) handleModeSelect(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: update.CallbackQuery.ID})

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	var chatID int64
	if msg := update.CallbackQuery.Message.Message; msg != nil {
		chatID = msg.Chat.ID
	}
	if chatID == 0 {
		return
	}

	mode := domain.ModeSocratic
	label := "🧠 Socratic Guidance"
	if strings.TrimPrefix(update.CallbackQuery.Data, "mode_") == string(domain.ModeDebate) {
		mode = domain.ModeDebate
		label = "⚖️ Debate Mode"
	}

	sess := h.sessions.Session(chatID, user)
	sess.SetMode(mode)
	sess.StartNew()

	greeting := sess.Turns()[0].Text
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   fmt.Sprintf("%s\n\n%s", label, greeting),
	})
}
