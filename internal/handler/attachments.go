package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/mindfold/tutorbot/internal/domain"
	"github.com/mindfold/tutorbot/internal/middleware"
	tg "github.com/mindfold/tutorbot/internal/telegram"
)

func (h *Handler) handleFiles(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Chat.Type != "private" {
		return
	}

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	h.sendFilesList(ctx, b, update.Message.Chat.ID, user, false, 0)
}

func (h *Handler) sendFilesList(ctx context.Context, b *bot.Bot, chatID int64, user *domain.Principal, edit bool, messageID int) {
	sess := h.sessions.Session(chatID, user)
	pending := sess.Pending()

	if len(pending) == 0 {
		text := "📎 No pending attachments. Send a PDF as a document to attach it."
		if edit && messageID != 0 {
			b.EditMessageText(ctx, &bot.EditMessageTextParams{
				ChatID:    chatID,
				MessageID: messageID,
				Text:      text,
			})
		} else {
			b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
		}
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📎 *Pending attachments* (%d)\n\n", len(pending)))
	sb.WriteString("These go to the model with your next message. Tap to remove.")

	var rows [][]models.InlineKeyboardButton
	for i, f := range pending {
		rows = append(rows, tg.ButtonRow(
			tg.InlineButton(fmt.Sprintf("🗑 %s", f.FileName), fmt.Sprintf("file_rm_%d", i)),
		))
	}

	keyboard := tg.InlineKeyboard(rows...)
	text := sb.String()

	if edit && messageID != 0 {
		b.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:      chatID,
			MessageID:   messageID,
			Text:        text,
			ParseMode:   models.ParseModeMarkdownV1,
			ReplyMarkup: keyboard,
		})
	} else {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      chatID,
			Text:        text,
			ParseMode:   models.ParseModeMarkdownV1,
			ReplyMarkup: keyboard,
		})
	}
}

func (h *Handler) handleFileRemove(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: update.CallbackQuery.ID})

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	chatID := callbackChatID(update)
	if chatID == 0 {
		return
	}

	index, err := strconv.Atoi(strings.TrimPrefix(update.CallbackQuery.Data, "file_rm_"))
	if err != nil {
		return
	}

	sess := h.sessions.Session(chatID, user)
	sess.RemoveAttachment(index)

	h.sendFilesList(ctx, b, chatID, user, true, callbackMessageID(update))
}
