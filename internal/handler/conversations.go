package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/mindfold/tutorbot/internal/config"
	"github.com/mindfold/tutorbot/internal/domain"
	"github.com/mindfold/tutorbot/internal/middleware"
	tg "github.com/mindfold/tutorbot/internal/telegram"
)

func (h *Handler) handleNew(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Chat.Type != "private" {
		return
	}

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	chatID := update.Message.Chat.ID
	sess := h.sessions.Session(chatID, user)
	sess.StartNew()

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   sess.Turns()[0].Text,
	})
}

func (h *Handler) handleChats(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Chat.Type != "private" {
		return
	}

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	chatID := update.Message.Chat.ID
	h.sendConversationsPage(ctx, b, chatID, user, 0, false, 0)
}

// sendConversationsPage renders one page of the conversation list. The list
// comes from the session's watched snapshot when available, falling back to a
// direct store read.
func (h *Handler) sendConversationsPage(ctx context.Context, b *bot.Bot, chatID int64, user *domain.Principal, page int, edit bool, messageID int) {
	sess := h.sessions.Session(chatID, user)

	list := sess.Conversations()
	if list == nil {
		var err error
		list, err = h.store.ListByOwner(ctx, user.ID)
		if err != nil {
			slog.Error("list conversations", "error", err)
			return
		}
	}

	totalPages := int(math.Ceil(float64(len(list)) / float64(config.ConversationsPerPage)))
	if totalPages == 0 {
		totalPages = 1
	}
	if page >= totalPages {
		page = totalPages - 1
	}
	if page < 0 {
		page = 0
	}

	start := page * config.ConversationsPerPage
	end := start + config.ConversationsPerPage
	if end > len(list) {
		end = len(list)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📂 *Conversations* (%d)\n\n", len(list)))
	if len(list) == 0 {
		sb.WriteString("Nothing saved yet. Your first message starts one.")
	} else {
		sb.WriteString("Tap to resume, 🗑 to delete.")
	}

	activeID := sess.ActiveID()
	var rows [][]models.InlineKeyboardButton
	for _, c := range list[start:end] {
		label := c.Title
		if label == "" {
			label = c.CreatedAt.Format("02.01 15:04")
		}
		if c.ID == activeID {
			label = "✅ " + label
		}
		rows = append(rows, tg.ButtonRow(
			tg.InlineButton(label, "conv_open_"+c.ID.String()),
			tg.InlineButton("🗑", "conv_del_"+c.ID.String()),
		))
	}

	rows = append(rows, tg.ButtonRow(tg.InlineButton("➕ New conversation", "new_conversation")))

	if totalPages > 1 {
		rows = append(rows, tg.PaginationRow(page, totalPages, "conv_page"))
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

func (h *Handler) handleConversationOpen(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: update.CallbackQuery.ID})

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	id, err := uuid.Parse(strings.TrimPrefix(update.CallbackQuery.Data, "conv_open_"))
	if err != nil {
		return
	}

	chatID := callbackChatID(update)
	if chatID == 0 {
		return
	}

	sess := h.sessions.Session(chatID, user)

	conv := findConversation(sess.Conversations(), id)
	if conv == nil {
		stored, err := h.store.GetByID(ctx, id)
		if err != nil {
			slog.Error("load conversation", "error", err, "conversation_id", id)
			b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: chatID,
				Text:   "❌ That conversation no longer exists.",
			})
			return
		}
		conv = stored
	}
	if conv.OwnerID != user.ID {
		return
	}

	sess.Load(*conv)

	title := conv.Title
	if title == "" {
		title = config.FallbackTitleGeneric
	}
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   fmt.Sprintf("📖 Resumed: %s", title),
	})

	tail := sess.Turns()
	if len(tail) > config.LoadedTurnsShown {
		tail = tail[len(tail)-config.LoadedTurnsShown:]
	}
	tg.SendLongMessage(ctx, b, chatID, renderTail(tail))
}

func (h *Handler) handleConversationDelete(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: update.CallbackQuery.ID})

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	id, err := uuid.Parse(strings.TrimPrefix(update.CallbackQuery.Data, "conv_del_"))
	if err != nil {
		return
	}

	chatID := callbackChatID(update)
	if chatID == 0 {
		return
	}

	sess := h.sessions.Session(chatID, user)
	if err := sess.Delete(ctx, id); err != nil {
		slog.Error("delete conversation", "error", err, "conversation_id", id)
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "❌ Couldn't delete the conversation.",
		})
		return
	}

	h.sendConversationsPage(ctx, b, chatID, user, 0, true, callbackMessageID(update))
}

func (h *Handler) handleConversationsPage(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: update.CallbackQuery.ID})

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	page, _ := strconv.Atoi(strings.TrimPrefix(update.CallbackQuery.Data, "conv_page_"))

	chatID := callbackChatID(update)
	if chatID == 0 {
		return
	}

	h.sendConversationsPage(ctx, b, chatID, user, page, true, callbackMessageID(update))
}

func (h *Handler) handleNewConversation(ctx context.Context, b *bot.Bot, update *models.Update) {
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

	sess := h.sessions.Session(chatID, user)
	sess.StartNew()

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   sess.Turns()[0].Text,
	})
}

func callbackChatID(update *models.Update) int64 {
	if msg := update.CallbackQuery.Message.Message; msg != nil {
		return msg.Chat.ID
	}
	return 0
}

func callbackMessageID(update *models.Update) int {
	if msg := update.CallbackQuery.Message.Message; msg != nil {
		return msg.ID
	}
	return 0
}

func findConversation(list []domain.Conversation, id uuid.UUID) *domain.Conversation {
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}

// renderTail renders the loaded transcript tail for display.
func renderTail(turns []domain.Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		prefix := "🤖"
		if t.Role == domain.RoleUser {
			prefix = "👤"
		}
		lines[i] = prefix + " " + t.Text
	}
	return strings.Join(lines, "\n\n")
}
