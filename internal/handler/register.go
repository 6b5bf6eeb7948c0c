package handler

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Register registers all command and callback handlers on the bot instance.
func (h *Handler) Register() {
	// Commands
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, h.handleStart)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/new", bot.MatchTypePrefix, h.handleNew)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/chats", bot.MatchTypePrefix, h.handleChats)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/files", bot.MatchTypePrefix, h.handleFiles)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/usage", bot.MatchTypePrefix, h.handleUsage)

	// Mode callbacks
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "mode_", bot.MatchTypePrefix, h.handleModeSelect)

	// Conversation list callbacks
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "conv_open_", bot.MatchTypePrefix, h.handleConversationOpen)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "conv_del_", bot.MatchTypePrefix, h.handleConversationDelete)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "conv_page_", bot.MatchTypePrefix, h.handleConversationsPage)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "new_conversation", bot.MatchTypePrefix, h.handleNewConversation)

	// Attachment callbacks
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "file_rm_", bot.MatchTypePrefix, h.handleFileRemove)

	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "cur", bot.MatchTypeExact, h.handleNoop)
}

func (h *Handler) handleNoop(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: update.CallbackQuery.ID})
}
