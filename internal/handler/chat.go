package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/mindfold/tutorbot/internal/config"
	"github.com/mindfold/tutorbot/internal/domain"
	"github.com/mindfold/tutorbot/internal/middleware"
	"github.com/mindfold/tutorbot/internal/service"
	tg "github.com/mindfold/tutorbot/internal/telegram"
)

// HandleTextPrivate processes private text messages as tutor turns.
func (h *Handler) HandleTextPrivate(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Chat.Type != "private" {
		return
	}

	msg := update.Message
	if strings.HasPrefix(msg.Text, "/") {
		return
	}

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	chatID := msg.Chat.ID
	sess := h.sessions.Session(chatID, user)

	// Cooldown between sends
	if since := time.Since(sess.LastSend()); since < config.SendCooldown {
		remaining := config.SendCooldown - since
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   fmt.Sprintf("⏳ Wait %d seconds before the next message.", int(remaining.Seconds())+1),
		})
		return
	}

	h.runSend(ctx, b, chatID, sess, msg.Text)
}

// runSend drives one send through the session manager and reports the
// outcome in chat. Shared by the text and document paths.
func (h *Handler) runSend(ctx context.Context, b *bot.Bot, chatID int64, sess *service.Session, text string) {
	stopTyping := tg.StartTyping(ctx, b, chatID)
	defer stopTyping()

	statusMsg, _ := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "🤔 Thinking...",
	})

	res, err := sess.Send(ctx, text)
	if err != nil {
		h.reportSendError(ctx, b, chatID, statusMsg, err)
		return
	}

	if statusMsg != nil {
		b.DeleteMessage(ctx, &bot.DeleteMessageParams{
			ChatID:    chatID,
			MessageID: statusMsg.ID,
		})
	}

	if res.Created {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   fmt.Sprintf("📌 New conversation: %s", res.Title),
		})
	}

	if res.Reply == "" {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "🤷 The model returned an empty reply.",
		})
		return
	}

	tg.SendLongMessage(ctx, b, chatID, res.Reply)
}

func (h *Handler) reportSendError(ctx context.Context, b *bot.Bot, chatID int64, statusMsg *models.Message, err error) {
	switch {
	case errors.Is(err, domain.ErrEmptySend):
		// Nothing to do; the send was idempotently ignored.
		if statusMsg != nil {
			b.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: statusMsg.ID})
		}
		return
	case errors.Is(err, domain.ErrBusy):
		h.editOrSend(ctx, b, chatID, statusMsg, "⏳ Wait for the previous reply to finish.")
		return
	}

	slog.Error("send failed", "error", err, "chat_id", chatID)

	errText := "❌ Something went wrong while processing your message."
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		errText = "⏳ The model took too long to answer. Try again."
	case strings.Contains(err.Error(), "429"):
		errText = "⏳ Too many requests to the model. Try again later."
	case strings.Contains(err.Error(), "503"):
		errText = "❌ The model service is temporarily unavailable."
	case strings.Contains(err.Error(), "create conversation"),
		strings.Contains(err.Error(), "save user turn"):
		errText = "❌ Couldn't save the conversation. Your message is shown but not stored."
	}

	h.editOrSend(ctx, b, chatID, statusMsg, errText)
}

func (h *Handler) editOrSend(ctx context.Context, b *bot.Bot, chatID int64, statusMsg *models.Message, text string) {
	if statusMsg != nil {
		b.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:    chatID,
			MessageID: statusMsg.ID,
			Text:      text,
		})
		return
	}
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
}

// HandleDocumentPrivate accepts PDF documents as pending attachments. A
// caption turns the document message into an immediate send.
func (h *Handler) HandleDocumentPrivate(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Chat.Type != "private" || update.Message.Document == nil {
		return
	}

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	msg := update.Message
	chatID := msg.Chat.ID
	doc := msg.Document
	sess := h.sessions.Session(chatID, user)

	if doc.FileSize > config.MaxAttachmentSize {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "❌ File is too large to attach (20 MB limit).",
		})
		return
	}

	// Wrong declared type: dropped without a visible error, like any other
	// rejected attachment.
	if doc.MimeType != "" && doc.MimeType != config.AcceptedAttachmentMIME {
		slog.Debug("document rejected before download", "file", doc.FileName, "mime", doc.MimeType)
		return
	}

	data, err := tg.DownloadFile(ctx, b, doc.FileID, config.MaxAttachmentSize)
	if err != nil {
		slog.Error("download attachment", "error", err, "file", doc.FileName)
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "❌ Couldn't download the file from Telegram.",
		})
		return
	}

	accepted := sess.Attach(domain.Attachment{
		FileName: doc.FileName,
		MIMEType: tg.ResolveMIME(doc.MimeType, data),
		Data:     data,
	})
	if accepted == 0 {
		return
	}

	if caption := strings.TrimSpace(msg.Caption); caption != "" {
		h.runSend(ctx, b, chatID, sess, caption)
		return
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text: fmt.Sprintf("📎 %s attached (%d pending). It goes to the model with your next message. /files to manage.",
			doc.FileName, len(sess.Pending())),
	})
}
