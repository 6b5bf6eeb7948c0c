package middleware

import (
	"context"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
)

func TestRecoverSwallowsPanic(t *testing.T) {
	h := Recover()(func(ctx context.Context, b *bot.Bot, update *models.Update) {
		panic("boom")
	})

	message := &models.Update{ID: 7, Message: &models.Message{Chat: models.Chat{ID: 42}}}
	callback := &models.Update{ID: 8, CallbackQuery: &models.CallbackQuery{
		Message: models.MaybeInaccessibleMessage{Message: &models.Message{Chat: models.Chat{ID: 42}}},
	}}

	assert.NotPanics(t, func() { h(context.Background(), nil, message) })
	assert.NotPanics(t, func() { h(context.Background(), nil, callback) })
}

func TestRecoverPassesThrough(t *testing.T) {
	called := false
	h := Recover()(func(ctx context.Context, b *bot.Bot, update *models.Update) {
		called = true
	})

	h(context.Background(), nil, &models.Update{ID: 9})
	assert.True(t, called)
}
