package handler

import (
	"github.com/go-telegram/bot"
	"github.com/mindfold/tutorbot/internal/config"
	"github.com/mindfold/tutorbot/internal/repository"
	"github.com/mindfold/tutorbot/internal/service"
)

// Handler holds all dependencies needed by command and callback handlers.
type Handler struct {
	bot      *bot.Bot
	cfg      *config.Config
	sessions *service.SessionManager
	store    *repository.Conversations
	usage    *repository.Usage
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Bot      *bot.Bot
	Cfg      *config.Config
	Sessions *service.SessionManager
	Store    *repository.Conversations
	Usage    *repository.Usage
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		bot:      deps.Bot,
		cfg:      deps.Cfg,
		sessions: deps.Sessions,
		store:    deps.Store,
		usage:    deps.Usage,
	}
}
