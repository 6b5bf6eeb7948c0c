package domain

import "time"

// Principal is the authenticated identity behind a chat. It is created by
// the identity gate (the Telegram user loader) and read-only everywhere else.
type Principal struct {
	ID         int64
	TelegramID int64
	FirstName  string
	Username   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
