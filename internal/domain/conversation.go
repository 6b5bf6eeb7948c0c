package domain

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects the tutoring style of a conversation.
type Mode string

const (
	ModeSocratic Mode = "socratic"
	ModeDebate   Mode = "debate"
)

// Turn roles. There are exactly two speakers.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one message in a conversation. Immutable once appended; the slice
// index is the sole ordering key.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Conversation is a persisted, titled sequence of turns owned by one
// principal. The owner never changes after creation and the title is set
// exactly once, when the record is created.
type Conversation struct {
	ID        uuid.UUID
	OwnerID   int64
	Mode      Mode
	Title     string
	Turns     []Turn
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attachment is a user-supplied file held only in session memory. Its bytes
// go inline into exactly one model call; only the filename survives into the
// persisted turn text.
type Attachment struct {
	FileName string
	MIMEType string
	Data     []byte
}
