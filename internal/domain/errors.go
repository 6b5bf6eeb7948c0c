package domain

import "errors"

var (
	ErrPrincipalNotFound    = errors.New("principal not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptySend            = errors.New("nothing to send")
	ErrBusy                 = errors.New("reply already in flight")
	ErrNoPrincipal          = errors.New("no authenticated principal")
)
