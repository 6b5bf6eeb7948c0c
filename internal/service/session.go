package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mindfold/tutorbot/internal/config"
	"github.com/mindfold/tutorbot/internal/domain"
)

// ConversationStore is the slice of the store adapter the session manager
// needs. *repository.Conversations satisfies it.
type ConversationStore interface {
	Create(ctx context.Context, ownerID int64, mode domain.Mode, title string, turns []domain.Turn) (*domain.Conversation, error)
	UpdateMessages(ctx context.Context, id uuid.UUID, turns []domain.Turn) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOwner(ctx context.Context, ownerID int64) ([]domain.Conversation, error)
}

// ConversationWatcher is the store's change feed: a live per-owner stream of
// list snapshots, closed when ctx is cancelled.
type ConversationWatcher interface {
	Watch(ctx context.Context, ownerID int64) <-chan []domain.Conversation
}

// ReplyClient is the generative endpoint boundary.
type ReplyClient interface {
	SummarizeTitle(ctx context.Context, text string) (string, error)
	GenerateReply(ctx context.Context, parts []PromptPart) (string, domain.TokenUsage, error)
}

// UsageRecorder persists one ledger row per successful reply.
type UsageRecorder interface {
	Record(ctx context.Context, rec domain.UsageRecord) error
}

// SessionManager owns the in-memory chat sessions, one per Telegram chat.
// All persistence and intelligence is delegated: the manager only mediates
// between user input, the store and the reply client.
type SessionManager struct {
	store   ConversationStore
	watcher ConversationWatcher
	replier ReplyClient
	usage   UsageRecorder
	model   string

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewSessionManager(store ConversationStore, watcher ConversationWatcher, replier ReplyClient, usage UsageRecorder, model string) *SessionManager {
	return &SessionManager{
		store:    store,
		watcher:  watcher,
		replier:  replier,
		usage:    usage,
		model:    model,
		sessions: make(map[int64]*Session),
	}
}

// Session returns the chat's session, creating a fresh one (greeting only)
// and starting its conversation-list watcher on first use.
func (m *SessionManager) Session(chatID int64, owner *domain.Principal) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[chatID]; ok {
		s.touch()
		return s
	}

	s := &Session{chatID: chatID, owner: owner, mgr: m, mode: domain.ModeSocratic, lastSeen: time.Now()}
	s.startNewLocked()
	m.sessions[chatID] = s

	if m.watcher != nil {
		wctx, cancel := context.WithCancel(context.Background())
		s.cancelWatch = cancel
		go s.consumeWatch(m.watcher.Watch(wctx, owner.ID))
	}
	return s
}

// EvictIdle drops sessions idle longer than maxIdle and cancels their
// watchers. Sessions with a reply in flight are skipped.
func (m *SessionManager) EvictIdle(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for chatID, s := range m.sessions {
		if s.Awaiting() || s.idleFor() < maxIdle {
			continue
		}
		s.stopWatch()
		delete(m.sessions, chatID)
		evicted++
	}
	return evicted
}

// Close tears down every session's watcher. Called on shutdown.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for chatID, s := range m.sessions {
		s.stopWatch()
		delete(m.sessions, chatID)
	}
}

// Session is the per-chat view state: the active conversation (or an unsaved
// fresh one), the visible turns, pending attachments and the awaiting-reply
// flag. Fresh state is activeID == uuid.Nil.
type Session struct {
	chatID int64
	owner  *domain.Principal
	mgr    *SessionManager

	mu          sync.Mutex
	mode        domain.Mode
	activeID    uuid.UUID
	title       string
	turns       []domain.Turn
	baseline    int    // leading local-only turns (greeting/placeholder), excluded from persistence
	epoch       uint64 // bumped whenever the view is replaced; in-flight sends check it before applying results
	pending     []domain.Attachment
	awaiting    bool
	list        []domain.Conversation
	lastSend    time.Time
	lastSeen    time.Time
	cancelWatch context.CancelFunc
}

// SendResult reports what one send produced.
type SendResult struct {
	Reply          string
	Title          string
	Created        bool
	ConversationID uuid.UUID
	Usage          domain.TokenUsage
}

// StartNew resets to an unsaved conversation holding only the mode greeting.
// No store side effect.
func (s *Session) StartNew() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startNewLocked()
}

func (s *Session) startNewLocked() {
	s.epoch++
	s.activeID = uuid.Nil
	s.title = ""
	s.pending = nil
	s.turns = []domain.Turn{{Role: domain.RoleModel, Text: greetingFor(s.mode)}}
	s.baseline = 1
}

// SetMode switches tutoring style. Changing mode abandons the current view
// and starts a fresh session; re-selecting the active mode is a no-op.
func (s *Session) SetMode(mode domain.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == mode {
		return
	}
	s.mode = mode
	s.startNewLocked()
}

// Load shows an existing conversation from the subscribed list. Never
// mutates the store.
func (s *Session) Load(conv domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.activeID = conv.ID
	s.title = conv.Title
	if conv.Mode != "" {
		s.mode = conv.Mode
	}
	s.pending = nil
	if len(conv.Turns) > 0 {
		s.turns = append([]domain.Turn(nil), conv.Turns...)
		s.baseline = 0
	} else {
		s.turns = []domain.Turn{{Role: domain.RoleModel, Text: config.EmptyConversationNote}}
		s.baseline = 1
	}
}

// Delete removes a conversation from the store. Deletion is not optimistic:
// local state changes only after the store confirms, and only when the
// deleted conversation was the active one.
func (s *Session) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.mgr.store.Delete(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == id {
		s.startNewLocked()
	}
	return nil
}

// Attach filters candidates to the accepted MIME type and appends survivors
// to the pending list, accumulating across calls. Rejected files are dropped
// without surfacing an error. Returns how many were accepted.
func (s *Session) Attach(files ...domain.Attachment) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := 0
	for _, f := range files {
		if f.MIMEType != config.AcceptedAttachmentMIME {
			slog.Debug("attachment rejected", "file", f.FileName, "mime", f.MIMEType)
			continue
		}
		if len(s.pending) >= config.MaxPendingAttachments {
			slog.Debug("attachment dropped, pending list full", "file", f.FileName)
			continue
		}
		s.pending = append(s.pending, f)
		accepted++
	}
	return accepted
}

// RemoveAttachment drops the pending attachment at index. Out-of-range is a
// no-op; the bool reports whether anything was removed.
func (s *Session) RemoveAttachment(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.pending) {
		return false
	}
	s.pending = append(s.pending[:index], s.pending[index+1:]...)
	return true
}

// Send runs one full user turn: optimistic local echo, lazy creation of the
// backing record on first send, reply generation with inline attachment
// payloads, and persistence of the updated turn list. Preconditions that do
// not hold return sentinel errors without touching any state.
func (s *Session) Send(ctx context.Context, text string) (*SendResult, error) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	if s.owner == nil {
		s.mu.Unlock()
		return nil, domain.ErrNoPrincipal
	}
	if s.awaiting {
		s.mu.Unlock()
		return nil, domain.ErrBusy
	}
	if text == "" && len(s.pending) == 0 {
		s.mu.Unlock()
		return nil, domain.ErrEmptySend
	}

	// Capture and clear input atomically: later attaches or sends cannot
	// race with this in-flight one.
	atts := s.pending
	s.pending = nil
	userTurn := domain.Turn{Role: domain.RoleUser, Text: displayText(text, atts)}
	transcript := renderTranscript(s.turns)
	s.turns = append(s.turns, userTurn) // optimistic echo, kept on any failure
	s.awaiting = true
	fresh := s.activeID == uuid.Nil
	activeID := s.activeID
	mode := s.mode
	epoch := s.epoch
	persistedUser := append([]domain.Turn(nil), s.turns[s.baseline:]...)
	s.lastSeen = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.awaiting = false
		s.lastSend = time.Now()
		s.mu.Unlock()
	}()

	res := &SendResult{}

	if fresh {
		title := s.deriveTitle(ctx, text, len(atts) > 0)
		conv, err := s.mgr.store.Create(ctx, s.owner.ID, mode, title, []domain.Turn{userTurn})
		if err != nil {
			// The echoed turn stays visible but is unsaved; the caller
			// surfaces the failure.
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		activeID = conv.ID
		res.Created = true
		res.Title = title

		s.mu.Lock()
		// The view may have been replaced while Create was in flight (load
		// or reset). The record exists either way, but it becomes the
		// active one only if the session still shows this send.
		if s.epoch == epoch {
			s.activeID = conv.ID
			s.title = title
		}
		s.mu.Unlock()
	} else {
		if err := s.mgr.store.UpdateMessages(ctx, activeID, persistedUser); err != nil {
			return nil, fmt.Errorf("save user turn: %w", err)
		}
	}
	res.ConversationID = activeID

	parts := []PromptPart{TextPart(buildPrompt(mode, transcript, text))}
	for _, a := range atts {
		parts = append(parts, BlobPart(a.Data, a.MIMEType))
	}

	rctx, cancel := context.WithTimeout(ctx, config.RequestTimeout)
	defer cancel()

	reply, usage, err := s.mgr.replier.GenerateReply(rctx, parts)
	if err != nil {
		// No model turn is appended and the record keeps only what was
		// written above.
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	modelTurn := domain.Turn{Role: domain.RoleModel, Text: reply}

	s.mu.Lock()
	// A load, reset or watch snapshot may have replaced the view while the
	// reply was in flight; the model turn joins the view only if the
	// session still shows this send.
	if s.epoch == epoch {
		s.turns = append(s.turns, modelTurn)
	}
	s.mu.Unlock()

	// The record always gets its completed exchange, built from the turns
	// this send captured, never from a view that may have moved on.
	if err := s.mgr.store.UpdateMessages(ctx, activeID, append(persistedUser, modelTurn)); err != nil {
		slog.Error("save model turn", "error", err, "conversation_id", activeID)
	}

	s.recordUsage(ctx, activeID, usage)

	res.Reply = reply
	res.Usage = usage
	return res, nil
}

func (s *Session) deriveTitle(ctx context.Context, text string, hasAttachments bool) string {
	if text == "" {
		if hasAttachments {
			return config.FallbackTitleAttachments
		}
		return config.FallbackTitleGeneric
	}

	title, err := s.mgr.replier.SummarizeTitle(ctx, text)
	if err != nil {
		// Title derivation failure must not abort persistence.
		slog.Warn("title derivation failed", "error", err)
		return fallbackTitle(text)
	}
	if strings.TrimSpace(title) == "" {
		return fallbackTitle(text)
	}
	return title
}

func (s *Session) recordUsage(ctx context.Context, conversationID uuid.UUID, usage domain.TokenUsage) {
	if s.mgr.usage == nil {
		return
	}
	rec := domain.UsageRecord{
		PrincipalID:      s.owner.ID,
		ConversationID:   conversationID,
		Model:            s.mgr.model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Cost:             CalculateCost(usage.PromptTokens, usage.CompletionTokens, config.PromptPricePerMTok, config.CompletionPricePerMTok),
	}
	if err := s.mgr.usage.Record(ctx, rec); err != nil {
		slog.Error("record usage", "error", err)
	}
}

// consumeWatch applies list snapshots until the feed closes.
func (s *Session) consumeWatch(ch <-chan []domain.Conversation) {
	for list := range ch {
		s.applySnapshot(list)
	}
}

// applySnapshot replaces the cached conversation list. If the active
// conversation disappeared (deleted from another client), the session falls
// back to a fresh one instead of keeping a dangling reference.
func (s *Session) applySnapshot(list []domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.list = list
	if s.activeID == uuid.Nil {
		return
	}
	for _, c := range list {
		if c.ID == s.activeID {
			return
		}
	}
	slog.Info("active conversation vanished from list, resetting", "conversation_id", s.activeID)
	s.startNewLocked()
}

// Accessors return copies; session state is never shared by reference.

func (s *Session) Mode() domain.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// ActiveID returns uuid.Nil while the session is unsaved.
func (s *Session) ActiveID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

func (s *Session) Turns() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Turn(nil), s.turns...)
}

func (s *Session) Pending() []domain.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Attachment(nil), s.pending...)
}

// Conversations returns the latest watched list snapshot.
func (s *Session) Conversations() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Conversation(nil), s.list...)
}

func (s *Session) Awaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaiting
}

func (s *Session) LastSend() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSend
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
}

func (s *Session) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastSeen)
}

func (s *Session) stopWatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelWatch != nil {
		s.cancelWatch()
		s.cancelWatch = nil
	}
}

// displayText is what goes into the user turn: the typed text followed by a
// newline-joined listing of attachment filenames.
func displayText(text string, atts []domain.Attachment) string {
	if len(atts) == 0 {
		return text
	}
	names := make([]string, len(atts))
	for i, a := range atts {
		names[i] = a.FileName
	}
	listing := strings.Join(names, "\n")
	if text == "" {
		return listing
	}
	return text + "\n" + listing
}

// renderTranscript renders turns as "User:"/"Model:" lines for the prompt.
func renderTranscript(turns []domain.Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		speaker := "Model"
		if t.Role == domain.RoleUser {
			speaker = "User"
		}
		lines[i] = speaker + ": " + t.Text
	}
	return strings.Join(lines, "\n")
}

func buildPrompt(mode domain.Mode, transcript, text string) string {
	return instructionFor(mode) +
		"\n\nThe conversation so far:\n" + transcript +
		"\nUser: " + text +
		"\nModel:"
}

func instructionFor(mode domain.Mode) string {
	if mode == domain.ModeDebate {
		return config.DebateInstruction
	}
	return config.SocraticInstruction
}

func greetingFor(mode domain.Mode) string {
	if mode == domain.ModeDebate {
		return config.GreetingDebate
	}
	return config.GreetingSocratic
}

func fallbackTitle(text string) string {
	runes := []rune(text)
	if len(runes) > config.TitleMaxLen {
		text = string(runes[:config.TitleMaxLen])
	}
	if strings.TrimSpace(text) == "" {
		return config.FallbackTitleGeneric
	}
	return text
}
