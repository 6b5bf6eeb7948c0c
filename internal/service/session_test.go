package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfold/tutorbot/internal/config"
	"github.com/mindfold/tutorbot/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	convs   map[uuid.UUID]*domain.Conversation
	creates int

	createErr error
	updateErr error
	deleteErr error

	// onCreate runs after a successful create, before it returns. Lets a
	// test interleave session operations with an in-flight first send.
	onCreate func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{convs: map[uuid.UUID]*domain.Conversation{}}
}

func (f *fakeStore) Create(ctx context.Context, ownerID int64, mode domain.Mode, title string, turns []domain.Turn) (*domain.Conversation, error) {
	f.mu.Lock()
	if f.createErr != nil {
		f.mu.Unlock()
		return nil, f.createErr
	}
	f.creates++
	conv := &domain.Conversation{
		ID:      uuid.New(),
		OwnerID: ownerID,
		Mode:    mode,
		Title:   title,
		Turns:   append([]domain.Turn(nil), turns...),
	}
	f.convs[conv.ID] = conv
	hook := f.onCreate
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return conv, nil
}

func (f *fakeStore) UpdateMessages(ctx context.Context, id uuid.UUID, turns []domain.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	conv, ok := f.convs[id]
	if !ok {
		return domain.ErrConversationNotFound
	}
	conv.Turns = append([]domain.Turn(nil), turns...)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.convs, id)
	return nil
}

func (f *fakeStore) ListByOwner(ctx context.Context, ownerID int64) ([]domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Conversation
	for _, c := range f.convs {
		if c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) stored(id uuid.UUID) *domain.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convs[id]
}

type fakeReplier struct {
	title    string
	titleErr error
	reply    string
	replyErr error
	usage    domain.TokenUsage

	mu        sync.Mutex
	gotParts  []PromptPart
	onReply   func()
	titleCnt  int
	replyCnt  int
}

func (f *fakeReplier) SummarizeTitle(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	f.titleCnt++
	f.mu.Unlock()
	return f.title, f.titleErr
}

func (f *fakeReplier) GenerateReply(ctx context.Context, parts []PromptPart) (string, domain.TokenUsage, error) {
	f.mu.Lock()
	f.replyCnt++
	f.gotParts = append([]PromptPart(nil), parts...)
	hook := f.onReply
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return f.reply, f.usage, f.replyErr
}

type fakeUsage struct {
	mu   sync.Mutex
	recs []domain.UsageRecord
}

func (f *fakeUsage) Record(ctx context.Context, rec domain.UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func testOwner() *domain.Principal {
	return &domain.Principal{ID: 1, TelegramID: 100, FirstName: "Ada"}
}

func newTestManager(store *fakeStore, replier *fakeReplier, usage *fakeUsage) *SessionManager {
	var rec UsageRecorder
	if usage != nil {
		rec = usage
	}
	return NewSessionManager(store, nil, replier, rec, "gemini-2.5-flash")
}

func pdf(name string) domain.Attachment {
	return domain.Attachment{FileName: name, MIMEType: "application/pdf", Data: []byte("%PDF-1.4")}
}

func TestSessionStartsFreshWithGreeting(t *testing.T) {
	m := newTestManager(newFakeStore(), &fakeReplier{}, nil)
	s := m.Session(10, testOwner())

	assert.Equal(t, uuid.Nil, s.ActiveID())
	turns := s.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, domain.RoleModel, turns[0].Role)
	assert.Equal(t, config.GreetingSocratic, turns[0].Text)
}

func TestSendEmptyIsNoOp(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, &fakeReplier{}, nil)
	s := m.Session(10, testOwner())

	_, err := s.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrEmptySend)
	assert.Equal(t, 0, store.creates)
	assert.Len(t, s.Turns(), 1)
}

func TestFirstSendCreatesConversationOnce(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{title: "Photosynthesis Basics", reply: "What do plants need to grow?"}
	usage := &fakeUsage{}
	m := newTestManager(store, replier, usage)
	s := m.Session(10, testOwner())

	res, err := s.Send(context.Background(), "How does photosynthesis work?")
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, "Photosynthesis Basics", res.Title)
	assert.Equal(t, 1, store.creates)
	assert.Equal(t, 1, replier.titleCnt)
	assert.Equal(t, res.ConversationID, s.ActiveID())

	// Greeting stays visible locally but is never persisted.
	stored := store.stored(res.ConversationID)
	require.NotNil(t, stored)
	require.Len(t, stored.Turns, 2)
	assert.Equal(t, domain.RoleUser, stored.Turns[0].Role)
	assert.Equal(t, "How does photosynthesis work?", stored.Turns[0].Text)
	assert.Equal(t, domain.RoleModel, stored.Turns[1].Role)

	// Locally: greeting + user + model.
	assert.Len(t, s.Turns(), 3)

	// Second send updates, never creates again.
	_, err = s.Send(context.Background(), "They need light?")
	require.NoError(t, err)
	assert.Equal(t, 1, store.creates)
	assert.Len(t, store.stored(res.ConversationID).Turns, 4)
}

func TestSendTitleFailureFallsBackAndStillCreates(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{titleErr: errors.New("boom"), reply: "ok"}
	m := newTestManager(store, replier, nil)
	s := m.Session(10, testOwner())

	res, err := s.Send(context.Background(), "Why is the sky blue?")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "Why is the sky blue?", res.Title)
	assert.Equal(t, 1, store.creates)
}

func TestSendAttachmentsOnlyUsesPDFTitle(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{reply: "This paper argues..."}
	m := newTestManager(store, replier, nil)
	s := m.Session(10, testOwner())

	require.Equal(t, 1, s.Attach(pdf("paper.pdf")))

	res, err := s.Send(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, config.FallbackTitleAttachments, res.Title)
	assert.Equal(t, 0, replier.titleCnt)

	// The user turn shows the filename; the prompt carried the blob.
	stored := store.stored(res.ConversationID)
	require.NotNil(t, stored)
	assert.Equal(t, "paper.pdf", stored.Turns[0].Text)

	require.Len(t, replier.gotParts, 2)
	assert.Empty(t, replier.gotParts[0].Data)
	assert.Equal(t, "application/pdf", replier.gotParts[1].MIMEType)

	// Pending was consumed by the send.
	assert.Empty(t, s.Pending())
}

func TestSendReplyFailureKeepsEchoDropsModelTurn(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{title: "T", replyErr: errors.New("rate limited by Gemini (429)")}
	m := newTestManager(store, replier, nil)
	s := m.Session(10, testOwner())

	_, err := s.Send(context.Background(), "hello")
	require.Error(t, err)

	// Echo survives, no model turn appended anywhere.
	turns := s.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleUser, turns[1].Role)

	id := s.ActiveID()
	require.NotEqual(t, uuid.Nil, id)
	stored := store.stored(id)
	require.Len(t, stored.Turns, 1)

	// The session is usable again afterwards.
	assert.False(t, s.Awaiting())
}

func TestSendCreateFailureLeavesFresh(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("db down")
	replier := &fakeReplier{title: "T", reply: "ok"}
	m := newTestManager(store, replier, nil)
	s := m.Session(10, testOwner())

	_, err := s.Send(context.Background(), "hello")
	require.Error(t, err)

	assert.Equal(t, uuid.Nil, s.ActiveID())
	assert.Len(t, s.Turns(), 2) // greeting + unsaved echo
	assert.Equal(t, 0, replier.replyCnt)
}

func TestSendRejectsConcurrent(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{title: "T", reply: "ok"}
	m := newTestManager(store, replier, nil)
	s := m.Session(10, testOwner())

	replier.onReply = func() {
		_, err := s.Send(context.Background(), "second")
		assert.ErrorIs(t, err, domain.ErrBusy)
	}

	_, err := s.Send(context.Background(), "first")
	require.NoError(t, err)
	assert.Equal(t, 1, replier.replyCnt)
}

func TestSendFirstCreateRaceWithLoadLeavesViewAlone(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{title: "T", reply: "model answer"}
	m := newTestManager(store, replier, nil)
	s := m.Session(10, testOwner())

	convB, err := store.Create(context.Background(), 1, domain.ModeSocratic, "B", []domain.Turn{
		{Role: domain.RoleUser, Text: "B question"},
		{Role: domain.RoleModel, Text: "B answer"},
	})
	require.NoError(t, err)

	// The user opens another conversation while the first send's create is
	// still in flight.
	store.onCreate = func() { s.Load(*convB) }

	res, err := s.Send(context.Background(), "first message")
	require.NoError(t, err)
	require.True(t, res.Created)

	// The new record holds only this send's exchange, not the loaded view.
	created := store.stored(res.ConversationID)
	require.NotNil(t, created)
	require.Len(t, created.Turns, 2)
	assert.Equal(t, "first message", created.Turns[0].Text)
	assert.Equal(t, "model answer", created.Turns[1].Text)

	// The loaded conversation stays active and untouched.
	assert.Equal(t, convB.ID, s.ActiveID())
	assert.Equal(t, "B", s.Title())
	assert.Len(t, s.Turns(), 2)
	assert.Len(t, store.stored(convB.ID).Turns, 2)
}

func TestSendFirstCreateRaceWithResetLeavesViewAlone(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{title: "T", reply: "model answer"}
	m := newTestManager(store, replier, nil)
	s := m.Session(10, testOwner())

	store.onCreate = func() { s.StartNew() }

	res, err := s.Send(context.Background(), "first message")
	require.NoError(t, err)

	// The session stays fresh; the record still gets the full exchange.
	assert.Equal(t, uuid.Nil, s.ActiveID())
	assert.Len(t, s.Turns(), 1)
	require.Len(t, store.stored(res.ConversationID).Turns, 2)
}

func TestAttachFiltersAndCaps(t *testing.T) {
	m := newTestManager(newFakeStore(), &fakeReplier{}, nil)
	s := m.Session(10, testOwner())

	accepted := s.Attach(
		pdf("a.pdf"),
		domain.Attachment{FileName: "b.png", MIMEType: "image/png"},
		pdf("c.pdf"),
	)
	assert.Equal(t, 2, accepted)
	require.Len(t, s.Pending(), 2)
	assert.Equal(t, "a.pdf", s.Pending()[0].FileName)

	for i := 0; i < config.MaxPendingAttachments; i++ {
		s.Attach(pdf("x.pdf"))
	}
	assert.Len(t, s.Pending(), config.MaxPendingAttachments)
}

func TestRemoveAttachment(t *testing.T) {
	m := newTestManager(newFakeStore(), &fakeReplier{}, nil)
	s := m.Session(10, testOwner())
	s.Attach(pdf("a.pdf"), pdf("b.pdf"))

	assert.False(t, s.RemoveAttachment(5))
	assert.False(t, s.RemoveAttachment(-1))
	assert.True(t, s.RemoveAttachment(0))

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "b.pdf", pending[0].FileName)
}

func TestSetModeResetsOnlyOnChange(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{title: "T", reply: "ok"}
	m := newTestManager(store, replier, nil)
	s := m.Session(10, testOwner())

	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	id := s.ActiveID()

	s.SetMode(domain.ModeSocratic) // already active
	assert.Equal(t, id, s.ActiveID())

	s.SetMode(domain.ModeDebate)
	assert.Equal(t, uuid.Nil, s.ActiveID())
	turns := s.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, config.GreetingDebate, turns[0].Text)
}

func TestLoadThenSendAppends(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{reply: "And why do you think that?"}
	m := newTestManager(store, replier, nil)
	s := m.Session(10, testOwner())

	conv, err := store.Create(context.Background(), 1, domain.ModeDebate, "Free will", []domain.Turn{
		{Role: domain.RoleUser, Text: "Free will is an illusion."},
		{Role: domain.RoleModel, Text: "Define illusion."},
	})
	require.NoError(t, err)

	s.Load(*conv)
	assert.Equal(t, conv.ID, s.ActiveID())
	assert.Equal(t, domain.ModeDebate, s.Mode())
	assert.Len(t, s.Turns(), 2)

	_, err = s.Send(context.Background(), "Something unverifiable.")
	require.NoError(t, err)

	// All loaded turns persist plus the new exchange; no second create.
	assert.Equal(t, 1, store.creates)
	assert.Len(t, store.stored(conv.ID).Turns, 4)
}

func TestLoadIsIdempotent(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, &fakeReplier{}, nil)
	s := m.Session(10, testOwner())

	conv, err := store.Create(context.Background(), 1, domain.ModeSocratic, "Recursion", []domain.Turn{
		{Role: domain.RoleUser, Text: "What is recursion?"},
		{Role: domain.RoleModel, Text: "What happens when a function calls itself?"},
	})
	require.NoError(t, err)

	s.Load(*conv)
	first := s.Turns()

	s.StartNew()
	s.Load(*conv)

	assert.Equal(t, first, s.Turns())
}

func TestLoadEmptyConversationShowsPlaceholder(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{reply: "ok"}
	m := newTestManager(store, replier, nil)
	s := m.Session(10, testOwner())

	conv, err := store.Create(context.Background(), 1, domain.ModeSocratic, "Empty", nil)
	require.NoError(t, err)

	s.Load(*conv)
	turns := s.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, config.EmptyConversationNote, turns[0].Text)

	// The placeholder is local-only: the first real send persists one turn.
	_, err = s.Send(context.Background(), "hello")
	require.NoError(t, err)
	stored := store.stored(conv.ID)
	require.Len(t, stored.Turns, 2)
	assert.Equal(t, "hello", stored.Turns[0].Text)
}

func TestDeleteActiveResetsSession(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{title: "T", reply: "ok"}
	m := newTestManager(store, replier, nil)
	s := m.Session(10, testOwner())

	res, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), res.ConversationID))
	assert.Nil(t, store.stored(res.ConversationID))
	assert.Equal(t, uuid.Nil, s.ActiveID())
	assert.Len(t, s.Turns(), 1)
}

func TestDeleteNonActiveKeepsView(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{title: "T", reply: "ok"}
	m := newTestManager(store, replier, nil)
	s := m.Session(10, testOwner())

	other, err := store.Create(context.Background(), 1, domain.ModeSocratic, "Other", nil)
	require.NoError(t, err)

	res, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), other.ID))
	assert.Equal(t, res.ConversationID, s.ActiveID())
	assert.Len(t, s.Turns(), 3)
}

func TestDeleteStoreFailureKeepsState(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{title: "T", reply: "ok"}
	m := newTestManager(store, replier, nil)
	s := m.Session(10, testOwner())

	res, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)

	store.deleteErr = errors.New("db down")
	require.Error(t, s.Delete(context.Background(), res.ConversationID))
	assert.Equal(t, res.ConversationID, s.ActiveID())
}

func TestApplySnapshotResetsDanglingActive(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{title: "T", reply: "ok"}
	m := newTestManager(store, replier, nil)
	s := m.Session(10, testOwner())

	res, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)

	// Snapshot still contains the active conversation: view is kept.
	s.applySnapshot([]domain.Conversation{{ID: res.ConversationID}})
	assert.Equal(t, res.ConversationID, s.ActiveID())

	// Active conversation deleted elsewhere: session falls back to fresh.
	s.applySnapshot([]domain.Conversation{})
	assert.Equal(t, uuid.Nil, s.ActiveID())
	assert.Len(t, s.Turns(), 1)
}

func TestSendRecordsUsage(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{
		title: "T",
		reply: "ok",
		usage: domain.TokenUsage{PromptTokens: 120, CompletionTokens: 45},
	}
	usage := &fakeUsage{}
	m := newTestManager(store, replier, usage)
	s := m.Session(10, testOwner())

	res, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)

	require.Len(t, usage.recs, 1)
	rec := usage.recs[0]
	assert.Equal(t, int64(1), rec.PrincipalID)
	assert.Equal(t, res.ConversationID, rec.ConversationID)
	assert.Equal(t, 120, rec.PromptTokens)
	assert.Equal(t, 45, rec.CompletionTokens)
	assert.True(t, rec.Cost.IsPositive())
}

func TestManagerReusesSessionPerChat(t *testing.T) {
	m := newTestManager(newFakeStore(), &fakeReplier{}, nil)
	owner := testOwner()

	s1 := m.Session(10, owner)
	s2 := m.Session(10, owner)
	s3 := m.Session(11, owner)

	assert.Same(t, s1, s2)
	assert.NotSame(t, s1, s3)
}

func TestEvictIdleSkipsAwaiting(t *testing.T) {
	m := newTestManager(newFakeStore(), &fakeReplier{}, nil)
	s := m.Session(10, testOwner())
	m.Session(11, testOwner())

	s.mu.Lock()
	s.awaiting = true
	s.mu.Unlock()

	evicted := m.EvictIdle(0)
	assert.Equal(t, 1, evicted)

	// The awaiting session is still registered.
	assert.Same(t, s, m.Session(10, testOwner()))
}

func TestBuildPromptShape(t *testing.T) {
	transcript := "Model: hi\nUser: hello"
	p := buildPrompt(domain.ModeSocratic, transcript, "why?")

	assert.Contains(t, p, config.SocraticInstruction)
	assert.Contains(t, p, "The conversation so far:\n"+transcript)
	assert.True(t, strings.HasSuffix(p, "\nModel:"))
}

func TestDisplayText(t *testing.T) {
	atts := []domain.Attachment{pdf("a.pdf"), pdf("b.pdf")}

	assert.Equal(t, "hi\na.pdf\nb.pdf", displayText("hi", atts))
	assert.Equal(t, "a.pdf\nb.pdf", displayText("", atts))
	assert.Equal(t, "hi", displayText("hi", nil))
}

func TestFallbackTitleTruncates(t *testing.T) {
	got := fallbackTitle(strings.Repeat("abcde", 20))
	assert.Equal(t, config.TitleMaxLen, len([]rune(got)))

	assert.Equal(t, config.FallbackTitleGeneric, fallbackTitle("   "))
}
