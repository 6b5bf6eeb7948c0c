package config

import "time"

const (
	// Cooldown between sends in one chat
	SendCooldown = 5 * time.Second

	// AI request timeouts
	RequestTimeout      = 90 * time.Second
	TitleRequestTimeout = 30 * time.Second

	// Postgres pool sizing
	DBMaxConns = 20
	DBMinConns = 5

	// Attachments: only PDFs are accepted, enforced client-side
	AcceptedAttachmentMIME = "application/pdf"
	MaxPendingAttachments  = 5
	MaxAttachmentSize      = 20 * 1024 * 1024 // Bot API download cap

	// Derived titles
	TitleMaxLen = 50

	// Conversation list paging
	ConversationsPerPage = 5

	// Transcript tail rendered when opening an old conversation
	LoadedTurnsShown = 6

	// Idle session eviction
	SessionIdleTimeout   = 30 * time.Minute
	SessionSweepInterval = 60 * time.Second

	// Rate limit (messages per minute per chat)
	RateLimitPerMinute = 6
	RateLimitBurst     = 3

	// gemini-2.5-flash pricing, USD per 1M tokens
	PromptPricePerMTok     = 0.30
	CompletionPricePerMTok = 2.50
)

// Fallback titles when derivation fails or there is nothing to summarize.
const (
	FallbackTitleAttachments = "PDF Analysis"
	FallbackTitleGeneric     = "New Conversation"
)

// Local-only turns shown at the start of a session. Never persisted.
const (
	GreetingSocratic = "Hi! I'm your thinking tutor. Ask me anything you'd " +
		"like to reason through — I'll guide you with questions instead of " +
		"handing you the answer."
	GreetingDebate = "State your position and defend it. I'll be playing " +
		"devil's advocate, so expect pushback."
	EmptyConversationNote = "(This conversation has no messages yet.)"
)

// TitlePrompt asks the model for a short conversation title.
const TitlePrompt = "Generate a single short title (at most 7 words) for the " +
	"following message. Reply with the title only, no quotes and no extra " +
	"commentary:\n%s"

// SocraticInstruction steers the model in guided-questioning mode.
const SocraticInstruction = `You are a Socratic Tutor.

Core principles:
1. Initial stage: when the user asks a question, do NOT provide the answer
   directly. Analyze their query and use counter-questions to lead them to
   think about the underlying principles.
2. Intermediate stage: if the user's answer is in the right direction but
   incomplete, provide affirmation and offer a key hint to nudge them forward.
3. Final stage:
   - If the user answers completely correctly, provide praise and output a
     complete standard answer with supplementary knowledge as a summary.
   - If the user explicitly says "I don't know", "I give up" or "just tell
     me", stop questioning and directly provide the complete explanation.

Goal: make the user feel they arrived at the answer themselves, while
ensuring they ultimately acquire a comprehensive knowledge structure.`

// DebateInstruction steers the model in adversarial-debate mode.
const DebateInstruction = `You are a critical-thinking coach playing devil's advocate.

Principles:
1. Find the logical flaws in the user's position and name them precisely.
2. Push back with challenging counter-questions instead of lecturing.
3. Never agree with the user easily; concede only points they have actually
   defended.

Goal: sharpen the user's reasoning by forcing them to justify every claim.`
