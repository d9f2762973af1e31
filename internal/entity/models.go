package entity

import (
	"fmt"
	"time"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

type Intent string

// Intent vocabulary shared by the rule table and the model classifier
const (
	IntentDefinition    Intent = "definition"
	IntentExplanation   Intent = "explanation"
	IntentImprovement   Intent = "improvement"
	IntentExpansion     Intent = "expansion"
	IntentSummarization Intent = "summarization"
	IntentClarification Intent = "clarification"
	IntentGeneral       Intent = "general"
)

// ParseIntent maps a free-form label onto the intent vocabulary.
func ParseIntent(s string) (Intent, error) {
	switch i := Intent(s); i {
	case IntentDefinition, IntentExplanation, IntentImprovement, IntentExpansion,
		IntentSummarization, IntentClarification, IntentGeneral:
		return i, nil
	default:
		return IntentGeneral, fmt.Errorf("unknown intent: %q", s)
	}
}

// Message metadata keys
const (
	MetaError      = "error"
	MetaIncomplete = "incomplete"
	MetaRewritten  = "rewritten_query"
)

// ChatMessage is a single immutable entry of the short-term buffer.
type ChatMessage struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Content   string            `json:"content"`
	Role      MessageRole       `json:"role"`
	Timestamp time.Time         `json:"timestamp"`
	Intent    *Intent           `json:"intent,omitempty"`
	Entities  map[string]string `json:"entities,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ConversationState is the per-session record advanced once per turn.
type ConversationState struct {
	SessionID            string            `json:"session_id"`
	UserID               string            `json:"user_id"`
	CurrentTopic         *string           `json:"current_topic,omitempty"`
	CurrentEntities      map[string]string `json:"current_entities"`
	CurrentIntent        Intent            `json:"current_intent"`
	IntentHistory        []Intent          `json:"intent_history"`
	UnresolvedReferences []string          `json:"unresolved_references"`
	ContextSummary       *string           `json:"context_summary,omitempty"`
	LastRetrievedDocs    []string          `json:"last_retrieved_docs"`
	ConversationDepth    int               `json:"conversation_depth"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// NewConversationState returns the zero state of a fresh session.
func NewConversationState(sessionID, userID string, now time.Time) ConversationState {
	return ConversationState{
		SessionID:            sessionID,
		UserID:               userID,
		CurrentEntities:      map[string]string{},
		CurrentIntent:        IntentGeneral,
		IntentHistory:        []Intent{},
		UnresolvedReferences: []string{},
		LastRetrievedDocs:    []string{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// ConversationMemory is a long-term record produced by summarization.
type ConversationMemory struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	SessionID       string            `json:"session_id"`
	Topic           string            `json:"topic"`
	Summary         string            `json:"summary"`
	KeyEntities     map[string]string `json:"key_entities"`
	ImportanceScore float64           `json:"importance_score"`
	AccessCount     int               `json:"access_count"`
	LastAccessed    time.Time         `json:"last_accessed"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ChatSession is the registry entry listed per user.
type ChatSession struct {
	ID           string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	IsActive     bool      `json:"is_active"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ConversationContext is what the memory store hands to a turn.
type ConversationContext struct {
	SessionID      string               `json:"session_id"`
	RecentMessages []ChatMessage        `json:"recent_messages"`
	ContextSummary *string              `json:"context_summary,omitempty"`
	State          ConversationState    `json:"conversation_state"`
	Memories       []ConversationMemory `json:"memories"`
}

type ResultFormat string

const (
	FormatMarkdown ResultFormat = "markdown"
	FormatDOCX     ResultFormat = "docx"
	FormatPDF      ResultFormat = "pdf"
)

func (f ResultFormat) IsValid() bool {
	switch f {
	case FormatMarkdown, FormatDOCX, FormatPDF:
		return true
	default:
		return false
	}
}

// Service health states
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

type HealthReport struct {
	Status            string            `json:"status"`
	Services          map[string]string `json:"services"`
	UnhealthyServices []string          `json:"unhealthy_services"`
	Timestamp         time.Time         `json:"timestamp"`
}
