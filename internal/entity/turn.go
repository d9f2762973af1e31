package entity

import "net/http"

type TurnState string

// Orchestrator states, traversed strictly in order; ERROR is reachable from any of them
const (
	StateResolvingSession TurnState = "RESOLVING_SESSION"
	StateLoadingContext   TurnState = "LOADING_CONTEXT"
	StateAnalyzing        TurnState = "ANALYZING"
	StateRewriting        TurnState = "REWRITING"
	StateRetrieving       TurnState = "RETRIEVING"
	StateGenerating       TurnState = "GENERATING"
	StatePersisting       TurnState = "PERSISTING"
	StateDone             TurnState = "DONE"
	StateError            TurnState = "ERROR"
)

type ResolutionStrategy string

const (
	StrategyDirect        ResolutionStrategy = "direct"
	StrategyAlternate     ResolutionStrategy = "alternate_fields"
	StrategyEssence       ResolutionStrategy = "conversation_essence"
	StrategyUserHour      ResolutionStrategy = "user_hour"
	StrategyHeader        ResolutionStrategy = "header"
	StrategyFlow          ResolutionStrategy = "flow_continuity"
	StrategyAuto          ResolutionStrategy = "auto"
)

const AnonymousUser = "anonymous"

// Resolution is the outcome of mapping an inbound request to a session.
type Resolution struct {
	SessionID  string             `json:"session_id"`
	UserID     string             `json:"user_id"`
	IsInferred bool               `json:"is_inferred"`
	Strategy   ResolutionStrategy `json:"strategy"`
}

// ConversationAnalysis is a shallow look at a client-provided message list.
type ConversationAnalysis struct {
	TurnCount        int      `json:"turn_count"`
	UserMessages     []string `json:"user_messages"`
	Topics           []string `json:"topics"`
	ConversationType string   `json:"conversation_type"`
}

type RewriteResult struct {
	OriginalQuery    string            `json:"original_query"`
	RewrittenQuery   string            `json:"rewritten_query"`
	ResolvedEntities map[string]string `json:"resolved_entities"`
	ConfidenceScore  float64           `json:"confidence_score"`
	Reasoning        string            `json:"reasoning,omitempty"`
	Unresolved       []string          `json:"unresolved,omitempty"`
}

// TurnRequest is the input of a single conversational turn.
type TurnRequest struct {
	UserID             string
	SessionID          *string
	Message            string
	Stream             bool
	MaxContextMessages int

	// Body and Headers carry the raw request for session resolution when no
	// explicit session id is given.
	Body    map[string]any
	Headers http.Header
}

type TurnMetadata struct {
	Intent             Intent             `json:"intent"`
	Topic              *string            `json:"topic,omitempty"`
	ContextUsed        bool               `json:"context_used"`
	RewrittenQuery     string             `json:"rewritten_query,omitempty"`
	Sources            []string           `json:"sources"`
	ConversationDepth  int                `json:"conversation_depth"`
	IsInferred         bool               `json:"is_inferred"`
	ResolutionStrategy ResolutionStrategy `json:"resolution_strategy"`
	UserID             string             `json:"user_id"`
	State              TurnState          `json:"state"`
	Degraded           bool               `json:"degraded"`
	Error              string             `json:"error,omitempty"`
}

// TurnResult carries either Response or, for streaming turns, Stream. The
// stream channel is closed after the turn has been persisted and Done reports
// the final metadata.
type TurnResult struct {
	Response  string
	Stream    <-chan string
	Done      <-chan TurnMetadata
	SessionID string
	Metadata  TurnMetadata
}
