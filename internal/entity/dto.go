package entity

import "time"

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type ConversationalRequest struct {
	Message            string  `json:"message"`
	SessionID          *string `json:"session_id,omitempty"`
	UserID             string  `json:"user_id"`
	Stream             bool    `json:"stream"`
	MaxContextMessages int     `json:"max_context_messages"`
}

type ConversationalResponse struct {
	Response  string       `json:"response"`
	SessionID string       `json:"session_id"`
	Metadata  TurnMetadata `json:"metadata"`
	Timestamp time.Time    `json:"timestamp"`
}

// StreamEvent is one SSE frame of the conversational stream.
type StreamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type StreamComplete struct {
	FullResponse string       `json:"full_response"`
	SessionID    string       `json:"session_id"`
	Metadata     TurnMetadata `json:"metadata"`
	Timestamp    time.Time    `json:"timestamp"`
}

type RAGRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
}

type RAGResponse struct {
	Success bool   `json:"success"`
	Query   string `json:"query"`
	RAGAnswer
}

type CreateSessionRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

type SessionListResponse struct {
	Sessions []ChatSession `json:"sessions"`
	Total    int           `json:"total"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
}

type SessionMessagesResponse struct {
	SessionID     string        `json:"session_id"`
	Messages      []ChatMessage `json:"messages"`
	TotalMessages int           `json:"total_messages"`
}

type SessionContextResponse struct {
	SessionID string              `json:"session_id"`
	Context   ConversationContext `json:"context"`
	Timestamp time.Time           `json:"timestamp"`
}

type SessionSummaryResponse struct {
	SessionID string `json:"session_id"`
	Summary   string `json:"summary"`
}

// SessionDebugResponse explains how a raw request would be mapped to a
// session.
type SessionDebugResponse struct {
	Resolution          Resolution           `json:"extraction_result"`
	RequestAnalysis     RequestAnalysis      `json:"request_analysis"`
	ConversationContext ConversationAnalysis `json:"conversation_context"`
	HeadersAnalysis     HeadersAnalysis      `json:"headers_analysis"`
	Timestamp           time.Time            `json:"timestamp"`
}

type RequestAnalysis struct {
	Keys         []string `json:"keys"`
	HasMessages  bool     `json:"has_messages"`
	MessageCount int      `json:"message_count"`
	Model        string   `json:"model"`
}

type HeadersAnalysis struct {
	RelevantHeaders []string `json:"relevant_headers"`
	UserAgent       string   `json:"user_agent"`
}
