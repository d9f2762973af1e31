package validator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/entity"
)

const maxContextMessages = 100

// Validator checks inbound chat requests before they reach the usecases.
type Validator struct {
	maxMessageLength int
}

func NewValidator(cfg config.ChatConfig) *Validator {
	return &Validator{maxMessageLength: cfg.MaxMessageLength}
}

func (v *Validator) ValidateConversational(req *entity.ConversationalRequest) error {
	if err := v.validateMessage("message", req.Message); err != nil {
		return err
	}
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("%w: user_id", entity.ErrMissingField)
	}
	if req.MaxContextMessages < 0 || req.MaxContextMessages > maxContextMessages {
		return fmt.Errorf("%w: max_context_messages must be between 0 and %d", entity.ErrInvalidParameter, maxContextMessages)
	}
	return nil
}

func (v *Validator) ValidateRAG(req *entity.RAGRequest) error {
	return v.validateMessage("query", req.Query)
}

func (v *Validator) ValidateCreateSession(req *entity.CreateSessionRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("%w: user_id", entity.ErrMissingField)
	}
	if utf8.RuneCountInString(req.Title) > 200 {
		return fmt.Errorf("%w: title is longer than 200 characters", entity.ErrInvalidParameter)
	}
	return nil
}

// ValidateCompletionMessage checks the user message taken from an
// OpenAI-style request.
func (v *Validator) ValidateCompletionMessage(message string) error {
	return v.validateMessage("messages", message)
}

// ParseFormat maps the export query parameter onto a result format,
// markdown when empty.
func (v *Validator) ParseFormat(raw string) (entity.ResultFormat, error) {
	if raw == "" {
		return entity.FormatMarkdown, nil
	}
	format := entity.ResultFormat(strings.ToLower(raw))
	if !format.IsValid() {
		return "", fmt.Errorf("%w: %q (expected markdown, docx or pdf)", entity.ErrUnsupportedFormat, raw)
	}
	return format, nil
}

func (v *Validator) validateMessage(field, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: %s", entity.ErrMissingField, field)
	}
	if v.maxMessageLength > 0 && utf8.RuneCountInString(text) > v.maxMessageLength {
		return fmt.Errorf("%w: %s is longer than %d characters", entity.ErrInvalidParameter, field, v.maxMessageLength)
	}
	return nil
}
