package formatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/futig/rag-chat-backend/internal/entity"
)

const timeLayout = "2006-01-02 15:04"

// Transcript is a session rendered for export.
type Transcript struct {
	SessionID string
	Title     string
	UserID    string
	Summary   *string
	Messages  []entity.ChatMessage
}

func (t Transcript) title() string {
	if t.Title != "" {
		return t.Title
	}
	return "Conversation " + t.SessionID
}

func (t Transcript) header() string {
	return fmt.Sprintf("Session: %s\nUser: %s\nMessages: %d", t.SessionID, t.UserID, len(t.Messages))
}

func speaker(role entity.MessageRole) string {
	switch role {
	case entity.RoleUser:
		return "User"
	case entity.RoleAssistant:
		return "Assistant"
	case "":
		return "Unknown"
	default:
		return strings.ToUpper(string(role[:1])) + string(role[1:])
	}
}

func stamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(timeLayout)
}

type Formatter interface {
	Format(t Transcript) ([]byte, error)
	ContentType() string
	FileExtension() string
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(format entity.ResultFormat) (Formatter, error) {
	switch format {
	case entity.FormatMarkdown:
		return NewMarkdownFormatter(), nil
	case entity.FormatDOCX:
		return NewDOCXFormatter(), nil
	case entity.FormatPDF:
		return NewPDFFormatter(), nil
	default:
		return nil, fmt.Errorf("%w: %s", entity.ErrUnsupportedFormat, format)
	}
}
