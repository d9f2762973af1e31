package formatter

import (
	"bytes"
	"fmt"
)

const (
	markdownContentType   = "text/markdown; charset=utf-8"
	markdownFileExtension = ".md"
)

type MarkdownFormatter struct{}

func NewMarkdownFormatter() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

func (mf *MarkdownFormatter) Format(t Transcript) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n\n", t.title())
	fmt.Fprintf(&buf, "- Session: `%s`\n- User: %s\n- Messages: %d\n\n", t.SessionID, t.UserID, len(t.Messages))

	if t.Summary != nil && *t.Summary != "" {
		fmt.Fprintf(&buf, "## Summary\n\n%s\n\n", *t.Summary)
	}

	buf.WriteString("## Messages\n\n")
	for _, m := range t.Messages {
		fmt.Fprintf(&buf, "**%s**", speaker(m.Role))
		if ts := stamp(m.Timestamp); ts != "" {
			fmt.Fprintf(&buf, " _(%s)_", ts)
		}
		fmt.Fprintf(&buf, "\n\n%s\n\n", m.Content)
	}
	return buf.Bytes(), nil
}

func (mf *MarkdownFormatter) ContentType() string {
	return markdownContentType
}

func (mf *MarkdownFormatter) FileExtension() string {
	return markdownFileExtension
}
