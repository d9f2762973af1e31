package render

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMessageRunes is the Telegram limit for a single text message.
const MaxMessageRunes = 4096

const (
	MsgWelcome = `👋 Hi! I answer questions about your documents and remember what we talked about.

Just send me a question. Follow-ups like "tell me more about it" work too.

/help shows all commands.`

	MsgHelp = `🤖 Commands:

/start - Show the welcome message
/help - Show this help
/reset - Forget the current conversation
/summary - Summarize the conversation so far
/export [markdown|docx|pdf] - Download the conversation`

	MsgReset            = `🧹 Conversation cleared. Ask me anything.`
	MsgNothingToSummary = `ℹ️ The conversation is too short to summarize yet.`
	MsgNothingToExport  = `ℹ️ There is nothing to export yet.`
	MsgUnknownCommand   = `❌ Unknown command. Use /help`
	MsgEmptyMessage     = `✏️ Please send your question as text.`
	MsgSummaryTemplate  = "📝 Conversation summary:\n\n%s"

	ErrGeneric            = `❌ Something went wrong. Please try again.`
	ErrTimeout            = `❌ That took too long. Please try again.`
	ErrServiceUnavailable = `❌ The service is temporarily unavailable. Try again in a few minutes.`
	ErrSummaryInProgress  = `⏳ A summary is already being prepared. Try again in a moment.`
	ErrUnsupportedFormat  = `❌ Unknown format. Use markdown, docx or pdf.`
	ErrInvalidInput       = `❌ The message is too long or empty.`
	ErrRateLimited        = `⚠️ Too many messages. Please wait a little.`
	ErrRateLimitedAgain   = `🛑 You are sending messages too often. Please wait a minute.`
)

// Answer appends the document sources to a turn response.
func Answer(response string, sources []string) string {
	if len(sources) == 0 {
		return response
	}
	var b strings.Builder
	b.WriteString(response)
	b.WriteString("\n\n📚 Sources:")
	for _, s := range sources {
		b.WriteString("\n• ")
		b.WriteString(s)
	}
	return b.String()
}

func Summary(summary string) string {
	return fmt.Sprintf(MsgSummaryTemplate, summary)
}

// Split cuts text into chunks of at most limit runes, preferring line breaks
// and then spaces as cut points.
func Split(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := lastIndex(runes[:limit], '\n')
		if cut <= 0 && (runes[limit] == ' ' || runes[limit] == '\n') {
			cut = limit
		}
		if cut <= 0 {
			cut = lastIndex(runes[:limit], ' ')
		}
		if cut <= 0 {
			cut = limit
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), " \n"))
		runes = runes[cut:]
		for len(runes) > 0 && (runes[0] == '\n' || runes[0] == ' ') {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

func lastIndex(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
