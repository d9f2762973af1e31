package resolver

import (
	"regexp"
	"strings"

	"github.com/futig/rag-chat-backend/internal/entity"
)

// Conversation types reported by AnalyzeConversation
const (
	ConversationInitial      = "initial"
	ConversationContinuation = "continuation"
	ConversationUnknown      = "unknown"
)

var (
	analysisWord = regexp.MustCompile(`[a-z0-9]+`)

	topicKeywords = []struct {
		topic string
		words []string
	}{
		{"TCS", []string{"tcs", "transit", "cyber", "security"}},
		{"AI", []string{"ai", "artificial", "intelligence", "improve"}},
	}
)

// AnalyzeConversation gives a shallow summary of a client-provided history.
func AnalyzeConversation(messages []entity.ChatMessage) entity.ConversationAnalysis {
	analysis := entity.ConversationAnalysis{
		UserMessages:     []string{},
		Topics:           []string{},
		ConversationType: ConversationUnknown,
	}

	seen := map[string]bool{}
	for _, m := range messages {
		if m.Role != entity.RoleUser {
			continue
		}
		analysis.TurnCount++
		analysis.UserMessages = append(analysis.UserMessages, m.Content)

		words := map[string]bool{}
		for _, w := range analysisWord.FindAllString(strings.ToLower(m.Content), -1) {
			words[w] = true
		}
		for _, tk := range topicKeywords {
			if seen[tk.topic] {
				continue
			}
			for _, w := range tk.words {
				if words[w] {
					seen[tk.topic] = true
					analysis.Topics = append(analysis.Topics, tk.topic)
					break
				}
			}
		}
	}

	switch {
	case analysis.TurnCount == 1:
		analysis.ConversationType = ConversationInitial
	case analysis.TurnCount > 1:
		analysis.ConversationType = ConversationContinuation
	}
	return analysis
}

// MessagesFromBody reads the OpenAI-style "messages" list of a raw request.
// Entries without a string content are skipped.
func MessagesFromBody(body map[string]any) []entity.ChatMessage {
	list, _ := body["messages"].([]any)
	raw := messageList(list)
	out := make([]entity.ChatMessage, 0, len(raw))
	for _, m := range raw {
		content, ok := m["content"].(string)
		if !ok {
			continue
		}
		out = append(out, entity.ChatMessage{
			Role:    entity.MessageRole(stringField(m, "role")),
			Content: content,
		})
	}
	return out
}

// LastUserMessage returns the content of the newest user message.
func LastUserMessage(messages []entity.ChatMessage) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == entity.RoleUser {
			return messages[i].Content, true
		}
	}
	return "", false
}
