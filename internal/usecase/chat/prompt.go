package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/futig/rag-chat-backend/internal/entity"
)

const (
	apologyResponse = "I'm sorry, I couldn't process your request right now. Please try again in a moment."
	excerptRunes    = 500
)

const systemPrompt = `You are a helpful assistant that answers questions about the user's documents.
Use the provided document excerpts and conversation context when they are relevant.
If the documents do not contain the answer, say so instead of guessing.
Cite document names when you use them.`

var intentGuidance = map[entity.Intent]string{
	entity.IntentDefinition:    "Give a clear, precise definition first, then a short example.",
	entity.IntentExplanation:   "Explain how and why step by step.",
	entity.IntentImprovement:   "Suggest concrete, prioritized improvements.",
	entity.IntentExpansion:     "Go deeper than the previous answer and add details that were not covered yet.",
	entity.IntentSummarization: "Answer with a concise summary of the main points.",
	entity.IntentClarification: "Clarify the earlier answer in simpler terms.",
}

// generationInput is what the prompt is built from.
type generationInput struct {
	query    string
	intent   entity.Intent
	summary  *string
	memories []entity.ConversationMemory
	recent   []entity.ChatMessage
	docs     []entity.RetrievedDocument
}

func (s *Service) buildCompletion(in generationInput) entity.CompletionRequest {
	system := systemPrompt
	if g, ok := intentGuidance[in.intent]; ok {
		system += "\n" + g
	}

	var b strings.Builder
	if in.summary != nil && *in.summary != "" {
		fmt.Fprintf(&b, "Conversation summary:\n%s\n\n", *in.summary)
	}
	if len(in.memories) > 0 {
		b.WriteString("Earlier topics:\n")
		for _, m := range in.memories {
			fmt.Fprintf(&b, "- %s: %s\n", m.Topic, m.Summary)
		}
		b.WriteString("\n")
	}
	if len(in.recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range in.recent {
			fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(m.Role)), m.Content)
		}
		b.WriteString("\n")
	}

	if len(in.docs) > 0 {
		b.WriteString("Documents:\n")
		budget := s.cfg.ContextWindowLimit
		for i, d := range in.docs {
			content := d.Content
			if budget > 0 {
				n := utf8.RuneCountInString(content)
				if n > budget {
					content = truncateRunes(content, budget)
					n = budget
				}
				budget -= n
			}
			fmt.Fprintf(&b, "[%d] %s:\n%s\n\n", i+1, d.Filename, content)
			if s.cfg.ContextWindowLimit > 0 && budget <= 0 {
				break
			}
		}
	} else {
		b.WriteString("Documents: none found.\n\n")
	}

	fmt.Fprintf(&b, "Question: %s", in.query)

	return entity.CompletionRequest{
		Model:       s.cfg.ResponseModel,
		System:      system,
		Prompt:      b.String(),
		Temperature: 0.7,
		MaxTokens:   1000,
	}
}

func documentExcerpt(docs []entity.RetrievedDocument) (string, bool) {
	for _, d := range docs {
		content := strings.TrimSpace(d.Content)
		if content == "" {
			continue
		}
		name := d.Filename
		if name == "" {
			name = "your documents"
		}
		return fmt.Sprintf("I couldn't generate a full answer right now. Here is the most relevant passage I found in %s:\n\n%s",
			name, truncateRunes(content, excerptRunes)), true
	}
	return "", false
}

func sourcesOf(docs []entity.RetrievedDocument) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, d := range docs {
		name := d.Filename
		if name == "" {
			name = d.DocumentID
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
