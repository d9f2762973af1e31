package rewriter

import (
	"regexp"
	"sort"
	"strings"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/usecase/analyzer"
)

var (
	referencePattern = regexp.MustCompile(`(?i)\b(it|its|they|them|their|this|that|these|those)\b`)
	leadingWord      = regexp.MustCompile(`^[a-z']+`)
	wordPattern      = regexp.MustCompile(`[a-z']+`)
	aboutSomething   = regexp.MustCompile(`(?i)\babout\s+\w`)
)

var (
	demonstratives = map[string]bool{"this": true, "that": true, "these": true, "those": true}
	pluralWords    = map[string]bool{"they": true, "them": true, "their": true, "these": true, "those": true}
	possessives    = map[string]bool{"its": true, "their": true}

	// a demonstrative followed by one of these is used as a pronoun
	verbish = map[string]bool{
		"is": true, "was": true, "are": true, "were": true, "does": true, "do": true,
		"did": true, "mean": true, "means": true, "work": true, "works": true, "can": true,
		"could": true, "will": true, "would": true, "help": true, "improve": true,
	}

	ellipsisWords = map[string]bool{"more": true, "else": true, "again": true, "also": true}

	// entity types tried first when choosing a referent
	entityPriority = []string{"organization", "company", "product", "technology", "concept"}
	pluralEntities = []string{"organization", "company"}
)

const maxEllipticalWords = 5

type reference struct {
	word       string
	start, end int
	plural     bool
	possessive bool
}

// findReferences returns pronoun-like words of query in order of appearance.
// Demonstratives only count when they stand for a noun phrase.
func findReferences(query string) []reference {
	var refs []reference
	for _, m := range referencePattern.FindAllStringSubmatchIndex(query, -1) {
		word := strings.ToLower(query[m[2]:m[3]])
		if demonstratives[word] && !standsAlone(query[m[1]:]) {
			continue
		}
		refs = append(refs, reference{
			word:       word,
			start:      m[0],
			end:        m[1],
			plural:     pluralWords[word],
			possessive: possessives[word],
		})
	}
	return refs
}

func standsAlone(rest string) bool {
	rest = strings.TrimLeft(rest, " \t")
	if rest == "" {
		return true
	}
	if strings.ContainsRune(".,!?;:", rune(rest[0])) {
		return true
	}
	return verbish[leadingWord.FindString(strings.ToLower(rest))]
}

// ellipticalTrigger returns the word that makes a short follow-up like
// "tell me more" depend on the previous turn.
func ellipticalTrigger(query string) (string, bool) {
	ws := wordPattern.FindAllString(strings.ToLower(query), -1)
	if len(ws) == 0 || len(ws) > maxEllipticalWords || aboutSomething.MatchString(query) {
		return "", false
	}
	for _, w := range ws {
		if ellipsisWords[w] {
			return w, true
		}
	}
	return "", false
}

type referents struct {
	singular string
	plural   string
}

// findReferents walks current entities, then the current topic, then the
// entities of recent user messages from newest to oldest.
func findReferents(recent []entity.ChatMessage, state entity.ConversationState) referents {
	var r referents

	candidates := []map[string]string{state.CurrentEntities}
	var topic string
	if state.CurrentTopic != nil {
		topic = strings.TrimSpace(*state.CurrentTopic)
	}

	recentEntities := make([]map[string]string, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		if m.Role != entity.RoleUser {
			continue
		}
		if len(m.Entities) > 0 {
			recentEntities = append(recentEntities, m.Entities)
		} else {
			recentEntities = append(recentEntities, analyzer.RuleEntities(m.Content))
		}
	}

	pick := func(plural bool) string {
		for _, c := range candidates {
			if v := pickEntity(c, plural); v != "" {
				return v
			}
		}
		if topic != "" {
			return topic
		}
		for _, c := range recentEntities {
			if v := pickEntity(c, plural); v != "" {
				return v
			}
		}
		return ""
	}

	r.singular = pick(false)
	r.plural = pick(true)
	return r
}

// pickEntity chooses a referent from entities. Plural references only take
// collective entities or list values.
func pickEntity(entities map[string]string, plural bool) string {
	if len(entities) == 0 {
		return ""
	}

	if plural {
		for _, k := range pluralEntities {
			if v := strings.TrimSpace(entities[k]); v != "" {
				return v
			}
		}
		for _, k := range sortedKeys(entities) {
			if v := strings.TrimSpace(entities[k]); strings.Contains(v, ", ") {
				return v
			}
		}
		return ""
	}

	for _, k := range entityPriority {
		if v := strings.TrimSpace(entities[k]); v != "" {
			return v
		}
	}
	for _, k := range sortedKeys(entities) {
		if v := strings.TrimSpace(entities[k]); v != "" {
			return v
		}
	}
	return ""
}

type ruleOutcome struct {
	rewritten  string
	resolved   map[string]string
	unresolved []string
}

func (o ruleOutcome) complete() bool {
	return len(o.unresolved) == 0
}

// resolveRules substitutes every reference that has a referent and appends
// the singular referent to elliptical follow-ups.
func resolveRules(query string, refs []reference, trigger string, ref referents) ruleOutcome {
	out := ruleOutcome{resolved: map[string]string{}}
	unresolved := map[string]bool{}

	var b strings.Builder
	last := 0
	for _, r := range refs {
		referent := ref.singular
		if r.plural {
			referent = ref.plural
		}
		if referent == "" {
			unresolved[r.word] = true
			continue
		}
		b.WriteString(query[last:r.start])
		b.WriteString(referent)
		if r.possessive {
			b.WriteString("'s")
		}
		last = r.end
		out.resolved[r.word] = referent
	}
	b.WriteString(query[last:])
	out.rewritten = b.String()

	if trigger != "" {
		if ref.singular == "" {
			unresolved[trigger] = true
		} else {
			trimmed := strings.TrimRight(out.rewritten, " .!?")
			punct := out.rewritten[len(trimmed):]
			out.rewritten = trimmed + " about " + ref.singular + strings.TrimSpace(punct)
			out.resolved[trigger] = ref.singular
		}
	}

	for w := range unresolved {
		out.unresolved = append(out.unresolved, w)
	}
	sort.Strings(out.unresolved)
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
