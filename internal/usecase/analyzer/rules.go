package analyzer

import (
	"regexp"
	"strings"

	"github.com/futig/rag-chat-backend/internal/entity"
)

type intentRule struct {
	intent   entity.Intent
	patterns []*regexp.Regexp
}

// intentRules is evaluated top to bottom; the first group with a matching
// pattern decides the intent.
var intentRules = []intentRule{
	{entity.IntentDefinition, compileAll(
		`\bwhat is\b`, `\bdefine\b`, `\bexplain\b`, `\bmean\b`,
		`\bdefinition of\b`, `\bwhat does.*mean\b`,
	)},
	{entity.IntentImprovement, compileAll(
		`\bhow.*improve\b`, `\bways to.*better\b`, `\benhance\b`,
		`\boptimize\b`, `\bbetter\b`, `\bupgrade\b`,
	)},
	{entity.IntentExpansion, compileAll(
		`\bexpand on\b`, `\bmore about\b`, `\btell me more\b`,
		`\belaborate\b`, `\bdetails\b`, `\bin depth\b`,
	)},
	{entity.IntentExplanation, compileAll(
		`\bhow does\b`, `\bwhy\b`, `\bhow to\b`, `\bprocess\b`,
		`\bwork\b`, `\bfunction\b`, `\boperate\b`,
	)},
	{entity.IntentSummarization, compileAll(
		`\bsummarize\b`, `\bsummary\b`, `\boverview\b`,
		`\bmain points\b`, `\bkey.*points\b`,
	)},
}

var topicChangeIndicators = compileAll(
	`\blet's talk about\b`, `\bchanging topics?\b`, `\bmove on to\b`,
	`\bnext topic\b`, `\bdifferent question\b`, `\banother topic\b`,
)

var (
	knownOrgPattern = regexp.MustCompile(`\b(TCS|IBM|MICROSOFT|GOOGLE|AMAZON|APPLE)\b`)
	acronymPattern  = regexp.MustCompile(`\b[A-Z]{2,5}\b`)

	// order matters: the first keyword found wins
	techKeywords = []string{
		"AI", "ARTIFICIAL INTELLIGENCE", "MACHINE LEARNING",
		"BLOCKCHAIN", "CLOUD", "CYBERSECURITY", "IOT",
	}
	techPatterns = func() []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(techKeywords))
		for i, k := range techKeywords {
			out[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(k) + `\b`)
		}
		return out
	}()

	keyPhrasePatterns = compileAll(
		`(?i)\b(?:AI|artificial intelligence|machine learning)\b.*?(?:[.!?]|$)`,
		`(?i)\b(?:improve|enhance|optimize)\s+\w+.*?(?:[.!?]|$)`,
		`(?i)\b(?:capabilities?|features?|benefits?)\b.*?(?:[.!?]|$)`,
		`(?i)\b(?:solution|system|platform)\b.*?(?:[.!?]|$)`,
	)

	sentenceSplit  = regexp.MustCompile(`[.!?]+`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
	disallowedRune = regexp.MustCompile(`[^\w\s.,!?-]`)
	wordPattern    = regexp.MustCompile(`[a-z0-9]+`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// MatchIntentRule classifies text with the rule table only.
func MatchIntentRule(text string) (entity.Intent, bool) {
	lower := strings.ToLower(text)
	for _, rule := range intentRules {
		for _, p := range rule.patterns {
			if p.MatchString(lower) {
				return rule.intent, true
			}
		}
	}
	return "", false
}

// RuleEntities is the deterministic entity extractor: well-known
// organizations first, then standalone upper-case acronyms, then a fixed
// list of technology keywords.
func RuleEntities(text string) map[string]string {
	entities := map[string]string{}
	upper := strings.ToUpper(text)

	if m := knownOrgPattern.FindString(upper); m != "" {
		entities["organization"] = m
	} else {
		for _, m := range acronymPattern.FindAllString(text, -1) {
			if isTechKeyword(m) {
				continue
			}
			entities["organization"] = m
			break
		}
	}

	for i, p := range techPatterns {
		if p.MatchString(upper) {
			entities["technology"] = strings.ReplaceAll(strings.ToLower(techKeywords[i]), " ", "_")
			break
		}
	}

	return entities
}

func isTechKeyword(s string) bool {
	for _, k := range techKeywords {
		if k == s {
			return true
		}
	}
	return false
}

// CleanText collapses whitespace and strips everything except word
// characters and basic punctuation.
func CleanText(text string) string {
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = disallowedRune.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// ExtractKeyPhrases returns up to max distinct phrases around domain keywords.
func ExtractKeyPhrases(text string, max int) []string {
	if max <= 0 {
		return nil
	}

	var phrases []string
	for _, sentence := range sentenceSplit.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < 10 {
			continue
		}
		for _, p := range keyPhrasePatterns {
			phrases = append(phrases, p.FindAllString(sentence, -1)...)
			if len(phrases) >= max {
				break
			}
		}
		if len(phrases) >= max {
			break
		}
	}

	if len(phrases) > max {
		phrases = phrases[:max]
	}

	seen := make(map[string]bool, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		c := CleanText(p)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// TextSimilarity is the Jaccard index of the lower-cased word sets.
func TextSimilarity(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}

// words returns alphanumeric tokens of s in order.
func words(s string) []string {
	return wordPattern.FindAllString(strings.ToLower(s), -1)
}

// topicOverlap is the share of topic words that recur in text.
func topicOverlap(text, topic string) float64 {
	topicWords := words(topic)
	if len(topicWords) == 0 {
		return 1
	}
	present := map[string]bool{}
	for _, w := range words(text) {
		present[w] = true
	}
	matches := 0
	for _, w := range topicWords {
		if present[w] {
			matches++
		}
	}
	return float64(matches) / float64(len(topicWords))
}
