package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/pkg/fallback"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const (
	// SummaryPlaceholder is returned by Summarize when no summary could be produced.
	SummaryPlaceholder = "Unable to generate summary"

	maxSummaryRunes = 1200
	minTopicLength  = 3
)

// Analyzer classifies and describes user text. It holds no per-session
// state and is safe for concurrent use.
type Analyzer struct {
	llm    LLMConnector
	cfg    config.AnalyzerConfig
	logger *zap.Logger
}

func NewAnalyzer(cfg config.AnalyzerConfig, llm LLMConnector, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		llm:    llm,
		cfg:    cfg,
		logger: logger,
	}
}

// ClassifyIntent runs the rule table first and only asks the model when no
// rule matched.
func (a *Analyzer) ClassifyIntent(ctx context.Context, text string) entity.Intent {
	if intent, ok := MatchIntentRule(text); ok {
		return intent
	}

	res := fallback.Chain(ctx, entity.IntentGeneral,
		fallback.Func("model", func(ctx context.Context) (entity.Intent, error) {
			out, err := a.complete(ctx, entity.CompletionRequest{
				Prompt:      fmt.Sprintf(classifyIntentPrompt, text),
				Temperature: 0.1,
				MaxTokens:   20,
			})
			if err != nil {
				return "", err
			}
			return parseIntentLabel(out)
		}),
	)
	if res.Defaulted() {
		ctxzap.Warn(ctx, "intent classification fell back to default", zap.Error(res.Err))
	}
	return res.Value
}

// ExtractEntities asks the model for a JSON object and falls back to the
// rule extractor on any failure.
func (a *Analyzer) ExtractEntities(ctx context.Context, text string) map[string]string {
	res := fallback.Chain(ctx, map[string]string{},
		fallback.Func("model", func(ctx context.Context) (map[string]string, error) {
			out, err := a.complete(ctx, entity.CompletionRequest{
				Prompt:      fmt.Sprintf(extractEntitiesPrompt, text),
				Temperature: 0.1,
				MaxTokens:   200,
			})
			if err != nil {
				return nil, err
			}
			return parseEntities(out)
		}),
		fallback.Func("rules", func(context.Context) (map[string]string, error) {
			return RuleEntities(text), nil
		}),
	)
	if res.Source != "model" {
		ctxzap.Debug(ctx, "entity extraction used rules", zap.Error(res.Err))
	}
	return res.Value
}

// ExtractTopic returns a short topic label or nil.
func (a *Analyzer) ExtractTopic(ctx context.Context, text string) *string {
	out, err := a.complete(ctx, entity.CompletionRequest{
		Prompt:      fmt.Sprintf(extractTopicPrompt, text),
		Temperature: 0.1,
		MaxTokens:   30,
	})
	if err != nil {
		ctxzap.Warn(ctx, "topic extraction failed", zap.Error(err))
		return nil
	}

	topic := strings.Trim(strings.TrimSpace(out), "\"'`.")
	topic = strings.TrimSpace(strings.TrimPrefix(topic, "Topic:"))
	if utf8.RuneCountInString(topic) < minTopicLength {
		return nil
	}
	return &topic
}

// DetectTopicChange reports whether text moves away from previousTopic,
// either explicitly or because too few topic words recur.
func (a *Analyzer) DetectTopicChange(text string, previousTopic *string) bool {
	if previousTopic == nil || strings.TrimSpace(*previousTopic) == "" {
		return false
	}

	lower := strings.ToLower(text)
	for _, p := range topicChangeIndicators {
		if p.MatchString(lower) {
			return true
		}
	}

	return topicOverlap(text, *previousTopic) < a.cfg.TopicOverlapThreshold
}

// Summarize never fails; it returns SummaryPlaceholder instead.
func (a *Analyzer) Summarize(ctx context.Context, messages []entity.ChatMessage) string {
	summary, err := a.SummarizeMessages(ctx, messages)
	if err != nil {
		ctxzap.Warn(ctx, "conversation summarization failed", zap.Error(err))
		return SummaryPlaceholder
	}
	return summary
}

// SummarizeMessages condenses messages into a bounded paraphrase and reports
// failures to the caller.
func (a *Analyzer) SummarizeMessages(ctx context.Context, messages []entity.ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", entity.ErrNothingToSummarize
	}

	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(m.Role)), m.Content)
	}

	out, err := a.complete(ctx, entity.CompletionRequest{
		Prompt:      fmt.Sprintf(summarizePrompt, b.String()),
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", entity.ErrSummarizationFailed, err)
	}

	summary := strings.TrimSpace(out)
	if summary == "" || summary == SummaryPlaceholder {
		return "", fmt.Errorf("%w: empty summary", entity.ErrSummarizationFailed)
	}
	return truncateRunes(summary, maxSummaryRunes), nil
}

// ExtractKeyPhrases exposes the heuristic phrase extractor.
func (a *Analyzer) ExtractKeyPhrases(text string, max int) []string {
	return ExtractKeyPhrases(text, max)
}

// TextSimilarity exposes the word-overlap similarity.
func (a *Analyzer) TextSimilarity(x, y string) float64 {
	return TextSimilarity(x, y)
}

func (a *Analyzer) complete(ctx context.Context, req entity.CompletionRequest) (string, error) {
	if a.llm == nil {
		return "", fmt.Errorf("%w: no model configured", entity.ErrExternalService)
	}
	if req.Model == "" {
		req.Model = a.cfg.ClassificationModel
	}
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	out, err := a.llm.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", entity.ErrExternalService, err)
	}
	return out, nil
}

func parseIntentLabel(out string) (entity.Intent, error) {
	label := strings.ToLower(strings.TrimSpace(out))
	label = strings.Trim(label, "\"'`.:- ")
	if i := strings.IndexAny(label, " \n\t,.;:"); i >= 0 {
		label = label[:i]
	}
	intent, err := entity.ParseIntent(label)
	if err != nil {
		return entity.IntentGeneral, fmt.Errorf("%w: %w", entity.ErrMalformedModelOutput, err)
	}
	return intent, nil
}

// parseEntities reads the JSON object between the first '{' and the last
// '}' of out. Non-string values are rendered with fmt.
func parseEntities(out string) (map[string]string, error) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in %q", entity.ErrMalformedModelOutput, truncateRunes(out, 80))
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(out[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrMalformedModelOutput, err)
	}

	entities := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if val = strings.TrimSpace(val); val != "" {
				entities[strings.ToLower(k)] = val
			}
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			if len(parts) > 0 {
				entities[strings.ToLower(k)] = strings.Join(parts, ", ")
			}
		default:
			entities[strings.ToLower(k)] = fmt.Sprint(val)
		}
	}
	return entities, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
