package rewriter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/pkg/fallback"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const (
	confidenceUnambiguous = 1.0
	confidenceRules       = 0.9
	confidenceModel       = 0.7
	confidencePartial     = 0.5
	confidenceNone        = 0.3

	reasoningUnambiguous = "no ambiguous references"
)

var (
	errIncomplete    = errors.New("references left unresolved")
	errModelDisabled = errors.New("model rewriting disabled")
)

// Rewriter turns follow-up questions into standalone queries.
type Rewriter struct {
	llm    LLMConnector
	cfg    config.RewriterConfig
	logger *zap.Logger
}

func NewRewriter(cfg config.RewriterConfig, llm LLMConnector, logger *zap.Logger) *Rewriter {
	return &Rewriter{
		llm:    llm,
		cfg:    cfg,
		logger: logger,
	}
}

// Rewrite resolves pronouns and elliptical follow-ups in query against the
// conversation. It never fails: when nothing can be resolved the original
// query is returned with a low confidence.
func (r *Rewriter) Rewrite(ctx context.Context, query string, recent []entity.ChatMessage, state entity.ConversationState) entity.RewriteResult {
	refs := findReferences(query)
	trigger, elliptical := ellipticalTrigger(query)
	if len(refs) == 0 && !elliptical {
		return entity.RewriteResult{
			OriginalQuery:    query,
			RewrittenQuery:   query,
			ResolvedEntities: map[string]string{},
			ConfidenceScore:  confidenceUnambiguous,
			Reasoning:        reasoningUnambiguous,
		}
	}

	outcome := resolveRules(query, refs, trigger, findReferents(recent, state))

	passthrough := entity.RewriteResult{
		OriginalQuery:    query,
		RewrittenQuery:   query,
		ResolvedEntities: map[string]string{},
		ConfidenceScore:  confidenceNone,
	}

	res := fallback.Chain(ctx, passthrough,
		fallback.Func("rules", func(context.Context) (entity.RewriteResult, error) {
			if !outcome.complete() {
				return entity.RewriteResult{}, errIncomplete
			}
			return entity.RewriteResult{
				OriginalQuery:    query,
				RewrittenQuery:   outcome.rewritten,
				ResolvedEntities: outcome.resolved,
				ConfidenceScore:  confidenceRules,
				Reasoning:        "resolved references from conversation context",
			}, nil
		}),
		fallback.Func("model", func(ctx context.Context) (entity.RewriteResult, error) {
			return r.rewriteWithModel(ctx, query, recent, state)
		}),
		fallback.Func("partial", func(context.Context) (entity.RewriteResult, error) {
			result := entity.RewriteResult{
				OriginalQuery:    query,
				RewrittenQuery:   outcome.rewritten,
				ResolvedEntities: outcome.resolved,
				ConfidenceScore:  confidenceNone,
				Reasoning:        "could not resolve references",
				Unresolved:       outcome.unresolved,
			}
			if len(outcome.resolved) > 0 {
				result.ConfidenceScore = confidencePartial
				result.Reasoning = "partially resolved references"
			}
			return result, nil
		}),
	)

	ctxzap.Debug(ctx, "query rewritten",
		zap.String("source", res.Source),
		zap.String("rewritten_query", res.Value.RewrittenQuery),
		zap.Float64("confidence", res.Value.ConfidenceScore),
	)
	return res.Value
}

type modelRewrite struct {
	RewrittenQuery   string         `json:"rewritten_query"`
	ResolvedEntities map[string]any `json:"resolved_entities"`
	Confidence       *float64       `json:"confidence"`
	Reasoning        string         `json:"reasoning"`
}

func (r *Rewriter) rewriteWithModel(ctx context.Context, query string, recent []entity.ChatMessage, state entity.ConversationState) (entity.RewriteResult, error) {
	if !r.cfg.UseLLM || r.llm == nil {
		return entity.RewriteResult{}, errModelDisabled
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	out, err := r.llm.Complete(ctx, entity.CompletionRequest{
		Model:       r.cfg.RewriteModel,
		Prompt:      r.buildPrompt(query, recent, state),
		Temperature: 0.1,
		MaxTokens:   200,
	})
	if err != nil {
		return entity.RewriteResult{}, fmt.Errorf("%w: %w", entity.ErrExternalService, err)
	}

	parsed, err := parseModelRewrite(out)
	if err != nil {
		return entity.RewriteResult{}, err
	}
	if strings.EqualFold(strings.TrimSpace(parsed.RewrittenQuery), strings.TrimSpace(query)) {
		return entity.RewriteResult{}, fmt.Errorf("%w: query left unchanged", entity.ErrMalformedModelOutput)
	}

	resolved := make(map[string]string, len(parsed.ResolvedEntities))
	for k, v := range parsed.ResolvedEntities {
		if v != nil {
			resolved[strings.ToLower(k)] = fmt.Sprint(v)
		}
	}

	confidence := confidenceModel
	if parsed.Confidence != nil && *parsed.Confidence > 0 {
		confidence = min(*parsed.Confidence, 1)
	}

	reasoning := parsed.Reasoning
	if reasoning == "" {
		reasoning = "rewritten by model"
	}

	return entity.RewriteResult{
		OriginalQuery:    query,
		RewrittenQuery:   strings.TrimSpace(parsed.RewrittenQuery),
		ResolvedEntities: resolved,
		ConfidenceScore:  confidence,
		Reasoning:        reasoning,
	}, nil
}

func (r *Rewriter) buildPrompt(query string, recent []entity.ChatMessage, state entity.ConversationState) string {
	if n := r.cfg.RecentMessages; n > 0 && len(recent) > n {
		recent = recent[len(recent)-n:]
	}

	var conv strings.Builder
	for _, m := range recent {
		fmt.Fprintf(&conv, "%s: %s\n", strings.ToUpper(string(m.Role)), m.Content)
	}
	if conv.Len() == 0 {
		conv.WriteString("(empty)\n")
	}

	topic := "none"
	if state.CurrentTopic != nil && *state.CurrentTopic != "" {
		topic = *state.CurrentTopic
	}

	entities := "none"
	if len(state.CurrentEntities) > 0 {
		parts := make([]string, 0, len(state.CurrentEntities))
		for _, k := range sortedKeys(state.CurrentEntities) {
			parts = append(parts, k+"="+state.CurrentEntities[k])
		}
		entities = strings.Join(parts, ", ")
	}

	return fmt.Sprintf(rewritePrompt, conv.String(), topic, entities, query)
}

func parseModelRewrite(out string) (modelRewrite, error) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return modelRewrite{}, fmt.Errorf("%w: no JSON object in rewrite", entity.ErrMalformedModelOutput)
	}

	var parsed modelRewrite
	if err := json.Unmarshal([]byte(out[start:end+1]), &parsed); err != nil {
		return modelRewrite{}, fmt.Errorf("%w: %w", entity.ErrMalformedModelOutput, err)
	}
	if strings.TrimSpace(parsed.RewrittenQuery) == "" {
		return modelRewrite{}, fmt.Errorf("%w: empty rewritten_query", entity.ErrMalformedModelOutput)
	}
	return parsed, nil
}
