package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/pkg/fallback"
	"github.com/futig/rag-chat-backend/internal/pkg/logger"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxTitleRunes = 60

// turn accumulates the output of every state for the next one.
type turn struct {
	req     entity.TurnRequest
	message string
	started time.Time

	state    entity.TurnState
	err      error
	failedIn entity.TurnState

	resolution entity.Resolution
	convCtx    entity.ConversationContext
	loaded     bool

	intent       entity.Intent
	entities     map[string]string
	topic        *string
	topicChanged bool
	rewrite      entity.RewriteResult
	docs         []entity.RetrievedDocument

	response   string
	streamed   bool
	incomplete bool
	degraded   bool
	// messages of this turn already in the buffer
	buffered int

	// state after persisting, nil until then
	next *entity.ConversationState
}

type step struct {
	state entity.TurnState
	run   func(ctx context.Context, t *turn) error
}

// ProcessTurn runs one conversational turn. Failures of dependencies never
// surface as errors; they end the turn in the ERROR state with a degraded
// response. Only invalid input and a cancelled wait for the session are
// returned as errors.
func (s *Service) ProcessTurn(ctx context.Context, req entity.TurnRequest) (entity.TurnResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return entity.TurnResult{}, fmt.Errorf("%w: message", entity.ErrMissingField)
	}

	t := &turn{
		req:     req,
		message: message,
		started: s.now(),
		state:   entity.StateResolvingSession,
	}
	t.resolution = s.resolveSession(req)
	sessionID := t.resolution.SessionID

	ctx = logger.WithSession(logger.WithAction(ctx, "process_turn"), sessionID, t.resolution.UserID)
	ctx = logger.AddFields(ctx, zap.String("resolution_strategy", string(t.resolution.Strategy)))

	unlock, err := s.turnLocks.Lock(ctx, sessionID)
	if err != nil {
		return entity.TurnResult{}, fmt.Errorf("wait for session %s: %w", sessionID, err)
	}

	ctx, span := s.tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("session.strategy", string(t.resolution.Strategy)),
		attribute.Bool("turn.stream", req.Stream),
	))

	ok := s.run(ctx, t,
		step{entity.StateLoadingContext, s.loadContext},
		step{entity.StateAnalyzing, s.analyze},
		step{entity.StateRewriting, s.rewriteQuery},
		step{entity.StateRetrieving, s.retrieve},
	)

	if req.Stream {
		return s.streamTurn(ctx, t, ok, func() {
			span.End()
			unlock()
		}), nil
	}
	defer unlock()
	defer span.End()

	ok = ok && s.run(ctx, t, step{entity.StateGenerating, s.generate})
	ok = ok && s.run(ctx, t, step{entity.StatePersisting, s.persist})
	s.finish(ctx, t, ok)

	return entity.TurnResult{
		Response:  t.response,
		SessionID: sessionID,
		Metadata:  s.metadata(t),
	}, nil
}

// resolveSession prefers an explicit session id, then the raw request, and
// otherwise derives the session from the message itself.
func (s *Service) resolveSession(req entity.TurnRequest) entity.Resolution {
	var res entity.Resolution
	switch {
	case req.SessionID != nil && strings.TrimSpace(*req.SessionID) != "":
		res = s.resolver.Resolve(map[string]any{
			"session_id": strings.TrimSpace(*req.SessionID),
			"user_id":    req.UserID,
		}, nil)
	case req.Body != nil || len(req.Headers) > 0:
		res = s.resolver.Resolve(req.Body, req.Headers)
	default:
		user := req.UserID
		if user == "" {
			user = entity.AnonymousUser
		}
		res = s.resolver.Resolve(map[string]any{
			"user":     user,
			"messages": []any{map[string]any{"role": string(entity.RoleUser), "content": req.Message}},
		}, nil)
	}

	if req.UserID != "" && res.UserID == entity.AnonymousUser {
		res.UserID = req.UserID
	}
	return res
}

func (s *Service) run(ctx context.Context, t *turn, steps ...step) bool {
	for _, st := range steps {
		t.state = st.state
		if err := ctx.Err(); err != nil {
			s.fail(ctx, t, err)
			return false
		}

		sctx, span := s.tracer.Start(ctx, "chat."+strings.ToLower(string(st.state)))
		err := st.run(sctx, t)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if err != nil {
			s.fail(ctx, t, err)
			return false
		}
	}
	return true
}

func (s *Service) fail(ctx context.Context, t *turn, err error) {
	t.err = err
	t.failedIn = t.state
	ctxzap.Warn(ctx, "turn step failed",
		zap.String("state", string(t.state)),
		zap.Error(err),
	)
}

func (s *Service) finish(ctx context.Context, t *turn, ok bool) {
	if ok {
		t.state = entity.StateDone
	} else {
		s.recover(ctx, t)
	}

	elapsed := s.now().Sub(t.started)
	s.recorder.TurnFinished(t.state, t.degraded, elapsed)

	fields := []zap.Field{
		zap.String("state", string(t.state)),
		zap.Bool("degraded", t.degraded),
		zap.Duration("duration", elapsed),
	}
	if t.err != nil {
		fields = append(fields, zap.String("failed_in", string(t.failedIn)), zap.Error(t.err))
	}
	ctxzap.Info(ctx, "turn finished", fields...)
}

// recover turns a failed turn into a degraded answer: whatever was already
// generated, else an excerpt of the retrieved documents, else an apology.
func (s *Service) recover(ctx context.Context, t *turn) {
	t.state = entity.StateError
	t.degraded = true

	res := fallback.Chain(context.WithoutCancel(ctx), apologyResponse,
		fallback.Func("generated", func(context.Context) (string, error) {
			if strings.TrimSpace(t.response) == "" {
				return "", fmt.Errorf("nothing generated")
			}
			return t.response, nil
		}),
		fallback.Func("documents", func(context.Context) (string, error) {
			if excerpt, ok := documentExcerpt(t.docs); ok {
				return excerpt, nil
			}
			return "", fmt.Errorf("no documents retrieved")
		}),
	)
	t.response = res.Value
	ctxzap.Debug(ctx, "degraded response", zap.String("source", res.Source))

	s.persistFailure(ctx, t)
}

func (s *Service) loadContext(ctx context.Context, t *turn) error {
	cctx, cancel := withTimeout(ctx, s.cfg.CacheTimeout)
	defer cancel()

	start := time.Now()
	convCtx, err := s.memory.GetContext(cctx, t.resolution.SessionID, t.message, t.req.MaxContextMessages)
	s.recorder.ExternalCall("cache", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("load context: %w", err)
	}

	if convCtx.State.UserID == "" {
		convCtx.State.UserID = t.resolution.UserID
	}
	t.convCtx = convCtx
	t.loaded = true
	return nil
}

// analyze runs the independent classifiers concurrently.
func (s *Service) analyze(ctx context.Context, t *turn) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t.intent = s.analyzer.ClassifyIntent(gctx, t.message)
		return nil
	})
	g.Go(func() error {
		t.entities = s.analyzer.ExtractEntities(gctx, t.message)
		return nil
	})
	g.Go(func() error {
		t.topic = s.analyzer.ExtractTopic(gctx, t.message)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Service) rewriteQuery(ctx context.Context, t *turn) error {
	t.rewrite = s.rewriter.Rewrite(ctx, t.message, t.convCtx.RecentMessages, t.convCtx.State)
	t.topicChanged = s.analyzer.DetectTopicChange(t.rewrite.RewrittenQuery, t.convCtx.State.CurrentTopic)
	return ctx.Err()
}

func (s *Service) retrieve(ctx context.Context, t *turn) error {
	rctx, cancel := withTimeout(ctx, s.cfg.RetrievalTimeout)
	defer cancel()

	start := time.Now()
	docs, err := s.retriever.Search(rctx, t.rewrite.RewrittenQuery, t.resolution.UserID, s.cfg.MaxRetrievedDocs)
	s.recorder.ExternalCall("retrieval", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: retrieval: %w", entity.ErrExternalService, err)
	}
	if s.cfg.MaxRetrievedDocs > 0 && len(docs) > s.cfg.MaxRetrievedDocs {
		docs = docs[:s.cfg.MaxRetrievedDocs]
	}
	t.docs = docs
	return nil
}

func (s *Service) completionFor(t *turn) entity.CompletionRequest {
	return s.buildCompletion(generationInput{
		query:    t.rewrite.RewrittenQuery,
		intent:   t.intent,
		summary:  t.convCtx.ContextSummary,
		memories: t.convCtx.Memories,
		recent:   t.convCtx.RecentMessages,
		docs:     t.docs,
	})
}

func (s *Service) generate(ctx context.Context, t *turn) error {
	gctx, cancel := withTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	start := time.Now()
	out, err := s.llm.Complete(gctx, s.completionFor(t))
	s.recorder.ExternalCall("llm", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: generation: %w", entity.ErrExternalService, err)
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return fmt.Errorf("%w: empty completion", entity.ErrMalformedModelOutput)
	}
	t.response = out
	return nil
}

// persist writes the turn. It runs detached from the request context so a
// client that goes away does not leave half a turn behind.
func (s *Service) persist(ctx context.Context, t *turn) error {
	pctx, cancel := s.persistContext(ctx)
	defer cancel()
	sessionID := t.resolution.SessionID

	user := s.memory.NewMessage(sessionID, entity.RoleUser, t.message)
	intent := t.intent
	user.Intent = &intent
	user.Entities = t.entities

	msgs := []entity.ChatMessage{user}
	if t.response != "" || !t.incomplete {
		assistant := s.memory.NewMessage(sessionID, entity.RoleAssistant, t.response)
		assistant.Metadata = map[string]string{}
		if t.rewrite.RewrittenQuery != "" && t.rewrite.RewrittenQuery != t.message {
			assistant.Metadata[entity.MetaRewritten] = t.rewrite.RewrittenQuery
		}
		if t.incomplete {
			assistant.Metadata[entity.MetaIncomplete] = "true"
		}
		msgs = append(msgs, assistant)
	}

	if err := s.memory.Append(pctx, sessionID, msgs...); err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	t.buffered = len(msgs)

	if !t.incomplete {
		next := advanceState(t.convCtx.State, t, s.now())
		if err := s.memory.SaveState(pctx, next); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
		t.next = &next
	}

	if ids := memoryIDs(t.convCtx.Memories); len(ids) > 0 {
		if err := s.memory.TouchMemories(pctx, sessionID, ids); err != nil {
			ctxzap.Warn(ctx, "failed to update memory access counters", zap.Error(err))
		}
	}

	s.touchRegistry(pctx, t, len(msgs))
	return nil
}

// persistFailure records an ERROR turn: both messages carry the error and
// only the depth of the state moves. Messages written by a persist that
// failed later on are not appended again.
func (s *Service) persistFailure(ctx context.Context, t *turn) {
	pctx, cancel := s.persistContext(ctx)
	defer cancel()
	sessionID := t.resolution.SessionID

	errText := "unknown error"
	if t.err != nil {
		errText = t.err.Error()
	}

	user := s.memory.NewMessage(sessionID, entity.RoleUser, t.message)
	user.Metadata = map[string]string{entity.MetaError: errText}
	assistant := s.memory.NewMessage(sessionID, entity.RoleAssistant, t.response)
	assistant.Metadata = map[string]string{entity.MetaError: errText}

	if t.buffered == 0 {
		if err := s.memory.Append(pctx, sessionID, user, assistant); err != nil {
			ctxzap.Error(ctx, "failed to persist failed turn", zap.Error(err))
		} else {
			t.buffered = 2
		}
	}

	state := t.convCtx.State
	if !t.loaded {
		loaded, err := s.memory.LoadState(pctx, sessionID)
		if err != nil {
			ctxzap.Error(ctx, "failed to load state of failed turn", zap.Error(err))
			return
		}
		state = loaded
	}
	if state.UserID == "" {
		state.UserID = t.resolution.UserID
	}
	state.ConversationDepth++

	if err := s.memory.SaveState(pctx, state); err != nil {
		ctxzap.Error(ctx, "failed to save state of failed turn", zap.Error(err))
		return
	}
	t.next = &state
	s.touchRegistry(pctx, t, t.buffered)
}

func (s *Service) touchRegistry(ctx context.Context, t *turn, added int) {
	if s.registry == nil {
		return
	}
	now := s.now()
	session := entity.ChatSession{
		ID:        t.resolution.SessionID,
		UserID:    t.resolution.UserID,
		Title:     truncateRunes(t.message, maxTitleRunes),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.registry.Touch(ctx, session, added); err != nil {
		ctxzap.Warn(ctx, "failed to update session registry", zap.Error(err))
	}
}

func (s *Service) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(context.WithoutCancel(ctx), s.cfg.CacheTimeout)
}

// advanceState applies a successful turn to a copy of state.
func advanceState(state entity.ConversationState, t *turn, now time.Time) entity.ConversationState {
	next := state

	if next.UserID == "" || (next.UserID == entity.AnonymousUser && t.resolution.UserID != entity.AnonymousUser) {
		next.UserID = t.resolution.UserID
	}

	next.CurrentEntities = make(map[string]string, len(state.CurrentEntities)+len(t.entities))
	for k, v := range state.CurrentEntities {
		next.CurrentEntities[k] = v
	}
	for k, v := range t.entities {
		next.CurrentEntities[k] = v
	}

	if t.topic != nil && (state.CurrentTopic == nil || t.topicChanged) {
		topic := *t.topic
		next.CurrentTopic = &topic
	}

	next.CurrentIntent = t.intent
	history := make([]entity.Intent, 0, len(state.IntentHistory)+1)
	history = append(history, state.IntentHistory...)
	history = append(history, t.intent)
	next.IntentHistory = history

	next.UnresolvedReferences = []string{}
	if len(t.rewrite.Unresolved) > 0 {
		next.UnresolvedReferences = append(next.UnresolvedReferences, t.rewrite.Unresolved...)
	}

	next.LastRetrievedDocs = make([]string, 0, len(t.docs))
	for _, d := range t.docs {
		id := d.DocumentID
		if id == "" {
			id = d.Filename
		}
		next.LastRetrievedDocs = append(next.LastRetrievedDocs, id)
	}

	next.ConversationDepth++
	next.UpdatedAt = now
	return next
}

func (s *Service) metadata(t *turn) entity.TurnMetadata {
	state := t.convCtx.State
	if t.next != nil {
		state = *t.next
	}

	intent := t.intent
	if intent == "" {
		intent = entity.IntentGeneral
	}

	md := entity.TurnMetadata{
		Intent:             intent,
		Topic:              state.CurrentTopic,
		ContextUsed:        len(t.convCtx.RecentMessages) > 0 || t.convCtx.ContextSummary != nil || len(t.convCtx.Memories) > 0,
		RewrittenQuery:     t.rewrite.RewrittenQuery,
		Sources:            sourcesOf(t.docs),
		ConversationDepth:  state.ConversationDepth,
		IsInferred:         t.resolution.IsInferred,
		ResolutionStrategy: t.resolution.Strategy,
		UserID:             t.resolution.UserID,
		State:              t.state,
		Degraded:           t.degraded,
	}
	if t.err != nil {
		md.Error = t.err.Error()
	}
	return md
}

func memoryIDs(memories []entity.ConversationMemory) []string {
	ids := make([]string, 0, len(memories))
	for _, m := range memories {
		ids = append(ids, m.ID)
	}
	return ids
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
