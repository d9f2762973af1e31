package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const streamBuffer = 16

// streamTurn finishes a turn in the background while the caller drains the
// stream. release is called once the turn has been persisted.
func (s *Service) streamTurn(ctx context.Context, t *turn, ok bool, release func()) entity.TurnResult {
	out := make(chan string, streamBuffer)
	done := make(chan entity.TurnMetadata, 1)

	if ok {
		t.state = entity.StateGenerating
	}
	result := entity.TurnResult{
		Stream:    out,
		Done:      done,
		SessionID: t.resolution.SessionID,
		Metadata:  s.metadata(t),
	}

	go func() {
		defer release()
		defer close(done)
		defer close(out)

		ok := ok && s.run(ctx, t, step{entity.StateGenerating, func(ctx context.Context, t *turn) error {
			return s.generateStream(ctx, t, out)
		}})

		if t.incomplete {
			s.finishCancelled(ctx, t)
			done <- s.metadata(t)
			return
		}

		ok = ok && s.run(ctx, t, step{entity.StatePersisting, s.persist})
		s.finish(ctx, t, ok)
		if t.state == entity.StateError && !t.streamed {
			send(ctx, out, t.response)
		}
		done <- s.metadata(t)
	}()

	return result
}

// generateStream forwards model chunks to out. When the caller goes away the
// text produced so far is kept and the turn is marked incomplete.
func (s *Service) generateStream(ctx context.Context, t *turn, out chan<- string) error {
	gctx, cancel := withTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	start := time.Now()
	chunks, err := s.llm.Stream(gctx, s.completionFor(t))
	if err != nil {
		s.recorder.ExternalCall("llm", time.Since(start), err)
		return fmt.Errorf("%w: generation: %w", entity.ErrExternalService, err)
	}

	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			t.incomplete = true
			t.response = b.String()
			s.recorder.ExternalCall("llm", time.Since(start), ctx.Err())
			return nil
		case chunk, more := <-chunks:
			if !more {
				if ctx.Err() != nil {
					t.incomplete = true
					s.recorder.ExternalCall("llm", time.Since(start), ctx.Err())
					return nil
				}
				if gctx.Err() != nil {
					s.recorder.ExternalCall("llm", time.Since(start), gctx.Err())
					return fmt.Errorf("%w: generation: %w", entity.ErrExternalService, gctx.Err())
				}
				s.recorder.ExternalCall("llm", time.Since(start), nil)
				if strings.TrimSpace(t.response) == "" {
					return fmt.Errorf("%w: empty completion", entity.ErrMalformedModelOutput)
				}
				return nil
			}
			if chunk.Err != nil {
				if ctx.Err() != nil {
					t.incomplete = true
					s.recorder.ExternalCall("llm", time.Since(start), ctx.Err())
					return nil
				}
				s.recorder.ExternalCall("llm", time.Since(start), chunk.Err)
				return fmt.Errorf("%w: generation: %w", entity.ErrExternalService, chunk.Err)
			}
			if chunk.Text == "" {
				continue
			}
			b.WriteString(chunk.Text)
			t.response = b.String()
			if !send(ctx, out, chunk.Text) {
				t.incomplete = true
				return nil
			}
			t.streamed = true
		}
	}
}

// finishCancelled keeps the partial answer without advancing the state.
func (s *Service) finishCancelled(ctx context.Context, t *turn) {
	t.state = entity.StatePersisting
	if err := s.persist(ctx, t); err != nil {
		ctxzap.Error(ctx, "failed to persist interrupted turn", zap.Error(err))
	}

	t.state = entity.StateError
	t.failedIn = entity.StateGenerating
	t.err = context.Cause(ctx)
	if t.err == nil {
		t.err = errors.New("stream interrupted")
	}

	elapsed := s.now().Sub(t.started)
	s.recorder.TurnFinished(t.state, t.degraded, elapsed)
	ctxzap.Info(ctx, "stream interrupted by client",
		zap.Int("partial_length", len(t.response)),
		zap.Duration("duration", elapsed),
	)
}

func send(ctx context.Context, out chan<- string, text string) bool {
	select {
	case out <- text:
		return true
	case <-ctx.Done():
		return false
	}
}
