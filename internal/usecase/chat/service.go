package chat

import (
	"time"

	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/pkg/formatter"
	"github.com/futig/rag-chat-backend/internal/pkg/keylock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/futig/rag-chat-backend/internal/usecase/chat"

type Option func(*Service)

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service runs conversational turns and the session operations around them.
type Service struct {
	resolver   SessionResolver
	memory     MemoryStore
	analyzer   TextAnalyzer
	rewriter   QueryRewriter
	retriever  Retriever
	llm        LLMConnector
	registry   SessionRegistry
	formatters *formatter.Factory
	cfg        config.ChatConfig
	logger     *zap.Logger

	// held for a whole turn, streaming included
	turnLocks *keylock.Locker
	recorder  Recorder
	tracer    trace.Tracer
	now       func() time.Time
}

func NewService(
	resolver SessionResolver,
	memory MemoryStore,
	analyzer TextAnalyzer,
	rewriter QueryRewriter,
	retriever Retriever,
	llm LLMConnector,
	registry SessionRegistry,
	formatters *formatter.Factory,
	cfg config.ChatConfig,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		resolver:   resolver,
		memory:     memory,
		analyzer:   analyzer,
		rewriter:   rewriter,
		retriever:  retriever,
		llm:        llm,
		registry:   registry,
		formatters: formatters,
		cfg:        cfg,
		logger:     logger,
		turnLocks:  keylock.New(),
		recorder:   nopRecorder{},
		tracer:     otel.Tracer(tracerName),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
