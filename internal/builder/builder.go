package builder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/futig/rag-chat-backend/internal/api"
	chatapi "github.com/futig/rag-chat-backend/internal/api/chat"
	healthapi "github.com/futig/rag-chat-backend/internal/api/health"
	sessionapi "github.com/futig/rag-chat-backend/internal/api/session"
	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/integration/llm"
	"github.com/futig/rag-chat-backend/internal/integration/rag"
	"github.com/futig/rag-chat-backend/internal/metrics"
	"github.com/futig/rag-chat-backend/internal/pkg/formatter"
	pkgRetry "github.com/futig/rag-chat-backend/internal/pkg/retry"
	"github.com/futig/rag-chat-backend/internal/pkg/validator"
	"github.com/futig/rag-chat-backend/internal/telegram"
	"github.com/futig/rag-chat-backend/internal/usecase/analyzer"
	chatuc "github.com/futig/rag-chat-backend/internal/usecase/chat"
	"github.com/futig/rag-chat-backend/internal/usecase/memory"
	"github.com/futig/rag-chat-backend/internal/usecase/resolver"
	"github.com/futig/rag-chat-backend/internal/usecase/rewriter"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const (
	serverReadTimeout  = 15 * time.Second
	serverWriteTimeout = 3 * time.Minute // streaming turns
	serverIdleTimeout  = 60 * time.Second
)

// core holds what both binaries share
type core struct {
	cfg     *config.Config
	logger  *zap.Logger
	service *chatuc.Service
	memory  *memory.Store
	metrics *metrics.Metrics
	closers []func(context.Context) error
}

func Build() (*App, error) {
	ctx := context.Background()

	c, err := buildCore(ctx)
	if err != nil {
		return nil, err
	}
	logger := c.logger

	v := validator.NewValidator(c.cfg.ChatCfg)
	router := api.SetupRouter(api.Handlers{
		Chat:    chatapi.NewHandler(c.service, v),
		Session: sessionapi.NewHandler(c.service, v),
		Health:  healthapi.NewHandler(c.service),
		Metrics: c.metrics.Handler(),
	}, c.cfg.APIKey, logger)
	logger.Info("HTTP router configured", zap.Bool("api_key_required", c.cfg.APIKey != ""))

	server := &http.Server{
		Addr:         c.cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	logger.Info("Application built successfully",
		zap.String("environment", c.cfg.Environment),
	)

	return &App{
		server: server,
		core:   c,
		logger: logger,
	}, nil
}

// BuildTelegramBot creates the Telegram frontend over the same conversational
// core. The returned function releases the core's connections.
func BuildTelegramBot() (telegram.Bot, *zap.Logger, func(), error) {
	ctx := context.Background()

	c, err := buildCore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	if c.cfg.TelegramCfg.BotToken == "" {
		c.close(ctx)
		return nil, nil, nil, errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	bot, err := telegram.NewBot(&c.cfg.TelegramCfg, c.service, c.logger)
	if err != nil {
		c.close(ctx)
		return nil, nil, nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	c.logger.Info("Telegram bot built successfully",
		zap.String("environment", c.cfg.Environment),
	)
	return bot, c.logger, func() { c.close(context.Background()) }, nil
}

func buildCore(ctx context.Context) (*core, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("setup logger: %w", err)
	}
	ctx = ctxzap.ToContext(ctx, logger)

	logger.Info("Building application",
		zap.String("environment", cfg.Environment),
		zap.String("server_addr", cfg.ServerAddr),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("retrieval_backend", cfg.RetrievalBackend),
		zap.Bool("mocks", cfg.EnableMocks),
	)

	c := &core{cfg: cfg, logger: logger}
	fail := func(err error) (*core, error) {
		c.close(context.Background())
		return nil, err
	}

	shutdownTracing, err := setupTracing(ctx, cfg.TelemetryCfg, cfg.Environment, logger)
	if err != nil {
		return fail(fmt.Errorf("setup tracing: %w", err))
	}
	c.closers = append(c.closers, shutdownTracing)

	kv, closeKV, err := setupCache(ctx, cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("setup cache: %w", err))
	}
	c.closers = append(c.closers, ignoreCtx(closeKV))

	registry, closeDB, err := setupRegistry(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	c.closers = append(c.closers, ignoreCtx(closeDB))

	retriever, err := setupRetriever(ctx, cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("setup retriever: %w", err))
	}

	var model chatuc.LLMConnector
	if cfg.EnableMocks {
		logger.Info("Using mock LLM connector")
		model = llm.NewMockConnector(logger)
	} else {
		model = llm.NewConnector(cfg.OpenAICfg, logger)
	}

	c.metrics = metrics.New()
	textAnalyzer := analyzer.NewAnalyzer(cfg.AnalyzerCfg, model, logger)
	c.memory = memory.NewStore(kv, textAnalyzer, cfg.MemoryCfg, logger, memory.WithObserver(c.metrics))
	c.closers = append(c.closers, func(context.Context) error {
		c.memory.Wait()
		return nil
	})

	c.service = chatuc.NewService(
		resolver.New(),
		c.memory,
		textAnalyzer,
		rewriter.NewRewriter(cfg.RewriterCfg, model, logger),
		retriever,
		model,
		registry,
		formatter.NewFactory(),
		cfg.ChatCfg,
		logger,
		chatuc.WithRecorder(c.metrics),
	)
	logger.Info("Use cases initialized")

	return c, nil
}

func setupRetriever(ctx context.Context, cfg *config.Config, logger *zap.Logger) (chatuc.Retriever, error) {
	if cfg.EnableMocks {
		logger.Info("Using mock retriever")
		return rag.NewMockConnector(logger), nil
	}

	switch cfg.RetrievalBackend {
	case config.RetrievalHTTP:
		connector := rag.NewConnector(cfg.RAGConnectorCfg, logger)
		if err := connector.Ping(ctx); err != nil {
			logger.Warn("retrieval service is not reachable yet", zap.Error(err))
		}
		return connector, nil
	default:
		retriever, err := rag.NewWeaviateRetriever(cfg.WeaviateCfg, logger)
		if err != nil {
			return nil, err
		}
		if err := pkgRetry.Do(ctx, cfg.StartupRetry, "weaviate", retriever.Ping); err != nil {
			return nil, fmt.Errorf("ping weaviate: %w", err)
		}
		logger.Info("weaviate connection established",
			zap.String("url", cfg.WeaviateCfg.Url),
			zap.String("class", cfg.WeaviateCfg.ClassName),
		)
		return retriever, nil
	}
}

// close releases resources in reverse order of acquisition
func (c *core) close(ctx context.Context) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			c.logger.Warn("failed to release resource", zap.Error(err))
		}
	}
	c.closers = nil
}

func ignoreCtx(fn func()) func(context.Context) error {
	return func(context.Context) error {
		fn()
		return nil
	}
}
