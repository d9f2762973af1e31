package builder

import (
	"context"
	"fmt"

	"github.com/futig/rag-chat-backend/internal/config"
	pkgRetry "github.com/futig/rag-chat-backend/internal/pkg/retry"
	"github.com/futig/rag-chat-backend/internal/repository"
	"github.com/futig/rag-chat-backend/internal/usecase/memory"
	"go.uber.org/zap"
)

// setupCache returns the key-value substrate of the conversation memory
func setupCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (memory.KVStore, func(), error) {
	if cfg.CacheBackend == config.CacheMemory {
		logger.Info("using in-process conversation cache")
		return repository.NewMemoryKV(cfg.MemoryCfg.CacheTTL, cfg.MemoryCfg.CacheTTL/2), func() {}, nil
	}

	client, err := repository.NewRedisClient(cfg.RedisCfg)
	if err != nil {
		return nil, nil, err
	}
	kv := repository.NewRedisKV(client, cfg.RedisCfg.KeyPrefix)

	if err := pkgRetry.Do(ctx, cfg.StartupRetry, "redis", kv.Ping); err != nil {
		_ = kv.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connection established", zap.String("key_prefix", cfg.RedisCfg.KeyPrefix))

	closeFn := func() {
		if err := kv.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	return kv, closeFn, nil
}
