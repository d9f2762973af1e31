package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/futig/rag-chat-backend/internal/telegram/render"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	warningInterval   = 30 * time.Second
	inactiveThreshold = time.Hour
	cleanupInterval   = 10 * time.Minute
)

// Sender is satisfied by *tgbotapi.BotAPI
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type userLimit struct {
	limiter       *rate.Limiter
	lastSeen      time.Time
	warningsSent  int
	lastWarningAt time.Time
}

// RateLimiterMiddleware applies a token bucket per Telegram user
type RateLimiterMiddleware struct {
	mu     sync.Mutex
	limits map[int64]*userLimit
	every  rate.Limit
	burst  int
	now    func() time.Time
	logger *zap.Logger
	api    Sender
}

func NewRateLimiterMiddleware(
	requestsPerMinute int,
	burstSize int,
	logger *zap.Logger,
	api Sender,
) *RateLimiterMiddleware {
	if burstSize < 1 {
		burstSize = 1
	}
	return &RateLimiterMiddleware{
		limits: make(map[int64]*userLimit),
		every:  rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:  burstSize,
		now:    time.Now,
		logger: logger,
		api:    api,
	}
}

// Handle drops the update when its sender is over the limit
func (rl *RateLimiterMiddleware) Handle(update tgbotapi.Update, next func(tgbotapi.Update)) {
	userID, chatID, ok := participants(update)
	if !ok {
		next(update)
		return
	}

	if !rl.allowRequest(userID, chatID) {
		rl.logger.Warn("rate limit exceeded",
			zap.Int64("user_id", userID),
			zap.Int64("chat_id", chatID),
		)
		return
	}

	next(update)
}

func (rl *RateLimiterMiddleware) allowRequest(userID, chatID int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	limit, exists := rl.limits[userID]
	if !exists {
		limit = &userLimit{limiter: rate.NewLimiter(rl.every, rl.burst)}
		rl.limits[userID] = limit
	}
	limit.lastSeen = now

	if limit.limiter.AllowN(now, 1) {
		limit.warningsSent = 0
		return true
	}

	if now.Sub(limit.lastWarningAt) > warningInterval {
		limit.warningsSent++
		limit.lastWarningAt = now
		go rl.sendRateLimitWarning(chatID, limit.warningsSent)
	}
	return false
}

func (rl *RateLimiterMiddleware) sendRateLimitWarning(chatID int64, warningCount int) {
	text := render.ErrRateLimited
	if warningCount > 1 {
		text = render.ErrRateLimitedAgain
	}

	if _, err := rl.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		rl.logger.Error("failed to send rate limit warning",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
		)
	}
}

// Run forgets users that have been quiet for an hour until ctx is done
func (rl *RateLimiterMiddleware) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiterMiddleware) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for userID, limit := range rl.limits {
		if now.Sub(limit.lastSeen) > inactiveThreshold {
			delete(rl.limits, userID)
			rl.logger.Debug("cleaned up inactive user from rate limiter",
				zap.Int64("user_id", userID),
			)
		}
	}
}

func participants(update tgbotapi.Update) (userID, chatID int64, ok bool) {
	switch {
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID, update.Message.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		return update.CallbackQuery.From.ID, update.CallbackQuery.Message.Chat.ID, true
	default:
		return 0, 0, false
	}
}
