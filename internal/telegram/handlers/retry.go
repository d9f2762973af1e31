package handlers

import (
	"time"

	"github.com/avast/retry-go/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	maxSendRetries = 3
	retrySleepBase = time.Second
)

// sendMessageWithRetry sends a message with growing pauses between attempts
func sendMessageWithRetry(
	bot Sender,
	chatID int64,
	text string,
	attempts uint,
	delay time.Duration,
	logger *zap.Logger,
) error {
	msg := tgbotapi.NewMessage(chatID, text)

	err := retry.Do(
		func() error {
			_, err := bot.Send(msg)
			return err
		},
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("failed to send message, retrying",
				zap.Error(err),
				zap.Uint("attempt", n+1),
				zap.Uint("max_retries", attempts),
				zap.Int64("chat_id", chatID),
			)
		}),
	)
	if err != nil {
		logger.Error("failed to send message after all retries",
			zap.Error(err),
			zap.Uint("max_retries", attempts),
			zap.Int64("chat_id", chatID),
		)
	}
	return err
}

// sendCriticalMessage sends a message that must be delivered, such as an answer
func sendCriticalMessage(bot Sender, chatID int64, text string, logger *zap.Logger) error {
	return sendMessageWithRetry(bot, chatID, text, maxSendRetries, retrySleepBase, logger)
}
