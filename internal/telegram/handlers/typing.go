package handlers

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Telegram drops the typing status after about five seconds
const typingInterval = 4 * time.Second

// TypingNotifier keeps the "typing" status on while a turn is generated
type TypingNotifier struct {
	bot     Sender
	chatID  int64
	done    chan struct{}
	logger  *zap.Logger
	started bool
}

func NewTypingNotifier(bot Sender, chatID int64, logger *zap.Logger) *TypingNotifier {
	return &TypingNotifier{
		bot:    bot,
		chatID: chatID,
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (t *TypingNotifier) Start(ctx context.Context) {
	if t.started {
		return
	}
	t.started = true

	t.send()
	ticker := time.NewTicker(typingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.send()
			case <-t.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (t *TypingNotifier) Stop() {
	if !t.started {
		return
	}
	close(t.done)
	t.started = false
}

func (t *TypingNotifier) send() {
	action := tgbotapi.NewChatAction(t.chatID, tgbotapi.ChatTyping)
	if _, err := t.bot.Request(action); err != nil {
		t.logger.Warn("failed to send typing action",
			zap.Error(err),
			zap.Int64("chat_id", t.chatID),
		)
	}
}
