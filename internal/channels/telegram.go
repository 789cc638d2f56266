package channels

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/nudge/internal/bus"
)

// TelegramChannel forwards reminder lifecycle events to a set of operator
// chats. It is push-only: it never polls for incoming messages.
type TelegramChannel struct {
	token        string
	chatIDs      []int64
	notifyOnSend bool
	logger       *slog.Logger
	eventBus     *bus.Bus
	bot          *tgbotapi.BotAPI
}

// NewTelegramChannel creates a new Telegram notification channel.
func NewTelegramChannel(token string, chatIDs []int64, notifyOnSend bool, eventBus *bus.Bus, logger *slog.Logger) *TelegramChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		token:        token,
		chatIDs:      chatIDs,
		notifyOnSend: notifyOnSend,
		logger:       logger,
		eventBus:     eventBus,
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

// Start connects to the Telegram API, retrying with exponential backoff,
// then forwards reminder events until the context is canceled.
func (t *TelegramChannel) Start(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		var err error
		t.bot, err = tgbotapi.NewBotAPI(t.token)
		if err == nil {
			break
		}
		t.logger.Warn("telegram init failed, retrying", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	t.logger.Info("telegram notifier started", "user", t.bot.Self.UserName, "chats", len(t.chatIDs))

	sub := t.eventBus.Subscribe("reminder.")
	defer t.eventBus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sub.Ch():
			t.handleEvent(ev)
		}
	}
}

func (t *TelegramChannel) handleEvent(ev bus.Event) {
	switch payload := ev.Payload.(type) {
	case bus.ReminderPausedEvent:
		t.broadcast(pausedMessage(payload))
	case bus.ReminderSentEvent:
		if t.notifyOnSend {
			t.broadcast(sentMessage(payload))
		}
	}
}

func (t *TelegramChannel) broadcast(text string) {
	for _, chatID := range t.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := t.bot.Send(msg); err != nil {
			t.logger.Error("failed to send telegram notification", "chat_id", chatID, "error", err)
		}
	}
}

// pausedMessage formats the operator notification for a session whose
// reminders were paused by loop protection.
func pausedMessage(ev bus.ReminderPausedEvent) string {
	return fmt.Sprintf("⚠️ Reminders paused for session %s: no progress on %q after %d reminders.",
		ev.SessionID, ev.TodoContent, ev.Attempts)
}

// sentMessage formats the operator notification for an injected reminder.
func sentMessage(ev bus.ReminderSentEvent) string {
	return fmt.Sprintf("Reminder sent to session %s (attempt %d, %d of %d todos remaining).",
		ev.SessionID, ev.Attempt, ev.Pending, ev.Total)
}
