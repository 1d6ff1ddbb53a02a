// Package telegram delivers push notifications through the Telegram Bot API.
// A push token is a Telegram chat ID: a device registers by sending /register
// to the bot, and risk alerts are then pushed to that chat.
//
// Sends are single attempts. The trigger policy allows at most one delivery
// per fired latch, so failures are reported to the caller and not retried.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/slopewatch/internal/logger"
	"github.com/rewired-gh/slopewatch/internal/models"
)

// botSender is the subset of *tgbotapi.BotAPI the client uses.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Client handles Telegram push delivery and device registration
type Client struct {
	bot botSender
}

// NewClient creates a new Telegram client
func NewClient(botToken string) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClientWithBot(bot), nil
}

func newClientWithBot(bot botSender) *Client {
	return &Client{bot: bot}
}

// ParseToken converts a push token to a Telegram chat ID.
func ParseToken(token string) (int64, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(token), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid push token %q: %w", token, err)
	}
	return chatID, nil
}

// SendPush delivers n to the chat identified by n.Token
func (c *Client) SendPush(ctx context.Context, n models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid notification: %w", err)
	}
	if n.Local {
		return errors.New("local notification cannot be pushed")
	}

	chatID, err := ParseToken(n.Token)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, formatNotification(n))
	msg.ParseMode = "MarkdownV2"

	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send push %s: %w", n.ID, err)
	}
	return nil
}

// ListenForRegistrations polls bot updates until ctx is done. /start and
// /register register the sending chat as the push token; /unregister
// clears it. register is called from the polling goroutine.
func (c *Client) ListenForRegistrations(ctx context.Context, register func(token string)) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)
	defer c.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			c.handleUpdate(update, register)
		}
	}
}

func (c *Client) handleUpdate(update tgbotapi.Update, register func(token string)) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}

	token := strconv.FormatInt(msg.Chat.ID, 10)
	var reply string
	switch msg.Command() {
	case "start", "register":
		register(token)
		logger.Info("Registered push token for chat %s", token)
		reply = "Registered\\. You will receive landslide risk alerts here\\."
	case "unregister":
		register("")
		logger.Info("Cleared push token on request from chat %s", token)
		reply = "Unregistered\\. Alerts will stay on the monitoring device\\."
	default:
		return
	}

	ack := tgbotapi.NewMessage(msg.Chat.ID, reply)
	ack.ParseMode = "MarkdownV2"
	if _, err := c.bot.Send(ack); err != nil {
		logger.Warn("Failed to acknowledge registration for chat %s: %v", token, err)
	}
}

// formatNotification formats a notification as a MarkdownV2 message
func formatNotification(n models.Notification) string {
	icon := "⚠️"
	if n.Kind == models.KindProximity {
		icon = "📍"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n", icon, escapeMarkdownV2(n.Title))
	b.WriteString(escapeMarkdownV2(n.Body))
	if !n.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "\n\n🕒 %s", escapeMarkdownV2(n.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC")))
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
