package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/slopewatch/internal/models"
)

type fakeBot struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	sendErr error
	updates chan tgbotapi.Update
	stopped bool
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.sendErr
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeBot) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func pushNotification(token string) models.Notification {
	return models.Notification{
		ID:        "n-1",
		Kind:      models.KindPush,
		Title:     "High landslide risk nearby",
		Body:      "Risk 72% (High) within 50 m of the station.",
		Token:     token,
		CreatedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func commandUpdate(chatID int64, text string) tgbotapi.Update {
	cmdLen := len(text)
	if i := strings.IndexByte(text, ' '); i > 0 {
		cmdLen = i
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func TestSendPush(t *testing.T) {
	bot := newFakeBot()
	c := newClientWithBot(bot)

	if err := c.SendPush(context.Background(), pushNotification("123456789")); err != nil {
		t.Fatalf("SendPush failed: %v", err)
	}

	msgs := bot.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].ChatID != 123456789 {
		t.Errorf("chat ID = %d", msgs[0].ChatID)
	}
	if msgs[0].ParseMode != "MarkdownV2" {
		t.Errorf("parse mode = %q", msgs[0].ParseMode)
	}
	if !strings.Contains(msgs[0].Text, "\\(High\\)") {
		t.Errorf("body should be escaped, got %q", msgs[0].Text)
	}
}

func TestSendPushSingleAttempt(t *testing.T) {
	bot := newFakeBot()
	bot.sendErr = errors.New("network down")
	c := newClientWithBot(bot)

	err := c.SendPush(context.Background(), pushNotification("42"))
	if err == nil {
		t.Fatal("expected error")
	}
	if n := len(bot.messages()); n != 1 {
		t.Errorf("expected exactly one attempt, got %d", n)
	}
}

func TestSendPushRejectsBadInput(t *testing.T) {
	c := newClientWithBot(newFakeBot())

	if err := c.SendPush(context.Background(), pushNotification("not-a-chat")); err == nil {
		t.Error("expected error for non-numeric token")
	}
	if err := c.SendPush(context.Background(), pushNotification("")); err == nil {
		t.Error("expected error for missing token")
	}

	local := pushNotification("")
	local.Local = true
	if err := c.SendPush(context.Background(), local); err == nil {
		t.Error("expected error for local notification")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.SendPush(ctx, pushNotification("42")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestListenForRegistrations(t *testing.T) {
	bot := newFakeBot()
	c := newClientWithBot(bot)

	var mu sync.Mutex
	var tokens []string
	register := func(token string) {
		mu.Lock()
		defer mu.Unlock()
		tokens = append(tokens, token)
	}

	bot.updates <- commandUpdate(77, "/register")
	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{Text: "hello", Chat: &tgbotapi.Chat{ID: 77}}}
	bot.updates <- commandUpdate(77, "/help")
	bot.updates <- commandUpdate(88, "/unregister")
	close(bot.updates)

	done := make(chan struct{})
	go func() {
		c.ListenForRegistrations(context.Background(), register)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after updates closed")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(tokens) != 2 || tokens[0] != "77" || tokens[1] != "" {
		t.Errorf("unexpected registrations: %q", tokens)
	}
	if n := len(bot.messages()); n != 2 {
		t.Errorf("expected 2 acknowledgements, got %d", n)
	}
	if !bot.stopped {
		t.Error("updates should be stopped on exit")
	}
}

func TestListenStopsOnCancel(t *testing.T) {
	bot := newFakeBot()
	c := newClientWithBot(bot)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.ListenForRegistrations(ctx, func(string) {})
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop on cancel")
	}
}

func TestFormatNotification(t *testing.T) {
	n := pushNotification("1")
	got := formatNotification(n)
	if !strings.HasPrefix(got, "⚠️ *High landslide risk nearby*") {
		t.Errorf("unexpected header: %q", got)
	}
	if !strings.Contains(got, "2026\\-03\\-14 12:00:00 UTC") {
		t.Errorf("timestamp missing or unescaped: %q", got)
	}

	n.Kind = models.KindProximity
	if !strings.HasPrefix(formatNotification(n), "📍") {
		t.Error("proximity alerts use the pin icon")
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"72.5%", "72\\.5%"},
		{"a_b*c", "a\\_b\\*c"},
		{"(x)!", "\\(x\\)\\!"},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeMarkdownV2(tt.in); got != tt.want {
			t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseToken(t *testing.T) {
	if id, err := ParseToken(" -100123 "); err != nil || id != -100123 {
		t.Errorf("ParseToken = %d, %v", id, err)
	}
	if _, err := ParseToken("abc"); err == nil {
		t.Error("expected error")
	}
}
