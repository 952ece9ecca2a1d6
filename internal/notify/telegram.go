package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"storyd/internal/store"
	logx "storyd/pkg/logx"
)

type Config struct {
	Enabled     bool
	Token       string
	PollTimeout time.Duration
}

// Telegram sends outcome messages to the owner chat (the owner reference of
// a story is its Telegram chat id, as the intake bot records it).
type Telegram struct {
	bot *tele.Bot
	log logx.Logger
}

func NewTelegram(cfg Config, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, log: log}, nil
}

func (t *Telegram) Published(ctx context.Context, st *store.Story) {
	when := ""
	if st.PublishedAt != nil {
		when = st.PublishedAt.Local().Format("02/01/2006 15:04")
	}
	t.send(st.ChatID, fmt.Sprintf("✅ Story published (%s).", when))
}

func (t *Telegram) Failed(ctx context.Context, st *store.Story, permanent bool) {
	if permanent {
		t.send(st.ChatID, fmt.Sprintf(
			"❌ Story could not be published after %d attempts: %s",
			st.RetryCount, st.ErrorMessage))
		return
	}
	t.send(st.ChatID, fmt.Sprintf(
		"⚠️ Publish attempt %d failed: %s\nIt will be retried automatically.",
		st.RetryCount, st.ErrorMessage))
}

func (t *Telegram) send(chatID int64, text string) {
	if _, err := t.bot.Send(tele.ChatID(chatID), text); err != nil {
		t.log.Warn("notify send failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}
