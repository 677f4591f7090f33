// Package announce posts race results to a Telegram chat.
package announce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

var ErrInvalidConfig = errors.New("announce: invalid config")

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// Timeout bounds each Bot API call.
	Timeout time.Duration
	// Offline skips the getMe handshake at startup.
	Offline bool
}

type telegramSender struct {
	bot  *tele.Bot
	chat tele.ChatID
	opt  *tele.SendOptions
}

// NewTelegramSender builds a send-only bot. Polling is never started; the
// announcer only writes.
func NewTelegramSender(cfg TelegramConfig) (Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("%w: telegram token is empty", ErrInvalidConfig)
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("%w: telegram chat_id is required", ErrInvalidConfig)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Client:  &http.Client{Timeout: timeout + 2*time.Second},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("announce: telegram bot: %w", err)
	}
	opt := &tele.SendOptions{DisableWebPagePreview: true}
	if cfg.ThreadID > 0 {
		opt.ThreadID = cfg.ThreadID
	}
	return &telegramSender{bot: b, chat: tele.ChatID(cfg.ChatID), opt: opt}, nil
}

func (s *telegramSender) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(s.chat, text, s.opt)
	return err
}
