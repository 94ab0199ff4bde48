// Package adapter delivers report messages and files through the Telegram
// Bot API (gopkg.in/telebot.v4).
package adapter

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "reportbot/internal/transport"
	logx "reportbot/pkg/logx"
)

type Config struct {
	Token string
	// Timeout bounds a single Bot API request (uploads included).
	Timeout time.Duration
}

// Adapter sends through Telegram. The bot client is created on first use,
// so commands that never deliver do not need a token or network access.
type Adapter struct {
	cfg Config
	log logx.Logger

	mu  sync.Mutex
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram.adapter"))}, nil
}

func (a *Adapter) client() (*tele.Bot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return a.bot, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   a.cfg.Token,
		Client:  &http.Client{Timeout: a.cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	return b, nil
}

const (
	telegramTextLimit    = 4000
	telegramCaptionLimit = 1024
)

// splitTelegramText splits long messages into chunks Telegram accepts. It
// prefers newline boundaries and, in HTML mode, avoids cutting inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, tele.ModeHTML) && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	bot, err := a.client()
	if err != nil {
		return kit.MessageRef{}, kit.Permanent(err)
	}

	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := bot.Send(chat, chunk, sendOptions(to, opt))
		if err != nil {
			return first, classify(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendDocument uploads doc.Path. A caption longer than Telegram allows is
// sent as a separate text message ahead of the file.
func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	bot, err := a.client()
	if err != nil {
		return kit.MessageRef{}, kit.Permanent(err)
	}

	caption := doc.Caption
	var first kit.MessageRef
	if len([]rune(caption)) > telegramCaptionLimit {
		if first, err = a.SendText(ctx, to, caption, opt); err != nil {
			return first, err
		}
		caption = ""
	}
	if err := ctx.Err(); err != nil {
		return first, err
	}

	name := doc.FileName
	if name == "" {
		name = filepath.Base(doc.Path)
	}
	file := &tele.Document{File: tele.FromDisk(doc.Path), FileName: name, Caption: caption}
	msg, err := bot.Send(&tele.Chat{ID: to.ChatID}, file, sendOptions(to, opt))
	if err != nil {
		return first, classify(err)
	}
	if first.MessageID == 0 {
		first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
	}
	return first, nil
}

// SendPlain implements logx.TextSender for the operator log sink.
func (a *Adapter) SendPlain(ctx context.Context, chatID int64, threadID int, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUnauthorized):
		return kit.Permanent(err)
	}
	return err
}
