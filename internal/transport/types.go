// Package transport defines the chat-delivery port used by the notifier and
// the operator log sink. Adapters (Telegram) live in subpackages.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func (t ChatTarget) String() string {
	if t.ThreadID != 0 {
		return strconv.FormatInt(t.ChatID, 10) + "/" + strconv.Itoa(t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseChatTarget parses a delivery target: "<chat_id>" or
// "<chat_id>/<thread_id>" for a forum topic.
func ParseChatTarget(s string) (ChatTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ChatTarget{}, errors.New("chat target is empty")
	}
	chatPart, threadPart, hasThread := strings.Cut(s, "/")
	chatID, err := strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil || chatID == 0 {
		return ChatTarget{}, fmt.Errorf("invalid chat id %q", chatPart)
	}
	t := ChatTarget{ChatID: chatID}
	if hasThread {
		tid, err := strconv.Atoi(strings.TrimSpace(threadPart))
		if err != nil || tid <= 0 {
			return ChatTarget{}, fmt.Errorf("invalid thread id %q", threadPart)
		}
		t.ThreadID = tid
	}
	return t, nil
}

// ChatDirectory maps chat names to "<chat_id>[/<thread_id>]" targets so a
// task can deliver to "finance" instead of a raw id. Names are matched
// case-insensitively. A nil directory resolves only raw targets.
type ChatDirectory map[string]string

// Resolve returns the target named s, or parses s as a raw target.
func (d ChatDirectory) Resolve(s string) (ChatTarget, error) {
	s = strings.TrimSpace(s)
	for name, raw := range d {
		if strings.EqualFold(strings.TrimSpace(name), s) {
			t, err := ParseChatTarget(raw)
			if err != nil {
				return ChatTarget{}, fmt.Errorf("chat %q: %w", name, err)
			}
			return t, nil
		}
	}
	return ParseChatTarget(s)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Document is a local file sent as an attachment.
type Document struct {
	Path     string
	FileName string // defaults to the base name of Path
	Caption  string
}

type Adapter interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendDocument(ctx context.Context, to ChatTarget, doc Document, opt *SendOptions) (MessageRef, error)
}

// Permanent marks an adapter error that retrying cannot fix (unknown chat,
// bot blocked, bad token).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }
