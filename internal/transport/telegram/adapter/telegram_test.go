package adapter

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "reportbot/internal/transport"
	logx "reportbot/pkg/logx"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	if got := splitTelegramText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text split: %q", got)
	}

	line := strings.Repeat("x", 30)
	text := strings.Join([]string{line, line, line, line}, "\n")
	got := splitTelegramText(text, 70, "")
	if len(got) != 2 {
		t.Fatalf("chunks=%d want 2: %q", len(got), got)
	}
	for _, c := range got {
		if len([]rune(c)) > 70 || strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("bad chunk %q", c)
		}
	}

	html := strings.Repeat("a", 8) + "<b>bold</b>"
	chunks := splitTelegramText(html, 10, tele.ModeHTML)
	if chunks[0] != strings.Repeat("a", 8) {
		t.Fatalf("split inside tag: %q", chunks)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatalf("empty token accepted")
	}
}

func TestClassifyPermanentErrors(t *testing.T) {
	t.Parallel()

	if !kit.IsPermanent(classify(tele.ErrChatNotFound)) {
		t.Fatalf("chat not found should be permanent")
	}
	if kit.IsPermanent(classify(tele.ErrInternal)) {
		t.Fatalf("internal error should be retryable")
	}
}
