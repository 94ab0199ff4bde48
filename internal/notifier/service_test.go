package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"reportbot/internal/eventbus"
	kit "reportbot/internal/transport"
	logx "reportbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	fails []error // consumed per call; nil entries succeed
	texts []string
	docs  []kit.Document
	to    []kit.ChatTarget
}

func (f *fakeAdapter) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fails) == 0 {
		return nil
	}
	err := f.fails[0]
	f.fails = f.fails[1:]
	return err
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	if err := f.next(); err != nil {
		return kit.MessageRef{}, err
	}
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.to = append(f.to, to)
	f.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) SendDocument(_ context.Context, to kit.ChatTarget, doc kit.Document, _ *kit.SendOptions) (kit.MessageRef, error) {
	if err := f.next(); err != nil {
		return kit.MessageRef{}, err
	}
	f.mu.Lock()
	f.docs = append(f.docs, doc)
	f.to = append(f.to, to)
	f.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 2}, nil
}

func fastConfig() Config {
	return Config{RatePerSec: 1000, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond, BreakerFailures: 3, BreakerCooldown: time.Hour}
}

func TestDeliverTextAndDocument(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	s := New(fastConfig(), fa, logx.Nop(), bus)
	ctx := context.Background()

	if err := s.Deliver(ctx, "-100123/9", "hello", ""); err != nil {
		t.Fatalf("Deliver text: %v", err)
	}
	if err := s.Deliver(ctx, "-100123", "report attached", "/tmp/out/eod.csv"); err != nil {
		t.Fatalf("Deliver doc: %v", err)
	}

	if len(fa.texts) != 1 || fa.texts[0] != "hello" || fa.to[0] != (kit.ChatTarget{ChatID: -100123, ThreadID: 9}) {
		t.Fatalf("text send wrong: %+v %+v", fa.texts, fa.to)
	}
	if len(fa.docs) != 1 || fa.docs[0].FileName != "eod.csv" || fa.docs[0].Caption != "report attached" {
		t.Fatalf("doc send wrong: %+v", fa.docs)
	}
	if ev := <-events; ev.Type != eventbus.TypeDeliverySent {
		t.Fatalf("event=%+v", ev)
	}
	if h := s.History(); len(h) != 2 || h[1].Attempts != 1 {
		t.Fatalf("history=%+v", h)
	}
}

func TestDeliverRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{fails: []error{errors.New("timeout"), errors.New("timeout")}}
	s := New(fastConfig(), fa, logx.Nop(), nil)
	if err := s.Deliver(context.Background(), "42", "hi", ""); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if h := s.History(); h[0].Attempts != 3 {
		t.Fatalf("attempts=%d want 3", h[0].Attempts)
	}
}

func TestDeliverDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{fails: []error{kit.Permanent(errors.New("chat not found"))}}
	s := New(fastConfig(), fa, logx.Nop(), nil)
	err := s.Deliver(context.Background(), "42", "hi", "")
	if !kit.IsPermanent(err) {
		t.Fatalf("err=%v want permanent", err)
	}
	if h := s.History(); h[0].Attempts != 1 {
		t.Fatalf("attempts=%d want 1", h[0].Attempts)
	}
	if s.BreakerState() != gobreaker.StateClosed.String() {
		t.Fatalf("permanent error tripped breaker")
	}
}

func TestDeliverOpensBreaker(t *testing.T) {
	t.Parallel()

	boom := errors.New("telegram down")
	fa := &fakeAdapter{fails: []error{boom, boom, boom, boom, boom}}
	cfg := fastConfig()
	cfg.RetryMax = 5
	s := New(cfg, fa, logx.Nop(), nil)

	err := s.Deliver(context.Background(), "42", "hi", "")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err=%v want open circuit", err)
	}
	if h := s.History(); h[0].Attempts != 4 {
		t.Fatalf("attempts=%d want 4 (3 failures + rejected)", h[0].Attempts)
	}
}

func TestDeliverValidation(t *testing.T) {
	t.Parallel()

	if err := New(fastConfig(), nil, logx.Nop(), nil).Deliver(context.Background(), "42", "x", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("nil adapter err=%v", err)
	}
	if err := New(fastConfig(), &fakeAdapter{}, logx.Nop(), nil).Deliver(context.Background(), "@chan", "x", ""); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("bad target err=%v", err)
	}
}

func TestDeliverNamedChat(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{}
	cfg := fastConfig()
	cfg.Chats = kit.ChatDirectory{"desk": "-100555/3"}
	s := New(cfg, fa, logx.Nop(), nil)

	if err := s.Deliver(context.Background(), "Desk", "hi", ""); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(fa.to) != 1 || fa.to[0] != (kit.ChatTarget{ChatID: -100555, ThreadID: 3}) {
		t.Fatalf("sent to %+v", fa.to)
	}
	if err := s.Deliver(context.Background(), "unknown", "hi", ""); err == nil {
		t.Fatalf("unknown chat name accepted")
	}
}
