package notifier

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"reportbot/internal/eventbus"
	kit "reportbot/internal/transport"
	logx "reportbot/pkg/logx"
)

const historySize = 50

// Service implements Deliverer on top of a chat adapter. It is safe for
// concurrent use.
type Service struct {
	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds the service. adapter may be nil (no token configured); Deliver
// then fails with ErrNotConfigured.
func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	log = log.With(logx.String("comp", "notifier"))
	s := &Service{
		log:     log,
		adapter: adapter,
		bus:     bus,
		cfg:     cfg,
		// Burst = rate so short spikes (several tasks due at once) do not block.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("delivery circuit state changed", logx.String("breaker", name), logx.String("from", from.String()), logx.String("to", to.String()))
		},
		// A bad target or a canceled caller says nothing about transport health.
		IsSuccessful: func(err error) bool {
			return err == nil || kit.IsPermanent(err) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return s
}

func (s *Service) Deliver(ctx context.Context, target, message, artifactPath string) error {
	start := time.Now()
	attempts, err := s.deliver(ctx, target, message, artifactPath)
	s.record(target, artifactPath, attempts, time.Since(start), err)
	return err
}

func (s *Service) deliver(ctx context.Context, target, message, artifactPath string) (int, error) {
	if s.adapter == nil {
		return 0, ErrNotConfigured
	}
	to, err := s.cfg.Chats.Resolve(target)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	opt := &kit.SendOptions{ParseMode: s.cfg.ParseMode, DisablePreview: true}

	send := func() (any, error) {
		if artifactPath == "" {
			return s.adapter.SendText(ctx, to, message, opt)
		}
		return s.adapter.SendDocument(ctx, to, kit.Document{
			Path:     artifactPath,
			FileName: filepath.Base(artifactPath),
			Caption:  message,
		}, opt)
	}

	attempts := 0
	op := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		_, err := s.breaker.Execute(send)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(err)
		case kit.IsPermanent(err), ctx.Err() != nil:
			return backoff.Permanent(err)
		}
		s.log.Debug("delivery attempt failed", logx.String("target", target), logx.Int("attempt", attempts), logx.Err(err))
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RetryBase
	policy.MaxInterval = s.cfg.RetryMaxDelay
	policy.MaxElapsedTime = 0
	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.RetryMax)), ctx))
	return attempts, err
}

func (s *Service) record(target, artifactPath string, attempts int, took time.Duration, err error) {
	item := HistoryItem{At: time.Now(), Target: target, Attachment: artifactPath, Attempts: attempts}
	ev := DeliveryEvent{Target: target, Attachment: artifactPath, Attempts: attempts, Took: took}
	if err != nil {
		item.Error = err.Error()
		ev.Error = err.Error()
		s.log.Warn("delivery failed", logx.String("target", target), logx.Int("attempts", attempts), logx.Err(err))
	} else {
		s.log.Info("delivered", logx.String("target", target), logx.Bool("attachment", strings.TrimSpace(artifactPath) != ""), logx.Duration("took", took))
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = append([]HistoryItem(nil), s.history[len(s.history)-historySize:]...)
	}
	s.hmu.Unlock()

	if s.bus != nil {
		typ := eventbus.TypeDeliverySent
		if err != nil {
			typ = eventbus.TypeDeliveryFailed
		}
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// BreakerState reports the circuit breaker state ("closed", "open", "half-open").
func (s *Service) BreakerState() string { return s.breaker.State().String() }
