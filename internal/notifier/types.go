package notifier

import (
	"context"
	"errors"
	"time"

	kit "reportbot/internal/transport"
)

var (
	ErrNotConfigured = errors.New("notifier: no chat transport configured")
	ErrInvalidTarget = errors.New("notifier: invalid delivery target")
)

// Deliverer is the delivery port the execution engine depends on.
type Deliverer interface {
	// Deliver sends message to target, attaching artifactPath when non-empty.
	Deliver(ctx context.Context, target, message, artifactPath string) error
}

type Config struct {
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	ParseMode       string
	// Chats resolves named delivery targets.
	Chats kit.ChatDirectory
}

type HistoryItem struct {
	At         time.Time
	Target     string
	Attachment string
	Attempts   int
	Error      string
}

// DeliveryEvent is published on the event bus after every delivery.
type DeliveryEvent struct {
	Target     string        `json:"target"`
	Attachment string        `json:"attachment,omitempty"`
	Attempts   int           `json:"attempts"`
	Took       time.Duration `json:"took"`
	Error      string        `json:"error,omitempty"`
}
