package cooldown

import (
	"context"
	"time"
)

// Store persists the time each correspondent last reached a cooldown
// terminal.
type Store interface {
	Get(ctx context.Context, chatID string) (time.Time, bool, error)
	Put(ctx context.Context, chatID string, at time.Time) error
	Delete(ctx context.Context, chatID string) error
	Close() error
}
