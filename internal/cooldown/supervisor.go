package cooldown

import (
	"context"
	"log/slog"
	"time"
)

// DefaultWindow is how long a correspondent is ignored after choosing the
// "already in process" option.
const DefaultWindow = 30 * time.Minute

// Supervisor decides, per inbound message, whether a correspondent is in
// a quiet window. Nothing is scheduled: every check is derived from the
// stored mark and the current time.
type Supervisor struct {
	store  Store
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewSupervisor(store Store, window time.Duration, logger *slog.Logger) *Supervisor {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		store:  store,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

func (s *Supervisor) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Supervisor) Window() time.Duration { return s.window }

// Active reports whether chatID is inside its window. Store failures fail
// open so a broken store never silences the bot.
func (s *Supervisor) Active(ctx context.Context, chatID string) bool {
	at, ok, err := s.store.Get(ctx, chatID)
	if err != nil {
		s.logger.Warn("cooldown lookup failed", "error", err)
		return false
	}
	if !ok {
		return false
	}
	if s.now().Sub(at) < s.window {
		return true
	}
	if err := s.store.Delete(ctx, chatID); err != nil {
		s.logger.Warn("cooldown cleanup failed", "error", err)
	}
	return false
}

// Mark starts a window for chatID at the current time.
func (s *Supervisor) Mark(ctx context.Context, chatID string) error {
	return s.store.Put(ctx, chatID, s.now())
}
