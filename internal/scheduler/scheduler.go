package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"renderwatch/internal/config"
	"renderwatch/internal/ledger"
	"renderwatch/internal/logging"
)

// startBuffer is how far into the future the first slot of a day is pushed
// when the day's start hour has already passed.
const startBuffer = 10 * time.Minute

// maxLookaheadDays bounds the overflow search so a misconfigured quota can
// never spin forever.
const maxLookaheadDays = 366

// ErrNoSlot is returned when no day within the lookahead window has both
// available quota and a candidate hour inside the publishing range.
var ErrNoSlot = errors.New("no available publish slot within lookahead window")

// Scheduler computes the next available publish slot for an account from the
// ledger's committed slots and the configured quota and timing parameters.
// NextSlot is a pure read: commitment happens only when the caller
// subsequently marks the record scheduled, holding the account lock across
// both steps.
type Scheduler struct {
	cfg    *config.Config
	store  *ledger.Store
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	accounts map[string]*sync.Mutex
}

// Option configures optional Scheduler behavior.
type Option func(*Scheduler)

// WithClock overrides the scheduler's time source. Used by tests to make
// slot arithmetic deterministic.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Scheduler.
func New(cfg *config.Config, store *ledger.Store, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		store:    store,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		now:      time.Now,
		accounts: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire locks the per-account allocation mutex and returns its release
// func. Callers hold the lock across NextSlot, the remote schedule call, and
// the ledger commit so two watchers on one account cannot claim the same slot.
func (s *Scheduler) Acquire(account string) func() {
	s.mu.Lock()
	lock, ok := s.accounts[account]
	if !ok {
		lock = &sync.Mutex{}
		s.accounts[account] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// NextSlot returns the next publish time for the account: the day's first
// slot anchors at the configured start hour (or a short buffer from now when
// that hour has passed today), subsequent slots follow the last committed
// slot by the configured interval, and a day overflows to the next once its
// quota is met or the candidate hour passes the end hour. Accounts never
// interfere: every query is scoped to the requested account.
func (s *Scheduler) NextSlot(ctx context.Context, account string) (time.Time, error) {
	now := s.now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	quota := s.cfg.VideosPerDayPerAccount
	interval := time.Duration(s.cfg.ScheduleIntervalMinutes) * time.Minute

	for i := 0; i < maxLookaheadDays; i++ {
		scheduled, err := s.store.CountScheduledForDate(ctx, account, day)
		if err != nil {
			return time.Time{}, fmt.Errorf("count scheduled for %s: %w", day.Format("2006-01-02"), err)
		}

		if scheduled < quota {
			candidate, err := s.candidateForDay(ctx, account, day, now, interval)
			if err != nil {
				return time.Time{}, err
			}
			if sameDay(candidate, day) && candidate.Hour() <= s.cfg.ScheduleDayEndHour {
				s.logger.Debug("slot computed",
					logging.String(logging.FieldAccount, account),
					logging.Time("slot", candidate),
					logging.Int("day_scheduled", scheduled),
				)
				return candidate, nil
			}
		}

		day = day.AddDate(0, 0, 1)
	}

	return time.Time{}, fmt.Errorf("account %s: %w", account, ErrNoSlot)
}

func (s *Scheduler) candidateForDay(ctx context.Context, account string, day, now time.Time, interval time.Duration) (time.Time, error) {
	last, err := s.store.LastScheduledTime(ctx, account, day)
	if err != nil {
		return time.Time{}, fmt.Errorf("last scheduled time: %w", err)
	}
	if last != nil {
		return last.Add(interval), nil
	}

	candidate := time.Date(day.Year(), day.Month(), day.Day(), s.cfg.ScheduleDayStartHour, 0, 0, 0, day.Location())
	if sameDay(day, now) && !candidate.After(now) {
		candidate = now.Add(startBuffer)
	}
	return candidate, nil
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
