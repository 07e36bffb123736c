package warranty

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/garantia/server/internal/apperr"
	"github.com/garantia/server/internal/db"
	"github.com/garantia/server/internal/model"
	"github.com/garantia/server/internal/repo"
)

// ReminderWindow is both the grace period after assignment and the minimum
// gap between two reminders for the same claim.
const ReminderWindow = 24 * time.Hour

const sweepLockName = "warranty-reminder-sweep"

// ErrSweepInProgress is returned when another sweep holds the lock
var ErrSweepInProgress = apperr.New(apperr.CodeConflict, "reminder sweep already running")

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warranty_reminder_sweeps_total",
		Help: "Reminder sweep runs by result.",
	}, []string{"result"})

	remindersSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warranty_reminders_sent_total",
		Help: "Reminders delivered and stamped.",
	})
)

// Locker provides a cross-process mutual exclusion lock
type Locker interface {
	TryLock(ctx context.Context, name string) (release func(), ok bool, err error)
}

// SweepReport summarizes one sweep
type SweepReport struct {
	Candidates int `json:"candidates"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Sweeper reminds sellers about claims left pending after assignment
type Sweeper struct {
	claims   repo.ClaimRepo
	users    repo.UserRepo
	notifier Notifier
	locker   Locker
	logger   *slog.Logger
	now      func() time.Time

	running sync.Mutex
}

// NewSweeper creates a new Sweeper. locker may be nil for single-process use.
func NewSweeper(claims repo.ClaimRepo, users repo.UserRepo, notifier Notifier, locker Locker, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		claims:   claims,
		users:    users,
		notifier: notifier,
		locker:   locker,
		logger:   logger,
		now:      time.Now,
	}
}

// Run performs one sweep. A failure on one claim is logged and counted;
// the remaining claims are still processed. Only failing to start
// (lock or candidate query) returns an error.
func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	if !s.running.TryLock() {
		sweepRunsTotal.WithLabelValues("busy").Inc()
		return report, ErrSweepInProgress
	}
	defer s.running.Unlock()

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, sweepLockName)
		if err != nil {
			sweepRunsTotal.WithLabelValues("error").Inc()
			return report, db.StoreError("acquire sweep lock", err)
		}
		if !ok {
			sweepRunsTotal.WithLabelValues("busy").Inc()
			return report, ErrSweepInProgress
		}
		defer release()
	}

	cutoff := s.now().UTC().Add(-ReminderWindow)
	due, err := s.claims.ListDueReminders(ctx, cutoff, cutoff)
	if err != nil {
		sweepRunsTotal.WithLabelValues("error").Inc()
		return report, db.StoreError("list due reminders", err)
	}
	report.Candidates = len(due)

	for _, c := range due {
		if ctx.Err() != nil {
			report.Skipped = report.Candidates - report.Sent - report.Failed
			break
		}
		log := s.logger.With(slog.String("warranty_id", c.ID.String()))

		// the candidate list is a snapshot; resolution or reassignment may have
		// happened since, so send from the current row
		current, err := s.claims.GetByID(ctx, c.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				report.Skipped++
				continue
			}
			report.Failed++
			log.ErrorContext(ctx, "reminder failed: reload warranty", slog.Any("error", err))
			continue
		}
		if !dueForReminder(current, *c.AssignedToID, cutoff) {
			report.Skipped++
			continue
		}
		c = current

		seller, err := s.users.GetByID(ctx, *c.AssignedToID)
		if err != nil {
			report.Failed++
			if errors.Is(err, repo.ErrNotFound) {
				log.WarnContext(ctx, "reminder skipped: assigned seller not found")
			} else {
				log.ErrorContext(ctx, "reminder failed: seller lookup", slog.Any("error", err))
			}
			continue
		}

		if err := s.notifier.Reminder(ctx, c, seller); err != nil {
			report.Failed++
			log.WarnContext(ctx, "reminder failed: send", slog.Any("error", err))
			continue
		}

		stamped, err := s.claims.MarkReminderSent(ctx, c.ID, seller.ID, s.now().UTC(), cutoff)
		if err != nil {
			report.Failed++
			log.ErrorContext(ctx, "reminder sent but not recorded", slog.Any("error", err))
			continue
		}
		if !stamped {
			report.Skipped++
			continue
		}
		report.Sent++
		remindersSentTotal.Inc()
	}

	sweepRunsTotal.WithLabelValues("ok").Inc()
	s.logger.InfoContext(ctx, "reminder sweep finished",
		slog.Int("candidates", report.Candidates),
		slog.Int("sent", report.Sent),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
	)
	return report, nil
}

// dueForReminder reports whether c is still pending, still assigned to sellerID
// and not reminded since cutoff
func dueForReminder(c model.Claim, sellerID uuid.UUID, cutoff time.Time) bool {
	if c.Status != model.StatusPending || c.AssignedToID == nil || *c.AssignedToID != sellerID {
		return false
	}
	return c.LastReminderSent == nil || c.LastReminderSent.Before(cutoff)
}

// RunEvery sweeps on a fixed interval until ctx is done
func (s *Sweeper) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
				s.logger.ErrorContext(ctx, "reminder sweep failed", slog.Any("error", err))
			}
		}
	}
}
