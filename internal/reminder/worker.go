package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/znz-systems/followup/internal/draft"
	"github.com/znz-systems/followup/internal/models"
	"github.com/znz-systems/followup/internal/tracker"
)

// Notifier tells a user about follow-ups that just became due.
type Notifier interface {
	NotifyPending(ctx context.Context, userID int64, pending []models.TrackedEmail) error
}

// Drafter writes a follow-up for a tracked email.
type Drafter interface {
	Configured() bool
	Generate(ctx context.Context, r draft.Request) (*draft.Result, error)
}

// ConnectionLister lists users with a connected mailbox.
type ConnectionLister interface {
	ListGmailConnections(ctx context.Context) ([]models.GmailConnection, error)
}

type Options struct {
	Interval    time.Duration
	Concurrency int
}

// Summary counts what one cycle did.
type Summary struct {
	Users    int
	Skipped  int
	Failed   int
	Notified int
	Drafted  int
}

// Worker periodically refreshes every connected user's follow-ups.
type Worker struct {
	tracker     *tracker.Service
	conns       ConnectionLister
	source      tracker.EmailSource
	oracle      tracker.ReplyOracle
	notifier    Notifier
	drafter     Drafter
	interval    time.Duration
	concurrency int
	now         func() time.Time

	mu       sync.Mutex
	notified map[int64]map[string]bool
}

func NewWorker(tr *tracker.Service, conns ConnectionLister, source tracker.EmailSource, oracle tracker.ReplyOracle, notifier Notifier, drafter Drafter, opts Options) *Worker {
	interval := opts.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Worker{
		tracker:     tr,
		conns:       conns,
		source:      source,
		oracle:      oracle,
		notifier:    notifier,
		drafter:     drafter,
		interval:    interval,
		concurrency: concurrency,
		now:         time.Now,
		notified:    make(map[int64]map[string]bool),
	}
}

// Run processes a cycle immediately and then once per interval until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			slog.Error("reminder cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce processes every connected user. A failing user is logged and
// counted; it does not stop the others.
func (w *Worker) RunOnce(ctx context.Context) (Summary, error) {
	conns, err := w.conns.ListGmailConnections(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing gmail connections: %w", err)
	}

	var (
		mu      sync.Mutex
		summary = Summary{Users: len(conns)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, c := range conns {
		g.Go(func() error {
			res, err := w.processUser(gctx, c.UserID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				slog.Warn("reminder failed for user", "user_id", c.UserID, "error", err)
			case res.skipped:
				summary.Skipped++
			default:
				summary.Notified += res.notified
				summary.Drafted += res.drafted
			}
			return nil
		})
	}
	g.Wait()

	slog.Info("reminder cycle finished",
		"users", summary.Users,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"notified", summary.Notified,
		"drafted", summary.Drafted,
	)
	return summary, nil
}

type userResult struct {
	skipped  bool
	notified int
	drafted  int
}

func (w *Worker) processUser(ctx context.Context, userID int64) (userResult, error) {
	settings, err := w.tracker.Settings(ctx, userID)
	if err != nil {
		return userResult{}, err
	}
	if !settings.AutoRefresh {
		return userResult{skipped: true}, nil
	}

	report, err := w.tracker.Refresh(ctx, userID, w.source, w.oracle)
	if err != nil {
		return userResult{}, err
	}

	var res userResult
	fresh := w.unnotified(userID, report.Pending)
	if len(fresh) > 0 {
		if err := w.notifier.NotifyPending(ctx, userID, fresh); err != nil {
			slog.Warn("failed to notify user", "user_id", userID, "error", err)
		} else {
			w.markNotified(userID, fresh)
			res.notified = len(fresh)
		}
	}

	if settings.AutoRedraft && w.drafter.Configured() {
		res.drafted = w.draftMissing(ctx, userID, report.Pending)
	}
	return res, nil
}

// unnotified returns the pending emails the user has not been told about and
// forgets threads that are no longer pending.
func (w *Worker) unnotified(userID int64, pending []models.TrackedEmail) []models.TrackedEmail {
	w.mu.Lock()
	defer w.mu.Unlock()

	seen := w.notified[userID]
	current := make(map[string]bool, len(pending))
	var fresh []models.TrackedEmail
	for _, e := range pending {
		current[e.ThreadID] = seen[e.ThreadID]
		if !seen[e.ThreadID] {
			fresh = append(fresh, e)
		}
	}
	w.notified[userID] = current
	return fresh
}

func (w *Worker) markNotified(userID int64, emails []models.TrackedEmail) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range emails {
		w.notified[userID][e.ThreadID] = true
	}
}

func (w *Worker) draftMissing(ctx context.Context, userID int64, pending []models.TrackedEmail) int {
	drafted := 0
	for _, e := range pending {
		if e.Draft != nil {
			continue
		}
		result, err := w.drafter.Generate(ctx, draft.FromTracked(e, w.now()))
		if err != nil {
			slog.Warn("failed to generate draft", "user_id", userID, "thread_id", e.ThreadID, "error", err)
			continue
		}
		if _, err := w.tracker.SaveDraft(ctx, userID, e.ThreadID, result.Content); err != nil {
			slog.Warn("failed to save draft", "user_id", userID, "thread_id", e.ThreadID, "error", err)
			continue
		}
		drafted++
	}
	return drafted
}
