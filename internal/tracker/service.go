package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/znz-systems/followup/internal/models"
	"github.com/znz-systems/followup/internal/store"
)

// Sentinel errors returned by Service methods.
var (
	ErrInvalidThreshold = errors.New("threshold must be between 0 and 2147483647 minutes")
	ErrRecordNotFound   = errors.New("tracked email not found")
	ErrThreadIDRequired = errors.New("thread id is required")
)

// ItemFailure describes one batch item that could not be processed.
type ItemFailure struct {
	ThreadID  string `json:"threadId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Reason    string `json:"reason"`
}

// SyncResult summarises a Sync call.
type SyncResult struct {
	Added      int           `json:"added"`
	Duplicates int           `json:"duplicates"`
	Rejected   []ItemFailure `json:"rejected"`
}

// Service tracks sent emails per user and decides which ones need a follow-up.
type Service struct {
	emails   store.TrackedEmailStore
	settings store.SettingsStore
	drafts   store.DraftStore
	now      func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewService creates a new tracker Service.
func NewService(emails store.TrackedEmailStore, settings store.SettingsStore, drafts store.DraftStore) *Service {
	return &Service{
		emails:   emails,
		settings: settings,
		drafts:   drafts,
		now:      time.Now,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// SetClock replaces the time source used for tracking timestamps and the
// pending threshold.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// lockUser serialises read-modify-write sequences for one user.
func (s *Service) lockUser(userID int64) func() {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Sync starts tracking every summary whose thread is not tracked yet.
// Summaries without a thread ID are rejected individually and the rest of the
// batch is still processed. Known threads are left untouched.
func (s *Service) Sync(ctx context.Context, userID int64, batch []models.EmailSummary) (*SyncResult, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	result := &SyncResult{Rejected: []ItemFailure{}}
	trackedAt := s.now()
	seen := make(map[string]bool, len(batch))

	for _, e := range batch {
		threadID := strings.TrimSpace(e.ThreadID)
		if threadID == "" {
			result.Rejected = append(result.Rejected, ItemFailure{
				MessageID: e.MessageID,
				Reason:    ErrThreadIDRequired.Error(),
			})
			continue
		}
		if seen[threadID] {
			result.Duplicates++
			slog.Debug("duplicate ignored", "user_id", userID, "thread_id", threadID)
			continue
		}
		seen[threadID] = true

		_, created, err := s.emails.InsertTrackedEmail(ctx, models.TrackedEmailCreateParams{
			UserID:    userID,
			MessageID: e.MessageID,
			ThreadID:  threadID,
			Recipient: e.Recipient,
			Sender:    e.Sender,
			Subject:   e.Subject,
			Snippet:   e.Snippet,
			Body:      e.Body,
			SentAt:    e.SentAt,
			TrackedAt: trackedAt,
		})
		if err != nil {
			return result, fmt.Errorf("tracking thread %s: %w", threadID, err)
		}
		if !created {
			result.Duplicates++
			slog.Debug("duplicate ignored", "user_id", userID, "thread_id", threadID)
			continue
		}
		result.Added++
	}

	if len(result.Rejected) > 0 {
		slog.Warn("rejected malformed emails during sync", "user_id", userID, "count", len(result.Rejected))
	}
	return result, nil
}

// ComputePending returns the user's tracked emails that are due for a follow-up.
func (s *Service) ComputePending(ctx context.Context, userID int64, repliedThreadIDs []string) ([]models.TrackedEmail, error) {
	threshold, err := s.GetThreshold(ctx, userID)
	if err != nil {
		return nil, err
	}
	emails, err := s.emails.ListTrackedEmails(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing tracked emails: %w", err)
	}

	replied := make(map[string]bool, len(repliedThreadIDs))
	for _, id := range repliedThreadIDs {
		replied[id] = true
	}
	return Pending(emails, replied, threshold, s.now()), nil
}

// ListTracked returns every tracked email for the user in tracking order.
func (s *Service) ListTracked(ctx context.Context, userID int64) ([]models.TrackedEmail, error) {
	emails, err := s.emails.ListTrackedEmails(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing tracked emails: %w", err)
	}
	return emails, nil
}

// Get returns a single tracked email.
func (s *Service) Get(ctx context.Context, userID int64, threadID string) (*models.TrackedEmail, error) {
	e, err := s.emails.GetTrackedEmail(ctx, userID, threadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting tracked email: %w", err)
	}
	return e, nil
}

// Dismiss stops a thread from showing up as pending. Unknown threads are ignored.
func (s *Service) Dismiss(ctx context.Context, userID int64, threadID string) error {
	unlock := s.lockUser(userID)
	defer unlock()
	return s.ignoreMissing(s.emails.MarkTrackedEmailDismissed(ctx, userID, threadID), "dismissing", userID, threadID)
}

// MarkReplied records that a thread received a reply. Unknown threads are ignored.
func (s *Service) MarkReplied(ctx context.Context, userID int64, threadID string) error {
	unlock := s.lockUser(userID)
	defer unlock()
	return s.ignoreMissing(s.emails.MarkTrackedEmailReplied(ctx, userID, threadID), "marking replied", userID, threadID)
}

// Remove deletes a tracked email and its draft. Unknown threads are ignored.
func (s *Service) Remove(ctx context.Context, userID int64, threadID string) error {
	unlock := s.lockUser(userID)
	defer unlock()
	return s.ignoreMissing(s.emails.DeleteTrackedEmail(ctx, userID, threadID), "removing", userID, threadID)
}

func (s *Service) ignoreMissing(err error, action string, userID int64, threadID string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("tracked email not found", "action", action, "user_id", userID, "thread_id", threadID)
		return nil
	}
	return fmt.Errorf("%s tracked email: %w", action, err)
}

// Clear stops tracking every email for the user.
func (s *Service) Clear(ctx context.Context, userID int64) error {
	unlock := s.lockUser(userID)
	defer unlock()
	if err := s.emails.ClearTrackedEmails(ctx, userID); err != nil {
		return fmt.Errorf("clearing tracked emails: %w", err)
	}
	return nil
}

// Settings returns the user's settings, creating defaults on first access.
func (s *Service) Settings(ctx context.Context, userID int64) (*models.Settings, error) {
	st, err := s.settings.GetOrCreateSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	return st, nil
}

// UpdateSettings applies a partial settings update.
func (s *Service) UpdateSettings(ctx context.Context, userID int64, params models.SettingsUpdateParams) (*models.Settings, error) {
	if params.ThresholdMinutes != nil && !validThreshold(int64(*params.ThresholdMinutes)) {
		return nil, ErrInvalidThreshold
	}

	unlock := s.lockUser(userID)
	defer unlock()

	if _, err := s.settings.GetOrCreateSettings(ctx, userID); err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	st, err := s.settings.UpdateSettings(ctx, userID, params)
	if err != nil {
		return nil, fmt.Errorf("updating settings: %w", err)
	}
	return st, nil
}

// SetThreshold replaces the pending threshold. Negative values are rejected
// and leave the stored threshold unchanged.
func (s *Service) SetThreshold(ctx context.Context, userID int64, minutes int) error {
	_, err := s.UpdateSettings(ctx, userID, models.SettingsUpdateParams{ThresholdMinutes: &minutes})
	return err
}

// GetThreshold returns the pending threshold in minutes.
func (s *Service) GetThreshold(ctx context.Context, userID int64) (int, error) {
	st, err := s.Settings(ctx, userID)
	if err != nil {
		return 0, err
	}
	return st.ThresholdMinutes, nil
}

// SaveDraft stores a generated follow-up for a tracked thread, replacing any
// previous draft.
func (s *Service) SaveDraft(ctx context.Context, userID int64, threadID, content string) (*models.GeneratedDraft, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	e, err := s.Get(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}
	d, err := s.drafts.SaveDraft(ctx, e.ID, content)
	if err != nil {
		return nil, fmt.Errorf("saving draft: %w", err)
	}
	return d, nil
}
