package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/znz-systems/followup/internal/models"
)

// FetchResult is what an EmailSource returns: the summaries it could read and
// the items it could not.
type FetchResult struct {
	Emails   []models.EmailSummary
	Failures []ItemFailure
}

// EmailSource lists a user's recently sent emails.
type EmailSource interface {
	FetchSent(ctx context.Context, userID int64) (*FetchResult, error)
}

// ReplyOracle reports, per thread, whether someone other than the user replied.
// A status with Err set means the oracle could not decide for that thread.
type ReplyOracle interface {
	CheckReplies(ctx context.Context, userID int64, threadIDs []string) ([]models.ReplyStatus, error)
}

// RefreshReport summarises a Refresh call. Failures of individual items are
// listed here rather than returned as errors.
type RefreshReport struct {
	Sync          SyncResult            `json:"sync"`
	FetchFailures []ItemFailure         `json:"fetchFailures"`
	Checked       int                   `json:"checked"`
	NewlyReplied  []string              `json:"newlyReplied"`
	ReplyFailures []ItemFailure         `json:"replyFailures"`
	Pending       []models.TrackedEmail `json:"-"`
}

// Refresh pulls sent emails from source, tracks the new ones, asks oracle
// about every active thread, records replies, and returns what is pending.
// Only a source that cannot be read at all fails the call.
func (s *Service) Refresh(ctx context.Context, userID int64, source EmailSource, oracle ReplyOracle) (*RefreshReport, error) {
	fetched, err := source.FetchSent(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching sent emails: %w", err)
	}

	report := &RefreshReport{
		FetchFailures: append([]ItemFailure{}, fetched.Failures...),
		NewlyReplied:  []string{},
		ReplyFailures: []ItemFailure{},
	}

	synced, err := s.Sync(ctx, userID, fetched.Emails)
	if err != nil {
		return nil, err
	}
	report.Sync = *synced

	tracked, err := s.ListTracked(ctx, userID)
	if err != nil {
		return nil, err
	}
	var active []string
	for _, e := range tracked {
		if !e.Dismissed && !e.HasReply {
			active = append(active, e.ThreadID)
		}
	}

	replied := s.checkReplies(ctx, userID, oracle, active, report)

	pending, err := s.ComputePending(ctx, userID, replied)
	if err != nil {
		return nil, err
	}
	report.Pending = pending

	slog.Info("refreshed follow-ups",
		"user_id", userID,
		"added", report.Sync.Added,
		"checked", report.Checked,
		"replied", len(report.NewlyReplied),
		"pending", len(pending),
		"failures", len(report.FetchFailures)+len(report.ReplyFailures)+len(report.Sync.Rejected),
	)
	return report, nil
}

// checkReplies queries the oracle for threadIDs, marks replied threads and
// returns their IDs. Undecided threads are reported as failures and are never
// treated as replied.
func (s *Service) checkReplies(ctx context.Context, userID int64, oracle ReplyOracle, threadIDs []string, report *RefreshReport) []string {
	if len(threadIDs) == 0 {
		return nil
	}

	statuses, err := oracle.CheckReplies(ctx, userID, threadIDs)
	if err != nil {
		slog.Warn("reply check failed", "user_id", userID, "threads", len(threadIDs), "error", err)
		for _, id := range threadIDs {
			report.ReplyFailures = append(report.ReplyFailures, ItemFailure{ThreadID: id, Reason: err.Error()})
		}
		return nil
	}

	answered := make(map[string]bool, len(statuses))
	var replied []string
	for _, st := range statuses {
		answered[st.ThreadID] = true
		if st.Err != nil {
			report.ReplyFailures = append(report.ReplyFailures, ItemFailure{ThreadID: st.ThreadID, Reason: st.Err.Error()})
			continue
		}
		report.Checked++
		if !st.HasReply {
			continue
		}
		if err := s.MarkReplied(ctx, userID, st.ThreadID); err != nil {
			report.ReplyFailures = append(report.ReplyFailures, ItemFailure{ThreadID: st.ThreadID, Reason: err.Error()})
			continue
		}
		replied = append(replied, st.ThreadID)
		report.NewlyReplied = append(report.NewlyReplied, st.ThreadID)
	}

	for _, id := range threadIDs {
		if !answered[id] {
			report.ReplyFailures = append(report.ReplyFailures, ItemFailure{ThreadID: id, Reason: "no reply status returned"})
		}
	}
	if len(report.ReplyFailures) > 0 {
		slog.Warn("some threads could not be checked for replies", "user_id", userID, "count", len(report.ReplyFailures))
	}
	return replied
}
