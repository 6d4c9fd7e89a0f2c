package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/znz-systems/followup/internal/models"
)

type fakeSource struct {
	result *FetchResult
	err    error
}

func (f *fakeSource) FetchSent(_ context.Context, _ int64) (*FetchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeOracle struct {
	statuses map[string]models.ReplyStatus
	err      error
	asked    []string
}

func (f *fakeOracle) CheckReplies(_ context.Context, _ int64, threadIDs []string) ([]models.ReplyStatus, error) {
	f.asked = append(f.asked, threadIDs...)
	if f.err != nil {
		return nil, f.err
	}
	var out []models.ReplyStatus
	for _, id := range threadIDs {
		if st, ok := f.statuses[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func TestRefresh_PartialSuccess(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	old := fixedNow.Add(-72 * time.Hour)

	source := &fakeSource{result: &FetchResult{
		Emails: []models.EmailSummary{
			summary("replied", old),
			summary("quiet", old),
			summary("unknown", old),
			summary("recent", fixedNow.Add(-time.Hour)),
			summary("", old),
		},
		Failures: []ItemFailure{{MessageID: "broken", Reason: "fetch failed"}},
	}}
	oracle := &fakeOracle{statuses: map[string]models.ReplyStatus{
		"replied": {ThreadID: "replied", HasReply: true, ReplyCount: 1},
		"quiet":   {ThreadID: "quiet"},
		"unknown": {ThreadID: "unknown", Err: errors.New("account address unavailable")},
		"recent":  {ThreadID: "recent"},
	}}

	report, err := svc.Refresh(ctx, 1, source, oracle)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if report.Sync.Added != 4 || len(report.Sync.Rejected) != 1 {
		t.Errorf("unexpected sync result: %+v", report.Sync)
	}
	if len(report.FetchFailures) != 1 {
		t.Errorf("expected fetch failure to be reported, got %+v", report.FetchFailures)
	}
	if report.Checked != 3 {
		t.Errorf("expected 3 threads checked, got %d", report.Checked)
	}
	if len(report.NewlyReplied) != 1 || report.NewlyReplied[0] != "replied" {
		t.Errorf("unexpected replied list: %v", report.NewlyReplied)
	}
	if len(report.ReplyFailures) != 1 || report.ReplyFailures[0].ThreadID != "unknown" {
		t.Errorf("unexpected reply failures: %+v", report.ReplyFailures)
	}

	// An undecided thread is not treated as replied.
	var ids []string
	for _, e := range report.Pending {
		ids = append(ids, e.ThreadID)
	}
	if len(ids) != 2 || ids[0] != "quiet" || ids[1] != "unknown" {
		t.Errorf("expected quiet and unknown pending, got %v", ids)
	}

	got, _ := svc.Get(ctx, 1, "replied")
	if !got.HasReply {
		t.Error("expected replied thread to be recorded")
	}
}

func TestRefresh_SkipsInactiveThreads(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	old := fixedNow.Add(-72 * time.Hour)

	svc.Sync(ctx, 1, []models.EmailSummary{summary("a", old), summary("b", old), summary("c", old)})
	svc.Dismiss(ctx, 1, "a")
	svc.MarkReplied(ctx, 1, "b")

	oracle := &fakeOracle{statuses: map[string]models.ReplyStatus{"c": {ThreadID: "c"}}}
	if _, err := svc.Refresh(ctx, 1, &fakeSource{result: &FetchResult{}}, oracle); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(oracle.asked) != 1 || oracle.asked[0] != "c" {
		t.Errorf("expected only the active thread to be checked, got %v", oracle.asked)
	}
}

func TestRefresh_OracleFailureKeepsGoing(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	old := fixedNow.Add(-72 * time.Hour)

	source := &fakeSource{result: &FetchResult{Emails: []models.EmailSummary{summary("a", old), summary("b", old)}}}
	oracle := &fakeOracle{err: errors.New("quota exceeded")}

	report, err := svc.Refresh(ctx, 1, source, oracle)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(report.ReplyFailures) != 2 {
		t.Errorf("expected both threads reported as failures, got %+v", report.ReplyFailures)
	}
	if len(report.Pending) != 2 {
		t.Errorf("expected both threads pending, got %d", len(report.Pending))
	}
}

func TestRefresh_MissingStatusIsFailure(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	source := &fakeSource{result: &FetchResult{Emails: []models.EmailSummary{summary("a", fixedNow)}}}

	report, err := svc.Refresh(ctx, 1, source, &fakeOracle{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(report.ReplyFailures) != 1 || report.ReplyFailures[0].ThreadID != "a" {
		t.Errorf("expected missing status to be reported, got %+v", report.ReplyFailures)
	}
}

func TestRefresh_SourceUnavailable(t *testing.T) {
	svc, _, _, _ := newTestService()
	sourceErr := errors.New("token revoked")

	_, err := svc.Refresh(context.Background(), 1, &fakeSource{err: sourceErr}, &fakeOracle{})
	if !errors.Is(err, sourceErr) {
		t.Errorf("expected wrapped source error, got %v", err)
	}
}
