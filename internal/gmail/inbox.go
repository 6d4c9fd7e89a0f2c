package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/znz-systems/followup/internal/tracker"
)

// MaxInboxResults caps a single inbox page.
const MaxInboxResults = 100

// InboxQuery selects a page of inbox messages. Query uses Gmail search syntax.
type InboxQuery struct {
	Query       string
	MaxResults  int64
	PageToken   string
	Concurrency int
}

// InboxMessage is the metadata view of one received message.
type InboxMessage struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"threadId"`
	Snippet    string    `json:"snippet"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Date       string    `json:"date"`
	ReceivedAt time.Time `json:"receivedAt"`
	Unread     bool      `json:"isUnread"`
	Starred    bool      `json:"isStarred"`
	Labels     []string  `json:"labels"`
}

// InboxPage is one page of ListInbox results.
type InboxPage struct {
	Messages      []InboxMessage        `json:"emails"`
	Total         int64                 `json:"total"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
	Failures      []tracker.ItemFailure `json:"failures"`
}

// ListInbox lists INBOX messages matching q and reads their From, Subject and
// Date headers. Unreadable messages are reported as failures.
func (m *Mailbox) ListInbox(ctx context.Context, q InboxQuery) (*InboxPage, error) {
	if q.MaxResults <= 0 {
		q.MaxResults = 20
	}
	q.MaxResults = min(q.MaxResults, MaxInboxResults)
	if q.Concurrency <= 0 {
		q.Concurrency = defaultConcurrency
	}

	call := m.api.Users.Messages.List(me).LabelIds("INBOX").MaxResults(q.MaxResults)
	if q.Query != "" {
		call = call.Q(q.Query)
	}
	if q.PageToken != "" {
		call = call.PageToken(q.PageToken)
	}
	list, err := call.Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("listing inbox: %w", err))
	}

	refs := list.Messages
	if int64(len(refs)) > q.MaxResults {
		refs = refs[:q.MaxResults]
	}
	messages := make([]*InboxMessage, len(refs))
	failures := make([]*tracker.ItemFailure, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.Concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			msg, err := m.api.Users.Messages.Get(me, ref.Id).
				Format("metadata").
				MetadataHeaders("From", "Subject", "Date").
				Context(gctx).
				Do()
			if err != nil {
				failures[i] = &tracker.ItemFailure{MessageID: ref.Id, ThreadID: ref.ThreadId, Reason: err.Error()}
				return nil
			}
			im := inboxMessage(msg)
			messages[i] = &im
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	page := &InboxPage{
		Messages:      []InboxMessage{},
		NextPageToken: list.NextPageToken,
		Failures:      []tracker.ItemFailure{},
	}
	for i := range refs {
		if messages[i] != nil {
			page.Messages = append(page.Messages, *messages[i])
		}
		if failures[i] != nil {
			page.Failures = append(page.Failures, *failures[i])
		}
	}
	page.Total = list.ResultSizeEstimate
	if page.Total == 0 {
		page.Total = int64(len(page.Messages))
	}
	if len(page.Failures) > 0 {
		slog.Warn("some inbox messages could not be read", "user_id", m.userID, "failed", len(page.Failures), "read", len(page.Messages))
	}
	return page, nil
}

func inboxMessage(msg *gmailv1.Message) InboxMessage {
	im := InboxMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		From:     header(msg.Payload, "From"),
		Subject:  header(msg.Payload, "Subject"),
		Date:     header(msg.Payload, "Date"),
		Unread:   slices.Contains(msg.LabelIds, "UNREAD"),
		Starred:  slices.Contains(msg.LabelIds, "STARRED"),
		Labels:   msg.LabelIds,
	}
	if im.Labels == nil {
		im.Labels = []string{}
	}
	if t, ok := parseDate(im.Date); ok {
		im.ReceivedAt = t
	} else if msg.InternalDate > 0 {
		im.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	return im
}
