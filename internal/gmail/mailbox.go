package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/znz-systems/followup/internal/models"
	"github.com/znz-systems/followup/internal/tracker"
)

const (
	me                 = "me"
	defaultConcurrency = 8
)

// Mailbox is an authorised view of one user's Gmail account.
type Mailbox struct {
	api    *gmailv1.Service
	userID int64
	owner  string
}

// FetchOptions bound a FetchSent call.
type FetchOptions struct {
	MaxResults  int64
	DaysBack    int
	Concurrency int
	Now         time.Time
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.MaxResults <= 0 {
		o.MaxResults = 20
	}
	if o.DaysBack <= 0 {
		o.DaysBack = 30
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// Owner returns the account address, looking it up if the connection did not
// record one.
func (m *Mailbox) Owner(ctx context.Context) (string, error) {
	if m.owner != "" {
		return m.owner, nil
	}
	profile, err := m.api.Users.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOwnerUnknown, err)
	}
	if profile.EmailAddress == "" {
		return "", ErrOwnerUnknown
	}
	m.owner = profile.EmailAddress
	return m.owner, nil
}

// FetchSent lists recently sent messages and reads each one. Messages that
// cannot be read are reported as failures; the rest are returned in list order.
func (m *Mailbox) FetchSent(ctx context.Context, opts FetchOptions) (*tracker.FetchResult, error) {
	opts = opts.withDefaults()
	after := opts.Now.AddDate(0, 0, -opts.DaysBack)

	list, err := m.api.Users.Messages.List(me).
		LabelIds("SENT").
		Q(fmt.Sprintf("after:%d", after.Unix())).
		MaxResults(opts.MaxResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(fmt.Errorf("listing sent messages: %w", err))
	}

	refs := list.Messages
	if int64(len(refs)) > opts.MaxResults {
		refs = refs[:opts.MaxResults]
	}

	summaries := make([]*models.EmailSummary, len(refs))
	failures := make([]*tracker.ItemFailure, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			msg, err := m.api.Users.Messages.Get(me, ref.Id).Format("full").Context(gctx).Do()
			if err != nil {
				failures[i] = &tracker.ItemFailure{MessageID: ref.Id, ThreadID: ref.ThreadId, Reason: err.Error()}
				return nil
			}
			s := summarize(msg)
			summaries[i] = &s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &tracker.FetchResult{Emails: []models.EmailSummary{}, Failures: []tracker.ItemFailure{}}
	for i := range refs {
		if summaries[i] != nil {
			result.Emails = append(result.Emails, *summaries[i])
		}
		if failures[i] != nil {
			result.Failures = append(result.Failures, *failures[i])
		}
	}
	if len(result.Failures) > 0 {
		slog.Warn("some sent messages could not be read", "user_id", m.userID, "failed", len(result.Failures), "read", len(result.Emails))
	}
	return result, nil
}

// CheckReplies reports, for each thread, whether a message after the first one
// came from someone other than the account owner. A thread that cannot be read,
// or whose owner cannot be determined, gets a status with Err set.
func (m *Mailbox) CheckReplies(ctx context.Context, threadIDs []string, concurrency int) []models.ReplyStatus {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	statuses := make([]models.ReplyStatus, len(threadIDs))
	owner := sync.OnceValues(func() (string, error) { return m.Owner(ctx) })

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range threadIDs {
		g.Go(func() error {
			statuses[i] = m.checkThread(gctx, id, owner)
			return nil
		})
	}
	_ = g.Wait()
	return statuses
}

func (m *Mailbox) checkThread(ctx context.Context, threadID string, ownerFn func() (string, error)) models.ReplyStatus {
	st := models.ReplyStatus{ThreadID: threadID}

	thread, err := m.api.Users.Threads.Get(me, threadID).
		Format("metadata").
		MetadataHeaders("From").
		Context(ctx).
		Do()
	if err != nil {
		st.Err = classify(fmt.Errorf("reading thread: %w", err))
		return st
	}
	if len(thread.Messages) <= 1 {
		return st
	}

	owner, err := ownerFn()
	if err != nil {
		st.Err = err
		return st
	}

	for _, msg := range thread.Messages[1:] {
		from := header(msg.Payload, "From")
		if !isFrom(from, owner) {
			st.HasReply = true
			st.ReplyCount = len(thread.Messages) - 1
			st.LastMessageFrom = header(thread.Messages[len(thread.Messages)-1].Payload, "From")
			return st
		}
	}
	return st
}

// OutgoingMessage is a plain-text email to send from the user's account.
type OutgoingMessage struct {
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ThreadID   string `json:"threadId,omitempty"`
	InReplyTo  string `json:"inReplyTo,omitempty"`
	References string `json:"references,omitempty"`
}

// SentMessage identifies a message Gmail accepted.
type SentMessage struct {
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
}

// ErrInvalidMessage is returned when to, subject or body is missing.
var ErrInvalidMessage = errors.New("to, subject, and body are required")

// Send delivers msg, threading it when ThreadID is set.
func (m *Mailbox) Send(ctx context.Context, msg OutgoingMessage) (*SentMessage, error) {
	if strings.TrimSpace(msg.To) == "" || strings.TrimSpace(msg.Subject) == "" || strings.TrimSpace(msg.Body) == "" {
		return nil, ErrInvalidMessage
	}
	owner, err := m.Owner(ctx)
	if err != nil {
		return nil, err
	}

	raw := &gmailv1.Message{Raw: encodeRaw(buildMessage(owner, msg)), ThreadId: msg.ThreadID}
	sent, err := m.api.Users.Messages.Send(me, raw).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("sending message: %w", err))
	}
	slog.Info("follow-up sent", "user_id", m.userID, "message_id", sent.Id, "thread_id", sent.ThreadId)
	return &SentMessage{MessageID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// classify maps an unauthorised API response to ErrReauthRequired.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", ErrReauthRequired, err)
	}
	return err
}
