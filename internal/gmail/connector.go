package gmail

import (
	"context"
	"strconv"
	"time"

	"github.com/znz-systems/followup/internal/models"
	"github.com/znz-systems/followup/internal/tracker"
)

// Pacer throttles calls per key.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// Connector exposes connected Gmail accounts as a tracker.EmailSource and
// tracker.ReplyOracle.
type Connector struct {
	svc   *Service
	pacer Pacer
	opts  FetchOptions
	now   func() time.Time
}

// NewConnector creates a Connector. pacer may be nil.
func NewConnector(svc *Service, pacer Pacer, opts FetchOptions) *Connector {
	return &Connector{svc: svc, pacer: pacer, opts: opts, now: time.Now}
}

func (c *Connector) mailbox(ctx context.Context, userID int64) (*Mailbox, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx, strconv.FormatInt(userID, 10)); err != nil {
			return nil, err
		}
	}
	return c.svc.Mailbox(ctx, userID)
}

// FetchSent implements tracker.EmailSource.
func (c *Connector) FetchSent(ctx context.Context, userID int64) (*tracker.FetchResult, error) {
	mb, err := c.mailbox(ctx, userID)
	if err != nil {
		return nil, err
	}
	opts := c.opts
	opts.Now = c.now()
	return mb.FetchSent(ctx, opts)
}

// CheckReplies implements tracker.ReplyOracle.
func (c *Connector) CheckReplies(ctx context.Context, userID int64, threadIDs []string) ([]models.ReplyStatus, error) {
	mb, err := c.mailbox(ctx, userID)
	if err != nil {
		return nil, err
	}
	return mb.CheckReplies(ctx, threadIDs, c.opts.Concurrency), nil
}

// Send delivers a message from the user's account.
func (c *Connector) Send(ctx context.Context, userID int64, msg OutgoingMessage) (*SentMessage, error) {
	mb, err := c.mailbox(ctx, userID)
	if err != nil {
		return nil, err
	}
	return mb.Send(ctx, msg)
}

// ListInbox returns a page of the user's inbox.
func (c *Connector) ListInbox(ctx context.Context, userID int64, q InboxQuery) (*InboxPage, error) {
	mb, err := c.mailbox(ctx, userID)
	if err != nil {
		return nil, err
	}
	if q.Concurrency <= 0 {
		q.Concurrency = c.opts.Concurrency
	}
	return mb.ListInbox(ctx, q)
}
