package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/znz-systems/followup/internal/models"
	"github.com/znz-systems/followup/internal/store"
)

// Sender delivers one HTML email.
type Sender interface {
	Send(to, subject, body string) error
}

// DigestNotifier emails a user the follow-ups that became due.
type DigestNotifier struct {
	sender Sender
	users  store.UserStore
	now    func() time.Time
}

// NewDigestNotifier creates a notifier that sends through sender.
func NewDigestNotifier(sender Sender, users store.UserStore) *DigestNotifier {
	return &DigestNotifier{
		sender: sender,
		users:  users,
		now:    time.Now,
	}
}

// NotifyPending sends one digest listing pending. Nothing is sent for an
// empty list.
func (n *DigestNotifier) NotifyPending(ctx context.Context, userID int64, pending []models.TrackedEmail) error {
	if len(pending) == 0 {
		return nil
	}
	user, err := n.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("mail: failed to look up user (userID=%d): %w", userID, err)
	}

	subject := fmt.Sprintf("%d email%s waiting for a reply", len(pending), plural(len(pending)))
	body := PendingDigestBody(pending, n.now())

	if err := n.sender.Send(user.Email, subject, body); err != nil {
		return fmt.Errorf("mail: failed to send digest to %s: %w", user.Email, err)
	}

	slog.InfoContext(ctx, "sent follow-up digest",
		"user_id", userID,
		"recipient", user.Email,
		"pending", len(pending),
	)
	return nil
}

// NoopNotifier discards notifications.
type NoopNotifier struct{}

func (NoopNotifier) NotifyPending(_ context.Context, _ int64, _ []models.TrackedEmail) error {
	return nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
