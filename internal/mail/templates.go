package mail

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/znz-systems/followup/internal/models"
	"github.com/znz-systems/followup/internal/tracker"
)

// PendingDigestBody returns an HTML email body listing follow-ups that are due.
func PendingDigestBody(pending []models.TrackedEmail, now time.Time) string {
	var rows strings.Builder
	for _, e := range pending {
		subject := e.Subject
		if subject == "" {
			subject = "(no subject)"
		}
		fmt.Fprintf(&rows, `
        <tr>
          <td>%s</td>
          <td>%s</td>
          <td class="age">%s</td>
        </tr>`,
			html.EscapeString(tracker.FormatRecipient(e.Recipient)),
			html.EscapeString(subject),
			tracker.FormatTimeSince(e.EffectiveSentAt(), now),
		)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background-color: #f4f4f7; margin: 0; padding: 0; }
    .container { max-width: 600px; margin: 40px auto; background-color: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 2px 8px rgba(0,0,0,0.08); }
    .header { background-color: #1a1a2e; color: #ffffff; padding: 24px 32px; }
    .header h1 { margin: 0; font-size: 20px; font-weight: 600; }
    .body { padding: 32px; color: #333333; line-height: 1.6; }
    table { width: 100%%; border-collapse: collapse; font-size: 14px; }
    th { text-align: left; color: #555555; border-bottom: 1px solid #eeeeee; padding: 8px 4px; }
    td { padding: 8px 4px; border-bottom: 1px solid #f4f4f7; }
    .age { white-space: nowrap; color: #999999; }
    .footer { padding: 20px 32px; text-align: center; font-size: 12px; color: #999999; border-top: 1px solid #eeeeee; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>%d follow-up%s due</h1>
    </div>
    <div class="body">
      <p>These emails have not received a reply yet.</p>
      <table>
        <tr><th>To</th><th>Subject</th><th>Sent</th></tr>%s
      </table>
    </div>
    <div class="footer">
      Dismiss a thread in the dashboard to stop reminders about it.
    </div>
  </div>
</body>
</html>`, len(pending), plural(len(pending)), rows.String())
}
