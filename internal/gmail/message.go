package gmail

import (
	"encoding/base64"
	"mime"
	"net/mail"
	"strings"
	"time"

	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/znz-systems/followup/internal/models"
)

func header(part *gmailv1.MessagePart, name string) string {
	if part == nil {
		return ""
	}
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// summarize converts a full-format message into an EmailSummary.
func summarize(msg *gmailv1.Message) models.EmailSummary {
	s := models.EmailSummary{
		MessageID: msg.Id,
		ThreadID:  msg.ThreadId,
		Snippet:   msg.Snippet,
		Recipient: header(msg.Payload, "To"),
		Sender:    header(msg.Payload, "From"),
		Subject:   header(msg.Payload, "Subject"),
		Body:      extractPlainText(msg.Payload),
	}
	if t, ok := parseDate(header(msg.Payload, "Date")); ok {
		s.SentAt = t
	} else if msg.InternalDate > 0 {
		s.SentAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	return s
}

// extractPlainText walks the MIME tree and returns the first text/plain body,
// preferring direct text/plain children of a multipart node.
func extractPlainText(part *gmailv1.MessagePart) string {
	if part == nil {
		return ""
	}
	if strings.EqualFold(part.MimeType, "text/plain") && part.Body != nil && part.Body.Data != "" {
		return decodeBase64URL(part.Body.Data)
	}
	for _, sub := range part.Parts {
		if strings.EqualFold(sub.MimeType, "text/plain") {
			if body := extractPlainText(sub); body != "" {
				return body
			}
		}
	}
	for _, sub := range part.Parts {
		if body := extractPlainText(sub); body != "" {
			return body
		}
	}
	return ""
}

func decodeBase64URL(data string) string {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Gmail usually omits padding.
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(b)
}

var dateLayouts = []string{
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// parseDate understands the Date header variants Gmail returns.
func parseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	if t, err := mail.ParseDate(v); err == nil {
		return t.UTC(), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	// Drop a trailing zone comment such as " (UTC)".
	if open := strings.LastIndex(v, " ("); open != -1 && strings.HasSuffix(v, ")") {
		return parseDate(v[:open])
	}
	return time.Time{}, false
}

// isFrom reports whether a From header belongs to owner.
func isFrom(from, owner string) bool {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return false
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address) == owner
	}
	return strings.Contains(strings.ToLower(from), owner)
}

func headerValue(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// buildMessage renders an RFC 2822 plain-text message.
func buildMessage(from string, msg OutgoingMessage) string {
	lines := []string{
		"From: " + headerValue(from),
		"To: " + headerValue(msg.To),
		"Subject: " + mime.QEncoding.Encode("utf-8", headerValue(msg.Subject)),
		`Content-Type: text/plain; charset="UTF-8"`,
		"MIME-Version: 1.0",
	}
	if msg.InReplyTo != "" {
		lines = append(lines, "In-Reply-To: "+headerValue(msg.InReplyTo))
	}
	if msg.References != "" {
		lines = append(lines, "References: "+headerValue(msg.References))
	}
	body := strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n")
	return strings.Join(lines, "\r\n") + "\r\n\r\n" + body
}

func encodeRaw(message string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(message))
}
