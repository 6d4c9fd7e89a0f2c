package tracker

import (
	"time"

	"github.com/znz-systems/followup/internal/models"
)

// Pending filters emails down to those due for a follow-up at now: not
// dismissed, no reply recorded or reported in replied, and sent at least
// thresholdMinutes ago. Input order is preserved.
func Pending(emails []models.TrackedEmail, replied map[string]bool, thresholdMinutes int, now time.Time) []models.TrackedEmail {
	pending := make([]models.TrackedEmail, 0)
	for _, e := range emails {
		if e.Dismissed || e.HasReply || replied[e.ThreadID] {
			continue
		}
		// Compared in whole minutes so large thresholds cannot overflow a Duration.
		elapsed := now.Sub(e.EffectiveSentAt())
		if elapsed < 0 || int64(elapsed/time.Minute) < int64(thresholdMinutes) {
			continue
		}
		pending = append(pending, e)
	}
	return pending
}
