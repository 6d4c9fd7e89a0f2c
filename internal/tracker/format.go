package tracker

import (
	"fmt"
	"math"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

const (
	minutesPerHour = 60
	minutesPerDay  = 24 * minutesPerHour

	// MaxThresholdMinutes is the largest threshold the settings column holds.
	MaxThresholdMinutes = math.MaxInt32
)

// Duration is a span of whole minutes split into days, hours and minutes.
type Duration struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// Elapsed is the time since a send, with the total in minutes.
type Elapsed struct {
	Duration
	TotalMinutes int `json:"totalMinutes"`
}

// ThresholdToComponents splits a non-negative minute count.
func ThresholdToComponents(total int) Duration {
	return Duration{
		Days:    total / minutesPerDay,
		Hours:   (total % minutesPerDay) / minutesPerHour,
		Minutes: total % minutesPerHour,
	}
}

// ParseThreshold is the inverse of ThresholdToComponents.
func ParseThreshold(d Duration) int {
	return d.Days*minutesPerDay + d.Hours*minutesPerHour + d.Minutes
}

// ThresholdFromComponents composes a threshold from user input, rejecting
// negative components and totals above MaxThresholdMinutes.
func ThresholdFromComponents(d Duration) (int, error) {
	if d.Days < 0 || d.Hours < 0 || d.Minutes < 0 {
		return 0, ErrInvalidThreshold
	}
	if d.Days > MaxThresholdMinutes || d.Hours > MaxThresholdMinutes || d.Minutes > MaxThresholdMinutes {
		return 0, ErrInvalidThreshold
	}
	total := int64(d.Days)*minutesPerDay + int64(d.Hours)*minutesPerHour + int64(d.Minutes)
	if !validThreshold(total) {
		return 0, ErrInvalidThreshold
	}
	return int(total), nil
}

func validThreshold(minutes int64) bool {
	return minutes >= 0 && minutes <= MaxThresholdMinutes
}

// FormatThreshold renders a threshold such as "1 day 2 hours" or "0 mins".
func FormatThreshold(total int) string {
	d := ThresholdToComponents(total)
	var parts []string
	if d.Days > 0 {
		parts = append(parts, plural(d.Days, "day"))
	}
	if d.Hours > 0 {
		parts = append(parts, plural(d.Hours, "hour"))
	}
	if d.Minutes > 0 {
		parts = append(parts, plural(d.Minutes, "min"))
	}
	if len(parts) == 0 {
		return "0 mins"
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n > 1 {
		return fmt.Sprintf("%d %ss", n, unit)
	}
	return fmt.Sprintf("%d %s", n, unit)
}

// TimeSince reports whole minutes elapsed between t and now. A zero t or a t
// in the future yields a zero Elapsed.
func TimeSince(t, now time.Time) Elapsed {
	if t.IsZero() {
		return Elapsed{}
	}
	total := int(now.Sub(t) / time.Minute)
	if total < 0 {
		total = 0
	}
	return Elapsed{Duration: ThresholdToComponents(total), TotalMinutes: total}
}

// FormatTimeSince renders elapsed time compactly: "2d 3h", "4h 10m" or "7m".
func FormatTimeSince(t, now time.Time) string {
	e := TimeSince(t, now)
	switch {
	case e.Days > 0:
		return fmt.Sprintf("%dd %dh", e.Days, e.Hours)
	case e.Hours > 0:
		return fmt.Sprintf("%dh %dm", e.Hours, e.Minutes)
	default:
		return fmt.Sprintf("%dm", e.Minutes)
	}
}

var angleAddr = regexp.MustCompile(`<([^>]+)>`)

// FormatRecipient extracts a displayable address from a To header value,
// the first address when there are several.
func FormatRecipient(to string) string {
	if strings.TrimSpace(to) == "" {
		return "Unknown"
	}
	if addrs, err := mail.ParseAddressList(to); err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	if m := angleAddr.FindStringSubmatch(to); m != nil {
		return m[1]
	}
	first, _, _ := strings.Cut(to, ",")
	return strings.TrimSpace(first)
}
