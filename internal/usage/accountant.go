package usage

import (
	"math"
	"time"

	"github.com/nestline/chatnest/internal/storage"
)

// UnlimitedMinutes is the sentinel daily limit meaning "no effective cap".
// A week of minutes, so arithmetic on it stays well inside int range.
const UnlimitedMinutes = 7 * 24 * 60

// Session is one login-to-logout interval inside a day's usage window.
// An active session has no matching logout yet; its End is the evaluation
// time it was measured against.
type Session struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Minutes int       `json:"minutes"`
	Active  bool      `json:"active,omitempty"`
}

// Window is the derived usage picture for one subject on one day.
// It is recomputed from the event log on every evaluation, never stored.
type Window struct {
	Sessions     []Session `json:"sessions"`
	TotalMinutes int       `json:"total_minutes"`
}

// Verdict is the result of checking a window against a daily limit.
type Verdict struct {
	UsagePercent     int  `json:"usage_percent"`
	Exceeded         bool `json:"exceeded"`
	RemainingMinutes int  `json:"remaining_minutes"`
}

// ComputeUsage folds an ordered event sequence into a usage window.
//
// Events must be pre-sorted ascending by OccurredAt; the accountant does not
// re-derive ordering. A login while another login is open replaces the open
// start and the abandoned partial interval is not counted. A logout with no
// open login is ignored. A trailing open login is measured against now and
// reported as an active session. Interval minutes round up, clamped to zero
// if the raw interval is negative.
func ComputeUsage(events []storage.UsageEvent, now time.Time) Window {
	var openStart *time.Time
	window := Window{Sessions: []Session{}}

	for _, event := range events {
		switch event.Kind {
		case storage.EventLogin:
			start := event.OccurredAt
			openStart = &start
		case storage.EventLogout:
			if openStart == nil {
				continue
			}
			minutes := ceilMinutes(event.OccurredAt.Sub(*openStart))
			window.Sessions = append(window.Sessions, Session{
				Start:   *openStart,
				End:     event.OccurredAt,
				Minutes: minutes,
			})
			window.TotalMinutes += minutes
			openStart = nil
		}
	}

	if openStart != nil {
		minutes := ceilMinutes(now.Sub(*openStart))
		window.Sessions = append(window.Sessions, Session{
			Start:   *openStart,
			End:     now,
			Minutes: minutes,
			Active:  true,
		})
		window.TotalMinutes += minutes
	}

	return window
}

// EvaluateLimit checks a window against a daily limit in minutes. The
// threshold is inclusive: reaching the limit exactly counts as exceeded.
// A non-positive limit yields zero percent rather than dividing by zero.
func EvaluateLimit(window Window, dailyLimitMinutes int) Verdict {
	verdict := Verdict{
		Exceeded:         window.TotalMinutes >= dailyLimitMinutes,
		RemainingMinutes: dailyLimitMinutes - window.TotalMinutes,
	}
	if verdict.RemainingMinutes < 0 {
		verdict.RemainingMinutes = 0
	}
	if dailyLimitMinutes > 0 {
		verdict.UsagePercent = int(math.Round(float64(window.TotalMinutes) / float64(dailyLimitMinutes) * 100))
	}
	return verdict
}

// ceilMinutes rounds a duration up to whole minutes, treating negative
// intervals (clock skew, malformed data) as zero.
func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}

// Day formats a timestamp as the calendar-day key used by the event store.
func Day(t time.Time) string {
	return t.Format("2006-01-02")
}
