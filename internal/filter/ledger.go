package filter

import (
	"time"

	"notifybridge/internal/config"
)

// Window is the length of one learning window.
const Window = 24 * time.Hour

// ApplyDailyResetIfDue starts a new learning window when the current one has expired
// and reports whether the state changed.
//
// With no recorded reset the window starts now and nothing is cleared. A recorded
// reset later than now is treated as now, so a clock step backwards cannot keep a
// window open forever.
func ApplyDailyResetIfDue(l *config.Learning, now time.Time) bool {
	if l == nil {
		return false
	}
	now = now.UTC()
	if l.LastReset == nil {
		l.LastReset = &now
		return true
	}

	last := *l.LastReset
	if last.After(now) {
		l.LastReset = &now
		return true
	}
	if now.Sub(last) < Window {
		return false
	}

	l.Pending = map[string]string{}
	l.ShownSession = map[string]string{}
	l.LastReset = &now
	return true
}
