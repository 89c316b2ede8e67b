// Package filter decides whether a notification from a given application is shown.
//
// Decisions are pure functions of the filter lists, the learning state and the
// supplied time. The learning state is mutated in place; Result.Dirty tells the
// caller that it must be persisted.
package filter

import (
	"slices"
	"time"

	"notifybridge/internal/config"
)

type Decision int

const (
	Blocked Decision = iota + 1
	AllowedExplicit
	AllowedDefault
	LearnedFirstShow
	LearnedSuppressedRepeat
	LearnedSuppressedDisabled
)

// Admitted reports whether the notification is forwarded to the overlay.
func (d Decision) Admitted() bool {
	switch d {
	case AllowedExplicit, AllowedDefault, LearnedFirstShow:
		return true
	}
	return false
}

// Reason is the stable label written to suppression and delivery records.
func (d Decision) Reason() string {
	switch d {
	case Blocked:
		return "blocked"
	case AllowedExplicit:
		return "allowed"
	case AllowedDefault:
		return "default_allow"
	case LearnedFirstShow:
		return "learning_allow"
	case LearnedSuppressedRepeat:
		return "learning_suppress"
	case LearnedSuppressedDisabled:
		return "not_in_allow"
	default:
		return "unknown"
	}
}

func (d Decision) String() string { return d.Reason() }

type Result struct {
	Decision Decision
	// Dirty is set when the learning state was changed and needs a flush.
	Dirty bool
}

// Decide classifies appID. Block wins over allow; an id in neither list goes through
// learning when it is enabled. Comparison is exact and case-sensitive.
func Decide(appID, displayName string, filters config.Filters, learning *config.Learning, now time.Time) Result {
	if slices.Contains(filters.Block, appID) {
		return Result{Decision: Blocked}
	}
	if slices.Contains(filters.Allow, appID) {
		return Result{Decision: AllowedExplicit}
	}

	if learning == nil || !learning.Enabled {
		if len(filters.Allow) > 0 {
			return Result{Decision: LearnedSuppressedDisabled}
		}
		return Result{Decision: AllowedDefault}
	}

	dirty := ApplyDailyResetIfDue(learning, now)

	if learning.Pending == nil {
		learning.Pending = map[string]string{}
	}
	if learning.ShownSession == nil {
		learning.ShownSession = map[string]string{}
	}

	if _, ok := learning.Pending[appID]; !ok {
		name := displayName
		if name == "" {
			name = appID
		}
		learning.Pending[appID] = name
		dirty = true
	}

	if _, shown := learning.ShownSession[appID]; shown {
		return Result{Decision: LearnedSuppressedRepeat, Dirty: dirty}
	}
	learning.ShownSession[appID] = now.UTC().Format(time.RFC3339)
	return Result{Decision: LearnedFirstShow, Dirty: true}
}
