package pipeline

import (
	"sort"
	"time"
)

const (
	seenMaxAge     = 24 * time.Hour
	seenMaxEntries = 2000
)

// seenSet remembers event keys already processed so sources that report their whole
// current notification list on every poll do not re-deliver.
type seenSet struct {
	at map[string]time.Time
}

func newSeenSet() *seenSet { return &seenSet{at: map[string]time.Time{}} }

// markNew records key and reports whether it was unseen. Empty keys are always new.
func (s *seenSet) markNew(key string, now time.Time) bool {
	if key == "" {
		return true
	}
	if _, ok := s.at[key]; ok {
		return false
	}
	s.at[key] = now
	return true
}

// prune drops entries older than seenMaxAge, then the oldest beyond seenMaxEntries.
func (s *seenSet) prune(now time.Time) {
	for k, t := range s.at {
		if now.Sub(t) > seenMaxAge {
			delete(s.at, k)
		}
	}
	excess := len(s.at) - seenMaxEntries
	if excess <= 0 {
		return
	}
	type entry struct {
		key string
		at  time.Time
	}
	all := make([]entry, 0, len(s.at))
	for k, t := range s.at {
		all = append(all, entry{k, t})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for _, e := range all[:excess] {
		delete(s.at, e.key)
	}
}

func (s *seenSet) len() int { return len(s.at) }
