// Package source defines the notification source contract used by the delivery pipeline.
package source

import (
	"context"
	"errors"
	"time"
)

// ErrAccessDenied is returned by Fetch when the OS refuses notification access.
// It is permanent for the life of the process.
var ErrAccessDenied = errors.New("notification access denied")

// Event is one notification observed on the host. It is never persisted.
type Event struct {
	// ID is the source-side identity used for de-duplication. Empty disables it.
	ID          string
	AppID       string
	DisplayName string
	Title       string
	Body        []string
	ReceivedAt  time.Time
}

// Key identifies an event across polls.
func (e Event) Key() string {
	if e.ID == "" {
		return ""
	}
	return e.AppID + ":" + e.ID
}

// Source yields pending notification events in arrival order.
type Source interface {
	// Fetch returns the events observed since the last call. An empty slice is normal.
	Fetch(ctx context.Context) ([]Event, error)
	Close() error
}
