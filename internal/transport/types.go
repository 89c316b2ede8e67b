// Package transport defines the overlay delivery contract shared by the pipeline and
// the concrete overlay clients.
package transport

import "context"

// Result classifies one send attempt. Expected failures are results, not errors.
type Result int

const (
	OK Result = iota
	// Unavailable means the endpoint could not be reached or the write failed.
	// The request is dropped; nothing is queued for retry.
	Unavailable
	// MalformedPayload means the request could not be encoded. It signals a bug.
	MalformedPayload
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case Unavailable:
		return "transport_unavailable"
	case MalformedPayload:
		return "malformed_payload"
	default:
		return "unknown"
	}
}

// Request is one display request for the overlay.
type Request struct {
	Title   string
	Content string
	// TimeoutSeconds is how long the overlay keeps the notification on screen.
	TimeoutSeconds float64
	Opacity        float64
}

// Sender delivers display requests. The returned error carries detail for the log
// record when the result is not OK.
type Sender interface {
	Send(ctx context.Context, req Request) (Result, error)
	Close() error
}
