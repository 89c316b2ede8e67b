// Package jsonl reads notification events as newline-delimited JSON, one object per line.
// It lets any other notifier feed the bridge through a pipe.
//
//	{"id":"42","app_id":"org.example.Chat","display_name":"Chat","title":"Bob","body":["hello"]}
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/jonboulle/clockwork"

	"notifybridge/internal/source"
	logx "notifybridge/pkg/logx"
)

const maxLineSize = 1 << 20

type record struct {
	ID          string          `json:"id"`
	AppID       string          `json:"app_id"`
	DisplayName string          `json:"display_name"`
	Title       string          `json:"title"`
	Body        json.RawMessage `json:"body"`
}

// Reader is a source.Source fed from an io.Reader. Lines are consumed by a background
// goroutine into a bounded queue that Fetch drains.
type Reader struct {
	log   logx.Logger
	clock clockwork.Clock
	queue *source.Queue
	rc    io.Closer

	startOnce sync.Once
	in        io.Reader
	done      chan struct{}

	mu  sync.Mutex
	err error
}

type Option func(*Reader)

func WithLogger(l logx.Logger) Option { return func(r *Reader) { r.log = l } }

func WithClock(c clockwork.Clock) Option { return func(r *Reader) { r.clock = c } }

func WithQueueSize(n int) Option { return func(r *Reader) { r.queue = source.NewQueue(n) } }

func New(in io.Reader, opts ...Option) *Reader {
	r := &Reader{
		log:   logx.Nop(),
		clock: clockwork.NewRealClock(),
		queue: source.NewQueue(256),
		in:    in,
		done:  make(chan struct{}),
	}
	if c, ok := in.(io.Closer); ok {
		r.rc = c
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Reader) Fetch(ctx context.Context) ([]source.Event, error) {
	r.startOnce.Do(func() { go r.consume() })
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	events, dropped := r.queue.Drain()
	if dropped > 0 {
		r.log.Warn("notification queue overflow; oldest events dropped", logx.Int("dropped", dropped))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		err := r.err
		r.err = nil
		return events, err
	}
	return events, nil
}

// Done is closed once the input is exhausted.
func (r *Reader) Done() <-chan struct{} { return r.done }

func (r *Reader) consume() {
	defer close(r.done)

	br := bufio.NewReaderSize(r.in, 64*1024)
	line := 0
	for {
		b, oversize, err := readLine(br)
		if err != nil {
			r.mu.Lock()
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				r.err = err
			}
			r.mu.Unlock()
			break
		}
		line++
		if oversize {
			r.log.Warn("skipping oversized event line", logx.Int("line", line), logx.Int("limit", maxLineSize))
			continue
		}
		text := bytes.TrimSpace(b)
		if len(text) == 0 {
			continue
		}
		ev, err := decodeLine(text)
		if err != nil {
			r.log.Warn("skipping malformed event line", logx.Int("line", line), logx.Err(err))
			continue
		}
		ev.ReceivedAt = r.clock.Now()
		r.queue.Push(ev)
	}
	r.log.Debug("event input exhausted", logx.Int("lines", line))
}

// readLine returns the next line without its terminator. A line longer than
// maxLineSize is consumed up to its newline and reported as oversize with no bytes.
func readLine(br *bufio.Reader) ([]byte, bool, error) {
	var buf []byte
	oversize := false
	for {
		chunk, more, err := br.ReadLine()
		if err != nil {
			return nil, false, err
		}
		if !oversize {
			if len(buf)+len(chunk) > maxLineSize {
				oversize, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !more {
			return buf, oversize, nil
		}
	}
}

func decodeLine(b []byte) (source.Event, error) {
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return source.Event{}, err
	}
	ev := source.Event{
		ID:          rec.ID,
		AppID:       rec.AppID,
		DisplayName: rec.DisplayName,
		Title:       rec.Title,
	}
	if len(rec.Body) == 0 || string(rec.Body) == "null" {
		return ev, nil
	}
	var one string
	if err := json.Unmarshal(rec.Body, &one); err == nil {
		if one != "" {
			ev.Body = []string{one}
		}
		return ev, nil
	}
	if err := json.Unmarshal(rec.Body, &ev.Body); err != nil {
		return source.Event{}, errors.New("body must be a string or a list of strings")
	}
	return ev, nil
}

func (r *Reader) Close() error {
	if r.rc != nil {
		return r.rc.Close()
	}
	return nil
}
