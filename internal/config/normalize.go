package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strings"
	"time"
)

// ErrNotObject is returned when the document parses but is not a JSON object.
var ErrNotObject = errors.New("config document is not a JSON object")

// Issue names a field that failed validation and was replaced by its default.
type Issue struct {
	Field  string
	Reason string
}

func (i Issue) String() string { return i.Field + ": " + i.Reason }

var knownTopLevel = map[string]bool{
	"filters":               true,
	"learning":              true,
	"xs_overlay":            true,
	"steamvr":               true,
	"poll_interval_seconds": true,
	"logging":               true,
	"debug":                 true,
}

// decodeDocument turns raw JSON into a Config. Only a document that is not a JSON object
// fails as a whole; every other problem is local to one field, which keeps its default
// and is reported as an Issue.
func decodeDocument(data []byte) (*Config, []Issue, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, nil, ErrNotObject
		}
		return nil, nil, fmt.Errorf("parse config: %w", err)
	}
	if top == nil {
		return nil, nil, ErrNotObject
	}

	cfg := Default()
	d := &decoder{}

	if sec, ok := d.section(top, "filters"); ok {
		decodeField(d, sec, "allow", "filters.allow", &cfg.Filters.Allow, nil)
		decodeField(d, sec, "block", "filters.block", &cfg.Filters.Block, nil)
	}

	if sec, ok := d.section(top, "learning"); ok {
		decodeField(d, sec, "enabled", "learning.enabled", &cfg.Learning.Enabled, nil)
		cfg.Learning.LastReset = d.lastReset(sec)
		decodeField(d, sec, "pending", "learning.pending", &cfg.Learning.Pending, nil)
		if !decodeField(d, sec, "shown_session", "learning.shown_session", &cfg.Learning.ShownSession, nil) {
			// Older documents called the window map shown_today.
			if _, legacy := sec["shown_today"]; legacy {
				decodeField(d, sec, "shown_today", "learning.shown_today", &cfg.Learning.ShownSession, nil)
			}
		}
	}

	if sec, ok := d.section(top, "xs_overlay"); ok {
		decodeField(d, sec, "ws_url", "xs_overlay.ws_url", &cfg.XSOverlay.WSURL, validWSURL)
		decodeField(d, sec, "notification_timeout_seconds", "xs_overlay.notification_timeout_seconds",
			&cfg.XSOverlay.NotificationTimeoutSeconds, func(v float64) bool { return finite(v) && v >= 0 })
		decodeField(d, sec, "notification_opacity", "xs_overlay.notification_opacity",
			&cfg.XSOverlay.NotificationOpacity, func(v float64) bool { return finite(v) && v >= 0 && v <= 1 })
	}

	if sec, ok := d.section(top, "steamvr"); ok {
		decodeField(d, sec, "exit_on_shutdown", "steamvr.exit_on_shutdown", &cfg.SteamVR.ExitOnShutdown, nil)
		decodeField(d, sec, "probe", "steamvr.probe", &cfg.SteamVR.Probe, func(v string) bool {
			return v == ProbeProcess || v == ProbeSystemd || v == ProbeNone
		})
		decodeField(d, sec, "process_names", "steamvr.process_names", &cfg.SteamVR.ProcessNames, func(v []string) bool {
			return len(v) > 0
		})
		decodeField(d, sec, "unit", "steamvr.unit", &cfg.SteamVR.Unit, nil)
		decodeField(d, sec, "check_interval_seconds", "steamvr.check_interval_seconds",
			&cfg.SteamVR.CheckIntervalSeconds, positive)
	}

	decodeField(d, top, "poll_interval_seconds", "poll_interval_seconds", &cfg.PollIntervalSeconds, positive)

	if sec, ok := d.section(top, "logging"); ok {
		decodeField(d, sec, "level", "logging.level", &cfg.Logging.Level, func(v string) bool {
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "trace", "debug", "info", "warn", "warning", "error":
				return true
			}
			return false
		})
		decodeField(d, sec, "format", "logging.format", &cfg.Logging.Format, func(v string) bool {
			return v == "console" || v == "json"
		})
		if fsec, ok := d.section(sec, "file", "logging.file"); ok {
			decodeField(d, fsec, "enabled", "logging.file.enabled", &cfg.Logging.File.Enabled, nil)
			decodeField(d, fsec, "path", "logging.file.path", &cfg.Logging.File.Path, nil)
		}
	}

	if sec, ok := d.section(top, "debug"); ok {
		decodeField(d, sec, "enabled", "debug.enabled", &cfg.Debug.Enabled, nil)
		decodeField(d, sec, "addr", "debug.addr", &cfg.Debug.Addr, loopbackAddr)
	}

	for k, v := range top {
		if knownTopLevel[k] {
			continue
		}
		if cfg.Extra == nil {
			cfg.Extra = map[string]json.RawMessage{}
		}
		cfg.Extra[k] = v
	}

	return cfg, d.issues, nil
}

type decoder struct {
	issues []Issue
}

func (d *decoder) invalid(path, reason string) {
	d.issues = append(d.issues, Issue{Field: path, Reason: reason})
}

// section returns a nested object. A missing key is fine; a non-object value is an issue.
func (d *decoder) section(parent map[string]json.RawMessage, key string, path ...string) (map[string]json.RawMessage, bool) {
	p := key
	if len(path) > 0 {
		p = path[0]
	}
	raw, ok := parent[key]
	if !ok {
		return nil, false
	}
	var sec map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sec); err != nil || sec == nil {
		d.invalid(p, "expected an object")
		return nil, false
	}
	return sec, true
}

func (d *decoder) lastReset(sec map[string]json.RawMessage) *time.Time {
	raw, ok := sec["last_reset"]
	if !ok || isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		d.invalid("learning.last_reset", "expected a timestamp string")
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return &t
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, time.UTC); err == nil {
		return &t
	}
	d.invalid("learning.last_reset", "unparseable timestamp")
	return nil
}

// decodeField decodes sec[key] into dst when present, well-typed and valid.
// It reports whether dst was set from the document.
func decodeField[T any](d *decoder, sec map[string]json.RawMessage, key, path string, dst *T, valid func(T) bool) bool {
	raw, ok := sec[key]
	if !ok {
		return false
	}
	if isNull(raw) {
		d.invalid(path, "null value")
		return false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		d.invalid(path, "wrong type")
		return false
	}
	if valid != nil && !valid(v) {
		d.invalid(path, "out of range")
		return false
	}
	*dst = v
	return true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func positive(v float64) bool { return finite(v) && v > 0 }

// loopbackAddr accepts host:port where host is localhost or a loopback IP.
func loopbackAddr(v string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func validWSURL(v string) bool {
	u, err := url.Parse(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	return (u.Scheme == "ws" || u.Scheme == "wss") && u.Host != ""
}
