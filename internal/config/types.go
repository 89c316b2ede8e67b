package config

import (
	"encoding/json"
	"time"
)

const (
	// AppKey is the fixed application identity; it keys the single-instance lock.
	AppKey = "com.tyunta.notifyxsoverlay"
	// AppName is the client name announced to the overlay.
	AppName    = "NotifyXSOverlay"
	AppDirName = "NotifyXSOverlay"

	ConfigFileName = "config.json"

	DefaultAllowedApp          = "com.squirrel.Discord.Discord"
	DefaultWSURL               = "ws://127.0.0.1:42070/?client=" + AppName
	DefaultNotificationTimeout = 3.0
	DefaultNotificationOpacity = 0.6
	DefaultPollInterval        = 1.0
	DefaultHostCheckInterval   = 2.0
	DefaultDebugAddr           = "127.0.0.1:9464"

	ProbeProcess = "process"
	ProbeSystemd = "systemd"
	ProbeNone    = "none"
)

// DefaultHostProcessNames are the SteamVR server process names on Linux and Windows.
var DefaultHostProcessNames = []string{"vrserver", "vrserver.exe"}

// Config is the persisted document and the single unit of load/validate/save.
//
// Unknown top-level keys are kept in Extra and written back on save.
type Config struct {
	Filters   Filters   `json:"filters" jsonschema:"description=Per-application admission lists"`
	Learning  Learning  `json:"learning" jsonschema:"description=Learning mode state (machine managed except enabled)"`
	XSOverlay XSOverlay `json:"xs_overlay" jsonschema:"description=Overlay endpoint settings"`
	SteamVR   SteamVR   `json:"steamvr" jsonschema:"description=Host runtime liveness settings"`

	PollIntervalSeconds float64 `json:"poll_interval_seconds" jsonschema:"default=1.0,exclusiveMinimum=0,description=Notification poll interval in seconds"`

	Logging Logging `json:"logging" jsonschema:"description=Diagnostic log settings"`
	Debug   Debug   `json:"debug" jsonschema:"description=Optional loopback debug server (metrics and pprof)"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Filters holds the user-curated allow and block lists. Block always wins.
type Filters struct {
	Allow []string `json:"allow" jsonschema:"description=Application ids always shown"`
	Block []string `json:"block" jsonschema:"description=Application ids never shown (wins over allow)"`
}

// Learning tracks unclassified application ids within the current 24h window.
type Learning struct {
	Enabled bool `json:"enabled" jsonschema:"default=true,description=Show unclassified applications once per window"`
	// LastReset is nil until the first learning decision.
	LastReset *time.Time `json:"last_reset" jsonschema:"description=Start of the current learning window (RFC3339)"`
	// Pending maps app id to display name for ids awaiting classification.
	Pending map[string]string `json:"pending" jsonschema:"description=Unclassified ids seen this window (safe to delete)"`
	// ShownSession maps app id to the RFC3339 time it was first shown this window.
	ShownSession map[string]string `json:"shown_session" jsonschema:"description=Ids already shown once this window (safe to delete)"`
}

type XSOverlay struct {
	WSURL                      string  `json:"ws_url" jsonschema:"description=Overlay websocket endpoint"`
	NotificationTimeoutSeconds float64 `json:"notification_timeout_seconds" jsonschema:"default=3.0,minimum=0,description=Seconds the overlay shows a notification"`
	NotificationOpacity        float64 `json:"notification_opacity" jsonschema:"default=0.6,minimum=0,maximum=1,description=Overlay notification opacity"`
}

type SteamVR struct {
	ExitOnShutdown bool `json:"exit_on_shutdown" jsonschema:"default=true,description=Stop the bridge when the host runtime exits"`
	// Probe selects how liveness is observed: process, systemd or none.
	Probe                string   `json:"probe" jsonschema:"enum=process,enum=systemd,enum=none,default=process"`
	ProcessNames         []string `json:"process_names" jsonschema:"description=Host process names for the process probe"`
	Unit                 string   `json:"unit,omitempty" jsonschema:"description=systemd user unit for the systemd probe"`
	CheckIntervalSeconds float64  `json:"check_interval_seconds" jsonschema:"default=2.0,exclusiveMinimum=0"`
}

type Logging struct {
	Level  string      `json:"level" jsonschema:"enum=trace,enum=debug,enum=info,enum=warn,enum=error,default=info"`
	Format string      `json:"format" jsonschema:"enum=console,enum=json,default=console"`
	File   LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// Debug controls the optional debug server. It only binds loopback addresses.
type Debug struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr" jsonschema:"default=127.0.0.1:9464"`
}

// Default returns the documented first-run document.
func Default() *Config {
	return &Config{
		Filters: Filters{
			Allow: []string{DefaultAllowedApp},
			Block: []string{},
		},
		Learning: Learning{
			Enabled:      true,
			Pending:      map[string]string{},
			ShownSession: map[string]string{},
		},
		XSOverlay: XSOverlay{
			WSURL:                      DefaultWSURL,
			NotificationTimeoutSeconds: DefaultNotificationTimeout,
			NotificationOpacity:        DefaultNotificationOpacity,
		},
		SteamVR: SteamVR{
			ExitOnShutdown:       true,
			Probe:                ProbeProcess,
			ProcessNames:         append([]string(nil), DefaultHostProcessNames...),
			CheckIntervalSeconds: DefaultHostCheckInterval,
		},
		PollIntervalSeconds: DefaultPollInterval,
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
		Debug: Debug{Addr: DefaultDebugAddr},
	}
}

// PollInterval returns the poll cadence as a duration.
func (c *Config) PollInterval() time.Duration { return Seconds(c.PollIntervalSeconds) }

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Filters.Allow = append([]string{}, c.Filters.Allow...)
	cp.Filters.Block = append([]string{}, c.Filters.Block...)
	if c.Learning.LastReset != nil {
		t := *c.Learning.LastReset
		cp.Learning.LastReset = &t
	}
	cp.Learning.Pending = cloneMap(c.Learning.Pending)
	cp.Learning.ShownSession = cloneMap(c.Learning.ShownSession)
	cp.SteamVR.ProcessNames = append([]string{}, c.SteamVR.ProcessNames...)
	if c.Extra != nil {
		cp.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			cp.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &cp
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the typed document and re-attaches unknown top-level keys.
func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config
	b, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return b, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, known := m[k]; known {
			continue
		}
		m[k] = v
	}
	return json.Marshal(m)
}
