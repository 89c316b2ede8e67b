package config

import (
	"reflect"
	"sort"

	logx "notifybridge/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and compact structured
// attrs describing their new values. Learning bookkeeping maps are summarized by size
// only; their contents are application ids the user may not want in every log line.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Filters, newCfg.Filters) {
		changed = append(changed, "filters")
		attrs = append(attrs,
			logx.Int("filters.allow_count", len(newCfg.Filters.Allow)),
			logx.Int("filters.block_count", len(newCfg.Filters.Block)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Learning, newCfg.Learning) {
		changed = append(changed, "learning")
		attrs = append(attrs,
			logx.Bool("learning.enabled", newCfg.Learning.Enabled),
			logx.Int("learning.pending_count", len(newCfg.Learning.Pending)),
			logx.Int("learning.shown_count", len(newCfg.Learning.ShownSession)),
		)
	}

	if oldCfg.XSOverlay != newCfg.XSOverlay {
		changed = append(changed, "xs_overlay")
		attrs = append(attrs,
			logx.String("xs_overlay.ws_url", newCfg.XSOverlay.WSURL),
			logx.Float64("xs_overlay.timeout", newCfg.XSOverlay.NotificationTimeoutSeconds),
			logx.Float64("xs_overlay.opacity", newCfg.XSOverlay.NotificationOpacity),
		)
	}

	if !reflect.DeepEqual(oldCfg.SteamVR, newCfg.SteamVR) {
		changed = append(changed, "steamvr")
		attrs = append(attrs,
			logx.Bool("steamvr.exit_on_shutdown", newCfg.SteamVR.ExitOnShutdown),
			logx.String("steamvr.probe", newCfg.SteamVR.Probe),
		)
	}

	if oldCfg.PollIntervalSeconds != newCfg.PollIntervalSeconds {
		changed = append(changed, "poll_interval_seconds")
		attrs = append(attrs, logx.Float64("poll_interval_seconds", newCfg.PollIntervalSeconds))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
