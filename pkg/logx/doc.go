// Package logx configures notifybridge's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - JSON output one record per line, with the record kind under "event"
//   - An optional JSON file sink
package logx
