// Package logx is schedkit's structured logging layer.
//
// Logger wraps zerolog and keeps:
//   - console output readable (short timestamp and caller) or JSON lines
//   - an optional JSON file sink
//   - live reconfiguration through Service.Apply
package logx
