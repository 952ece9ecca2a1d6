// Package logx wraps zerolog behind a small structured-logging API.
//
// Components receive a logx.Logger (value type; the zero value is a safe
// no-op) and never touch zerolog directly. A Service owns the sinks
// (console and optional file) and can swap level/outputs at runtime via
// Apply(), so loggers derived from it stay live across config reloads.
package logx
