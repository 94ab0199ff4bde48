// Package logx configures reportbot's structured logging.
//
// A small wrapper (logx.Logger) sits on top of zerolog so that:
//   - console output stays readable and goes to stderr, leaving stdout to CLI output
//   - file output is JSON lines
//   - warnings and errors can optionally be forwarded to an operator Telegram chat
package logx
