// Package logging wires github.com/joeycumines/logiface to the standard
// library's log/slog via the logiface-slog adapter, the way the teacher
// repo's own packages (e.g. go-eventloop) depend on logiface for their
// structured logging rather than the bare log package.
package logging

import (
	"io"
	"log/slog"

	"github.com/joeycumines/logiface"
	islog "github.com/joeycumines/logiface-slog"
)

// Event is the concrete logiface event type used throughout the worker
// core, bound to the slog backend.
type Event = islog.Event

// Logger is the concrete logger type threaded through the Query Manager,
// sources, sinks, and the buffer pool.
type Logger = logiface.Logger[*Event]

// New constructs a Logger writing JSON lines to w at the given minimum
// slog level. Passing nil for w defaults to io.Discard (tests construct a
// silent logger this way).
func New(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = io.Discard
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return islog.L.New(islog.L.WithSlogHandler(handler))
}

// Discard is a logger that drops every event; used as the zero-value
// default when a component is constructed without an explicit logger.
func Discard() *Logger {
	return New(io.Discard, slog.LevelError)
}

// WithFields returns a log event builder pre-populated with the
// identifying fields used across the engine: queryId, decomposedId, and
// component name. Callers finish the chain with Log(msg) or Err(...).Log(msg).
func WithFields(l *Logger, queryID string, decomposedID string, component string) *logiface.Builder[*Event] {
	return l.Info().
		Str("queryId", queryID).
		Str("decomposedId", decomposedID).
		Str("component", component)
}
