// Package logging backs pkg/contracts.Logger with zerolog, the structured
// logger used throughout the pack for per-call correlation (grounded in
// the Lexiq-AI stream_manager.go example's per-call zerolog.Logger carrying
// call_id/correlation_id fields on every line a call emits).
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

// ZerologAdapter satisfies contracts.Logger by delegating to an underlying
// zerolog.Logger, formatting the variadic args as key/value pairs
// (alternating key, value, key, value...) the way contracts.Logger expects
// callers to pass them.
type ZerologAdapter struct {
	log zerolog.Logger
}

// New builds a base process logger writing JSON to w at the given level.
func New(w io.Writer, level zerolog.Level) ZerologAdapter {
	if w == nil {
		w = os.Stderr
	}
	return ZerologAdapter{log: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// NewConsole builds a human-readable console logger in place of JSON
// output; cmd/dialcore logs through it.
func NewConsole(level zerolog.Level) ZerologAdapter {
	return ZerologAdapter{log: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()}
}

// With returns a derived logger with additional fields bound on, used to
// attach call_id/stream_id to every line a session emits.
func (z ZerologAdapter) With(fields map[string]string) ZerologAdapter {
	ctx := z.log.With()
	for k, v := range fields {
		ctx = ctx.Str(k, v)
	}
	return ZerologAdapter{log: ctx.Logger()}
}

func (z ZerologAdapter) Debug(msg string, args ...interface{}) { z.event(z.log.Debug(), msg, args) }
func (z ZerologAdapter) Info(msg string, args ...interface{})  { z.event(z.log.Info(), msg, args) }
func (z ZerologAdapter) Warn(msg string, args ...interface{})  { z.event(z.log.Warn(), msg, args) }
func (z ZerologAdapter) Error(msg string, args ...interface{}) { z.event(z.log.Error(), msg, args) }

func (z ZerologAdapter) event(e *zerolog.Event, msg string, args []interface{}) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	e.Msg(msg)
}

var _ contracts.Logger = ZerologAdapter{}
