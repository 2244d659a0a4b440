// Package callerr implements the five error kinds of the error-handling
// design: ProtocolError, TransportError, DownstreamError,
// EmptyTranscription, and ConfigurationError, each wrapping a sentinel so
// callers can classify an error with errors.Is and apply the matching
// recovery policy (per-turn, per-session, or per-process).
package callerr

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol marks malformed JSON, an unexpected event, or media
	// before start. Recoverable by synthesizing stream/call identifiers
	// from the media event when possible, or dropping the frame.
	ErrProtocol = errors.New("protocol error")

	// ErrTransport marks a socket not OPEN on send, or a write failure.
	// Fatal for the session: close it cleanly.
	ErrTransport = errors.New("transport error")

	// ErrDownstream marks an STT/LLM/TTS RPC failure or a non-zero
	// transcoder exit. Recoverable per-turn: classifiers and the
	// conversational LLM fall back to "normal" / skip the turn.
	ErrDownstream = errors.New("downstream service error")

	// ErrEmptyTranscription marks STT returning no text. Recoverable: the
	// agent speaks a short "please repeat" utterance.
	ErrEmptyTranscription = errors.New("empty transcription")

	// ErrConfiguration marks missing credentials or other startup
	// misconfiguration. The process still serves /health and rejects
	// calls with a clear log line.
	ErrConfiguration = errors.New("configuration error")
)

// Protocol wraps err (or constructs one from msg if err is nil) as an
// ErrProtocol.
func Protocol(msg string, err error) error {
	return wrap(ErrProtocol, msg, err)
}

// Transport wraps err as an ErrTransport.
func Transport(msg string, err error) error {
	return wrap(ErrTransport, msg, err)
}

// Downstream wraps err as an ErrDownstream, naming the failing service.
func Downstream(service, msg string, err error) error {
	return wrap(ErrDownstream, fmt.Sprintf("%s: %s", service, msg), err)
}

// EmptyTranscription constructs an ErrEmptyTranscription.
func EmptyTranscription() error {
	return ErrEmptyTranscription
}

// Configuration wraps err as an ErrConfiguration, naming the missing field.
func Configuration(field string, err error) error {
	return wrap(ErrConfiguration, field, err)
}

func wrap(sentinel error, msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	return fmt.Errorf("%w: %s: %v", sentinel, msg, err)
}

// Is reports whether err was constructed from the given sentinel, via
// errors.Is. Thin wrapper kept so call sites read callerr.Is(err,
// callerr.ErrDownstream) next to the constructors above.
func Is(err, sentinel error) bool {
	return errors.Is(err, sentinel)
}
