package wmprof

import (
	"github.com/pkg/errors"

	"github.com/kateinoigakukun/wasm-memprof/internal/hook"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/encoding"
)

// ErrUnsupportedElementForm is returned when the input module contains an
// element segment this tool cannot model (passive, declarative, or
// expression-form). Checkable with errors.Is.
var ErrUnsupportedElementForm = encoding.ErrUnsupportedElementForm

// ErrImportedTraceeNotSupported is returned when a tracee name resolves to
// an imported function rather than a local one. This should never happen
// through ordinary name-section matching (which only resolves to local
// functions); seeing it surface means a caller invoked the synthesizer
// directly on an import.
var ErrImportedTraceeNotSupported = hook.ErrImportedTraceeNotSupported

// ParseError wraps a failure to decode the input as a valid Wasm module,
// carrying the upstream decoder's message chain.
type ParseError struct {
	cause error
}

func (e *ParseError) Error() string { return "parse wasm module: " + e.cause.Error() }
func (e *ParseError) Unwrap() error { return e.cause }

// EmitError wraps a failure to encode the rewritten module.
type EmitError struct {
	cause error
}

func (e *EmitError) Error() string { return "emit wasm module: " + e.cause.Error() }
func (e *EmitError) Unwrap() error { return e.cause }

func newParseError(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&ParseError{cause: err})
}

func newEmitError(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&EmitError{cause: err})
}
