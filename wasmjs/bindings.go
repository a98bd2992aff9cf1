//go:build js && wasm

// Package wasmjs exposes the instrumentor to a JavaScript host when this
// module is itself compiled to wasm/js, the Go-native analogue of the
// original Rust implementation's wasm-bindgen glue
// (original_source/bindgen/src/lib.rs's instrument_allocator).
package wasmjs

import (
	"syscall/js"

	wmprof "github.com/kateinoigakukun/wasm-memprof"
)

// InstrumentAllocator instruments input with the default allocator tracee
// list and returns the rewritten module bytes, or an error if parsing or
// emission failed.
func InstrumentAllocator(input []byte) ([]byte, error) {
	return wmprof.Instrument(input, wmprof.AllocatorTracees())
}

// RegisterCallbacks installs instrumentAllocator on the global JS object as
// a callback taking a Uint8Array and returning {bytes, error}, mirroring
// the (value, error-as-string) contract spec.md's bindings section
// describes for the scripting-host collaborator.
func RegisterCallbacks() {
	js.Global().Set("instrumentAllocator", js.FuncOf(func(_ js.Value, args []js.Value) any {
		if len(args) != 1 {
			return jsResult(nil, "instrumentAllocator: expected exactly one argument")
		}
		input := make([]byte, args[0].Get("length").Int())
		js.CopyBytesToGo(input, args[0])

		output, err := InstrumentAllocator(input)
		if err != nil {
			return jsResult(nil, err.Error())
		}
		return jsResult(output, "")
	}))
}

func jsResult(bytes []byte, errMsg string) map[string]any {
	var out js.Value
	if bytes != nil {
		out = js.Global().Get("Uint8Array").New(len(bytes))
		js.CopyBytesToJS(out, bytes)
	} else {
		out = js.Null()
	}
	return map[string]any{"bytes": out, "error": errMsg}
}
