// Package types defines the value types used by the Wasm type system.
package types

import "fmt"

// ValueType is a Wasm value type, encoded as in the binary format.
type ValueType byte

// Value types supported by the core 1.0 feature set plus funcref, which the
// element-segment handling in internal/wasm/module needs to describe table
// contents.
const (
	I32     ValueType = 0x7F
	I64     ValueType = 0x7E
	F32     ValueType = 0x7D
	F64     ValueType = 0x7C
	FuncRef ValueType = 0x70
)

func (t ValueType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case FuncRef:
		return "funcref"
	default:
		return fmt.Sprintf("valtype(0x%x)", byte(t))
	}
}

// IsValid reports whether b is a value type this module understands.
func IsValid(b byte) bool {
	switch ValueType(b) {
	case I32, I64, F32, F64, FuncRef:
		return true
	default:
		return false
	}
}
