// Package opcode defines the Wasm instruction opcode constants understood
// by this module, and the immediate-operand shape of each one so that the
// encoder/decoder in internal/wasm/encoding can walk an instruction stream
// without special-casing every opcode by hand.
package opcode

// Opcode is a single-byte Wasm instruction opcode.
type Opcode byte

// Control instructions.
const (
	Unreachable  Opcode = 0x00
	Nop          Opcode = 0x01
	Block        Opcode = 0x02
	Loop         Opcode = 0x03
	If           Opcode = 0x04
	Else         Opcode = 0x05
	End          Opcode = 0x0B
	Br           Opcode = 0x0C
	BrIf         Opcode = 0x0D
	BrTable      Opcode = 0x0E
	Return       Opcode = 0x0F
	Call         Opcode = 0x10
	CallIndirect Opcode = 0x11
)

// Parametric instructions.
const (
	Drop   Opcode = 0x1A
	Select Opcode = 0x1B
)

// Variable instructions.
const (
	LocalGet  Opcode = 0x20
	LocalSet  Opcode = 0x21
	LocalTee  Opcode = 0x22
	GlobalGet Opcode = 0x23
	GlobalSet Opcode = 0x24
)

// Memory instructions. Loads/stores all take a memarg (align, offset);
// memory.size/memory.grow take a single reserved zero byte.
const (
	I32Load    Opcode = 0x28
	I64Load    Opcode = 0x29
	F32Load    Opcode = 0x2A
	F64Load    Opcode = 0x2B
	I32Load8S  Opcode = 0x2C
	I32Load8U  Opcode = 0x2D
	I32Load16S Opcode = 0x2E
	I32Load16U Opcode = 0x2F
	I64Load8S  Opcode = 0x30
	I64Load8U  Opcode = 0x31
	I64Load16S Opcode = 0x32
	I64Load16U Opcode = 0x33
	I64Load32S Opcode = 0x34
	I64Load32U Opcode = 0x35
	I32Store   Opcode = 0x36
	I64Store   Opcode = 0x37
	F32Store   Opcode = 0x38
	F64Store   Opcode = 0x39
	I32Store8  Opcode = 0x3A
	I32Store16 Opcode = 0x3B
	I64Store8  Opcode = 0x3C
	I64Store16 Opcode = 0x3D
	I64Store32 Opcode = 0x3E
	MemorySize Opcode = 0x3F
	MemoryGrow Opcode = 0x40
)

// Numeric constant instructions.
const (
	I32Const Opcode = 0x41
	I64Const Opcode = 0x42
	F32Const Opcode = 0x43
	F64Const Opcode = 0x44
)

// Shape describes how to read (and re-encode) an instruction's immediate
// operands, independent of what the instruction means.
type Shape int

const (
	// ShapeNone instructions carry no immediate bytes (most numeric ops).
	ShapeNone Shape = iota
	// ShapeVarU32 instructions carry one unsigned LEB128 operand (br, br_if,
	// call, local.*, global.*).
	ShapeVarU32
	// ShapeMemArg instructions carry two unsigned LEB128 operands: align
	// then offset (all loads/stores).
	ShapeMemArg
	// ShapeMemoryIndex instructions carry a single reserved zero byte
	// (memory.size, memory.grow).
	ShapeMemoryIndex
	// ShapeCallIndirect carries a type index (varuint32) followed by a
	// table index (varuint32, required to be 0 in the core feature set).
	ShapeCallIndirect
	// ShapeBlockType carries a single blocktype immediate: 0x40 (empty),
	// a value-type byte, or a signed LEB128 (s33) type index for
	// multi-value block signatures. Used by block/loop/if.
	ShapeBlockType
	// ShapeBrTable carries a vector of varuint32 labels followed by one
	// varuint32 default label.
	ShapeBrTable
	// ShapeI32Const carries a single signed LEB128 i32.
	ShapeI32Const
	// ShapeI64Const carries a single signed LEB128 i64.
	ShapeI64Const
	// ShapeF32Const carries 4 raw little-endian bytes.
	ShapeF32Const
	// ShapeF64Const carries 8 raw little-endian bytes.
	ShapeF64Const
)

// shapes classifies every opcode this module models. Opcodes not present
// here (bulk-memory 0xFC, SIMD 0xFD, reference-types-beyond-funcref,
// exceptions, GC) are rejected by the decoder with a ParseError: spec.md's
// Non-goals exclude them explicitly.
var shapes = map[Opcode]Shape{
	Unreachable:  ShapeNone,
	Nop:          ShapeNone,
	Block:        ShapeBlockType,
	Loop:         ShapeBlockType,
	If:           ShapeBlockType,
	Else:         ShapeNone,
	End:          ShapeNone,
	Br:           ShapeVarU32,
	BrIf:         ShapeVarU32,
	BrTable:      ShapeBrTable,
	Return:       ShapeNone,
	Call:         ShapeVarU32,
	CallIndirect: ShapeCallIndirect,

	Drop:   ShapeNone,
	Select: ShapeNone,

	LocalGet:  ShapeVarU32,
	LocalSet:  ShapeVarU32,
	LocalTee:  ShapeVarU32,
	GlobalGet: ShapeVarU32,
	GlobalSet: ShapeVarU32,

	I32Load:    ShapeMemArg,
	I64Load:    ShapeMemArg,
	F32Load:    ShapeMemArg,
	F64Load:    ShapeMemArg,
	I32Load8S:  ShapeMemArg,
	I32Load8U:  ShapeMemArg,
	I32Load16S: ShapeMemArg,
	I32Load16U: ShapeMemArg,
	I64Load8S:  ShapeMemArg,
	I64Load8U:  ShapeMemArg,
	I64Load16S: ShapeMemArg,
	I64Load16U: ShapeMemArg,
	I64Load32S: ShapeMemArg,
	I64Load32U: ShapeMemArg,
	I32Store:   ShapeMemArg,
	I64Store:   ShapeMemArg,
	F32Store:   ShapeMemArg,
	F64Store:   ShapeMemArg,
	I32Store8:  ShapeMemArg,
	I32Store16: ShapeMemArg,
	I64Store8:  ShapeMemArg,
	I64Store16: ShapeMemArg,
	I64Store32: ShapeMemArg,
	MemorySize: ShapeMemoryIndex,
	MemoryGrow: ShapeMemoryIndex,

	I32Const: ShapeI32Const,
	I64Const: ShapeI64Const,
	F32Const: ShapeF32Const,
	F64Const: ShapeF64Const,
}

func init() {
	// The remainder of the 1.0 numeric opcode space (comparisons,
	// arithmetic, conversions, 0x45-0xC4) takes no immediate operands.
	for op := Opcode(0x45); op <= 0xC4; op++ {
		if _, ok := shapes[op]; !ok {
			shapes[op] = ShapeNone
		}
	}
}

// ShapeOf returns the immediate shape for op and whether op is modeled by
// this package at all.
func ShapeOf(op Opcode) (Shape, bool) {
	s, ok := shapes[op]
	return s, ok
}
