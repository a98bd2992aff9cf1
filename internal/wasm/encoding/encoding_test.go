package encoding

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/instruction"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/module"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/opcode"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/types"
)

func buildAddModule() *module.Module {
	m := &module.Module{}
	tpe := module.FunctionType{
		Params:  []types.ValueType{types.I32, types.I32},
		Results: []types.ValueType{types.I32},
	}
	fn := m.AddLocalFunc(tpe, nil, []instruction.Instruction{
		instruction.LocalGet{Index: 0},
		instruction.LocalGet{Index: 1},
		instruction.Numeric{Opcode: 0x6A}, // i32.add
		instruction.End{},
	})
	m.SetFunctionName(fn, "add")
	m.Export.Exports = append(m.Export.Exports, module.Export{
		Name:       "add",
		Descriptor: module.ExportDescriptor{Kind: module.FunctionExportKind, Index: uint32(fn)},
	})
	return m
}

// TestRoundtrip writes a module built in memory, reads it back, and
// compares the two structurally, generalizing the teacher's own
// reflect.DeepEqual roundtrip assertion (encoding_test.go's
// TestRoundtrip/TestRoundtripOPA) to go-cmp for a readable diff on failure.
func TestRoundtrip(t *testing.T) {
	m1 := buildAddModule()

	var buf bytes.Buffer
	require.NoError(t, WriteModule(&buf, m1))

	m2, err := ReadModule(&buf)
	require.NoError(t, err)

	if diff := cmp.Diff(m1, m2, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("module changed across roundtrip (-want +got):\n%s", diff)
	}
}

func TestReadModule_RejectsBadMagic(t *testing.T) {
	_, err := ReadModule(bytes.NewReader([]byte{0, 1, 2, 3}))
	require.Error(t, err)
}

func TestReadModule_RejectsUnsupportedOpcode(t *testing.T) {
	m := buildAddModule()
	// a lone bulk-memory prefix byte (0xFC): out of scope.
	m.Code.Segments[0].Instrs = append([]instruction.Instruction{
		instruction.Numeric{Opcode: 0xFC},
	}, m.Code.Segments[0].Instrs...)

	var buf bytes.Buffer
	require.NoError(t, WriteModule(&buf, m))

	_, err := ReadModule(&buf)
	require.Error(t, err)
}

func TestInstrSequence_BlockNesting(t *testing.T) {
	m := &module.Module{}
	tpe := module.FunctionType{}
	fn := m.AddLocalFunc(tpe, nil, []instruction.Instruction{
		instruction.Block{Type: instruction.BlockType{Empty: true}},
		instruction.Nop{},
		instruction.End{},
		instruction.End{},
	})

	var body bytes.Buffer
	require.NoError(t, WriteCodeEntry(&body, m.Code.Segments[0], map[module.FuncIdx]uint32{fn: 0}))

	r, err := newByteReader(bytes.NewReader(body.Bytes()))
	require.NoError(t, err)
	n, err := readVarUint32(r)
	require.NoError(t, err)
	require.Zero(t, n) // no locals

	instrs, err := readInstrSequence(r)
	require.NoError(t, err)
	require.Len(t, instrs, 4)
	require.Equal(t, opcode.Block, instrs[0].Op())
	require.Equal(t, opcode.End, instrs[len(instrs)-1].Op())
}
