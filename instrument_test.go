package wmprof_test

import (
	"bytes"
	"testing"

	"github.com/bytecodealliance/wasmtime-go/v3"
	"github.com/stretchr/testify/require"

	wmprof "github.com/kateinoigakukun/wasm-memprof"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/encoding"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/instruction"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/module"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/types"
)

// buildMallocModule builds a tiny module exporting "malloc" (i32)->i32 and
// "use_malloc" (no args), which calls malloc once directly. malloc also sits
// in slot 0 of a funcref table element segment, so instrumentation rewrites
// a direct call, an element slot and an export in the same module.
func buildMallocModule(t *testing.T) []byte {
	t.Helper()
	m := &module.Module{}

	mallocType := module.FunctionType{
		Params:  []types.ValueType{types.I32},
		Results: []types.ValueType{types.I32},
	}
	malloc := m.AddLocalFunc(mallocType, nil, []instruction.Instruction{
		instruction.LocalGet{Index: 0},
		instruction.End{},
	})
	m.SetFunctionName(malloc, "malloc")

	m.Table.Tables = append(m.Table.Tables, module.TableType{
		ElemType: types.FuncRef,
		Limits:   module.Limits{Min: 1},
	})
	m.Element.Segments = append(m.Element.Segments, module.Element{
		TableIndex: 0,
		Offset:     module.Expr{Instrs: []instruction.Instruction{instruction.I32Const{Value: 0}, instruction.End{}}},
		Indices:    []module.FuncIdx{malloc},
	})

	useType := module.FunctionType{Results: []types.ValueType{types.I32}}
	use := m.AddLocalFunc(useType, nil, []instruction.Instruction{
		instruction.I32Const{Value: 4},
		instruction.Call{Index: uint32(malloc)},
		instruction.End{},
	})
	m.SetFunctionName(use, "use_malloc")

	m.Export.Exports = append(m.Export.Exports,
		module.Export{Name: "malloc", Descriptor: module.ExportDescriptor{Kind: module.FunctionExportKind, Index: uint32(malloc)}},
		module.Export{Name: "use_malloc", Descriptor: module.ExportDescriptor{Kind: module.FunctionExportKind, Index: uint32(use)}},
	)

	var buf bytes.Buffer
	require.NoError(t, encoding.WriteModule(&buf, m))
	return buf.Bytes()
}

// TestInstrument_PostHookObservesArgsAndResult runs the end-to-end pipeline
// (parse, synthesize, redirect, emit) and instantiates the result in
// wasmtime, asserting the posthook import observes the same argument and
// result malloc itself returns, and that calling through the export still
// behaves identically to the uninstrumented module (S1/S3 scenarios).
func TestInstrument_PostHookObservesArgsAndResult(t *testing.T) {
	input := buildMallocModule(t)

	output, err := wmprof.Instrument(input, []wmprof.Tracee{
		{Name: "malloc", HookPoints: wmprof.Post},
	})
	require.NoError(t, err)

	engine := wasmtime.NewEngine()
	mod, err := wasmtime.NewModule(engine, output)
	require.NoError(t, err)

	store := wasmtime.NewStore(engine)
	var observedSize, observedResult int32
	posthook := wasmtime.WrapFunc(store, func(size, result int32) {
		observedSize = size
		observedResult = result
	})

	instance, err := wasmtime.NewInstance(store, mod, []wasmtime.AsExtern{posthook})
	require.NoError(t, err)

	malloc := instance.GetExport(store, "malloc").Func()
	ret, err := malloc.Call(store, int32(4))
	require.NoError(t, err)
	require.Equal(t, int32(4), ret.(int32))
	require.Equal(t, int32(4), observedSize)
	require.Equal(t, int32(4), observedResult)

	useMalloc := instance.GetExport(store, "use_malloc").Func()
	ret, err = useMalloc.Call(store)
	require.NoError(t, err)
	require.Equal(t, int32(4), ret.(int32))
	require.Equal(t, int32(4), observedSize)
}

// TestInstrument_UnknownTraceeIsSkippedNotError mirrors spec.md's rule that
// the default tracee list intentionally overshoots: a name absent from the
// module must not fail instrumentation.
func TestInstrument_UnknownTraceeIsSkippedNotError(t *testing.T) {
	input := buildMallocModule(t)
	_, err := wmprof.Instrument(input, []wmprof.Tracee{
		{Name: "dlmalloc", HookPoints: wmprof.Post},
	})
	require.NoError(t, err)
}
