package hook

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kateinoigakukun/wasm-memprof/internal/callgraph"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/instruction"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/module"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/types"
)

func buildAddFunc(m *module.Module) module.FuncIdx {
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
	return fn
}

// TestSynthesize_ArgForwardCallSpillRestore checks the exact wrapper body
// shape S1/S3 depend on: arguments forwarded to the pre-hook, the original
// called with the same arguments, results spilled to locals in reverse
// order (so result i lands in local i), the post-hook called with
// arguments++results, and results pushed back for the wrapper's own return.
func TestSynthesize_ArgForwardCallSpillRestore(t *testing.T) {
	m := &module.Module{}
	add := buildAddFunc(m)

	wrapper, err := Synthesize(m, add, "add", Pre|Post)
	require.NoError(t, err)

	require.Len(t, m.Import.Imports, 2)
	pre := m.Import.Imports[0]
	post := m.Import.Imports[1]
	require.Equal(t, "wmprof", pre.Module)
	require.Equal(t, "prehook_add", pre.Field)
	require.Equal(t, "wmprof", post.Module)
	require.Equal(t, "posthook_add", post.Field)

	preType := m.Type.Functions[pre.Descriptor.TypeIndex]
	require.Equal(t, []types.ValueType{types.I32, types.I32}, preType.Params)
	require.Empty(t, preType.Results)

	postType := m.Type.Functions[post.Descriptor.TypeIndex]
	require.Equal(t, []types.ValueType{types.I32, types.I32, types.I32}, postType.Params)

	code, ok := m.CodeOf(wrapper)
	require.True(t, ok)
	require.Equal(t, []module.LocalDecl{{Count: 1, Type: types.I32}}, code.Locals)

	want := []instruction.Instruction{
		instruction.LocalGet{Index: 0},
		instruction.LocalGet{Index: 1},
		instruction.Call{Index: uint32(pre.ID)},
		instruction.LocalGet{Index: 0},
		instruction.LocalGet{Index: 1},
		instruction.Call{Index: uint32(add)},
		instruction.LocalSet{Index: 2},
		instruction.LocalGet{Index: 0},
		instruction.LocalGet{Index: 1},
		instruction.LocalGet{Index: 2},
		instruction.Call{Index: uint32(post.ID)},
		instruction.LocalGet{Index: 2},
		instruction.End{},
	}
	require.Equal(t, want, code.Instrs)

	name, ok := m.FindFunctionByName("hooked_add")
	require.True(t, ok)
	require.Equal(t, wrapper, name)
}

func TestSynthesize_PreOnly_NoPosthookImport(t *testing.T) {
	m := &module.Module{}
	add := buildAddFunc(m)

	wrapper, err := Synthesize(m, add, "add", Pre)
	require.NoError(t, err)
	require.Len(t, m.Import.Imports, 1)
	pre := m.Import.Imports[0]
	require.Equal(t, "prehook_add", pre.Field)

	// No posthook means no result to spill: no locals declared, and the
	// original call's results are returned directly off the stack.
	code, ok := m.CodeOf(wrapper)
	require.True(t, ok)
	require.Empty(t, code.Locals)

	want := []instruction.Instruction{
		instruction.LocalGet{Index: 0},
		instruction.LocalGet{Index: 1},
		instruction.Call{Index: uint32(pre.ID)},
		instruction.LocalGet{Index: 0},
		instruction.LocalGet{Index: 1},
		instruction.Call{Index: uint32(add)},
		instruction.End{},
	}
	require.Equal(t, want, code.Instrs)
}

func TestSynthesize_RejectsImportedTracee(t *testing.T) {
	m := &module.Module{}
	imported := m.AddImportFunc("env", "malloc", module.FunctionType{
		Params:  []types.ValueType{types.I32},
		Results: []types.ValueType{types.I32},
	})

	_, err := Synthesize(m, imported, "malloc", Post)
	require.ErrorIs(t, err, ErrImportedTraceeNotSupported)
}

func TestRedirect_RewritesCallElementAndExportButNotWrapperInternalCall(t *testing.T) {
	m := &module.Module{}
	voidVoid := module.FunctionType{}

	callee := m.AddLocalFunc(voidVoid, nil, []instruction.Instruction{instruction.End{}})
	caller := m.AddLocalFunc(voidVoid, nil, []instruction.Instruction{
		instruction.Call{Index: uint32(callee)},
		instruction.End{},
	})
	m.Element.Segments = append(m.Element.Segments, module.Element{Indices: []module.FuncIdx{callee}})
	m.Export.Exports = append(m.Export.Exports, module.Export{
		Name:       "callee",
		Descriptor: module.ExportDescriptor{Kind: module.FunctionExportKind, Index: uint32(callee)},
	})

	// Graph built BEFORE the wrapper exists.
	g := callgraph.Build(m)

	wrapper := m.AddLocalFunc(voidVoid, nil, []instruction.Instruction{
		instruction.Call{Index: uint32(callee)},
		instruction.End{},
	})

	Redirect(ReplaceMap{callee: wrapper}, m, g)

	callerCode, _ := m.CodeOf(caller)
	require.Equal(t, instruction.Call{Index: uint32(wrapper)}, callerCode.Instrs[0])

	require.Equal(t, wrapper, m.Element.Segments[0].Indices[0])
	require.Equal(t, uint32(wrapper), m.Export.Exports[0].Descriptor.Index)

	// The wrapper's own internal call to the original is untouched.
	wrapperCode, _ := m.CodeOf(wrapper)
	require.Equal(t, instruction.Call{Index: uint32(callee)}, wrapperCode.Instrs[0])
}
