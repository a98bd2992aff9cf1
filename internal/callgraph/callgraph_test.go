package callgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/instruction"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/module"
)

func TestBuild_RecordsEveryUseKind(t *testing.T) {
	m := &module.Module{}
	voidVoid := module.FunctionType{}

	callee := m.AddLocalFunc(voidVoid, nil, []instruction.Instruction{instruction.End{}})
	caller := m.AddLocalFunc(voidVoid, nil, []instruction.Instruction{
		instruction.Call{Index: uint32(callee)},
		instruction.End{},
	})

	m.Element.Segments = append(m.Element.Segments, module.Element{
		TableIndex: 0,
		Indices:    []module.FuncIdx{callee},
	})
	m.Export.Exports = append(m.Export.Exports, module.Export{
		Name:       "callee",
		Descriptor: module.ExportDescriptor{Kind: module.FunctionExportKind, Index: uint32(callee)},
	})

	g := Build(m)
	uses := g.UsesOf(callee)
	require.Len(t, uses, 3)

	var sawCall, sawElement, sawExport bool
	for _, u := range uses {
		switch u.Kind {
		case CallUse:
			require.Equal(t, caller, u.Caller)
			sawCall = true
		case ElementUse:
			require.Equal(t, module.ElemIdx(0), u.Element)
			require.Equal(t, 0, u.Slot)
			sawElement = true
		case ExportUse:
			require.Equal(t, "callee", u.Export)
			sawExport = true
		}
	}
	require.True(t, sawCall)
	require.True(t, sawElement)
	require.True(t, sawExport)

	// caller itself has no recorded uses: nothing calls/exports/tables it.
	require.Empty(t, g.UsesOf(caller))
}

func TestBuild_IndirectCallSitesAreNotGraphNodes(t *testing.T) {
	m := &module.Module{}
	voidVoid := module.FunctionType{}
	fn := m.AddLocalFunc(voidVoid, nil, []instruction.Instruction{
		instruction.CallIndirect{TypeIndex: 0, TableIndex: 0},
		instruction.End{},
	})

	g := Build(m)
	require.Empty(t, g.UsesOf(fn))
}
