// Package callgraph records every use-site of every function in a module,
// following the teacher's dependency-free, single-purpose internal packages
// (internal/compiler/wasm) and the shape of the original Rust
// FunctionUse/CallGraph model this tool's rewriter is ported from.
package callgraph

import (
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/instruction"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/module"
)

// UseKind distinguishes the three ways a function can be referenced.
type UseKind int

const (
	// CallUse is a direct `call` instruction inside another function's body.
	CallUse UseKind = iota
	// ElementUse is a slot in a table element segment (reachable only
	// through call_indirect). Redirecting the slot redirects every indirect
	// call through it, so call_indirect sites themselves are never graph
	// nodes.
	ElementUse
	// ExportUse is an export entry naming the function.
	ExportUse
)

func (k UseKind) String() string {
	switch k {
	case CallUse:
		return "call"
	case ElementUse:
		return "element"
	case ExportUse:
		return "export"
	default:
		return "unknown"
	}
}

// FunctionUse is a single use-site of a callee function.
type FunctionUse struct {
	Kind UseKind

	// Caller is set when Kind == CallUse: the local function whose body
	// contains the call instruction.
	Caller module.FuncIdx

	// Element/Slot are set when Kind == ElementUse: which element segment,
	// and which position within it.
	Element module.ElemIdx
	Slot    int

	// Export is set when Kind == ExportUse: the export's name.
	Export string
}

// Graph maps every function to its recorded use-sites.
type Graph struct {
	usesByCallee map[module.FuncIdx][]FunctionUse
}

// UsesOf returns the recorded use-sites of fn, in the order they were found.
func (g *Graph) UsesOf(fn module.FuncIdx) []FunctionUse {
	return g.usesByCallee[fn]
}

func (g *Graph) record(callee module.FuncIdx, use FunctionUse) {
	for _, existing := range g.usesByCallee[callee] {
		if existing == use {
			return
		}
	}
	g.usesByCallee[callee] = append(g.usesByCallee[callee], use)
}

// Build walks m once and records every call instruction, element-segment
// entry, and function export as a use-site of its callee; a caller that
// calls the same callee several times is recorded once. Build must run
// before any wrapper functions are synthesized: a wrapper's own internal
// `call <original>` is not a use-site by construction, because it doesn't
// exist yet when the graph is built (see internal/hook.Synthesize).
func Build(m *module.Module) *Graph {
	g := &Graph{usesByCallee: make(map[module.FuncIdx][]FunctionUse)}

	for _, code := range m.Code.Segments {
		for _, instr := range code.Instrs {
			call, ok := instr.(instruction.Call)
			if !ok {
				continue
			}
			g.record(module.FuncIdx(call.Index), FunctionUse{Kind: CallUse, Caller: code.ID})
		}
	}

	for i, seg := range m.Element.Segments {
		for slot, fn := range seg.Indices {
			g.record(fn, FunctionUse{Kind: ElementUse, Element: module.ElemIdx(i), Slot: slot})
		}
	}

	for _, exp := range m.Export.Exports {
		if exp.Descriptor.Kind != module.FunctionExportKind {
			continue
		}
		g.record(module.FuncIdx(exp.Descriptor.Index), FunctionUse{Kind: ExportUse, Export: exp.Name})
	}

	return g
}
