// Package hook synthesizes wrapper functions around tracee functions and
// redirects their use-sites to the wrapper, following the synthesis
// sequence of the original Rust hook_function (arg-forward, call, spill
// results in reverse order, posthook, restore results) ported into the
// teacher's typed-instruction, section-struct module model.
package hook

import (
	"github.com/pkg/errors"

	"github.com/kateinoigakukun/wasm-memprof/internal/callgraph"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/instruction"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/module"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/types"
)

// HookPoint is a bitmask of which hook callbacks a tracee wants.
type HookPoint int

const (
	Pre HookPoint = 1 << iota
	Post
)

// Has reports whether h includes p.
func (h HookPoint) Has(p HookPoint) bool { return h&p != 0 }

func (h HookPoint) String() string {
	switch h {
	case Pre:
		return "pre"
	case Post:
		return "post"
	case Pre | Post:
		return "pre,post"
	default:
		return "none"
	}
}

// Tracee names a function to instrument and which hooks to install around
// it.
type Tracee struct {
	Name       string
	HookPoints HookPoint
}

// AllocatorTracees is the default tracee set: the malloc family and its
// dl-prefixed counterparts, all observed post-call only, matching the
// original implementation's allocator_tracees().
func AllocatorTracees() []Tracee {
	names := []string{
		"malloc", "dlmalloc",
		"free", "dlfree",
		"calloc", "dlcalloc",
		"realloc", "dlrealloc",
		"posix_memalign", "dlposix_memalign",
		"aligned_alloc", "dlaligned_alloc",
	}
	tracees := make([]Tracee, len(names))
	for i, n := range names {
		tracees[i] = Tracee{Name: n, HookPoints: Post}
	}
	return tracees
}

// ReplaceMap maps an original tracee's handle to its synthesized wrapper's
// handle.
type ReplaceMap map[module.FuncIdx]module.FuncIdx

// ErrImportedTraceeNotSupported is returned when a tracee name resolves to
// an imported function rather than a local one: there is no body to wrap,
// and redirecting an import's use-sites to a wrapper that immediately calls
// straight back through the same import would add overhead without
// observing anything the host doesn't already see at the call boundary.
var ErrImportedTraceeNotSupported = errors.New("tracee resolves to an imported function, not a local one")

// ErrTraceeNotFound identifies a tracee name that does not resolve to any
// function in the module's name section. Nothing in this module returns it:
// Instrument skips such names with a log line instead.
var ErrTraceeNotFound = errors.New("tracee function not found")

// Synthesize builds a wrapper function around the local function fn named
// name, calling wmprof.prehook_<name>/wmprof.posthook_<name> (whichever
// points selects) around the original call, and returns the wrapper's
// handle. The wrapper's signature is identical to fn's.
func Synthesize(m *module.Module, fn module.FuncIdx, name string, points HookPoint) (module.FuncIdx, error) {
	if m.IsImportedFunc(fn) {
		return 0, errors.Wrapf(ErrImportedTraceeNotSupported, "tracee %q", name)
	}
	tpe, ok := m.FunctionType(fn)
	if !ok {
		return 0, errors.Errorf("tracee %q: no function signature found", name)
	}

	var preID, postID module.FuncIdx
	if points.Has(Pre) {
		preID = m.AddImportFunc("wmprof", "prehook_"+name, module.FunctionType{Params: tpe.Params})
	}
	if points.Has(Post) {
		postParams := make([]types.ValueType, 0, len(tpe.Params)+len(tpe.Results))
		postParams = append(postParams, tpe.Params...)
		postParams = append(postParams, tpe.Results...)
		postID = m.AddImportFunc("wmprof", "posthook_"+name, module.FunctionType{Params: postParams})
	}

	resultLocalBase := uint32(len(tpe.Params))
	var locals []module.LocalDecl
	if points.Has(Post) {
		locals = make([]module.LocalDecl, len(tpe.Results))
		for i, t := range tpe.Results {
			locals[i] = module.LocalDecl{Count: 1, Type: t}
		}
	}

	var instrs []instruction.Instruction
	forwardArgs := func() {
		for i := range tpe.Params {
			instrs = append(instrs, instruction.LocalGet{Index: uint32(i)})
		}
	}

	if points.Has(Pre) {
		forwardArgs()
		instrs = append(instrs, instruction.Call{Index: uint32(preID)})
	}

	forwardArgs()
	instrs = append(instrs, instruction.Call{Index: uint32(fn)})

	// A Post-only (or Pre+Post) wrapper needs the original's results off the
	// stack before it can call the posthook with them, so it spills them to
	// locals and restores them afterward. A Pre-only wrapper has nothing to
	// observe after the call and just returns the results the original left
	// on the stack directly, matching the original implementation's
	// hook_function, which only touches result locals inside its
	// HookPoint::Post branch.
	if points.Has(Post) {
		// Results sit on the stack in order (result 0 pushed first, result
		// N-1 last, so the top of the stack is result N-1). local.set pops
		// from the top, so spilling in reverse order is what lands result i
		// in local i.
		for i := len(tpe.Results) - 1; i >= 0; i-- {
			instrs = append(instrs, instruction.LocalSet{Index: resultLocalBase + uint32(i)})
		}

		forwardArgs()
		for i := range tpe.Results {
			instrs = append(instrs, instruction.LocalGet{Index: resultLocalBase + uint32(i)})
		}
		instrs = append(instrs, instruction.Call{Index: uint32(postID)})

		for i := range tpe.Results {
			instrs = append(instrs, instruction.LocalGet{Index: resultLocalBase + uint32(i)})
		}
	}
	instrs = append(instrs, instruction.End{})

	wrapperID := m.AddLocalFunc(tpe, locals, instrs)
	m.SetFunctionName(wrapperID, "hooked_"+name)
	return wrapperID, nil
}

// Redirect rewrites every recorded use-site of each tracee in replace (a
// direct call, an element-segment slot, or an export) to point at its
// wrapper instead. g must have been built before any wrapper in replace was
// synthesized: a wrapper's own internal call to the original function was
// never observed by g, so it is never a candidate here, and is left alone.
func Redirect(replace ReplaceMap, m *module.Module, g *callgraph.Graph) {
	for old, wrapper := range replace {
		callers := make(map[module.FuncIdx]bool)
		for _, use := range g.UsesOf(old) {
			switch use.Kind {
			case callgraph.CallUse:
				callers[use.Caller] = true
			case callgraph.ElementUse:
				m.Element.Segments[use.Element].Indices[use.Slot] = wrapper
			case callgraph.ExportUse:
				for i := range m.Export.Exports {
					exp := &m.Export.Exports[i]
					if exp.Name == use.Export &&
						exp.Descriptor.Kind == module.FunctionExportKind &&
						module.FuncIdx(exp.Descriptor.Index) == old {
						exp.Descriptor.Index = uint32(wrapper)
					}
				}
			}
		}
		for caller := range callers {
			code, ok := m.CodeOf(caller)
			if !ok {
				continue
			}
			for i, instr := range code.Instrs {
				if call, ok := instr.(instruction.Call); ok && module.FuncIdx(call.Index) == old {
					code.Instrs[i] = instruction.Call{Index: uint32(wrapper)}
				}
			}
		}
	}
}
