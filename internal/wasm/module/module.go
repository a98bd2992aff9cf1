// Package module defines the in-memory representation of a Wasm module that
// the rest of this tool parses into, rewrites, and re-emits, following the
// teacher's internal/wasm/module package: a Module struct holding one
// section struct per Wasm section (m.Type.Functions, m.Import.Imports,
// m.Code.Segments, ...).
package module

import (
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/instruction"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/types"
)

// FuncIdx is a function handle: an opaque identity assigned once (at decode
// time, or when a wrapper/import is synthesized) and never reassigned.
//
// Crucially this is NOT always the function's absolute binary index. Wasm
// requires every imported function to be numbered before every local
// (defined) function. Synthesizing a wrapper adds new imports
// (wmprof.prehook_*/posthook_*) after local functions already exist, which
// would force every already-existing local function's absolute index to
// shift forward — breaking every Call/Element/Export that refers to it by
// index, mid-rewrite. So Call targets, element-segment entries, function
// exports and the start function are all keyed on this stable FuncIdx
// handle instead of a raw index; WriteModule computes the final absolute
// indices in one pass, right before encoding, from the module's current
// shape (see encoding.assignFinalIndices).
type FuncIdx uint32

// ElemIdx is an element-segment index. Segments are never inserted or
// removed by this tool, so a slice position is a stable enough handle.
type ElemIdx uint32

// ExportIdx is an export-entry index, stable for the same reason as ElemIdx.
type ExportIdx uint32

// TypeIdx indexes the module's type section.
type TypeIdx uint32

// FunctionType is a Wasm function signature.
type FunctionType struct {
	Params  []types.ValueType
	Results []types.ValueType
}

// Equal reports whether t and other describe the same signature.
func (t FunctionType) Equal(other FunctionType) bool {
	if len(t.Params) != len(other.Params) || len(t.Results) != len(other.Results) {
		return false
	}
	for i := range t.Params {
		if t.Params[i] != other.Params[i] {
			return false
		}
	}
	for i := range t.Results {
		if t.Results[i] != other.Results[i] {
			return false
		}
	}
	return true
}

// TypeSection is the module's set of unique function signatures.
type TypeSection struct {
	Functions []FunctionType
}

// Intern returns the index of tpe in the type section, appending it if it
// is not already present, following the teacher's Compiler.emitFunctionType
// dedup-by-equality behavior.
func (s *TypeSection) Intern(tpe FunctionType) TypeIdx {
	for i, other := range s.Functions {
		if tpe.Equal(other) {
			return TypeIdx(i)
		}
	}
	s.Functions = append(s.Functions, tpe)
	return TypeIdx(len(s.Functions) - 1)
}

// ImportKind distinguishes the four importable entity kinds. Only function
// imports matter to this tool, but the others must still round-trip.
type ImportKind byte

const (
	FunctionImportKind ImportKind = 0x00
	TableImportKind    ImportKind = 0x01
	MemoryImportKind   ImportKind = 0x02
	GlobalImportKind   ImportKind = 0x03
)

// ImportDescriptor describes what an import provides.
type ImportDescriptor struct {
	Kind       ImportKind
	TypeIndex  TypeIdx // valid when Kind == FunctionImportKind
	TableType  TableType
	MemoryType Limits
	GlobalType GlobalType
}

// Import is a single entry of the import section. ID is only meaningful
// when Descriptor.Kind == FunctionImportKind; see FuncIdx.
type Import struct {
	Module     string
	Field      string
	Descriptor ImportDescriptor
	ID         FuncIdx
}

// ImportSection is the module's import section.
type ImportSection struct {
	Imports []Import
}

// FunctionSection associates each local function with its signature.
// TypeIndices[p] is the signature of the local function whose body is
// Code.Segments[p] — the two slices are always kept in lockstep.
type FunctionSection struct {
	TypeIndices []TypeIdx
}

// Limits is a resizable-limits pair as used by tables and memories.
type Limits struct {
	Min uint32
	Max *uint32
}

// TableType describes a table (always funcref in the feature set this tool
// supports).
type TableType struct {
	ElemType types.ValueType
	Limits   Limits
}

// TableSection is the module's table section.
type TableSection struct {
	Tables []TableType
}

// MemorySection is the module's memory section.
type MemorySection struct {
	Memories []Limits
}

// Expr is a constant expression, as used for global initializers and
// element/data segment offsets. This tool only needs to understand the
// single-instruction i32.const / global.get forms that realistic producers
// emit; Instrs is preserved verbatim either way.
type Expr struct {
	Instrs []instruction.Instruction
}

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	Type    types.ValueType
	Mutable bool
}

// Global is a single entry of the global section.
type Global struct {
	Type GlobalType
	Init Expr
}

// GlobalSection is the module's global section.
type GlobalSection struct {
	Globals []Global
}

// ExportKind mirrors ImportKind for the export section.
type ExportKind byte

const (
	FunctionExportKind ExportKind = 0x00
	TableExportKind    ExportKind = 0x01
	MemoryExportKind   ExportKind = 0x02
	GlobalExportKind   ExportKind = 0x03
)

// ExportDescriptor names which index, of which kind, an export refers to.
// When Kind == FunctionExportKind, Index carries a FuncIdx handle (cast to
// uint32); otherwise it is a plain, never-remapped absolute index.
type ExportDescriptor struct {
	Kind  ExportKind
	Index uint32
}

// Export is a single entry of the export section.
type Export struct {
	Name       string
	Descriptor ExportDescriptor
}

// ExportSection is the module's export section.
type ExportSection struct {
	Exports []Export
}

// StartSection names the optional start function.
type StartSection struct {
	FuncIndex *FuncIdx
}

// Element is a single table-initializer segment. Only the function-index
// list form is supported (spec.md §4.2: "reject expression form with
// UnsupportedElementForm"); Indices holds FuncIdx handles, one per slot.
type Element struct {
	TableIndex uint32
	Offset     Expr
	Indices    []FuncIdx
}

// ElementSection is the module's element section.
type ElementSection struct {
	Segments []Element
}

// LocalDecl is a run of locals of the same type, as Wasm's code section
// compresses them.
type LocalDecl struct {
	Count uint32
	Type  types.ValueType
}

// Code is a local function's body. ID is this local function's FuncIdx
// handle; it is the link between a Call/Element/Export reference and this
// function, independent of where the function ends up in the final binary.
type Code struct {
	ID     FuncIdx
	Locals []LocalDecl
	Instrs []instruction.Instruction
}

// CodeSection is the module's code section; Segments[i] is the body of the
// local function described by Function.TypeIndices[i].
type CodeSection struct {
	Segments []Code
}

// Data is a single linear-memory initializer segment.
type Data struct {
	MemoryIndex uint32
	Offset      Expr
	Init        []byte
}

// DataSection is the module's data section.
type DataSection struct {
	Segments []Data
}

// NameMap maps a function's FuncIdx handle to a debug name, as used by the
// name section.
type NameMap struct {
	Index uint32 // FuncIdx, stored as uint32 to match the binary encoding
	Name  string
}

// LocalNameMap maps a function's locals to debug names.
type LocalNameMap struct {
	FuncIndex uint32
	Names     []NameMap
}

// Names is the decoded contents of the custom "name" section.
type Names struct {
	Module    string
	Functions []NameMap
	Locals    []LocalNameMap
}

// Custom is a custom section this tool does not otherwise interpret; its
// name and payload are preserved verbatim across rewriting (other than the
// "name" section, which is decoded into Names and re-encoded from it).
// Position relative to the standard sections is NOT preserved: custom
// sections may legally appear between any two standard sections (or before
// the first, or after the last) in the input, but this tool's module model
// has one fixed slot per standard section rather than a flat ordered
// section list, so every Custom is re-emitted after Data (see
// encoding.WriteModule). A consumer that depends on a custom section's
// position relative to, say, the code section (most don't — custom
// sections are opaque metadata by design) would see it relocated to the
// tail on round-trip.
type Custom struct {
	Name string
	Data []byte
}

// Module is the full in-memory representation of a parsed Wasm binary.
type Module struct {
	Type     TypeSection
	Import   ImportSection
	Function FunctionSection
	Table    TableSection
	Memory   MemorySection
	Global   GlobalSection
	Export   ExportSection
	Start    StartSection
	Element  ElementSection
	Code     CodeSection
	Data     DataSection
	Names    Names
	Customs  []Custom

	// NextFuncID is the next fresh FuncIdx handle to hand out. The decoder
	// initializes it to the total function count right after parsing;
	// AddImportFunc/AddLocalFunc draw from it afterwards. Its numeric
	// value carries no layout meaning — only WriteModule's final pass
	// assigns real binary indices.
	NextFuncID FuncIdx
}

// newFuncID draws a fresh, never-before-used function handle.
func (m *Module) newFuncID() FuncIdx {
	id := m.NextFuncID
	m.NextFuncID++
	return id
}

// FunctionImportCount returns the number of imported functions.
func (m *Module) FunctionImportCount() int {
	count := 0
	for _, imp := range m.Import.Imports {
		if imp.Descriptor.Kind == FunctionImportKind {
			count++
		}
	}
	return count
}

// NumFunctions returns the total number of functions (imported + local).
func (m *Module) NumFunctions() int {
	return m.FunctionImportCount() + len(m.Function.TypeIndices)
}

// importByID finds the import entry for a function handle, if fn denotes an
// imported function.
func (m *Module) importByID(fn FuncIdx) (*Import, bool) {
	for i := range m.Import.Imports {
		imp := &m.Import.Imports[i]
		if imp.Descriptor.Kind == FunctionImportKind && imp.ID == fn {
			return imp, true
		}
	}
	return nil, false
}

// IsImportedFunc reports whether fn denotes an imported function.
func (m *Module) IsImportedFunc(fn FuncIdx) bool {
	_, ok := m.importByID(fn)
	return ok
}

// FunctionType returns the signature of function fn.
func (m *Module) FunctionType(fn FuncIdx) (FunctionType, bool) {
	if imp, ok := m.importByID(fn); ok {
		if int(imp.Descriptor.TypeIndex) >= len(m.Type.Functions) {
			return FunctionType{}, false
		}
		return m.Type.Functions[imp.Descriptor.TypeIndex], true
	}
	for i, code := range m.Code.Segments {
		if code.ID != fn {
			continue
		}
		if i >= len(m.Function.TypeIndices) {
			return FunctionType{}, false
		}
		ti := m.Function.TypeIndices[i]
		if int(ti) >= len(m.Type.Functions) {
			return FunctionType{}, false
		}
		return m.Type.Functions[ti], true
	}
	return FunctionType{}, false
}

// CodeOf returns a pointer to the local function body for fn, so callers can
// mutate it in place. Returns nil, false for imported (or unknown) functions.
func (m *Module) CodeOf(fn FuncIdx) (*Code, bool) {
	for i := range m.Code.Segments {
		if m.Code.Segments[i].ID == fn {
			return &m.Code.Segments[i], true
		}
	}
	return nil, false
}

// FindFunctionByName returns the local function named name, if the name
// section records one and it resolves to a local (not imported) function.
// Matching is exact, per spec.md §3 ("Matching to M is by exact string
// equality").
func (m *Module) FindFunctionByName(name string) (FuncIdx, bool) {
	for _, nm := range m.Names.Functions {
		if nm.Name != name {
			continue
		}
		fn := FuncIdx(nm.Index)
		if _, ok := m.CodeOf(fn); ok {
			return fn, true
		}
	}
	return 0, false
}

// AddImportFunc interns an import of module/field with signature tpe,
// returning its function handle. If an identical (module, field, signature)
// import already exists it is reused rather than duplicated — permitted by
// spec.md §4.3's type-interning policy ("Imports with identical (module,
// field, signature) may be shared").
func (m *Module) AddImportFunc(moduleName, field string, tpe FunctionType) FuncIdx {
	typeIdx := m.Type.Intern(tpe)
	for _, imp := range m.Import.Imports {
		if imp.Descriptor.Kind == FunctionImportKind &&
			imp.Module == moduleName && imp.Field == field &&
			imp.Descriptor.TypeIndex == typeIdx {
			return imp.ID
		}
	}
	id := m.newFuncID()
	m.Import.Imports = append(m.Import.Imports, Import{
		Module: moduleName,
		Field:  field,
		Descriptor: ImportDescriptor{
			Kind:      FunctionImportKind,
			TypeIndex: typeIdx,
		},
		ID: id,
	})
	return id
}

// AddLocalFunc appends a new local function with signature tpe and body
// instrs/locals, returning its function handle.
func (m *Module) AddLocalFunc(tpe FunctionType, locals []LocalDecl, instrs []instruction.Instruction) FuncIdx {
	typeIdx := m.Type.Intern(tpe)
	id := m.newFuncID()
	m.Function.TypeIndices = append(m.Function.TypeIndices, typeIdx)
	m.Code.Segments = append(m.Code.Segments, Code{ID: id, Locals: locals, Instrs: instrs})
	return id
}

// SetFunctionName records (or overwrites) the debug name of fn.
func (m *Module) SetFunctionName(fn FuncIdx, name string) {
	for i, nm := range m.Names.Functions {
		if FuncIdx(nm.Index) == fn {
			m.Names.Functions[i].Name = name
			return
		}
	}
	m.Names.Functions = append(m.Names.Functions, NameMap{Index: uint32(fn), Name: name})
}
