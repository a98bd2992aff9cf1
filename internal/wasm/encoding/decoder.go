package encoding

import (
	"io"

	"github.com/pkg/errors"

	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/module"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/types"
)

const (
	wasmMagic   = "\x00asm"
	wasmVersion = uint32(1)
)

// Section IDs, per the binary format.
const (
	sectionCustom   = 0
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionTable    = 4
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionStart    = 8
	sectionElement  = 9
	sectionCode     = 10
	sectionData     = 11
)

const funcTypeForm = 0x60

// ErrUnsupportedElementForm is returned (wrapped with the offending flags
// value) when an element segment uses a passive/declarative or
// expression-form encoding this tool does not model.
var ErrUnsupportedElementForm = errors.New("unsupported element segment form")

// ReadModule parses a Wasm binary into the in-memory module representation.
// Opcodes outside the supported feature set (bulk-memory, SIMD,
// reference-types-beyond-funcref, exceptions, GC) surface as an error from
// the instruction decoder rather than silently mis-parsing.
func ReadModule(r io.Reader) (*module.Module, error) {
	br, err := newByteReader(r)
	if err != nil {
		return nil, err
	}

	var magic [4]byte
	if _, err := br.Read(magic[:]); err != nil {
		return nil, errors.Wrap(err, "reading module header")
	}
	if string(magic[:]) != wasmMagic {
		return nil, errors.Errorf("not a wasm module: bad magic %x", magic)
	}
	var versionBytes [4]byte
	if _, err := br.Read(versionBytes[:]); err != nil {
		return nil, errors.Wrap(err, "reading module version")
	}
	version := uint32(versionBytes[0]) | uint32(versionBytes[1])<<8 | uint32(versionBytes[2])<<16 | uint32(versionBytes[3])<<24
	if version != wasmVersion {
		return nil, errors.Errorf("unsupported wasm version %d", version)
	}

	m := &module.Module{}
	funcImportCount := 0

	for !br.atEOF() {
		id, err := br.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "reading section id")
		}
		size, err := readVarUint32(br)
		if err != nil {
			return nil, errors.Wrap(err, "reading section size")
		}
		sectionOffset := br.Offset()
		sec, err := br.sub(size)
		if err != nil {
			return nil, errors.Wrapf(err, "reading section %d body", id)
		}

		if err := decodeSection(m, id, sec, &funcImportCount); err != nil {
			return nil, errors.Wrapf(err, "at byte offset %d", sectionOffset)
		}
	}

	// At parse time every function handle's numeric value coincides with its
	// raw absolute index (imports 0..funcImportCount-1, then locals in
	// order) — no rewriting has happened yet. NextFuncID continues from there.
	m.NextFuncID = module.FuncIdx(m.NumFunctions())
	return m, nil
}

// decodeSection dispatches a single section body to its decoder and merges
// the result into m.
func decodeSection(m *module.Module, id byte, sec *byteReader, funcImportCount *int) error {
	switch id {
	case sectionCustom:
		name, err := readName(sec)
		if err != nil {
			return errors.Wrap(err, "reading custom section name")
		}
		if name == "name" {
			names, err := decodeNameSection(sec)
			if err != nil {
				return errors.Wrap(err, "decoding name section")
			}
			m.Names = names
			return nil
		}
		data := make([]byte, 0)
		for !sec.atEOF() {
			b, err := sec.ReadByte()
			if err != nil {
				return err
			}
			data = append(data, b)
		}
		m.Customs = append(m.Customs, module.Custom{Name: name, Data: data})
	case sectionType:
		ts, err := decodeTypeSection(sec)
		if err != nil {
			return errors.Wrap(err, "decoding type section")
		}
		m.Type = ts
	case sectionImport:
		is, count, err := decodeImportSection(sec)
		if err != nil {
			return errors.Wrap(err, "decoding import section")
		}
		m.Import = is
		*funcImportCount = count
	case sectionFunction:
		fs, err := decodeFunctionSection(sec)
		if err != nil {
			return errors.Wrap(err, "decoding function section")
		}
		m.Function = fs
	case sectionTable:
		ts, err := decodeTableSection(sec)
		if err != nil {
			return errors.Wrap(err, "decoding table section")
		}
		m.Table = ts
	case sectionMemory:
		ms, err := decodeMemorySection(sec)
		if err != nil {
			return errors.Wrap(err, "decoding memory section")
		}
		m.Memory = ms
	case sectionGlobal:
		gs, err := decodeGlobalSection(sec)
		if err != nil {
			return errors.Wrap(err, "decoding global section")
		}
		m.Global = gs
	case sectionExport:
		es, err := decodeExportSection(sec)
		if err != nil {
			return errors.Wrap(err, "decoding export section")
		}
		m.Export = es
	case sectionStart:
		ss, err := decodeStartSection(sec)
		if err != nil {
			return errors.Wrap(err, "decoding start section")
		}
		m.Start = ss
	case sectionElement:
		es, err := decodeElementSection(sec)
		if err != nil {
			return errors.Wrap(err, "decoding element section")
		}
		m.Element = es
	case sectionCode:
		cs, err := decodeCodeSection(sec, *funcImportCount)
		if err != nil {
			return errors.Wrap(err, "decoding code section")
		}
		m.Code = cs
	case sectionData:
		ds, err := decodeDataSection(sec)
		if err != nil {
			return errors.Wrap(err, "decoding data section")
		}
		m.Data = ds
	default:
		return errors.Errorf("unknown section id %d", id)
	}
	return nil
}

func decodeValueType(r *byteReader) (types.ValueType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if !types.IsValid(b) {
		return 0, errors.Errorf("unsupported value type 0x%02x", b)
	}
	return types.ValueType(b), nil
}

func decodeTypeSection(r *byteReader) (module.TypeSection, error) {
	n, err := readVarUint32(r)
	if err != nil {
		return module.TypeSection{}, err
	}
	ts := module.TypeSection{Functions: make([]module.FunctionType, 0, n)}
	for i := uint32(0); i < n; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return module.TypeSection{}, err
		}
		if form != funcTypeForm {
			return module.TypeSection{}, errors.Errorf("unsupported type section form 0x%02x", form)
		}
		pCount, err := readVarUint32(r)
		if err != nil {
			return module.TypeSection{}, err
		}
		params := make([]types.ValueType, pCount)
		for j := range params {
			if params[j], err = decodeValueType(r); err != nil {
				return module.TypeSection{}, err
			}
		}
		rCount, err := readVarUint32(r)
		if err != nil {
			return module.TypeSection{}, err
		}
		results := make([]types.ValueType, rCount)
		for j := range results {
			if results[j], err = decodeValueType(r); err != nil {
				return module.TypeSection{}, err
			}
		}
		ts.Functions = append(ts.Functions, module.FunctionType{Params: params, Results: results})
	}
	return ts, nil
}

func decodeLimits(r *byteReader) (module.Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return module.Limits{}, err
	}
	min, err := readVarUint32(r)
	if err != nil {
		return module.Limits{}, err
	}
	lim := module.Limits{Min: min}
	if flags == 1 {
		max, err := readVarUint32(r)
		if err != nil {
			return module.Limits{}, err
		}
		lim.Max = &max
	}
	return lim, nil
}

func decodeImportSection(r *byteReader) (module.ImportSection, int, error) {
	n, err := readVarUint32(r)
	if err != nil {
		return module.ImportSection{}, 0, err
	}
	is := module.ImportSection{Imports: make([]module.Import, 0, n)}
	funcCount := 0
	for i := uint32(0); i < n; i++ {
		modName, err := readName(r)
		if err != nil {
			return module.ImportSection{}, 0, err
		}
		field, err := readName(r)
		if err != nil {
			return module.ImportSection{}, 0, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return module.ImportSection{}, 0, err
		}
		desc := module.ImportDescriptor{Kind: module.ImportKind(kind)}
		imp := module.Import{Module: modName, Field: field}
		switch desc.Kind {
		case module.FunctionImportKind:
			ti, err := readVarUint32(r)
			if err != nil {
				return module.ImportSection{}, 0, err
			}
			desc.TypeIndex = module.TypeIdx(ti)
			imp.ID = module.FuncIdx(funcCount)
			funcCount++
		case module.TableImportKind:
			elemType, err := decodeValueType(r)
			if err != nil {
				return module.ImportSection{}, 0, err
			}
			lim, err := decodeLimits(r)
			if err != nil {
				return module.ImportSection{}, 0, err
			}
			desc.TableType = module.TableType{ElemType: elemType, Limits: lim}
		case module.MemoryImportKind:
			lim, err := decodeLimits(r)
			if err != nil {
				return module.ImportSection{}, 0, err
			}
			desc.MemoryType = lim
		case module.GlobalImportKind:
			vt, err := decodeValueType(r)
			if err != nil {
				return module.ImportSection{}, 0, err
			}
			mut, err := r.ReadByte()
			if err != nil {
				return module.ImportSection{}, 0, err
			}
			desc.GlobalType = module.GlobalType{Type: vt, Mutable: mut != 0}
		default:
			return module.ImportSection{}, 0, errors.Errorf("unknown import kind 0x%02x", kind)
		}
		imp.Descriptor = desc
		is.Imports = append(is.Imports, imp)
	}
	return is, funcCount, nil
}

func decodeFunctionSection(r *byteReader) (module.FunctionSection, error) {
	n, err := readVarUint32(r)
	if err != nil {
		return module.FunctionSection{}, err
	}
	fs := module.FunctionSection{TypeIndices: make([]module.TypeIdx, n)}
	for i := range fs.TypeIndices {
		ti, err := readVarUint32(r)
		if err != nil {
			return module.FunctionSection{}, err
		}
		fs.TypeIndices[i] = module.TypeIdx(ti)
	}
	return fs, nil
}

func decodeTableSection(r *byteReader) (module.TableSection, error) {
	n, err := readVarUint32(r)
	if err != nil {
		return module.TableSection{}, err
	}
	ts := module.TableSection{Tables: make([]module.TableType, n)}
	for i := range ts.Tables {
		elemType, err := decodeValueType(r)
		if err != nil {
			return module.TableSection{}, err
		}
		lim, err := decodeLimits(r)
		if err != nil {
			return module.TableSection{}, err
		}
		ts.Tables[i] = module.TableType{ElemType: elemType, Limits: lim}
	}
	return ts, nil
}

func decodeMemorySection(r *byteReader) (module.MemorySection, error) {
	n, err := readVarUint32(r)
	if err != nil {
		return module.MemorySection{}, err
	}
	ms := module.MemorySection{Memories: make([]module.Limits, n)}
	for i := range ms.Memories {
		lim, err := decodeLimits(r)
		if err != nil {
			return module.MemorySection{}, err
		}
		ms.Memories[i] = lim
	}
	return ms, nil
}

func decodeExpr(r *byteReader) (module.Expr, error) {
	instrs, err := readInstrSequence(r)
	if err != nil {
		return module.Expr{}, err
	}
	return module.Expr{Instrs: instrs}, nil
}

func decodeGlobalSection(r *byteReader) (module.GlobalSection, error) {
	n, err := readVarUint32(r)
	if err != nil {
		return module.GlobalSection{}, err
	}
	gs := module.GlobalSection{Globals: make([]module.Global, n)}
	for i := range gs.Globals {
		vt, err := decodeValueType(r)
		if err != nil {
			return module.GlobalSection{}, err
		}
		mut, err := r.ReadByte()
		if err != nil {
			return module.GlobalSection{}, err
		}
		init, err := decodeExpr(r)
		if err != nil {
			return module.GlobalSection{}, err
		}
		gs.Globals[i] = module.Global{Type: module.GlobalType{Type: vt, Mutable: mut != 0}, Init: init}
	}
	return gs, nil
}

func decodeExportSection(r *byteReader) (module.ExportSection, error) {
	n, err := readVarUint32(r)
	if err != nil {
		return module.ExportSection{}, err
	}
	es := module.ExportSection{Exports: make([]module.Export, n)}
	for i := range es.Exports {
		name, err := readName(r)
		if err != nil {
			return module.ExportSection{}, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return module.ExportSection{}, err
		}
		idx, err := readVarUint32(r)
		if err != nil {
			return module.ExportSection{}, err
		}
		es.Exports[i] = module.Export{Name: name, Descriptor: module.ExportDescriptor{Kind: module.ExportKind(kind), Index: idx}}
	}
	return es, nil
}

func decodeStartSection(r *byteReader) (module.StartSection, error) {
	idx, err := readVarUint32(r)
	if err != nil {
		return module.StartSection{}, err
	}
	fn := module.FuncIdx(idx)
	return module.StartSection{FuncIndex: &fn}, nil
}

// decodeElementSection supports the two active, function-index-list element
// segment encodings (flags 0 and 2): the forms a module built without
// bulk-memory/reference-types emits. Passive/declarative segments (flags 1,
// 3) and expression-form segments (flags 4-7, which carry ref.func/ref.null
// per slot instead of a bare function index) are rejected outright — those
// opcodes aren't in this tool's supported feature set, and guessing at
// their meaning would be worse than refusing to parse them.
func decodeElementSection(r *byteReader) (module.ElementSection, error) {
	n, err := readVarUint32(r)
	if err != nil {
		return module.ElementSection{}, err
	}
	es := module.ElementSection{Segments: make([]module.Element, n)}
	for i := range es.Segments {
		flags, err := readVarUint32(r)
		if err != nil {
			return module.ElementSection{}, err
		}
		var tableIdx uint32
		switch flags {
		case 0:
			tableIdx = 0
		case 2:
			if tableIdx, err = readVarUint32(r); err != nil {
				return module.ElementSection{}, err
			}
		default:
			return module.ElementSection{}, errors.Wrapf(ErrUnsupportedElementForm, "flags=%d", flags)
		}
		offset, err := decodeExpr(r)
		if err != nil {
			return module.ElementSection{}, err
		}
		if flags == 2 {
			kind, err := r.ReadByte()
			if err != nil {
				return module.ElementSection{}, err
			}
			if kind != 0x00 {
				return module.ElementSection{}, errors.Errorf("unsupported element kind 0x%02x", kind)
			}
		}
		count, err := readVarUint32(r)
		if err != nil {
			return module.ElementSection{}, err
		}
		indices := make([]module.FuncIdx, count)
		for j := range indices {
			idx, err := readVarUint32(r)
			if err != nil {
				return module.ElementSection{}, err
			}
			indices[j] = module.FuncIdx(idx)
		}
		es.Segments[i] = module.Element{TableIndex: tableIdx, Offset: offset, Indices: indices}
	}
	return es, nil
}

func decodeCodeSection(r *byteReader, funcImportCount int) (module.CodeSection, error) {
	n, err := readVarUint32(r)
	if err != nil {
		return module.CodeSection{}, err
	}
	cs := module.CodeSection{Segments: make([]module.Code, n)}
	for i := uint32(0); i < n; i++ {
		bodySize, err := readVarUint32(r)
		if err != nil {
			return module.CodeSection{}, err
		}
		body, err := r.sub(bodySize)
		if err != nil {
			return module.CodeSection{}, err
		}
		localRunCount, err := readVarUint32(body)
		if err != nil {
			return module.CodeSection{}, err
		}
		locals := make([]module.LocalDecl, localRunCount)
		for j := range locals {
			count, err := readVarUint32(body)
			if err != nil {
				return module.CodeSection{}, err
			}
			vt, err := decodeValueType(body)
			if err != nil {
				return module.CodeSection{}, err
			}
			locals[j] = module.LocalDecl{Count: count, Type: vt}
		}
		instrs, err := readInstrSequence(body)
		if err != nil {
			return module.CodeSection{}, err
		}
		cs.Segments[i] = module.Code{
			ID:     module.FuncIdx(funcImportCount + int(i)),
			Locals: locals,
			Instrs: instrs,
		}
	}
	return cs, nil
}

func decodeDataSection(r *byteReader) (module.DataSection, error) {
	n, err := readVarUint32(r)
	if err != nil {
		return module.DataSection{}, err
	}
	ds := module.DataSection{Segments: make([]module.Data, n)}
	for i := range ds.Segments {
		memIdx, err := readVarUint32(r)
		if err != nil {
			return module.DataSection{}, err
		}
		offset, err := decodeExpr(r)
		if err != nil {
			return module.DataSection{}, err
		}
		init, err := readBytes(r)
		if err != nil {
			return module.DataSection{}, err
		}
		ds.Segments[i] = module.Data{MemoryIndex: memIdx, Offset: offset, Init: init}
	}
	return ds, nil
}
