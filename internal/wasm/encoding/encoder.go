package encoding

import (
	"bytes"
	"io"

	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/instruction"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/module"
)

// assignFinalIndices computes, for every function handle currently live in
// m, the absolute binary index it will occupy in the encoded module:
// imported functions first (in Import.Imports order), then local functions
// (in Code.Segments order) — the ordering rule the whole FuncIdx scheme
// exists to decouple callers from. This is the one place a handle is ever
// turned back into a raw index.
func assignFinalIndices(m *module.Module) map[module.FuncIdx]uint32 {
	idx := make(map[module.FuncIdx]uint32, m.NumFunctions())
	var next uint32
	for _, imp := range m.Import.Imports {
		if imp.Descriptor.Kind == module.FunctionImportKind {
			idx[imp.ID] = next
			next++
		}
	}
	for _, code := range m.Code.Segments {
		idx[code.ID] = next
		next++
	}
	return idx
}

// remapInstrs rewrites every call instruction's target from a FuncIdx handle
// to its final absolute index. Every other instruction passes through
// unchanged.
func remapInstrs(instrs []instruction.Instruction, idx map[module.FuncIdx]uint32) []instruction.Instruction {
	out := make([]instruction.Instruction, len(instrs))
	for i, in := range instrs {
		if call, ok := in.(instruction.Call); ok {
			if final, ok := idx[module.FuncIdx(call.Index)]; ok {
				out[i] = instruction.Call{Index: final}
				continue
			}
		}
		out[i] = in
	}
	return out
}

// WriteModule serializes m to the Wasm binary format.
func WriteModule(w io.Writer, m *module.Module) error {
	idx := assignFinalIndices(m)

	var buf bytes.Buffer
	buf.WriteString(wasmMagic)
	buf.Write([]byte{1, 0, 0, 0})

	if err := writeSection(&buf, sectionType, len(m.Type.Functions), func(b *bytes.Buffer) error {
		return encodeTypeSection(b, m.Type)
	}); err != nil {
		return err
	}
	if err := writeSection(&buf, sectionImport, len(m.Import.Imports), func(b *bytes.Buffer) error {
		return encodeImportSection(b, m.Import)
	}); err != nil {
		return err
	}
	if err := writeSection(&buf, sectionFunction, len(m.Function.TypeIndices), func(b *bytes.Buffer) error {
		return encodeFunctionSection(b, m.Function)
	}); err != nil {
		return err
	}
	if err := writeSection(&buf, sectionTable, len(m.Table.Tables), func(b *bytes.Buffer) error {
		return encodeTableSection(b, m.Table)
	}); err != nil {
		return err
	}
	if err := writeSection(&buf, sectionMemory, len(m.Memory.Memories), func(b *bytes.Buffer) error {
		return encodeMemorySection(b, m.Memory)
	}); err != nil {
		return err
	}
	if err := writeSection(&buf, sectionGlobal, len(m.Global.Globals), func(b *bytes.Buffer) error {
		return encodeGlobalSection(b, m.Global, idx)
	}); err != nil {
		return err
	}
	if err := writeSection(&buf, sectionExport, len(m.Export.Exports), func(b *bytes.Buffer) error {
		return encodeExportSection(b, m.Export, idx)
	}); err != nil {
		return err
	}
	if m.Start.FuncIndex != nil {
		if err := writeSection(&buf, sectionStart, 1, func(b *bytes.Buffer) error {
			return writeVarUint32(b, idx[*m.Start.FuncIndex])
		}); err != nil {
			return err
		}
	}
	if err := writeSection(&buf, sectionElement, len(m.Element.Segments), func(b *bytes.Buffer) error {
		return encodeElementSection(b, m.Element, idx)
	}); err != nil {
		return err
	}
	if err := writeSection(&buf, sectionCode, len(m.Code.Segments), func(b *bytes.Buffer) error {
		return encodeCodeSection(b, m.Code, idx)
	}); err != nil {
		return err
	}
	if err := writeSection(&buf, sectionData, len(m.Data.Segments), func(b *bytes.Buffer) error {
		return encodeDataSection(b, m.Data)
	}); err != nil {
		return err
	}

	if m.Names.Module != "" || len(m.Names.Functions) > 0 || len(m.Names.Locals) > 0 {
		payload, err := encodeNameSection(m.Names, idx)
		if err != nil {
			return err
		}
		if err := writeCustomSection(&buf, "name", payload); err != nil {
			return err
		}
	}
	for _, c := range m.Customs {
		if err := writeCustomSection(&buf, c.Name, c.Data); err != nil {
			return err
		}
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func writeSection(buf *bytes.Buffer, id byte, count int, encode func(*bytes.Buffer) error) error {
	if count == 0 {
		return nil
	}
	var body bytes.Buffer
	if err := encode(&body); err != nil {
		return err
	}
	if err := buf.WriteByte(id); err != nil {
		return err
	}
	if err := writeVarUint32(buf, uint32(body.Len())); err != nil {
		return err
	}
	_, err := buf.Write(body.Bytes())
	return err
}

func writeCustomSection(buf *bytes.Buffer, name string, data []byte) error {
	var body bytes.Buffer
	if err := writeName(&body, name); err != nil {
		return err
	}
	if _, err := body.Write(data); err != nil {
		return err
	}
	if err := buf.WriteByte(sectionCustom); err != nil {
		return err
	}
	if err := writeVarUint32(buf, uint32(body.Len())); err != nil {
		return err
	}
	_, err := buf.Write(body.Bytes())
	return err
}

func encodeTypeSection(b *bytes.Buffer, ts module.TypeSection) error {
	if err := writeVarUint32(b, uint32(len(ts.Functions))); err != nil {
		return err
	}
	for _, fn := range ts.Functions {
		if err := b.WriteByte(funcTypeForm); err != nil {
			return err
		}
		if err := writeVarUint32(b, uint32(len(fn.Params))); err != nil {
			return err
		}
		for _, p := range fn.Params {
			if err := b.WriteByte(byte(p)); err != nil {
				return err
			}
		}
		if err := writeVarUint32(b, uint32(len(fn.Results))); err != nil {
			return err
		}
		for _, rr := range fn.Results {
			if err := b.WriteByte(byte(rr)); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodeLimits(b *bytes.Buffer, lim module.Limits) error {
	if lim.Max != nil {
		if err := b.WriteByte(1); err != nil {
			return err
		}
		if err := writeVarUint32(b, lim.Min); err != nil {
			return err
		}
		return writeVarUint32(b, *lim.Max)
	}
	if err := b.WriteByte(0); err != nil {
		return err
	}
	return writeVarUint32(b, lim.Min)
}

func encodeImportSection(b *bytes.Buffer, is module.ImportSection) error {
	if err := writeVarUint32(b, uint32(len(is.Imports))); err != nil {
		return err
	}
	for _, imp := range is.Imports {
		if err := writeName(b, imp.Module); err != nil {
			return err
		}
		if err := writeName(b, imp.Field); err != nil {
			return err
		}
		if err := b.WriteByte(byte(imp.Descriptor.Kind)); err != nil {
			return err
		}
		switch imp.Descriptor.Kind {
		case module.FunctionImportKind:
			if err := writeVarUint32(b, uint32(imp.Descriptor.TypeIndex)); err != nil {
				return err
			}
		case module.TableImportKind:
			if err := b.WriteByte(byte(imp.Descriptor.TableType.ElemType)); err != nil {
				return err
			}
			if err := encodeLimits(b, imp.Descriptor.TableType.Limits); err != nil {
				return err
			}
		case module.MemoryImportKind:
			if err := encodeLimits(b, imp.Descriptor.MemoryType); err != nil {
				return err
			}
		case module.GlobalImportKind:
			if err := b.WriteByte(byte(imp.Descriptor.GlobalType.Type)); err != nil {
				return err
			}
			mut := byte(0)
			if imp.Descriptor.GlobalType.Mutable {
				mut = 1
			}
			if err := b.WriteByte(mut); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodeFunctionSection(b *bytes.Buffer, fs module.FunctionSection) error {
	if err := writeVarUint32(b, uint32(len(fs.TypeIndices))); err != nil {
		return err
	}
	for _, ti := range fs.TypeIndices {
		if err := writeVarUint32(b, uint32(ti)); err != nil {
			return err
		}
	}
	return nil
}

func encodeTableSection(b *bytes.Buffer, ts module.TableSection) error {
	if err := writeVarUint32(b, uint32(len(ts.Tables))); err != nil {
		return err
	}
	for _, t := range ts.Tables {
		if err := b.WriteByte(byte(t.ElemType)); err != nil {
			return err
		}
		if err := encodeLimits(b, t.Limits); err != nil {
			return err
		}
	}
	return nil
}

func encodeMemorySection(b *bytes.Buffer, ms module.MemorySection) error {
	if err := writeVarUint32(b, uint32(len(ms.Memories))); err != nil {
		return err
	}
	for _, lim := range ms.Memories {
		if err := encodeLimits(b, lim); err != nil {
			return err
		}
	}
	return nil
}

func encodeExpr(b *bytes.Buffer, e module.Expr, idx map[module.FuncIdx]uint32) error {
	return writeInstrSequence(b, remapInstrs(e.Instrs, idx))
}

func encodeGlobalSection(b *bytes.Buffer, gs module.GlobalSection, idx map[module.FuncIdx]uint32) error {
	if err := writeVarUint32(b, uint32(len(gs.Globals))); err != nil {
		return err
	}
	for _, g := range gs.Globals {
		if err := b.WriteByte(byte(g.Type.Type)); err != nil {
			return err
		}
		mut := byte(0)
		if g.Type.Mutable {
			mut = 1
		}
		if err := b.WriteByte(mut); err != nil {
			return err
		}
		if err := encodeExpr(b, g.Init, idx); err != nil {
			return err
		}
	}
	return nil
}

func encodeExportSection(b *bytes.Buffer, es module.ExportSection, idx map[module.FuncIdx]uint32) error {
	if err := writeVarUint32(b, uint32(len(es.Exports))); err != nil {
		return err
	}
	for _, e := range es.Exports {
		if err := writeName(b, e.Name); err != nil {
			return err
		}
		if err := b.WriteByte(byte(e.Descriptor.Kind)); err != nil {
			return err
		}
		index := e.Descriptor.Index
		if e.Descriptor.Kind == module.FunctionExportKind {
			index = idx[module.FuncIdx(index)]
		}
		if err := writeVarUint32(b, index); err != nil {
			return err
		}
	}
	return nil
}

func encodeElementSection(b *bytes.Buffer, es module.ElementSection, idx map[module.FuncIdx]uint32) error {
	if err := writeVarUint32(b, uint32(len(es.Segments))); err != nil {
		return err
	}
	for _, seg := range es.Segments {
		flags := uint32(0)
		if seg.TableIndex != 0 {
			flags = 2
		}
		if err := writeVarUint32(b, flags); err != nil {
			return err
		}
		if flags == 2 {
			if err := writeVarUint32(b, seg.TableIndex); err != nil {
				return err
			}
		}
		if err := encodeExpr(b, seg.Offset, idx); err != nil {
			return err
		}
		if flags == 2 {
			if err := b.WriteByte(0x00); err != nil {
				return err
			}
		}
		if err := writeVarUint32(b, uint32(len(seg.Indices))); err != nil {
			return err
		}
		for _, fn := range seg.Indices {
			if err := writeVarUint32(b, idx[fn]); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodeCodeSection(b *bytes.Buffer, cs module.CodeSection, idx map[module.FuncIdx]uint32) error {
	if err := writeVarUint32(b, uint32(len(cs.Segments))); err != nil {
		return err
	}
	for _, code := range cs.Segments {
		var body bytes.Buffer
		if err := WriteCodeEntry(&body, code, idx); err != nil {
			return err
		}
		if err := writeVarUint32(b, uint32(body.Len())); err != nil {
			return err
		}
		if _, err := b.Write(body.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// WriteCodeEntry encodes a single function body (locals plus instructions),
// following the teacher's encoding package convention of exposing a
// standalone per-function-body encoder: the hook synthesizer builds a
// module.Code value directly and this is how it gets turned into bytes
// without re-encoding the whole module.
func WriteCodeEntry(w *bytes.Buffer, code module.Code, idx map[module.FuncIdx]uint32) error {
	if err := writeVarUint32(w, uint32(len(code.Locals))); err != nil {
		return err
	}
	for _, l := range code.Locals {
		if err := writeVarUint32(w, l.Count); err != nil {
			return err
		}
		if err := w.WriteByte(byte(l.Type)); err != nil {
			return err
		}
	}
	return writeInstrSequence(w, remapInstrs(code.Instrs, idx))
}

func encodeDataSection(b *bytes.Buffer, ds module.DataSection) error {
	if err := writeVarUint32(b, uint32(len(ds.Segments))); err != nil {
		return err
	}
	for _, d := range ds.Segments {
		if err := writeVarUint32(b, d.MemoryIndex); err != nil {
			return err
		}
		// Data segment offsets never reference functions; an empty index map
		// is correct here (and the zero map still passes through any
		// non-Call instruction unchanged).
		if err := encodeExpr(b, d.Offset, nil); err != nil {
			return err
		}
		if err := writeBytes(b, d.Init); err != nil {
			return err
		}
	}
	return nil
}
