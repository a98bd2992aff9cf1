package encoding

import (
	"bytes"

	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/module"
)

const (
	nameSubsectionModule    = 0
	nameSubsectionFunctions = 1
	nameSubsectionLocals    = 2
)

// decodeNameSection parses the custom "name" section's subsections. Unknown
// subsection ids are skipped (their payload is simply not preserved), since
// this tool only round-trips the three subsections producers commonly emit.
func decodeNameSection(r *byteReader) (module.Names, error) {
	var names module.Names
	for !r.atEOF() {
		id, err := r.ReadByte()
		if err != nil {
			return module.Names{}, err
		}
		size, err := readVarUint32(r)
		if err != nil {
			return module.Names{}, err
		}
		sub, err := r.sub(size)
		if err != nil {
			return module.Names{}, err
		}
		switch id {
		case nameSubsectionModule:
			name, err := readName(sub)
			if err != nil {
				return module.Names{}, err
			}
			names.Module = name
		case nameSubsectionFunctions:
			fns, err := decodeNameMapVec(sub)
			if err != nil {
				return module.Names{}, err
			}
			names.Functions = fns
		case nameSubsectionLocals:
			n, err := readVarUint32(sub)
			if err != nil {
				return module.Names{}, err
			}
			locals := make([]module.LocalNameMap, n)
			for i := range locals {
				fnIdx, err := readVarUint32(sub)
				if err != nil {
					return module.Names{}, err
				}
				nm, err := decodeNameMapVec(sub)
				if err != nil {
					return module.Names{}, err
				}
				locals[i] = module.LocalNameMap{FuncIndex: fnIdx, Names: nm}
			}
			names.Locals = locals
		}
	}
	return names, nil
}

func decodeNameMapVec(r *byteReader) ([]module.NameMap, error) {
	n, err := readVarUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]module.NameMap, n)
	for i := range out {
		idx, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		name, err := readName(r)
		if err != nil {
			return nil, err
		}
		out[i] = module.NameMap{Index: idx, Name: name}
	}
	return out, nil
}

// remapNameMapVec translates every entry's FuncIdx handle to its final
// absolute index, the same translation encodeExportSection/
// encodeElementSection apply to every other function reference. Entries
// whose handle no longer resolves (a function removed since the name was
// recorded — never happens in this tool today, but future-proof rather than
// panic) are dropped rather than written out with a stale index.
func remapNameMapVec(nm []module.NameMap, idx map[module.FuncIdx]uint32) []module.NameMap {
	out := make([]module.NameMap, 0, len(nm))
	for _, e := range nm {
		final, ok := idx[module.FuncIdx(e.Index)]
		if !ok {
			continue
		}
		out = append(out, module.NameMap{Index: final, Name: e.Name})
	}
	return out
}

// encodeNameSection re-serializes the name section, omitting subsections
// that carry nothing (an instrumented module with no debug info at all
// simply gets no custom "name" section — see WriteModule). idx
// translates every recorded FuncIdx handle to its final absolute index,
// exactly as encodeExportSection/encodeElementSection do for their own
// function references — without it, a name section decoded before any
// wrapper was synthesized would keep pointing at pre-instrumentation
// indices once imports shift the local function space forward.
func encodeNameSection(names module.Names, idx map[module.FuncIdx]uint32) ([]byte, error) {
	var out bytes.Buffer
	if names.Module != "" {
		var sub bytes.Buffer
		if err := writeName(&sub, names.Module); err != nil {
			return nil, err
		}
		if err := writeSubsection(&out, nameSubsectionModule, sub.Bytes()); err != nil {
			return nil, err
		}
	}
	functions := remapNameMapVec(names.Functions, idx)
	if len(functions) > 0 {
		var sub bytes.Buffer
		if err := writeNameMapVec(&sub, functions); err != nil {
			return nil, err
		}
		if err := writeSubsection(&out, nameSubsectionFunctions, sub.Bytes()); err != nil {
			return nil, err
		}
	}
	type remappedLocals struct {
		funcIndex uint32
		names     []module.NameMap
	}
	locals := make([]remappedLocals, 0, len(names.Locals))
	for _, l := range names.Locals {
		final, ok := idx[module.FuncIdx(l.FuncIndex)]
		if !ok {
			continue
		}
		locals = append(locals, remappedLocals{funcIndex: final, names: l.Names})
	}
	if len(locals) > 0 {
		var sub bytes.Buffer
		if err := writeVarUint32(&sub, uint32(len(locals))); err != nil {
			return nil, err
		}
		for _, l := range locals {
			if err := writeVarUint32(&sub, l.funcIndex); err != nil {
				return nil, err
			}
			if err := writeNameMapVec(&sub, l.names); err != nil {
				return nil, err
			}
		}
		if err := writeSubsection(&out, nameSubsectionLocals, sub.Bytes()); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}

func writeSubsection(w *bytes.Buffer, id byte, payload []byte) error {
	if err := w.WriteByte(id); err != nil {
		return err
	}
	if err := writeVarUint32(w, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func writeNameMapVec(w *bytes.Buffer, nm []module.NameMap) error {
	if err := writeVarUint32(w, uint32(len(nm))); err != nil {
		return err
	}
	for _, e := range nm {
		if err := writeVarUint32(w, e.Index); err != nil {
			return err
		}
		if err := writeName(w, e.Name); err != nil {
			return err
		}
	}
	return nil
}
