package encoding

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/instruction"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/opcode"
	"github.com/kateinoigakukun/wasm-memprof/internal/wasm/types"
)

// blockTypeEmptySentinel and blockTypeFuncRefSentinel (with the -1..-4
// value-type sentinels in valueTypeSentinel) are the reserved single-byte /
// negative sLEB128 sentinels the binary format overloads onto the blocktype
// encoding, ahead of it falling back to a plain (non-negative) type index
// for multi-value block signatures.
const (
	blockTypeEmptySentinel   = -64
	blockTypeFuncRefSentinel = -16
)

func valueTypeSentinel(t types.ValueType) int64 {
	switch t {
	case types.I32:
		return -1
	case types.I64:
		return -2
	case types.F32:
		return -3
	case types.F64:
		return -4
	case types.FuncRef:
		return blockTypeFuncRefSentinel
	default:
		return 1 // never matches a sentinel; forces the type-index path
	}
}

func readBlockType(r *byteReader) (instruction.BlockType, error) {
	v, err := readVarInt64(r, 33)
	if err != nil {
		return instruction.BlockType{}, errors.Wrap(err, "reading blocktype")
	}
	switch v {
	case blockTypeEmptySentinel:
		return instruction.BlockType{Empty: true}, nil
	case -1:
		return instruction.BlockType{ValueTypeByte: byte(types.I32)}, nil
	case -2:
		return instruction.BlockType{ValueTypeByte: byte(types.I64)}, nil
	case -3:
		return instruction.BlockType{ValueTypeByte: byte(types.F32)}, nil
	case -4:
		return instruction.BlockType{ValueTypeByte: byte(types.F64)}, nil
	case blockTypeFuncRefSentinel:
		return instruction.BlockType{ValueTypeByte: byte(types.FuncRef)}, nil
	}
	if v < 0 {
		return instruction.BlockType{}, errors.Errorf("unsupported blocktype sentinel %d", v)
	}
	return instruction.BlockType{HasTypeIndex: true, TypeIndex: uint32(v)}, nil
}

func writeBlockType(w *bytes.Buffer, bt instruction.BlockType) error {
	switch {
	case bt.Empty:
		return writeVarInt64(w, blockTypeEmptySentinel)
	case bt.HasTypeIndex:
		return writeVarInt64(w, int64(bt.TypeIndex))
	default:
		return writeVarInt64(w, valueTypeSentinel(types.ValueType(bt.ValueTypeByte)))
	}
}

var loadOpcodes = map[opcode.Opcode]bool{
	opcode.I32Load: true, opcode.I64Load: true, opcode.F32Load: true, opcode.F64Load: true,
	opcode.I32Load8S: true, opcode.I32Load8U: true, opcode.I32Load16S: true, opcode.I32Load16U: true,
	opcode.I64Load8S: true, opcode.I64Load8U: true, opcode.I64Load16S: true, opcode.I64Load16U: true,
	opcode.I64Load32S: true, opcode.I64Load32U: true,
}

var storeOpcodes = map[opcode.Opcode]bool{
	opcode.I32Store: true, opcode.I64Store: true, opcode.F32Store: true, opcode.F64Store: true,
	opcode.I32Store8: true, opcode.I32Store16: true,
	opcode.I64Store8: true, opcode.I64Store16: true, opcode.I64Store32: true,
}

// readInstr decodes a single instruction starting at the opcode byte.
func readInstr(r *byteReader) (instruction.Instruction, error) {
	opByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	op := opcode.Opcode(opByte)
	shape, known := opcode.ShapeOf(op)
	if !known {
		return nil, errors.Errorf("unsupported opcode 0x%02x at offset %d (bulk-memory/SIMD/reftypes/exceptions/GC are out of scope)", opByte, r.Offset())
	}

	switch op {
	case opcode.Block, opcode.Loop, opcode.If:
		bt, err := readBlockType(r)
		if err != nil {
			return nil, err
		}
		switch op {
		case opcode.Block:
			return instruction.Block{Type: bt}, nil
		case opcode.Loop:
			return instruction.Loop{Type: bt}, nil
		default:
			return instruction.If{Type: bt}, nil
		}
	case opcode.Else:
		return instruction.Else{}, nil
	case opcode.End:
		return instruction.End{}, nil
	case opcode.Unreachable:
		return instruction.Unreachable{}, nil
	case opcode.Nop:
		return instruction.Nop{}, nil
	case opcode.Br:
		v, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		return instruction.Br{Label: v}, nil
	case opcode.BrIf:
		v, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		return instruction.BrIf{Label: v}, nil
	case opcode.BrTable:
		n, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		labels := make([]uint32, n)
		for i := range labels {
			if labels[i], err = readVarUint32(r); err != nil {
				return nil, err
			}
		}
		def, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		return instruction.BrTable{Labels: labels, Default: def}, nil
	case opcode.Return:
		return instruction.Return{}, nil
	case opcode.Call:
		v, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		return instruction.Call{Index: v}, nil
	case opcode.CallIndirect:
		ti, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		tbl, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		return instruction.CallIndirect{TypeIndex: ti, TableIndex: tbl}, nil
	case opcode.Drop:
		return instruction.Drop{}, nil
	case opcode.Select:
		return instruction.Select{}, nil
	case opcode.LocalGet:
		v, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		return instruction.LocalGet{Index: v}, nil
	case opcode.LocalSet:
		v, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		return instruction.LocalSet{Index: v}, nil
	case opcode.LocalTee:
		v, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		return instruction.LocalTee{Index: v}, nil
	case opcode.GlobalGet:
		v, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		return instruction.GlobalGet{Index: v}, nil
	case opcode.GlobalSet:
		v, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		return instruction.GlobalSet{Index: v}, nil
	case opcode.MemorySize:
		if _, err := r.ReadByte(); err != nil {
			return nil, err
		}
		return instruction.MemorySize{}, nil
	case opcode.MemoryGrow:
		if _, err := r.ReadByte(); err != nil {
			return nil, err
		}
		return instruction.MemoryGrow{}, nil
	case opcode.I32Const:
		v, err := readVarInt32(r)
		if err != nil {
			return nil, err
		}
		return instruction.I32Const{Value: v}, nil
	case opcode.I64Const:
		v, err := readVarInt64(r, 64)
		if err != nil {
			return nil, err
		}
		return instruction.I64Const{Value: v}, nil
	case opcode.F32Const:
		var buf [4]byte
		if _, err := r.Read(buf[:]); err != nil {
			return nil, errors.Wrap(err, "reading f32.const")
		}
		return instruction.F32Const{Value: binary.LittleEndian.Uint32(buf[:])}, nil
	case opcode.F64Const:
		var buf [8]byte
		if _, err := r.Read(buf[:]); err != nil {
			return nil, errors.Wrap(err, "reading f64.const")
		}
		return instruction.F64Const{Value: binary.LittleEndian.Uint64(buf[:])}, nil
	}

	if loadOpcodes[op] {
		align, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		offset, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		return instruction.Load{Opcode: op, Arg: instruction.MemArg{Align: align, Offset: offset}}, nil
	}
	if storeOpcodes[op] {
		align, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		offset, err := readVarUint32(r)
		if err != nil {
			return nil, err
		}
		return instruction.Store{Opcode: op, Arg: instruction.MemArg{Align: align, Offset: offset}}, nil
	}
	if shape == opcode.ShapeNone {
		return instruction.Numeric{Opcode: op}, nil
	}
	return nil, errors.Errorf("opcode 0x%02x: unhandled immediate shape", opByte)
}

// readInstrSequence reads instructions until (and including) the End that
// closes this sequence, tracking nesting depth for Block/Loop/If so that
// matching nested End instructions don't terminate the read early. Used for
// both function bodies and constant expressions, which share the same
// instr* 0x0B grammar.
func readInstrSequence(r *byteReader) ([]instruction.Instruction, error) {
	var out []instruction.Instruction
	depth := 0
	for {
		instr, err := readInstr(r)
		if err != nil {
			return nil, err
		}
		out = append(out, instr)
		switch instr.(type) {
		case instruction.Block, instruction.Loop, instruction.If:
			depth++
		case instruction.End:
			if depth == 0 {
				return out, nil
			}
			depth--
		}
	}
}

// writeInstr encodes a single instruction.
func writeInstr(w *bytes.Buffer, instr instruction.Instruction) error {
	if err := w.WriteByte(byte(instr.Op())); err != nil {
		return err
	}
	switch ins := instr.(type) {
	case instruction.Block:
		return writeBlockType(w, ins.Type)
	case instruction.Loop:
		return writeBlockType(w, ins.Type)
	case instruction.If:
		return writeBlockType(w, ins.Type)
	case instruction.Else, instruction.End, instruction.Unreachable, instruction.Nop,
		instruction.Return, instruction.Drop, instruction.Select, instruction.Numeric:
		return nil
	case instruction.Br:
		return writeVarUint32(w, ins.Label)
	case instruction.BrIf:
		return writeVarUint32(w, ins.Label)
	case instruction.BrTable:
		if err := writeVarUint32(w, uint32(len(ins.Labels))); err != nil {
			return err
		}
		for _, l := range ins.Labels {
			if err := writeVarUint32(w, l); err != nil {
				return err
			}
		}
		return writeVarUint32(w, ins.Default)
	case instruction.Call:
		return writeVarUint32(w, ins.Index)
	case instruction.CallIndirect:
		if err := writeVarUint32(w, ins.TypeIndex); err != nil {
			return err
		}
		return writeVarUint32(w, ins.TableIndex)
	case instruction.LocalGet:
		return writeVarUint32(w, ins.Index)
	case instruction.LocalSet:
		return writeVarUint32(w, ins.Index)
	case instruction.LocalTee:
		return writeVarUint32(w, ins.Index)
	case instruction.GlobalGet:
		return writeVarUint32(w, ins.Index)
	case instruction.GlobalSet:
		return writeVarUint32(w, ins.Index)
	case instruction.MemorySize:
		return w.WriteByte(0x00)
	case instruction.MemoryGrow:
		return w.WriteByte(0x00)
	case instruction.I32Const:
		return writeVarInt32(w, ins.Value)
	case instruction.I64Const:
		return writeVarInt64(w, ins.Value)
	case instruction.F32Const:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], ins.Value)
		_, err := w.Write(buf[:])
		return err
	case instruction.F64Const:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], ins.Value)
		_, err := w.Write(buf[:])
		return err
	case instruction.Load:
		if err := writeVarUint32(w, ins.Arg.Align); err != nil {
			return err
		}
		return writeVarUint32(w, ins.Arg.Offset)
	case instruction.Store:
		if err := writeVarUint32(w, ins.Arg.Align); err != nil {
			return err
		}
		return writeVarUint32(w, ins.Arg.Offset)
	default:
		return errors.Errorf("unsupported instruction type %T", instr)
	}
}

func writeInstrSequence(w *bytes.Buffer, instrs []instruction.Instruction) error {
	for _, instr := range instrs {
		if err := writeInstr(w, instr); err != nil {
			return err
		}
	}
	return nil
}
