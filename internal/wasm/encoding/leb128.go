package encoding

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// readVarUint32 reads an unsigned LEB128-encoded value of at most 32 bits,
// following the teacher's internal/wasm/leb128 package naming convention
// (kept as a private helper here rather than its own package: this tool
// only ever needs the uint32/uint64/int32/int64 forms, not the general
// arbitrary-width decoder a multi-consumer package would want).
func readVarUint32(r io.ByteReader) (uint32, error) {
	v, err := readVarUint64(r, 32)
	return uint32(v), err
}

func readVarUint64(r io.ByteReader, bits int) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, errors.Wrap(err, "reading varuint")
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= uint(bits)+7 {
			return 0, errors.New("varuint overflow")
		}
	}
}

func readVarInt32(r io.ByteReader) (int32, error) {
	v, err := readVarInt64(r, 32)
	return int32(v), err
}

func readVarInt64(r io.ByteReader, bits int) (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, errors.Wrap(err, "reading varint")
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= uint(bits) {
			return 0, errors.New("varint overflow")
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

func writeVarUint32(w io.ByteWriter, v uint32) error {
	return writeVarUint64(w, uint64(v))
}

func writeVarUint64(w io.ByteWriter, v uint64) error {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		if err := w.WriteByte(b); err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
	}
}

func writeVarInt32(w io.ByteWriter, v int32) error {
	return writeVarInt64(w, int64(v))
}

func writeVarInt64(w io.ByteWriter, v int64) error {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			return w.WriteByte(b)
		}
		if err := w.WriteByte(b | 0x80); err != nil {
			return err
		}
	}
}

// readBytes reads a length-prefixed (varuint32) byte vector, as used for
// names and raw blobs.
func readBytes(r io.ByteReader) ([]byte, error) {
	n, err := readVarUint32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	for i := range buf {
		b, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "reading byte vector")
		}
		buf[i] = b
	}
	return buf, nil
}

func readName(r io.ByteReader) (string, error) {
	bs, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(bs), nil
}

func writeBytes(w *bytes.Buffer, bs []byte) error {
	if err := writeVarUint32(w, uint32(len(bs))); err != nil {
		return err
	}
	_, err := w.Write(bs)
	return err
}

func writeName(w *bytes.Buffer, s string) error {
	return writeBytes(w, []byte(s))
}
