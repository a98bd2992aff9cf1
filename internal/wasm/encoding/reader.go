package encoding

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// byteReader wraps a bytes.Reader and tracks the current offset, so parse
// failures can report where in the input they happened — the "byte offset
// where decoding failed" SPEC_FULL.md's error design calls for.
type byteReader struct {
	r *bytes.Reader
}

func newByteReader(r io.Reader) (*byteReader, error) {
	bs, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading module bytes")
	}
	return &byteReader{r: bytes.NewReader(bs)}, nil
}

func (b *byteReader) ReadByte() (byte, error) {
	return b.r.ReadByte()
}

func (b *byteReader) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

// Offset returns the current read position, for error reporting.
func (b *byteReader) Offset() int64 {
	return b.r.Size() - int64(b.r.Len())
}

// sub reads n raw bytes and returns a byteReader scoped to exactly that
// slice, so that decoding a section cannot accidentally read past its
// declared size into the next section.
func (b *byteReader) sub(n uint32) (*byteReader, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return nil, errors.Wrap(err, "reading section bytes")
	}
	return &byteReader{r: bytes.NewReader(buf)}, nil
}

func (b *byteReader) atEOF() bool {
	return b.r.Len() == 0
}
