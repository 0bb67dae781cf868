package bytesource

import "context"

// Buffer is a Source backed by an in-memory byte slice. It always supports
// ranges and its length is always known.
type Buffer struct {
	data []byte
}

// NewBuffer wraps data as a Source. The slice is retained, not copied;
// callers must not mutate it afterward.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Length implements Source.
func (b *Buffer) Length() (uint64, bool) {
	return uint64(len(b.data)), true
}

// SupportsRanges implements Source.
func (b *Buffer) SupportsRanges() RangeSupport {
	return RangeSupportYes
}

// Read implements Source.
func (b *Buffer) Read(_ context.Context, start, endInclusive uint64) ([]byte, error) {
	total := uint64(len(b.data))
	if endInclusive >= total || start > endInclusive {
		return nil, ErrOutOfBounds
	}
	out := make([]byte, endInclusive-start+1)
	copy(out, b.data[start:endInclusive+1])
	return out, nil
}

var _ Source = (*Buffer)(nil)
