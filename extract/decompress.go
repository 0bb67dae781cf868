package extract

import (
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// flateReader is the subset of klauspost/compress/flate's decompressor
// interface needed to reuse one across reads via Reset, mirroring the
// standard library's compress/flate.Reader contract.
type flateReader interface {
	io.ReadCloser
	Reset(r io.Reader, dict []byte) error
}

// decompressPool manages reusable raw-DEFLATE decoders to avoid allocating
// a fresh decode table on every entry extraction.
type decompressPool struct {
	pool *sync.Pool
}

func newDecompressPool() *decompressPool {
	return &decompressPool{
		pool: &sync.Pool{
			New: func() any { return flate.NewReader(nil) },
		},
	}
}

// get returns a decoder reset to read from r. The caller must call the
// returned release function when done.
func (p *decompressPool) get(r io.Reader) (flateReader, func()) {
	dec := p.pool.Get().(flateReader)
	if err := dec.Reset(r, nil); err != nil {
		// Reset failed (corrupt pooled state); discard it and hand the
		// caller a fresh one rather than propagating a pool artifact.
		dec = flate.NewReader(r).(flateReader)
	}
	return dec, func() {
		dec.Close()
		p.pool.Put(dec)
	}
}
