package testutil

import (
	"bytes"

	"github.com/klauspost/compress/flate"
)

// deflate compresses content as raw DEFLATE (no zlib/gzip wrapper), the
// same framing the extractor and archiver read and write.
func deflate(content []byte) []byte {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(content); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
