package zipdir_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/brightloom/remotezip/internal/bytesource"
	"github.com/brightloom/remotezip/internal/testutil"
	"github.com/brightloom/remotezip/internal/zipdir"
	"github.com/brightloom/remotezip/internal/zipfmt"
	"github.com/brightloom/remotezip/internal/ziptype"
)

func TestParseTinyStoredArchive(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().
		Add(testutil.File{Name: "a.txt", Content: []byte("hello"), Method: testutil.MethodStored}).
		Build()

	dir, warnings, err := zipdir.NewParser().Parse(context.Background(), bytesource.NewBuffer(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(dir.Entries) != 1 {
		t.Fatalf("len(Entries) = %d, want 1", len(dir.Entries))
	}

	e := dir.Entries[0]
	if e.Path != "a.txt" || e.Name != "a.txt" {
		t.Errorf("Path/Name = %q/%q, want a.txt/a.txt", e.Path, e.Name)
	}
	if e.CompressedSize != 5 || e.UncompressedSize != 5 {
		t.Errorf("sizes = %d/%d, want 5/5", e.CompressedSize, e.UncompressedSize)
	}
	if e.CompressionMethod != zipfmt.MethodStored {
		t.Errorf("CompressionMethod = %d, want 0", e.CompressionMethod)
	}
}

func TestParseDeflateEntry(t *testing.T) {
	t.Parallel()

	content := make([]byte, 1<<20)
	for i := range content {
		content[i] = 0x41
	}
	data := testutil.NewBuilder().
		Add(testutil.File{Name: "big.bin", Content: content, Method: testutil.MethodDeflate}).
		Build()

	dir, _, err := zipdir.NewParser().Parse(context.Background(), bytesource.NewBuffer(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	e := dir.Entries[0]
	if e.CompressedSize >= e.UncompressedSize {
		t.Errorf("CompressedSize %d should be < UncompressedSize %d", e.CompressedSize, e.UncompressedSize)
	}
	if e.UncompressedSize != uint64(len(content)) {
		t.Errorf("UncompressedSize = %d, want %d", e.UncompressedSize, len(content))
	}
}

func TestParseZip64Boundary(t *testing.T) {
	t.Parallel()

	// Forge a single entry whose fixed-width sizes are the ZIP64 sentinel
	// and whose ZIP64 extra field carries the true 64-bit size, without
	// allocating 4GiB of real content.
	data := []byte("hi")
	b := testutil.NewBuilder().Add(testutil.File{
		Name:       "huge.bin",
		Content:    data,
		Method:     testutil.MethodStored,
		ForceZip64: true,
	})
	archive := b.Build()

	dir, _, err := zipdir.NewParser().Parse(context.Background(), bytesource.NewBuffer(archive))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	e := dir.Entries[0]
	if e.CompressedSize != uint64(len(data)) || e.UncompressedSize != uint64(len(data)) {
		t.Fatalf("sizes = %d/%d, want %d/%d (read back through zip64 extra field)", e.CompressedSize, e.UncompressedSize, len(data), len(data))
	}
}

// TestParseZip64BeyondFourGiB constructs a Central Directory record by hand
// to verify the exact replacement described in the ZIP64 boundary scenario:
// compressed_size = 0xFFFFFFFF in the fixed record, true size
// 0x1_0000_0005 in the extra field.
func TestParseZip64BeyondFourGiB(t *testing.T) {
	t.Parallel()

	name := "z.bin"
	const trueCompressedSize = 0x1_0000_0005
	const trueUncompressedSize = 0x1_0000_0005

	var extra []byte
	var u8 [8]byte
	binary.LittleEndian.PutUint64(u8[:], trueUncompressedSize)
	extra = append(extra, u8[:]...)
	binary.LittleEndian.PutUint64(u8[:], trueCompressedSize)
	extra = append(extra, u8[:]...)
	var extraHdr [4]byte
	binary.LittleEndian.PutUint16(extraHdr[0:2], zipfmt.Zip64ExtraFieldID)
	binary.LittleEndian.PutUint16(extraHdr[2:4], uint16(len(extra)))
	extraField := append(extraHdr[:], extra...)

	cdRecord := make([]byte, zipfmt.CentralDirHeaderFixedSize+len(name)+len(extraField))
	binary.LittleEndian.PutUint32(cdRecord[0:4], zipfmt.SigCentralDirHeader)
	binary.LittleEndian.PutUint16(cdRecord[10:12], zipfmt.MethodStored)
	binary.LittleEndian.PutUint32(cdRecord[20:24], zipfmt.Sentinel32)
	binary.LittleEndian.PutUint32(cdRecord[24:28], zipfmt.Sentinel32)
	binary.LittleEndian.PutUint16(cdRecord[28:30], uint16(len(name)))
	binary.LittleEndian.PutUint16(cdRecord[30:32], uint16(len(extraField)))
	binary.LittleEndian.PutUint32(cdRecord[42:46], 0)
	copy(cdRecord[46:46+len(name)], name)
	copy(cdRecord[46+len(name):], extraField)

	var eocd [zipfmt.EOCDFixedSize]byte
	binary.LittleEndian.PutUint32(eocd[0:4], zipfmt.SigEOCD)
	binary.LittleEndian.PutUint16(eocd[8:10], 1)
	binary.LittleEndian.PutUint16(eocd[10:12], 1)
	binary.LittleEndian.PutUint32(eocd[12:16], uint32(len(cdRecord)))
	binary.LittleEndian.PutUint32(eocd[16:20], 0)

	archive := append(append([]byte{}, cdRecord...), eocd[:]...)

	dir, _, err := zipdir.NewParser().Parse(context.Background(), bytesource.NewBuffer(archive))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	e := dir.Entries[0]
	const wantSize = 4_294_967_301
	if e.CompressedSize != wantSize {
		t.Errorf("CompressedSize = %d, want %d", e.CompressedSize, wantSize)
	}
	if e.UncompressedSize != wantSize {
		t.Errorf("UncompressedSize = %d, want %d", e.UncompressedSize, wantSize)
	}
}

func TestParseRejectsNonZip(t *testing.T) {
	t.Parallel()

	_, _, err := zipdir.NewParser().Parse(context.Background(), bytesource.NewBuffer([]byte("not a zip")))
	if err != ziptype.ErrNotAZip {
		t.Fatalf("Parse() error = %v, want ErrNotAZip", err)
	}
}

func TestParseRejectsTooSmall(t *testing.T) {
	t.Parallel()

	_, _, err := zipdir.NewParser().Parse(context.Background(), bytesource.NewBuffer([]byte("hi")))
	if err != ziptype.ErrNotAZip {
		t.Fatalf("Parse() error = %v, want ErrNotAZip", err)
	}
}

func TestParsePreservesCentralDirectoryOrder(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().
		Add(testutil.File{Name: "z.txt", Content: []byte("z"), Method: testutil.MethodStored}).
		Add(testutil.File{Name: "a.txt", Content: []byte("a"), Method: testutil.MethodStored}).
		Add(testutil.File{Name: "m.txt", Content: []byte("m"), ModTime: time.Now(), Method: testutil.MethodStored}).
		Build()

	dir, _, err := zipdir.NewParser().Parse(context.Background(), bytesource.NewBuffer(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []string{"z.txt", "a.txt", "m.txt"}
	for i, e := range dir.Entries {
		if e.Path != want[i] {
			t.Errorf("Entries[%d].Path = %q, want %q", i, e.Path, want[i])
		}
	}
}
