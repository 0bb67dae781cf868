// Package extract resolves an entry's Local File Header, fetches its
// compressed region, and decodes STORED or DEFLATE data — spec.md §4.4's
// EntryExtractor.
package extract

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/brightloom/remotezip/internal/bytesource"
	"github.com/brightloom/remotezip/internal/zipfmt"
	"github.com/brightloom/remotezip/internal/ziptype"
)

// DefaultPreviewLimit is the policy constant from spec.md §5: previews
// above this size are rejected with EntryTooLargeError rather than fetched.
const DefaultPreviewLimit = 25 << 20 // 25 MiB

// Extractor fetches and decodes archive entries against a ByteSource.
type Extractor struct {
	source       bytesource.Source
	previewLimit uint64
	logger       *slog.Logger
	decompress   *decompressPool
	group        singleflight.Group
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithPreviewLimit overrides DefaultPreviewLimit.
func WithPreviewLimit(n uint64) Option {
	return func(e *Extractor) { e.previewLimit = n }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// New creates an Extractor reading from source.
func New(source bytesource.Source, opts ...Option) *Extractor {
	e := &Extractor{
		source:       source,
		previewLimit: DefaultPreviewLimit,
		decompress:   newDecompressPool(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extractor) log() *slog.Logger {
	if e.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.logger
}

// Extract runs the full decode sequence (spec.md §4.4 steps 1-3) and
// returns the entry's raw decompressed bytes. It never returns a partial
// buffer: on any failure the returned slice is nil.
func (e *Extractor) Extract(ctx context.Context, entry ziptype.Entry) ([]byte, error) {
	key := fmt.Sprintf("%d", entry.LocalHeaderOffset)
	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.extract(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Preview applies the preview-size gate (spec.md §4.4 step 4) before
// extracting: if entry.UncompressedSize exceeds the configured preview
// limit, extraction is skipped and EntryTooLargeError is returned.
func (e *Extractor) Preview(ctx context.Context, entry ziptype.Entry) ([]byte, error) {
	if entry.UncompressedSize > e.previewLimit {
		return nil, &ziptype.EntryTooLargeError{Size: entry.UncompressedSize, Limit: e.previewLimit}
	}
	return e.Extract(ctx, entry)
}

// ResolveRange computes the absolute compressed-data byte range for entry
// within the extractor's ByteSource, without fetching or decoding it. It
// exists for callers (such as media.Gateway) that need the entry's data
// coordinates but serve the bytes themselves.
func (e *Extractor) ResolveRange(ctx context.Context, entry ziptype.Entry) (dataStart, dataEndInclusive uint64, err error) {
	return e.resolveDataOffsets(ctx, entry)
}

func (e *Extractor) extract(ctx context.Context, entry ziptype.Entry) ([]byte, error) {
	dataStart, dataEndInclusive, err := e.resolveDataOffsets(ctx, entry)
	if err != nil {
		return nil, err
	}

	if entry.CompressedSize == 0 {
		return e.decode(entry, nil)
	}

	compressed, err := e.source.Read(ctx, dataStart, dataEndInclusive)
	if err != nil {
		return nil, fmt.Errorf("remotezip: %s: fetch compressed region: %w", entry.Path, err)
	}
	return e.decode(entry, compressed)
}

// resolveDataOffsets implements spec.md §4.4 step 1: fetch the Local File
// Header (probing up to LocalFileHeaderProbeSize bytes past its start,
// clamped to the end of the source, re-fetching on overflow) and compute
// the absolute compressed-data byte range.
func (e *Extractor) resolveDataOffsets(ctx context.Context, entry ziptype.Entry) (dataStart, dataEndInclusive uint64, err error) {
	probeEnd := entry.LocalHeaderOffset + zipfmt.LocalFileHeaderProbeSize
	if total, ok := e.source.Length(); ok && total > 0 && probeEnd >= total {
		probeEnd = total - 1
	}
	header, err := e.source.Read(ctx, entry.LocalHeaderOffset, probeEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("remotezip: %s: fetch local file header: %w", entry.Path, err)
	}
	if len(header) < zipfmt.LocalFileHeaderFixedSize {
		return 0, 0, &ziptype.CorruptLocalHeaderError{Path: entry.Path, Err: fmt.Errorf("truncated header")}
	}
	if binary.LittleEndian.Uint32(header[0:4]) != zipfmt.SigLocalFileHeader {
		return 0, 0, &ziptype.CorruptLocalHeaderError{Path: entry.Path, Err: fmt.Errorf("signature mismatch")}
	}

	nameLen := int(binary.LittleEndian.Uint16(header[26:28]))
	extraLen := int(binary.LittleEndian.Uint16(header[28:30]))
	need := zipfmt.LocalFileHeaderFixedSize + nameLen + extraLen

	if need > len(header) {
		header, err = e.source.Read(ctx, entry.LocalHeaderOffset, entry.LocalHeaderOffset+uint64(need)-1)
		if err != nil {
			return 0, 0, fmt.Errorf("remotezip: %s: re-fetch local file header: %w", entry.Path, err)
		}
		if len(header) < need {
			return 0, 0, &ziptype.CorruptLocalHeaderError{Path: entry.Path, Err: fmt.Errorf("truncated header after re-fetch")}
		}
	}

	dataStart = entry.LocalHeaderOffset + uint64(need)
	if entry.CompressedSize == 0 {
		return dataStart, dataStart, nil
	}
	dataEndInclusive = dataStart + entry.CompressedSize - 1
	return dataStart, dataEndInclusive, nil
}

// decode applies spec.md §4.4 step 3.
func (e *Extractor) decode(entry ziptype.Entry, compressed []byte) ([]byte, error) {
	switch entry.CompressionMethod {
	case zipfmt.MethodStored:
		if uint64(len(compressed)) != entry.UncompressedSize {
			return nil, &ziptype.CorruptDeflateError{Path: entry.Path, Err: fmt.Errorf("stored size mismatch: got %d want %d", len(compressed), entry.UncompressedSize)}
		}
		return compressed, nil

	case zipfmt.MethodDeflate:
		dec, release := e.decompress.get(bytes.NewReader(compressed))
		defer release()

		out := make([]byte, entry.UncompressedSize)
		n, err := io.ReadFull(dec, out)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, &ziptype.CorruptDeflateError{Path: entry.Path, Err: err}
		}
		if uint64(n) != entry.UncompressedSize {
			return nil, &ziptype.CorruptDeflateError{Path: entry.Path, Err: fmt.Errorf("short read: got %d want %d", n, entry.UncompressedSize)}
		}
		// Confirm the stream actually ends where declared: a further
		// non-EOF byte means the recorded size was wrong.
		var extra [1]byte
		if _, err := dec.Read(extra[:]); err != io.EOF {
			return nil, &ziptype.CorruptDeflateError{Path: entry.Path, Err: fmt.Errorf("trailing data after declared size")}
		}
		return out, nil

	default:
		return nil, &ziptype.UnsupportedCompressionError{Method: entry.CompressionMethod}
	}
}
