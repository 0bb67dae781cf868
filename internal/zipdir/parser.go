// Package zipdir locates and decodes a ZIP archive's End-of-Central-
// Directory record, its optional ZIP64 extension, and the Central
// Directory File Headers that follow — spec.md §4.3's DirectoryParser.
package zipdir

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/brightloom/remotezip/internal/bytesource"
	"github.com/brightloom/remotezip/internal/zipfmt"
	"github.com/brightloom/remotezip/internal/ziptype"
)

// Warning describes a non-fatal problem encountered while parsing. Per
// spec.md §7's propagation policy, the parser recovers from per-entry
// corruption by continuing and attaching warnings rather than aborting.
type Warning struct {
	Path string
	Err  error
}

// Directory is the parsed result: the ordered entry list plus the Central
// Directory's own coordinates and the entry count its end record declares.
type Directory struct {
	Entries      []ziptype.Entry
	CDOffset     uint64
	CDSize       uint64
	TotalEntries uint64
}

// Parser locates and decodes the Central Directory of a ByteSource.
type Parser struct {
	logger *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger attaches a structured logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) { p.logger = logger }
}

// NewParser creates a Parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Parser) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Parse runs the full location + decode sequence (spec.md §4.3 steps 1-5).
// It returns the entries successfully decoded so far even when a non-fatal
// warning terminates the Central Directory scan early; only the fatal
// conditions listed in spec.md §7 (EOCD missing, ZIP64 locator
// inconsistent, Central Directory truncated) return a non-nil error.
func (p *Parser) Parse(ctx context.Context, src bytesource.Source) (*Directory, []Warning, error) {
	total, ok := src.Length()
	if !ok {
		return nil, nil, fmt.Errorf("remotezip: cannot parse directory: source length unknown")
	}
	if total < zipfmt.EOCDFixedSize {
		return nil, nil, ziptype.ErrNotAZip
	}

	tailSize := min(uint64(zipfmt.EOCDFixedSize+zipfmt.EOCDMaxCommentSize), total)
	tail, err := src.Read(ctx, total-tailSize, total-1)
	if err != nil {
		return nil, nil, fmt.Errorf("remotezip: fetch EOCD tail: %w", err)
	}
	tailStart := total - tailSize

	eocdPos, ok := findEOCD(tail)
	if !ok {
		return nil, nil, ziptype.ErrNotAZip
	}
	eocd := tail[eocdPos:]

	var (
		cdOffset, cdSize, entryCount uint64
	)

	var isZip64 bool

	// Step 2: ZIP64 detection. The locator, if present, is the 20 bytes
	// immediately preceding the EOCD.
	if eocdPos >= zipfmt.ZIP64EOCDLocatorSize {
		locator := tail[eocdPos-zipfmt.ZIP64EOCDLocatorSize : eocdPos]
		if binary.LittleEndian.Uint32(locator[0:4]) == zipfmt.SigZIP64EOCDLocator {
			zip64Offset := binary.LittleEndian.Uint64(locator[8:16])

			var zip64Rec []byte
			if zip64Offset >= tailStart && zip64Offset+zipfmt.ZIP64EOCDFixedSize <= tailStart+uint64(len(tail)) {
				start := zip64Offset - tailStart
				zip64Rec = tail[start : start+zipfmt.ZIP64EOCDFixedSize]
			} else {
				fetched, err := src.Read(ctx, zip64Offset, zip64Offset+zipfmt.ZIP64EOCDFixedSize-1)
				if err != nil {
					return nil, nil, fmt.Errorf("remotezip: fetch zip64 eocd: %w", err)
				}
				zip64Rec = fetched
			}

			if len(zip64Rec) < zipfmt.ZIP64EOCDFixedSize || binary.LittleEndian.Uint32(zip64Rec[0:4]) != zipfmt.SigZIP64EOCD {
				return nil, nil, fmt.Errorf("%w: zip64 eocd signature mismatch", ziptype.ErrCorruptDirectory)
			}
			entryCount = binary.LittleEndian.Uint64(zip64Rec[32:40])
			cdSize = binary.LittleEndian.Uint64(zip64Rec[40:48])
			cdOffset = binary.LittleEndian.Uint64(zip64Rec[48:56])
			isZip64 = true
		}
	}

	if !isZip64 {
		if len(eocd) < zipfmt.EOCDFixedSize {
			return nil, nil, fmt.Errorf("%w: truncated eocd", ziptype.ErrCorruptDirectory)
		}
		entryCount = uint64(binary.LittleEndian.Uint16(eocd[10:12]))
		cdSize = uint64(binary.LittleEndian.Uint32(eocd[12:16]))
		cdOffset = uint64(binary.LittleEndian.Uint32(eocd[16:20]))
	}

	// Step 3: fetch the Central Directory.
	var cdBuf []byte
	if cdOffset >= tailStart && cdOffset+cdSize <= tailStart+uint64(len(tail)) {
		start := cdOffset - tailStart
		cdBuf = tail[start : start+cdSize]
	} else {
		if cdSize == 0 {
			cdBuf = nil
		} else {
			fetched, err := src.Read(ctx, cdOffset, cdOffset+cdSize-1)
			if err != nil {
				return nil, nil, fmt.Errorf("remotezip: fetch central directory: %w", err)
			}
			cdBuf = fetched
		}
	}

	entries, warnings := decodeCentralDirectory(cdBuf, p.log())

	return &Directory{
		Entries:      entries,
		CDOffset:     cdOffset,
		CDSize:       cdSize,
		TotalEntries: entryCount,
	}, warnings, nil
}

// findEOCD scans tail backward for the EOCD signature, aligned on any byte
// offset, and returns its position within tail.
func findEOCD(tail []byte) (int, bool) {
	if len(tail) < zipfmt.EOCDFixedSize {
		return 0, false
	}
	for i := len(tail) - zipfmt.EOCDFixedSize; i >= 0; i-- {
		if binary.LittleEndian.Uint32(tail[i:i+4]) == zipfmt.SigEOCD {
			return i, true
		}
	}
	return 0, false
}

// decodeCentralDirectory iterates Central Directory File Headers starting
// at position 0 in cd, decoding each into a ziptype.Entry. It stops and
// returns a warning (not an error) the moment a signature check fails,
// per spec.md §4.3's failure semantics.
func decodeCentralDirectory(cd []byte, logger *slog.Logger) ([]ziptype.Entry, []Warning) {
	var (
		entries  []ziptype.Entry
		warnings []Warning
		pos      int
	)

	for pos+zipfmt.CentralDirHeaderFixedSize <= len(cd) {
		rec := cd[pos:]
		sig := binary.LittleEndian.Uint32(rec[0:4])
		if sig != zipfmt.SigCentralDirHeader {
			warnings = append(warnings, Warning{
				Err: fmt.Errorf("%w: signature mismatch at directory offset %d", ziptype.ErrCorruptDirectory, pos),
			})
			break
		}

		compressionMethod := binary.LittleEndian.Uint16(rec[10:12])
		dosTime := binary.LittleEndian.Uint16(rec[12:14])
		dosDate := binary.LittleEndian.Uint16(rec[14:16])
		compressedSize := uint64(binary.LittleEndian.Uint32(rec[20:24]))
		uncompressedSize := uint64(binary.LittleEndian.Uint32(rec[24:28]))
		nameLen := int(binary.LittleEndian.Uint16(rec[28:30]))
		extraLen := int(binary.LittleEndian.Uint16(rec[30:32]))
		commentLen := int(binary.LittleEndian.Uint16(rec[32:34]))
		localHeaderOffset := uint64(binary.LittleEndian.Uint32(rec[42:46]))

		recordLen := zipfmt.CentralDirHeaderFixedSize + nameLen + extraLen + commentLen
		if pos+recordLen > len(cd) {
			warnings = append(warnings, Warning{
				Err: fmt.Errorf("%w: truncated record at directory offset %d", ziptype.ErrCorruptDirectory, pos),
			})
			break
		}

		nameBytes := rec[zipfmt.CentralDirHeaderFixedSize : zipfmt.CentralDirHeaderFixedSize+nameLen]
		extraBytes := rec[zipfmt.CentralDirHeaderFixedSize+nameLen : zipfmt.CentralDirHeaderFixedSize+nameLen+extraLen]

		path, escaped := decodeName(nameBytes)

		compressedSize, uncompressedSize, localHeaderOffset = applyZip64Extra(
			extraBytes, compressedSize, uncompressedSize, localHeaderOffset)

		entry := ziptype.Entry{
			Path:              path,
			Name:              ziptype.SplitPath(path),
			IsDirectory:       len(path) > 0 && path[len(path)-1] == '/',
			CompressedSize:    compressedSize,
			UncompressedSize:  uncompressedSize,
			CompressionMethod: compressionMethod,
			LocalHeaderOffset: localHeaderOffset,
			DirectoryIndex:    len(entries),
			LastModified:      zipfmt.DOSDateTime(dosDate, dosTime),
			PathEscaped:       escaped,
		}
		entries = append(entries, entry)

		pos += recordLen
	}

	logger.Debug("decoded central directory", "entries", len(entries), "warnings", len(warnings))
	return entries, warnings
}

// applyZip64Extra scans the extra field for a ZIP64 extended-information
// block (header id 0x0001) and substitutes any of the three sentinel-valued
// fields with their 64-bit replacements. The replacements appear, in
// order, only for the fields whose fixed-width value was the 0xFFFFFFFF
// sentinel — uncompressed size, then compressed size, then local header
// offset (disk number, a fourth optional field, is not read: this
// implementation does not support multi-disk archives).
func applyZip64Extra(extra []byte, compressedSize, uncompressedSize, localHeaderOffset uint64) (cSize, uSize, offset uint64) {
	cSize, uSize, offset = compressedSize, uncompressedSize, localHeaderOffset

	needsZip64 := compressedSize == uint64(zipfmt.Sentinel32) ||
		uncompressedSize == uint64(zipfmt.Sentinel32) ||
		localHeaderOffset == uint64(zipfmt.Sentinel32)
	if !needsZip64 {
		return
	}

	pos := 0
	for pos+4 <= len(extra) {
		id := binary.LittleEndian.Uint16(extra[pos : pos+2])
		size := int(binary.LittleEndian.Uint16(extra[pos+2 : pos+4]))
		blockStart := pos + 4
		if blockStart+size > len(extra) {
			return
		}
		if id == zipfmt.Zip64ExtraFieldID {
			block := extra[blockStart : blockStart+size]
			off := 0
			if uncompressedSize == uint64(zipfmt.Sentinel32) && off+8 <= len(block) {
				uSize = binary.LittleEndian.Uint64(block[off : off+8])
				off += 8
			}
			if compressedSize == uint64(zipfmt.Sentinel32) && off+8 <= len(block) {
				cSize = binary.LittleEndian.Uint64(block[off : off+8])
				off += 8
			}
			if localHeaderOffset == uint64(zipfmt.Sentinel32) && off+8 <= len(block) {
				offset = binary.LittleEndian.Uint64(block[off : off+8])
				off += 8
			}
			return
		}
		pos = blockStart + size
	}
	return
}

// decodeName interprets nameBytes as UTF-8. If decoding fails the entry is
// still listed but its path is replacement-escaped, per spec.md §4.3.
func decodeName(nameBytes []byte) (path string, escaped bool) {
	if utf8.Valid(nameBytes) {
		return string(nameBytes), false
	}
	return string([]rune(string(nameBytes))), true
}
