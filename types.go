package remotezip

import (
	"fmt"
	"mime"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"github.com/brightloom/remotezip/archiver"
	"github.com/brightloom/remotezip/extract"
	"github.com/brightloom/remotezip/internal/zipdir"
	"github.com/brightloom/remotezip/internal/ziptype"
)

// Entry describes one archive member (spec.md §3). Re-exported from
// internal/ziptype so callers never need to import it directly.
type Entry = ziptype.Entry

// Kind classifies an entry by filename extension for preview purposes
// (spec.md §4.4 step 5 / §6's table).
type Kind = extract.Kind

const (
	KindText         = extract.KindText
	KindCode         = extract.KindCode
	KindImage        = extract.KindImage
	KindVideo        = extract.KindVideo
	KindAudio        = extract.KindAudio
	KindPDF          = extract.KindPDF
	KindDocument     = extract.KindDocument
	KindSpreadsheet  = extract.KindSpreadsheet
	KindPresentation = extract.KindPresentation
	KindFont         = extract.KindFont
	KindUnsupported  = extract.KindUnsupported
)

// Sentinel and typed errors re-exported for callers matching with
// errors.Is/errors.As without importing internal/ziptype directly.
var (
	ErrNotAZip            = ziptype.ErrNotAZip
	ErrCorruptDirectory   = ziptype.ErrCorruptDirectory
	ErrCorruptLocalHeader = ziptype.ErrCorruptLocalHeader
	ErrCorruptDeflate     = ziptype.ErrCorruptDeflate
	ErrEntryNotFound      = ziptype.ErrEntryNotFound
)

type (
	UnsupportedCompressionError = ziptype.UnsupportedCompressionError
	EntryTooLargeError          = ziptype.EntryTooLargeError
	CorruptLocalHeaderError     = ziptype.CorruptLocalHeaderError
	CorruptDeflateError         = ziptype.CorruptDeflateError
)

// Warning is a non-fatal problem recorded against a single path, produced
// either while parsing the Central Directory or while re-fetching entries
// for a SurgicalArchiver selection (spec.md §3's addition, resolving Open
// Question 3: failures are collected, never silently dropped).
type Warning struct {
	Path string
	Err  error
}

func warningsFromDirectory(in []zipdir.Warning) []Warning {
	out := make([]Warning, len(in))
	for i, w := range in {
		out[i] = Warning{Path: w.Path, Err: w.Err}
	}
	return out
}

func warningsFromArchiver(in []archiver.Warning) []Warning {
	out := make([]Warning, len(in))
	for i, w := range in {
		out[i] = Warning{Path: w.Path, Err: w.Err}
	}
	return out
}

// ResourceHandle is an opaque reference to a resource a consumer keeps
// alive across requests — a preview too large to inline, or a media
// streaming endpoint. Release signals the handle is no longer needed;
// the zero-value Release is a no-op.
type ResourceHandle struct {
	ID      string
	release func()
}

// Release invokes the handle's cleanup function, if any.
func (h ResourceHandle) Release() {
	if h.release != nil {
		h.release()
	}
}

// ResultKind discriminates ExtractionResult's tagged union (spec.md §3).
type ResultKind uint8

const (
	ResultNotFound ResultKind = iota
	ResultText
	ResultBinary
	ResultStreamingRef
	ResultTooLarge
	ResultUnsupportedCompression
)

// ExtractionResult is the tagged union spec.md §3 describes: exactly one
// of its fields is meaningful, selected by Kind.
type ExtractionResult struct {
	Kind ResultKind

	// ResultText
	Text     string
	Encoding string

	// ResultBinary
	Binary   []byte
	MimeType string

	// ResultStreamingRef
	StreamingRef     ResourceHandle
	DataStart        uint64
	DataEndInclusive uint64

	// ResultTooLarge
	Size  uint64
	Limit uint64

	// ResultUnsupportedCompression
	Method uint16
}

func textResult(data []byte) ExtractionResult {
	return ExtractionResult{Kind: ResultText, Text: string(data), Encoding: "utf-8"}
}

func binaryResult(name string, data []byte) ExtractionResult {
	return ExtractionResult{Kind: ResultBinary, Binary: data, MimeType: mimeTypeFor(name)}
}

func tooLargeResult(err *ziptype.EntryTooLargeError) ExtractionResult {
	return ExtractionResult{Kind: ResultTooLarge, Size: err.Size, Limit: err.Limit}
}

func unsupportedResult(err *ziptype.UnsupportedCompressionError) ExtractionResult {
	return ExtractionResult{Kind: ResultUnsupportedCompression, Method: err.Method}
}

func mimeTypeFor(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// ContentDigest returns a stable content-addressable digest for the
// archive as a whole (spec.md §3's addition), suitable as a cache key or
// ETag-equivalent. The core itself never caches decompressed entry bytes
// across requests (spec.md's non-goal); this lets a consumer do so safely.
func (h *ArchiveHandle) ContentDigest() digest.Digest {
	return h.digest
}

func computeDigest(sourceURL string, totalSize uint64, buf []byte) digest.Digest {
	if buf != nil {
		return digest.FromBytes(buf)
	}
	return digest.FromString(fmt.Sprintf("%s:%d", sourceURL, totalSize))
}
