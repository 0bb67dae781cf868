// Package archiver assembles a new ZIP archive from a selected subset of
// an existing archive's entries, re-fetching each through an extractor —
// spec.md §4.6's SurgicalArchiver.
package archiver

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/klauspost/compress/flate"

	"github.com/brightloom/remotezip/internal/zipfmt"
	"github.com/brightloom/remotezip/internal/ziptype"
)

// Size policy constants (spec.md §4.6).
const (
	// ConfirmSizeThreshold is the selection size above which Build invokes
	// the caller-visible confirmation hook before fetching begins.
	ConfirmSizeThreshold = 200 << 20 // 200 MiB

	// ConfirmEntryCountThreshold is the entry-count analog of
	// ConfirmSizeThreshold.
	ConfirmEntryCountThreshold = 50
)

// Extractor is the subset of extract.Extractor that Archiver depends on.
type Extractor interface {
	Extract(ctx context.Context, entry ziptype.Entry) ([]byte, error)
}

// ConfirmFunc is invoked once, before any fetching begins, when a
// selection crosses ConfirmSizeThreshold or ConfirmEntryCountThreshold. It
// returns false to abort the build with ErrSelectionNotConfirmed.
type ConfirmFunc func(totalUncompressedSize uint64, entryCount int) bool

// Warning reports a single entry that failed extraction and was skipped,
// resolving spec.md §9's "silent skip" open question explicitly.
type Warning struct {
	Path string
	Err  error
}

// Result is the product of a successful Build.
type Result struct {
	Data    []byte
	Entries []ziptype.Entry
}

// Archiver builds new ZIP archives from a selection of entries belonging
// to one source archive.
type Archiver struct {
	extractor          Extractor
	workers            int
	onProgress         ProgressFunc
	onConfirm          ConfirmFunc
	confirmSizeThresh  uint64
	confirmCountThresh int
	logger             *slog.Logger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithWorkers bounds concurrent re-fetches. Values < 1 force serial
// fetching. Default 4.
func WithWorkers(n int) Option {
	return func(a *Archiver) {
		if n < 1 {
			n = 1
		}
		a.workers = n
	}
}

// WithProgress attaches a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(a *Archiver) { a.onProgress = fn }
}

// WithConfirm attaches the size-policy confirmation hook.
func WithConfirm(fn ConfirmFunc) Option {
	return func(a *Archiver) { a.onConfirm = fn }
}

// WithConfirmThresholds overrides ConfirmSizeThreshold and
// ConfirmEntryCountThreshold for this Archiver, e.g. for tests that want
// to exercise the confirmation path without a 200 MiB fixture.
func WithConfirmThresholds(size uint64, count int) Option {
	return func(a *Archiver) {
		a.confirmSizeThresh = size
		a.confirmCountThresh = count
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archiver) { a.logger = logger }
}

// New creates an Archiver pulling entry bytes through extractor.
func New(extractor Extractor, opts ...Option) *Archiver {
	a := &Archiver{
		extractor:          extractor,
		workers:            4,
		confirmSizeThresh:  ConfirmSizeThreshold,
		confirmCountThresh: ConfirmEntryCountThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Archiver) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// ErrSelectionNotConfirmed is returned when Build's confirmation hook
// rejects a large selection.
var ErrSelectionNotConfirmed = fmt.Errorf("remotezip: archive selection not confirmed")

// Build re-fetches every entry in selection, DEFLATE-encodes each at the
// default compression level, and assembles a new ZIP. Directory entries
// (IsDirectory) are preserved as zero-length STORED entries without being
// passed to the extractor. Central Directory iteration order of the
// source archive is preserved regardless of the order entries appear in
// selection.
func (a *Archiver) Build(ctx context.Context, selection []ziptype.Entry) (*Result, []Warning, error) {
	ordered := make([]ziptype.Entry, len(selection))
	copy(ordered, selection)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DirectoryIndex < ordered[j].DirectoryIndex
	})

	var totalSize uint64
	for _, e := range ordered {
		totalSize += e.UncompressedSize
	}
	if a.onConfirm != nil && (totalSize > a.confirmSizeThresh || len(ordered) > a.confirmCountThresh) {
		if !a.onConfirm(totalSize, len(ordered)) {
			return nil, nil, ErrSelectionNotConfirmed
		}
	}

	results := make([]entryFetch, len(ordered))

	workers := a.workers
	if workers > len(ordered) {
		workers = len(ordered)
	}
	if workers < 1 {
		workers = 1
	}

	eg, egCtx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(workers))
	var done atomic.Int64

	for i, entry := range ordered {
		i, entry := i, entry
		if entry.IsDirectory {
			results[i] = entryFetch{entry: entry}
			continue
		}
		eg.Go(func() error {
			if err := sem.Acquire(egCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			content, err := a.extractor.Extract(egCtx, entry)
			if err != nil {
				results[i] = entryFetch{entry: entry, skipped: true, err: err}
				a.log().Warn("archiver: entry skipped", "path", entry.Path, "error", err)
			} else {
				results[i] = entryFetch{entry: entry, content: content}
			}
			if a.onProgress != nil {
				n := done.Add(1)
				a.onProgress(ProgressEvent{Stage: StageFetching, Path: entry.Path, FilesDone: int(n), FilesTotal: len(ordered)})
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, fmt.Errorf("remotezip: archiver: %w", err)
	}

	var warnings []Warning
	var kept []entryFetch
	for _, r := range results {
		if r.skipped {
			warnings = append(warnings, Warning{Path: r.entry.Path, Err: r.err})
			continue
		}
		kept = append(kept, r)
	}

	if a.onProgress != nil {
		a.onProgress(ProgressEvent{Stage: StageFinalizing, FilesDone: len(kept), FilesTotal: len(kept)})
	}

	data, entries, err := assemble(kept)
	if err != nil {
		return nil, warnings, err
	}
	return &Result{Data: data, Entries: entries}, warnings, nil
}

// entryFetch holds one selected entry's re-fetch outcome.
type entryFetch struct {
	entry   ziptype.Entry
	content []byte
	skipped bool
	err     error
}

func assemble(kept []entryFetch) ([]byte, []ziptype.Entry, error) {
	var buf bytes.Buffer
	type placed struct {
		entry       ziptype.Entry
		compressed  []byte
		localOffset uint64
		method      uint16
	}
	placedEntries := make([]placed, 0, len(kept))

	for _, k := range kept {
		method := zipfmt.MethodDeflate
		compressed := k.content
		if k.entry.IsDirectory || len(k.content) == 0 {
			method = zipfmt.MethodStored
			compressed = nil
		} else {
			var err error
			compressed, err = deflateEncode(k.content)
			if err != nil {
				return nil, nil, fmt.Errorf("remotezip: archiver: deflate %s: %w", k.entry.Path, err)
			}
		}

		localOffset := uint64(buf.Len())
		writeLocalFileHeader(&buf, k.entry, method, compressed)
		buf.Write(compressed)

		placedEntries = append(placedEntries, placed{
			entry:       k.entry,
			compressed:  compressed,
			localOffset: localOffset,
			method:      method,
		})
	}

	cdStart := buf.Len()
	for _, p := range placedEntries {
		writeCentralDirHeader(&buf, p.entry, p.method, p.compressed, p.localOffset)
	}
	cdSize := buf.Len() - cdStart

	writeEOCD(&buf, len(placedEntries), cdSize, cdStart)

	outEntries := make([]ziptype.Entry, len(placedEntries))
	for i, p := range placedEntries {
		e := p.entry
		e.CompressionMethod = p.method
		e.CompressedSize = uint64(len(p.compressed))
		e.LocalHeaderOffset = p.localOffset
		outEntries[i] = e
	}
	return buf.Bytes(), outEntries, nil
}

func deflateEncode(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func dosDateTime(e ziptype.Entry) (date, timeVal uint16) {
	t := e.LastModified
	if t.IsZero() {
		return 0x21, 0
	}
	date = uint16((t.Year()-1980)<<9 | int(t.Month())<<5 | t.Day())
	timeVal = uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2)
	return
}

func writeLocalFileHeader(buf *bytes.Buffer, e ziptype.Entry, method uint16, compressed []byte) {
	var hdr [zipfmt.LocalFileHeaderFixedSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], zipfmt.SigLocalFileHeader)
	binary.LittleEndian.PutUint16(hdr[4:6], 20)
	binary.LittleEndian.PutUint16(hdr[8:10], method)

	date, timeVal := dosDateTime(e)
	binary.LittleEndian.PutUint16(hdr[10:12], timeVal)
	binary.LittleEndian.PutUint16(hdr[12:14], date)

	binary.LittleEndian.PutUint32(hdr[18:22], uint32(len(compressed)))
	binary.LittleEndian.PutUint32(hdr[22:26], uint32(e.UncompressedSize))
	binary.LittleEndian.PutUint16(hdr[26:28], uint16(len(e.Path)))

	buf.Write(hdr[:])
	buf.WriteString(e.Path)
}

func writeCentralDirHeader(buf *bytes.Buffer, e ziptype.Entry, method uint16, compressed []byte, localOffset uint64) {
	var hdr [zipfmt.CentralDirHeaderFixedSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], zipfmt.SigCentralDirHeader)
	binary.LittleEndian.PutUint16(hdr[4:6], 20)
	binary.LittleEndian.PutUint16(hdr[6:8], 20)
	binary.LittleEndian.PutUint16(hdr[10:12], method)

	date, timeVal := dosDateTime(e)
	binary.LittleEndian.PutUint16(hdr[12:14], timeVal)
	binary.LittleEndian.PutUint16(hdr[14:16], date)

	binary.LittleEndian.PutUint32(hdr[20:24], uint32(len(compressed)))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(e.UncompressedSize))
	binary.LittleEndian.PutUint16(hdr[28:30], uint16(len(e.Path)))
	binary.LittleEndian.PutUint32(hdr[42:46], uint32(localOffset))

	buf.Write(hdr[:])
	buf.WriteString(e.Path)
}

func writeEOCD(buf *bytes.Buffer, count, cdSize, cdOffset int) {
	var hdr [zipfmt.EOCDFixedSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], zipfmt.SigEOCD)
	binary.LittleEndian.PutUint16(hdr[8:10], uint16(count))
	binary.LittleEndian.PutUint16(hdr[10:12], uint16(count))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(cdSize))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(cdOffset))
	buf.Write(hdr[:])
}
