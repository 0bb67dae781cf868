package remotezip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opencontainers/go-digest"

	"github.com/brightloom/remotezip/archiver"
	"github.com/brightloom/remotezip/extract"
	"github.com/brightloom/remotezip/httpsource"
	"github.com/brightloom/remotezip/internal/bytesource"
	"github.com/brightloom/remotezip/internal/zipdir"
	"github.com/brightloom/remotezip/internal/zipfmt"
	"github.com/brightloom/remotezip/internal/ziptype"
	"github.com/brightloom/remotezip/proxy"

	"github.com/google/uuid"
)

// ArchiveHandle is the immutable result of successfully opening a ZIP
// archive (spec.md §3). It owns the entry list and a reference to its
// ByteSource; entries are read-only views into the handle.
type ArchiveHandle struct {
	source    bytesource.Source
	entries   []ziptype.Entry
	byPath    map[string]ziptype.Entry
	totalSize uint64
	isProxied bool
	sourceURL string
	digest    digest.Digest
	warnings  []Warning

	extractor *extract.Extractor
	archiver  *archiver.Archiver
	logger    *slog.Logger
}

// Open probes rawURL (spec.md §4.2's capability sequence), constructs the
// appropriate ByteSource (direct or proxied), and parses its Central
// Directory. It fails if the origin does not support Range requests, since
// range-parse mode is this engine's only supported mode for remote sources.
func Open(ctx context.Context, rawURL string, opts ...Option) (*ArchiveHandle, error) {
	cfg := newConfig(opts)

	client := &proxy.Client{HTTPClient: cfg.client(), ProxyBaseURL: cfg.proxyBaseURL, Logger: cfg.logger}
	capability, err := client.Probe(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("remotezip: open %s: %w", rawURL, err)
	}
	if capability.SupportsRanges != bytesource.RangeSupportYes {
		return nil, fmt.Errorf("remotezip: open %s: %w", rawURL, bytesource.ErrRangeUnsupported)
	}

	var src bytesource.Source
	if capability.UsedProxy {
		if cfg.proxyBaseURL == "" {
			return nil, fmt.Errorf("remotezip: open %s: origin requires a proxy but none is configured", rawURL)
		}
		src = &proxySource{
			httpClient:   cfg.client(),
			proxyBaseURL: cfg.proxyBaseURL,
			targetURL:    rawURL,
			size:         capability.TotalSize,
			sizeOK:       capability.SizeKnown,
			logger:       cfg.logger,
		}
	} else {
		hsrc, err := httpsource.New(ctx, rawURL, httpsource.WithClient(cfg.client()), httpsource.WithLogger(cfg.logger))
		if err != nil {
			return nil, fmt.Errorf("remotezip: open %s: %w", rawURL, err)
		}
		src = hsrc
	}

	return newHandle(ctx, src, rawURL, capability.UsedProxy, nil, cfg)
}

// OpenBuffer parses an in-memory ZIP archive. The slice is retained, not
// copied; callers must not mutate it afterward.
func OpenBuffer(ctx context.Context, data []byte, opts ...Option) (*ArchiveHandle, error) {
	cfg := newConfig(opts)
	src := bytesource.NewBuffer(data)
	return newHandle(ctx, src, "", false, data, cfg)
}

func newHandle(ctx context.Context, src bytesource.Source, sourceURL string, isProxied bool, bufferForDigest []byte, cfg *config) (*ArchiveHandle, error) {
	parser := zipdir.NewParser(zipdir.WithLogger(cfg.logger))
	dir, warnings, err := parser.Parse(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("remotezip: parse directory: %w", err)
	}

	totalSize, _ := src.Length()

	ex := extract.New(src, extract.WithPreviewLimit(cfg.previewLimit), extract.WithLogger(cfg.logger))
	arc := archiver.New(ex,
		archiver.WithWorkers(cfg.workers),
		archiver.WithProgress(cfg.onProgress),
		archiver.WithConfirm(cfg.onConfirm),
		archiver.WithConfirmThresholds(cfg.confirmSize, cfg.confirmCount),
		archiver.WithLogger(cfg.logger),
	)

	byPath := make(map[string]ziptype.Entry, len(dir.Entries))
	for _, e := range dir.Entries {
		byPath[e.Path] = e
	}

	h := &ArchiveHandle{
		source:    src,
		entries:   dir.Entries,
		byPath:    byPath,
		totalSize: totalSize,
		isProxied: isProxied,
		sourceURL: sourceURL,
		digest:    computeDigest(sourceURL, totalSize, bufferForDigest),
		warnings:  warningsFromDirectory(warnings),
		extractor: ex,
		archiver:  arc,
		logger:    cfg.logger,
	}
	return h, nil
}

func (h *ArchiveHandle) log() *slog.Logger {
	if h.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return h.logger
}

// Entries returns the archive's members in Central Directory order
// (spec.md §5's ordering guarantee).
func (h *ArchiveHandle) Entries() []ziptype.Entry {
	return h.entries
}

// TotalSize returns the archive's total byte size.
func (h *ArchiveHandle) TotalSize() uint64 { return h.totalSize }

// IsProxied reports whether I/O against this handle's source traverses a
// proxy relay rather than reaching the origin directly.
func (h *ArchiveHandle) IsProxied() bool { return h.isProxied }

// SourceURL returns the URL this handle was opened from, or "" for a
// buffer-backed handle.
func (h *ArchiveHandle) SourceURL() string { return h.sourceURL }

// Warnings returns the non-fatal problems accumulated while parsing the
// Central Directory.
func (h *ArchiveHandle) Warnings() []Warning { return h.warnings }

// FindEntry looks up an entry by its exact archive path.
func (h *ArchiveHandle) FindEntry(path string) (ziptype.Entry, bool) {
	e, ok := h.byPath[path]
	return e, ok
}

// Extract returns an entry's full decompressed bytes as an
// ExtractionResult, applying no size gate (spec.md §4.4 steps 1-3, 5).
// STORED audio and video entries are not fetched: they yield
// ResultStreamingRef carrying their data range.
func (h *ArchiveHandle) Extract(ctx context.Context, path string) (ExtractionResult, error) {
	return h.extractResult(ctx, path, h.extractor.Extract)
}

// Preview returns an entry's contents subject to the preview-size gate
// (spec.md §4.4 step 4): entries above the configured limit yield
// ResultTooLarge instead of being fetched. STORED audio and video entries
// yield ResultStreamingRef whatever their size, as in Extract.
func (h *ArchiveHandle) Preview(ctx context.Context, path string) (ExtractionResult, error) {
	return h.extractResult(ctx, path, h.extractor.Preview)
}

func (h *ArchiveHandle) extractResult(ctx context.Context, path string, fetch func(context.Context, ziptype.Entry) ([]byte, error)) (ExtractionResult, error) {
	entry, ok := h.byPath[path]
	if !ok {
		return ExtractionResult{Kind: ResultNotFound}, nil
	}

	kind := extract.ClassifyName(entry.Name)
	if (kind == extract.KindVideo || kind == extract.KindAudio) && entry.CompressionMethod == zipfmt.MethodStored {
		dataStart, dataEndInclusive, err := h.extractor.ResolveRange(ctx, entry)
		if err != nil {
			return ExtractionResult{}, fmt.Errorf("remotezip: %s: %w", path, err)
		}
		return ExtractionResult{
			Kind:             ResultStreamingRef,
			StreamingRef:     ResourceHandle{ID: uuid.NewString()},
			DataStart:        dataStart,
			DataEndInclusive: dataEndInclusive,
		}, nil
	}

	data, err := fetch(ctx, entry)
	if err != nil {
		var tooLarge *EntryTooLargeError
		if errors.As(err, &tooLarge) {
			return tooLargeResult(tooLarge), nil
		}
		var unsupported *UnsupportedCompressionError
		if errors.As(err, &unsupported) {
			return unsupportedResult(unsupported), nil
		}
		return ExtractionResult{}, fmt.Errorf("remotezip: %s: %w", path, err)
	}

	if kind == extract.KindText || kind == extract.KindCode {
		return textResult(data), nil
	}
	return binaryResult(entry.Name, data), nil
}
