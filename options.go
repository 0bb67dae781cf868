package remotezip

import (
	"log/slog"
	"net/http"

	"github.com/brightloom/remotezip/archiver"
	"github.com/brightloom/remotezip/extract"
)

// config collects the options every Open variant accepts. Policy defaults
// mirror the tunable constants in spec.md §5.
type config struct {
	httpClient   *http.Client
	proxyBaseURL string
	previewLimit uint64
	workers      int
	onProgress   archiver.ProgressFunc
	onConfirm    archiver.ConfirmFunc
	confirmSize  uint64
	confirmCount int
	logger       *slog.Logger
}

func newConfig(opts []Option) *config {
	cfg := &config{
		previewLimit: extract.DefaultPreviewLimit,
		workers:      4,
		confirmSize:  archiver.ConfirmSizeThreshold,
		confirmCount: archiver.ConfirmEntryCountThreshold,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *config) client() *http.Client {
	if c.httpClient == nil {
		return http.DefaultClient
	}
	return c.httpClient
}

func (c *config) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Option configures Open or OpenBuffer.
type Option func(*config)

// WithHTTPClient sets the HTTP client used for every probe, directory
// fetch, and entry read. Defaults to http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.httpClient = client }
}

// WithProxy sets the base URL of a proxy.Handler-compatible relay endpoint
// (spec.md §4.2/§6), used when the origin cannot be reached directly.
func WithProxy(baseURL string) Option {
	return func(c *config) { c.proxyBaseURL = baseURL }
}

// WithPreviewLimit overrides extract.DefaultPreviewLimit (spec.md §5).
func WithPreviewLimit(n uint64) Option {
	return func(c *config) { c.previewLimit = n }
}

// WithWorkers sets the SurgicalArchiver's concurrent re-fetch bound
// (default 4).
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithArchiveProgress attaches a progress callback for SurgicalArchiver
// builds (spec.md §4.6's confirmation hook's companion).
func WithArchiveProgress(fn archiver.ProgressFunc) Option {
	return func(c *config) { c.onProgress = fn }
}

// WithArchiveConfirm attaches the caller-visible confirmation hook
// invoked before a large selection is fetched (spec.md §4.6).
func WithArchiveConfirm(fn archiver.ConfirmFunc) Option {
	return func(c *config) { c.onConfirm = fn }
}

// WithArchiveConfirmThresholds overrides the ~200 MiB / ~50-entry
// confirmation thresholds spec.md §4.6 names as policy, not contract.
func WithArchiveConfirmThresholds(size uint64, count int) Option {
	return func(c *config) {
		c.confirmSize = size
		c.confirmCount = count
	}
}

// WithLogger attaches a structured logger shared by every component the
// handle constructs. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}
