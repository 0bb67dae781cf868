// Package httpsource implements the remote variant of bytesource.Source:
// a random-access reader backed by HTTP Range requests. It is grounded on
// the range-probing HTTP client shape used throughout this codebase's
// corpus, extended with the RangeUnsupported detection spec.md requires
// (a 200 response to a ranged request must be treated as capability
// failure, not success).
package httpsource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/brightloom/remotezip/internal/bytesource"
)

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests. Defaults to
// http.DefaultClient.
func WithClient(client *http.Client) Option {
	return func(s *Source) { s.client = client }
}

// WithHeaders sets additional headers sent with every request (e.g. an
// Authorization header for a private origin).
func WithHeaders(headers http.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithLogger attaches a structured logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) { s.logger = logger }
}

// Source is a bytesource.Source backed by HTTP Range requests against a
// single origin URL. Construction issues a HEAD request followed by a
// 1-byte range probe; the probe result is authoritative (spec.md's Open
// Question 2: a 206 response's Content-Range total-size field wins over a
// prior HEAD's Content-Length whenever both are observed).
type Source struct {
	url     string
	client  *http.Client
	headers http.Header
	logger  *slog.Logger

	size    uint64
	sizeOK  bool
	ranges  bytesource.RangeSupport
	etag    string
}

// New probes url and returns a ready-to-use Source. The probe sequence
// itself is the reduced, single-origin case of proxy.Client's fuller
// probe (§4.2 steps 1 and 3, without the proxy fallback of step 2).
func New(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := &Source{
		url:    url,
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = http.DefaultClient
	}

	if err := s.probe(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// URL returns the origin URL this source reads from.
func (s *Source) URL() string { return s.url }

// ETag returns the origin's validator, if any was observed during probing.
func (s *Source) ETag() string { return s.etag }

// Length implements bytesource.Source.
func (s *Source) Length() (uint64, bool) {
	return s.size, s.sizeOK
}

// SupportsRanges implements bytesource.Source.
func (s *Source) SupportsRanges() bytesource.RangeSupport {
	return s.ranges
}

// Read implements bytesource.Source.
func (s *Source) Read(ctx context.Context, start, endInclusive uint64) ([]byte, error) {
	if s.sizeOK && endInclusive >= s.size {
		return nil, bytesource.ErrOutOfBounds
	}

	req, err := s.newRequest(ctx, http.MethodGet)
	if err != nil {
		return nil, &bytesource.IOError{Op: "build range request", Err: err}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, endInclusive))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &bytesource.IOError{Op: "range request", Err: err}
	}
	drain := true
	defer func() {
		if drain {
			_, _ = io.Copy(io.Discard, resp.Body)
		}
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// fall through
	case http.StatusOK:
		// Server ignored our Range header and is about to send the full
		// body. Do not drain it; report the capability failure instead.
		drain = false
		return nil, bytesource.ErrRangeUnsupported
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, bytesource.ErrOutOfBounds
	default:
		return nil, &bytesource.IOError{Op: "range request", Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	want := int(endInclusive - start + 1)
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(want)))
	if err != nil {
		return nil, &bytesource.IOError{Op: "read range body", Err: err}
	}
	return body, nil
}

// probe runs the two-step capability check: HEAD, then a 1-byte ranged GET.
// The ranged GET is authoritative; HEAD only pre-seeds size for logging and
// as a fallback if the range probe cannot determine size on its own.
func (s *Source) probe(ctx context.Context) error {
	if resp, err := s.doHead(ctx); err == nil {
		if resp.ContentLength >= 0 {
			s.size = uint64(resp.ContentLength)
			s.sizeOK = true
		}
		s.etag = resp.Header.Get("ETag")
		_ = resp.Body.Close()
	} else {
		s.log().Debug("head probe failed, continuing to range probe", "url", s.url, "err", err)
	}

	req, err := s.newRequest(ctx, http.MethodGet)
	if err != nil {
		return &bytesource.IOError{Op: "build probe request", Err: err}
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := s.client.Do(req)
	if err != nil {
		return &bytesource.IOError{Op: "range probe", Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		size, err := parseContentRangeTotal(resp.Header.Get("Content-Range"))
		if err == nil {
			// Content-Range's total is authoritative over HEAD's Content-Length.
			s.size = size
			s.sizeOK = true
		}
		if etag := resp.Header.Get("ETag"); etag != "" {
			s.etag = etag
		}
		s.ranges = bytesource.RangeSupportYes
	case http.StatusOK:
		s.ranges = bytesource.RangeSupportNo
	default:
		s.ranges = bytesource.RangeSupportNo
	}
	return nil
}

func (s *Source) doHead(ctx context.Context) (*http.Response, error) {
	req, err := s.newRequest(ctx, http.MethodHead)
	if err != nil {
		return nil, err
	}
	return s.client.Do(req)
}

func (s *Source) newRequest(ctx context.Context, method string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	return req, nil
}

func parseContentRangeTotal(value string) (uint64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	parts := strings.SplitN(strings.TrimPrefix(value, "bytes "), "/", 2)
	if len(parts) != 2 || parts[1] == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	total, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid Content-Range %q: %w", value, err)
	}
	return total, nil
}

var _ bytesource.Source = (*Source)(nil)
