// Package proxy implements the capability-probing client and the
// CORS-bypassing relay handler described in spec.md §4.2 and §6.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brightloom/remotezip/internal/bytesource"
)

// Timeout policy constants (spec.md §5).
const (
	HeadProbeTimeout  = 15 * time.Second
	RangeProbeTimeout = 10 * time.Second

	// RangeParseThreshold is the archive size above which range-parse
	// mode is preferred over a full download, per spec.md §4.2's outcome
	// gate. Tunable policy, not a correctness requirement.
	RangeParseThreshold = 20 << 20 // 20 MiB
)

// Capability is the resolved result of the probe sequence: spec.md §3's
// "ByteSource capability record".
type Capability struct {
	TotalSize      uint64
	SizeKnown      bool
	SupportsRanges bytesource.RangeSupport

	// UsedProxy is true when the origin could not be reached directly and
	// every successful probe traversed ProxyBaseURL instead.
	UsedProxy bool
}

// RangeParseMode reports whether the outcome gate (spec.md §4.2) selects
// range-parse mode for this capability: ranges must be supported and the
// resource must exceed RangeParseThreshold.
func (c Capability) RangeParseMode() bool {
	return c.SupportsRanges == bytesource.RangeSupportYes && c.SizeKnown && c.TotalSize > RangeParseThreshold
}

// Client runs the probe sequence and relays requests to origins that
// refuse direct browser access.
type Client struct {
	HTTPClient   *http.Client
	ProxyBaseURL string
	Logger       *slog.Logger
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

func (c *Client) log() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// Probe runs the four-step capability sequence described in spec.md §4.2:
// direct HEAD, proxy HEAD fallback, 1-byte ranged GET, and the final
// yes/no gate. Every transport failure demotes capability rather than
// surfacing as an error — only a wholly unresolvable target (e.g. a
// malformed URL) returns a non-nil error.
func (c *Client) Probe(ctx context.Context, targetURL string) (Capability, error) {
	if _, err := url.ParseRequestURI(targetURL); err != nil {
		return Capability{}, fmt.Errorf("remotezip: proxy: invalid url: %w", err)
	}

	result, usedProxy := c.probeHead(ctx, targetURL)

	rangeCap, ok := c.probeRange(ctx, targetURL, usedProxy)
	if ok {
		result.SupportsRanges = bytesource.RangeSupportYes
		if rangeCap.SizeKnown {
			result.TotalSize = rangeCap.TotalSize
			result.SizeKnown = true
		}
	} else if usedProxy {
		// Step 3 explicitly falls back to the proxy when direct HEAD
		// already failed; if the proxy's own HEAD also lacked
		// Accept-Ranges, retry the ranged GET through the proxy before
		// giving up.
		rangeCap, ok = c.probeRange(ctx, targetURL, true)
		if ok {
			result.SupportsRanges = bytesource.RangeSupportYes
			if rangeCap.SizeKnown {
				result.TotalSize = rangeCap.TotalSize
				result.SizeKnown = true
			}
		}
	}
	if result.SupportsRanges != bytesource.RangeSupportYes {
		result.SupportsRanges = bytesource.RangeSupportNo
	}
	result.UsedProxy = usedProxy
	return result, nil
}

// probeHead implements steps 1-2: a direct HEAD, falling back to a HEAD
// through the proxy relay if the direct attempt fails for any reason.
func (c *Client) probeHead(ctx context.Context, targetURL string) (Capability, bool) {
	headCtx, cancel := context.WithTimeout(ctx, HeadProbeTimeout)
	defer cancel()

	if resp, err := c.doDirect(headCtx, http.MethodHead, targetURL); err == nil {
		defer resp.Body.Close()
		if resp.StatusCode < 400 {
			return capabilityFromHeaders(resp.Header, resp.ContentLength), false
		}
	} else {
		c.log().Debug("proxy: direct head failed, falling back to proxy", "url", targetURL, "err", err)
	}

	if c.ProxyBaseURL == "" {
		return Capability{}, false
	}

	resp, err := c.doProxyHead(headCtx, targetURL)
	if err != nil {
		c.log().Debug("proxy: proxy head failed", "url", targetURL, "err", err)
		return Capability{}, true
	}
	defer resp.Body.Close()
	return capabilityFromProxyHeaders(resp.Header), true
}

// probeRange implements step 3: a 1-byte ranged GET, direct or through the
// proxy depending on usedProxy.
func (c *Client) probeRange(ctx context.Context, targetURL string, usedProxy bool) (Capability, bool) {
	rangeCtx, cancel := context.WithTimeout(ctx, RangeProbeTimeout)
	defer cancel()

	var resp *http.Response
	var err error
	if usedProxy {
		resp, err = c.doProxyRangeGet(rangeCtx, targetURL)
	} else {
		resp, err = c.doDirect(rangeCtx, http.MethodGet, targetURL, withRangeHeader("bytes=0-0"))
	}
	if err != nil {
		return Capability{}, false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusPartialContent {
		return Capability{}, false
	}
	total, err := parseContentRangeTotal(resp.Header.Get("Content-Range"))
	if err != nil {
		return Capability{SupportsRanges: bytesource.RangeSupportYes}, true
	}
	return Capability{SupportsRanges: bytesource.RangeSupportYes, TotalSize: total, SizeKnown: true}, true
}

type requestOption func(*http.Request)

func withRangeHeader(value string) requestOption {
	return func(r *http.Request) { r.Header.Set("Range", value) }
}

func (c *Client) doDirect(ctx context.Context, method, targetURL string, opts ...requestOption) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, targetURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "identity")
	for _, opt := range opts {
		opt(req)
	}
	return c.httpClient().Do(req)
}

func (c *Client) doProxyHead(ctx context.Context, targetURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.proxyURL(targetURL, nil), nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient().Do(req)
}

func (c *Client) doProxyRangeGet(ctx context.Context, targetURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.proxyURL(targetURL, nil), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", "bytes=0-0")
	return c.httpClient().Do(req)
}

func (c *Client) proxyURL(targetURL string, extra url.Values) string {
	v := url.Values{}
	for k, vals := range extra {
		v[k] = vals
	}
	v.Set("url", targetURL)
	return c.ProxyBaseURL + "?" + v.Encode()
}

func capabilityFromHeaders(h http.Header, contentLength int64) Capability {
	result := Capability{}
	if contentLength >= 0 {
		result.TotalSize = uint64(contentLength)
		result.SizeKnown = true
	}
	if acceptsRanges(h.Get("Accept-Ranges")) {
		result.SupportsRanges = bytesource.RangeSupportYes
	}
	return result
}

func capabilityFromProxyHeaders(h http.Header) Capability {
	result := Capability{}
	if size, err := strconv.ParseUint(h.Get("X-File-Size"), 10, 64); err == nil {
		result.TotalSize = size
		result.SizeKnown = true
	}
	if h.Get("X-Range-Support") == "true" {
		result.SupportsRanges = bytesource.RangeSupportYes
	}
	return result
}

func acceptsRanges(value string) bool {
	return strings.Contains(strings.ToLower(value), "bytes")
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
