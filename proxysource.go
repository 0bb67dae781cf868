package remotezip

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/brightloom/remotezip/internal/bytesource"
)

// proxySource is a bytesource.Source that reads through a proxy.Handler-
// compatible relay (spec.md §6's start/end query contract) rather than
// hitting the origin directly. Used when capability probing determined
// the origin refuses direct access (proxy.Capability.UsedProxy).
type proxySource struct {
	httpClient   *http.Client
	proxyBaseURL string
	targetURL    string
	size         uint64
	sizeOK       bool
	logger       *slog.Logger
}

func (p *proxySource) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

func (p *proxySource) Length() (uint64, bool) { return p.size, p.sizeOK }

func (p *proxySource) SupportsRanges() bytesource.RangeSupport { return bytesource.RangeSupportYes }

func (p *proxySource) Read(ctx context.Context, start, endInclusive uint64) ([]byte, error) {
	if p.sizeOK && endInclusive >= p.size {
		return nil, bytesource.ErrOutOfBounds
	}

	v := url.Values{}
	v.Set("url", p.targetURL)
	v.Set("start", fmt.Sprintf("%d", start))
	v.Set("end", fmt.Sprintf("%d", endInclusive))
	reqURL := p.proxyBaseURL + "?" + v.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &bytesource.IOError{Op: "build proxy range request", Err: err}
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &bytesource.IOError{Op: "proxy range request", Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// fall through
	case http.StatusOK:
		// The origin ignored the relayed range; the body starts at offset 0.
		return nil, bytesource.ErrRangeUnsupported
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, bytesource.ErrOutOfBounds
	default:
		return nil, &bytesource.IOError{Op: "proxy range request", Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	want := int(endInclusive - start + 1)
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(want)))
	if err != nil {
		return nil, &bytesource.IOError{Op: "read proxy range body", Err: err}
	}
	return body, nil
}

var _ bytesource.Source = (*proxySource)(nil)
