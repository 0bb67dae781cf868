// Package media exposes a STORED archive entry as a virtual random-access
// file over HTTP, remapping a player's Range requests into absolute
// offsets inside the enclosing archive — spec.md §4.5's MediaGateway.
package media

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/brightloom/remotezip/internal/bytesource"
)

// CacheControl is the policy header value applied to every response: the
// entry's byte range never changes for the lifetime of the URL that named
// it, so it is safe to mark immutable.
const CacheControl = "max-age=3600, immutable"

// Gateway serves one archive entry as a seekable virtual file. DataStart
// and DataEndInclusive are absolute offsets into the enclosing archive;
// the virtual file's size is DataEndInclusive - DataStart + 1. Only
// STORED entries can be served this way — DEFLATE decoding is not
// random-access.
type Gateway struct {
	Source           bytesource.Source
	DataStart        uint64
	DataEndInclusive uint64
	MimeType         string
	Logger           *slog.Logger
}

func (g *Gateway) log() *slog.Logger {
	if g.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return g.Logger
}

// virtualSize is V in spec.md §4.5's formulas.
func (g *Gateway) virtualSize() uint64 {
	return g.DataEndInclusive - g.DataStart + 1
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	v := g.virtualSize()
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", CacheControl)
	if g.MimeType != "" {
		w.Header().Set("Content-Type", g.MimeType)
	}

	relStart, relEnd, ranged := parseRange(r.Header.Get("Range"), v)

	absStart := g.DataStart + relStart
	absEnd := g.DataStart + relEnd

	if !ranged {
		w.Header().Set("Content-Length", strconv.FormatUint(v, 10))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		body, err := g.Source.Read(r.Context(), g.DataStart, g.DataEndInclusive)
		if err != nil {
			g.writeUpstreamError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	length := relEnd - relStart + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", relStart, relEnd, v))
	w.Header().Set("Content-Length", strconv.FormatUint(length, 10))
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusPartialContent)
		return
	}

	body, err := g.Source.Read(r.Context(), absStart, absEnd)
	if err != nil {
		g.writeUpstreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(body)
}

func (g *Gateway) writeUpstreamError(w http.ResponseWriter, err error) {
	g.log().Error("media: upstream read failed", "error", err)
	w.WriteHeader(http.StatusBadGateway)
}

// parseRange parses a Range header relative to a virtual file of size v.
// A syntactically invalid header is treated as the full-file request, per
// spec.md §4.5. A missing end defaults to v-1; a missing start (bytes=-N)
// selects the last N bytes. Ends beyond v-1 are clamped, not rejected.
func parseRange(header string, v uint64) (start, end uint64, ranged bool) {
	if header == "" || v == 0 {
		return 0, clampEnd(v), false
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, clampEnd(v), false
	}
	spec := strings.TrimPrefix(header, prefix)
	// Multi-range requests are not honored; they are treated as a
	// full-file request rather than a 416.
	if strings.Contains(spec, ",") {
		return 0, clampEnd(v), false
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, clampEnd(v), false
	}

	startStr, endStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

	if startStr == "" {
		// Suffix range: bytes=-N means the last N bytes.
		n, err := strconv.ParseUint(endStr, 10, 64)
		if err != nil || n == 0 {
			return 0, clampEnd(v), false
		}
		if n > v {
			n = v
		}
		return v - n, v - 1, true
	}

	s, err := strconv.ParseUint(startStr, 10, 64)
	if err != nil || s >= v {
		return 0, clampEnd(v), false
	}

	if endStr == "" {
		return s, v - 1, true
	}
	e, err := strconv.ParseUint(endStr, 10, 64)
	if err != nil || e < s {
		return 0, clampEnd(v), false
	}
	if e > v-1 {
		e = v - 1
	}
	return s, e, true
}

func clampEnd(v uint64) uint64 {
	if v == 0 {
		return 0
	}
	return v - 1
}

var _ http.Handler = (*Gateway)(nil)
