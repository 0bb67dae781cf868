package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/brightloom/remotezip/httpsource"
	"github.com/brightloom/remotezip/media"
)

// MaxResponseBytes is the proxy's payload size policy from spec.md §4.2: a
// maximum response size above which a request is rejected with 413.
const MaxResponseBytes = 500 << 20 // 500 MiB

// Handler implements the wire contract of spec.md §6: a relay endpoint
// that forwards Range headers to an origin the caller's browser cannot
// reach directly, plus the server-side inflate and media sub-contracts.
type Handler struct {
	Client *Client
	Logger *slog.Logger
}

func (h *Handler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return h.Logger
}

func (h *Handler) client() *Client {
	if h.Client == nil {
		return &Client{}
	}
	return h.Client
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		h.serveOptions(w)
	case http.MethodHead:
		h.serveHead(w, r)
	case http.MethodGet:
		h.serveGet(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) serveOptions(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Range")
	w.Header().Set("Access-Control-Expose-Headers",
		"Content-Length, Content-Range, Accept-Ranges, Content-Disposition, X-File-Size, X-Range-Support")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) serveHead(w http.ResponseWriter, r *http.Request) {
	target, err := targetURL(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodHead, target, nil)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := h.client().httpClient().Do(req)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		writeJSONError(w, http.StatusBadGateway, fmt.Errorf("upstream status %s", resp.Status))
		return
	}

	size := resp.ContentLength
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("X-File-Size", strconv.FormatInt(size, 10))
	}
	supportsRanges := acceptsRanges(resp.Header.Get("Accept-Ranges"))
	w.Header().Set("X-Range-Support", strconv.FormatBool(supportsRanges))
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) serveGet(w http.ResponseWriter, r *http.Request) {
	target, err := targetURL(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	q := r.URL.Query()

	if q.Get("media") == "1" {
		h.serveMedia(w, r, target, q)
		return
	}

	start, end, hasRange := rangeParams(q)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	req.Header.Set("Accept-Encoding", "identity")
	if ua := r.Header.Get("User-Agent"); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if origin, err := rootOf(target); err == nil {
		req.Header.Set("Referer", origin)
	}
	if hasRange {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	} else if inbound := r.Header.Get("Range"); inbound != "" {
		req.Header.Set("Range", inbound)
	}

	resp, err := h.client().httpClient().Do(req)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		writeJSONError(w, http.StatusBadGateway, fmt.Errorf("upstream status %s", resp.Status))
		return
	}
	if resp.ContentLength > MaxResponseBytes {
		writeJSONError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("resource exceeds %d bytes", MaxResponseBytes))
		return
	}

	if q.Get("inflate") == "1" {
		h.serveInflate(w, resp, q)
		return
	}

	forwardHeaders(w.Header(), resp.Header)

	if basename := q.Get("download"); basename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", basename))
		w.Header().Del("Content-Range")
		if resp.StatusCode == http.StatusPartialContent {
			if size, err := parseContentRangeSize(resp.Header.Get("Content-Range")); err == nil {
				w.Header().Set("Content-Length", strconv.FormatUint(size, 10))
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// serveMedia activates MediaGateway semantics (spec.md §4.5) through the
// proxy: start/end are absolute offsets of the virtual file inside the
// upstream resource, and type is its MIME type.
func (h *Handler) serveMedia(w http.ResponseWriter, r *http.Request, target string, q url.Values) {
	start, end, hasRange := rangeParams(q)
	if !hasRange {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("media requires start and end"))
		return
	}

	src, err := httpsource.New(r.Context(), target, httpsource.WithClient(h.client().httpClient()))
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err)
		return
	}

	gw := &media.Gateway{
		Source:           src,
		DataStart:        start,
		DataEndInclusive: end,
		MimeType:         q.Get("type"),
		Logger:           h.log(),
	}
	gw.ServeHTTP(w, r)
}

// serveInflate implements spec.md §6's inflate=1 contract: fetch the
// (compressed) range and return the server-side-decompressed bytes of
// declared length N.
func (h *Handler) serveInflate(w http.ResponseWriter, resp *http.Response, q url.Values) {
	n, err := strconv.ParseUint(q.Get("size"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid size parameter"))
		return
	}

	dec := flate.NewReader(resp.Body)
	defer dec.Close()

	out := make([]byte, n)
	if _, err := io.ReadFull(dec, out); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Errorf("inflate: %w", err))
		return
	}

	w.Header().Set("Content-Length", strconv.FormatUint(n, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func forwardHeaders(dst, src http.Header) {
	for _, key := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "Content-Disposition"} {
		if v := src.Get(key); v != "" {
			dst.Set(key, v)
		}
	}
}

func targetURL(r *http.Request) (string, error) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		return "", fmt.Errorf("missing url parameter")
	}
	parsed, err := url.ParseRequestURI(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("invalid url parameter")
	}
	return raw, nil
}

func rangeParams(q url.Values) (start, end uint64, ok bool) {
	startStr, endStr := q.Get("start"), q.Get("end")
	if startStr == "" || endStr == "" {
		return 0, 0, false
	}
	s, err1 := strconv.ParseUint(startStr, 10, 64)
	e, err2 := strconv.ParseUint(endStr, 10, 64)
	if err1 != nil || err2 != nil || e < s {
		return 0, 0, false
	}
	return s, e, true
}

func rootOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Path = "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// parseContentRangeSize returns end-start+1 from a "bytes start-end/total"
// Content-Range header value.
func parseContentRangeSize(value string) (uint64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	rangeAndTotal := strings.SplitN(strings.TrimPrefix(value, "bytes "), "/", 2)
	if len(rangeAndTotal) != 2 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	bounds := strings.SplitN(rangeAndTotal[0], "-", 2)
	if len(bounds) != 2 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	start, err := strconv.ParseUint(bounds[0], 10, 64)
	if err != nil {
		return 0, err
	}
	end, err := strconv.ParseUint(bounds[1], 10, 64)
	if err != nil {
		return 0, err
	}
	return end - start + 1, nil
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

var _ http.Handler = (*Handler)(nil)
