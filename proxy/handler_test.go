package proxy_test

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/klauspost/compress/flate"

	"github.com/brightloom/remotezip/proxy"
)

func TestHandlerOptions(t *testing.T) {
	h := &proxy.Handler{}
	req := httptest.NewRequest(http.MethodOptions, "/proxy", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Headers") != "Range" {
		t.Errorf("missing Access-Control-Allow-Headers")
	}
}

func TestHandlerMissingURL(t *testing.T) {
	h := &proxy.Handler{}
	req := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlerHead(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	h := &proxy.Handler{}
	req := httptest.NewRequest(http.MethodHead, "/proxy?url="+url.QueryEscape(origin.URL), nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-File-Size") != "100" {
		t.Errorf("X-File-Size = %q, want 100", rec.Header().Get("X-File-Size"))
	}
	if rec.Header().Get("X-Range-Support") != "true" {
		t.Errorf("X-Range-Support = %q, want true", rec.Header().Get("X-Range-Support"))
	}
}

func TestHandlerGetForwardsRange(t *testing.T) {
	body := []byte("0123456789")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=2-4" {
			t.Errorf("origin saw Range = %q, want bytes=2-4", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Range", "bytes 2-4/10")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(body[2:5])
	}))
	defer origin.Close()

	h := &proxy.Handler{}
	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape(origin.URL), nil)
	req.Header.Set("Range", "bytes=2-4")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != "234" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "234")
	}
}

func TestHandlerGetStartEndParams(t *testing.T) {
	body := []byte("abcdefghij")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=1-3" {
			t.Errorf("origin saw Range = %q, want bytes=1-3", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Range", "bytes 1-3/10")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(body[1:4])
	}))
	defer origin.Close()

	h := &proxy.Handler{}
	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape(origin.URL)+"&start=1&end=3", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != "bcd" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "bcd")
	}
}

func TestHandlerDownloadForcesDisposition(t *testing.T) {
	body := []byte("full file contents")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	defer origin.Close()

	h := &proxy.Handler{}
	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape(origin.URL)+"&download=report.zip", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	want := `attachment; filename="report.zip"`
	if got := rec.Header().Get("Content-Disposition"); got != want {
		t.Errorf("Content-Disposition = %q, want %q", got, want)
	}
	if rec.Body.String() != string(body) {
		t.Errorf("body mismatch")
	}
}

func TestHandlerInflate(t *testing.T) {
	plain := []byte("the quick brown fox jumps over the lazy dog, repeated for bulk")
	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("flate.NewWriter: %v", err)
	}
	if _, err := fw.Write(plain); err != nil {
		t.Fatalf("flate write: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("flate close: %v", err)
	}

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(compressed.Bytes())
	}))
	defer origin.Close()

	h := &proxy.Handler{}
	q := fmt.Sprintf("/proxy?url=%s&inflate=1&size=%d", url.QueryEscape(origin.URL), len(plain))
	req := httptest.NewRequest(http.MethodGet, q, nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != string(plain) {
		t.Errorf("inflated body = %q, want %q", rec.Body.String(), plain)
	}
}

func TestHandlerMedia(t *testing.T) {
	// 40-byte archive, virtual file occupies bytes [10,29].
	archive := make([]byte, 40)
	for i := range archive {
		archive[i] = byte(i)
	}
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(archive)))
		if rng := r.Header.Get("Range"); rng != "" {
			var start, end int
			_, _ = fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(archive)))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(archive[start : end+1])
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(archive)
	}))
	defer origin.Close()

	h := &proxy.Handler{}
	q := fmt.Sprintf("/proxy?url=%s&media=1&start=10&end=29&type=video/mp4", url.QueryEscape(origin.URL))
	req := httptest.NewRequest(http.MethodGet, q, nil)
	req.Header.Set("Range", "bytes=0-4")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-4/20" {
		t.Errorf("Content-Range = %q, want %q", got, "bytes 0-4/20")
	}
	want := archive[10:15]
	if rec.Body.String() != string(want) {
		t.Errorf("body = %v, want %v", rec.Body.Bytes(), want)
	}
}

func TestHandlerUpstreamErrorBecomes502(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer origin.Close()

	h := &proxy.Handler{}
	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape(origin.URL), nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestHandlerMethodNotAllowed(t *testing.T) {
	h := &proxy.Handler{}
	req := httptest.NewRequest(http.MethodPost, "/proxy?url=http://example.com", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
