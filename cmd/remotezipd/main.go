// Command remotezipd is a small demo server wiring proxy.Handler and
// media.Gateway behind a net/http.ServeMux — the host environment spec.md
// §6 describes as external to the core library.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/brightloom/remotezip"
	"github.com/brightloom/remotezip/httpsource"
	"github.com/brightloom/remotezip/media"
	"github.com/brightloom/remotezip/proxy"
)

type config struct {
	addr        string
	logLevel    string
	proxyPath   string
	openTimeout time.Duration
}

func main() {
	cfg := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.logLevel)}))

	mux := http.NewServeMux()
	mux.Handle(cfg.proxyPath, &proxy.Handler{
		Client: &proxy.Client{Logger: logger},
		Logger: logger,
	})
	mux.HandleFunc("/entries", entriesHandler(cfg, logger))
	mux.HandleFunc("/media", mediaHandler(cfg, logger))

	logger.Info("remotezipd listening", "addr", cfg.addr)
	if err := http.ListenAndServe(cfg.addr, mux); err != nil {
		log.Fatal(err)
	}
}

type entryView struct {
	Path string `json:"path"`
	Size uint64 `json:"size"`
	Dir  bool   `json:"directory"`
}

// entriesHandler exposes the parsed Central Directory for a ?url= archive
// as JSON, demonstrating the read-only Open -> Entries path.
func entriesHandler(cfg config, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		if target == "" {
			http.Error(w, "missing url parameter", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), cfg.openTimeout)
		defer cancel()

		handle, err := remotezip.Open(ctx, target, remotezip.WithLogger(logger))
		if err != nil {
			logger.Error("open failed", "url", target, "err", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		views := make([]entryView, 0, len(handle.Entries()))
		for _, e := range handle.Entries() {
			views = append(views, entryView{Path: e.Path, Size: e.UncompressedSize, Dir: e.IsDirectory})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(views)
	}
}

// mediaHandler resolves an entry's data range through remotezip and hands
// the request to media.Gateway, which speaks Range requests against the
// origin on the caller's behalf.
func mediaHandler(cfg config, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		target, path := q.Get("url"), q.Get("path")
		if target == "" || path == "" {
			http.Error(w, "missing url or path parameter", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), cfg.openTimeout)
		defer cancel()

		handle, err := remotezip.Open(ctx, target, remotezip.WithLogger(logger))
		if err != nil {
			logger.Error("open failed", "url", target, "err", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		result, err := handle.Extract(ctx, path)
		if err != nil || result.Kind != remotezip.ResultStreamingRef {
			http.Error(w, "entry is not streamable", http.StatusUnprocessableEntity)
			return
		}

		src, err := httpsource.New(ctx, target, httpsource.WithLogger(logger))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		gw := &media.Gateway{
			Source:           src,
			DataStart:        result.DataStart,
			DataEndInclusive: result.DataEndInclusive,
			MimeType:         q.Get("type"),
			Logger:           logger,
		}
		gw.ServeHTTP(w, r)
	}
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.addr, "addr", ":8080", "listen address")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.StringVar(&cfg.proxyPath, "proxy-path", "/proxy", "path the CORS-bypass relay is mounted at")
	flag.DurationVar(&cfg.openTimeout, "open-timeout", 30*time.Second, "timeout for opening a remote archive")
	flag.Parse()
	return cfg
}

func parseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
