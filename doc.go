// Package remotezip opens a ZIP archive over HTTP Range requests (or from
// an in-memory buffer) without downloading it, lists its entries from the
// Central Directory alone, and extracts individual members on demand. It
// composes internal/zipdir, extract, archiver, proxy, and httpsource into
// the facade described in spec.md §§2-4.
package remotezip
