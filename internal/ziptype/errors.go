package ziptype

import (
	"errors"
	"fmt"
)

// Sentinel errors for the variant-free failure kinds in spec.md §7.
var (
	// ErrNotAZip means the EOCD signature was not found; fatal for the
	// archive.
	ErrNotAZip = errors.New("remotezip: not a zip archive (EOCD not found)")

	// ErrCorruptDirectory means a Central Directory record signature
	// mismatch or truncated record, which the parser reports as a non-fatal
	// warning after keeping the entries decoded so far, or a ZIP64 EOCD
	// record that does not match its locator, which is fatal.
	ErrCorruptDirectory = errors.New("remotezip: corrupt central directory")

	// ErrCorruptLocalHeader means a Local File Header signature mismatch;
	// non-fatal, scoped to a single entry.
	ErrCorruptLocalHeader = errors.New("remotezip: corrupt local file header")

	// ErrCorruptDeflate means decoding failed or the decoded length did not
	// match the recorded size; non-fatal, scoped to a single entry. The
	// entry's CRC-32 is not verified.
	ErrCorruptDeflate = errors.New("remotezip: corrupt deflate stream")

	// ErrEntryNotFound means the requested path has no matching entry.
	ErrEntryNotFound = errors.New("remotezip: entry not found")
)

// UnsupportedCompressionError reports a compression method this
// implementation cannot decode. The entry remains listed; only extraction
// fails.
type UnsupportedCompressionError struct {
	Method uint16
}

func (e *UnsupportedCompressionError) Error() string {
	return fmt.Sprintf("remotezip: unsupported compression method %d", e.Method)
}

// EntryTooLargeError reports a preview request that exceeded the
// configured size gate (spec.md §4.4 step 4).
type EntryTooLargeError struct {
	Size  uint64
	Limit uint64
}

func (e *EntryTooLargeError) Error() string {
	return fmt.Sprintf("remotezip: entry too large: %d bytes exceeds limit of %d", e.Size, e.Limit)
}

// CorruptLocalHeaderError wraps ErrCorruptLocalHeader with the offending
// entry's path for diagnostics.
type CorruptLocalHeaderError struct {
	Path string
	Err  error
}

func (e *CorruptLocalHeaderError) Error() string {
	return fmt.Sprintf("remotezip: %s: corrupt local file header: %v", e.Path, e.Err)
}

func (e *CorruptLocalHeaderError) Unwrap() error { return ErrCorruptLocalHeader }

// CorruptDeflateError wraps ErrCorruptDeflate with the offending entry's
// path for diagnostics.
type CorruptDeflateError struct {
	Path string
	Err  error
}

func (e *CorruptDeflateError) Error() string {
	return fmt.Sprintf("remotezip: %s: corrupt deflate stream: %v", e.Path, e.Err)
}

func (e *CorruptDeflateError) Unwrap() error { return ErrCorruptDeflate }
