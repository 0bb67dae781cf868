// Package zipfmt holds the binary layout constants for the ZIP and ZIP64
// formats described in the PKWARE APPNOTE: signatures, fixed record sizes,
// and the extra-field id used for 64-bit size/offset replacement.
package zipfmt

// Record signatures, little-endian on the wire.
const (
	SigLocalFileHeader   uint32 = 0x04034b50
	SigCentralDirHeader  uint32 = 0x02014b50
	SigEOCD              uint32 = 0x06054b50
	SigZIP64EOCDLocator  uint32 = 0x07064b50
	SigZIP64EOCD         uint32 = 0x06064b50
)

// Fixed record sizes, not counting variable-length trailers.
const (
	EOCDFixedSize             = 22
	EOCDMaxCommentSize        = 0xFFFF
	ZIP64EOCDLocatorSize      = 20
	ZIP64EOCDFixedSize        = 56
	CentralDirHeaderFixedSize = 46
	LocalFileHeaderFixedSize  = 30

	// LocalFileHeaderProbeSize is the inclusive end, relative to the header's
	// start, of the speculative fetch used to resolve a Local File Header:
	// 542 bytes, the 30-byte fixed record plus 512 bytes of allowance for the
	// combined name+extra field. When an entry's
	// name+extra exceeds this, the caller re-fetches with the exact size
	// read from the first 30 bytes.
	LocalFileHeaderProbeSize = LocalFileHeaderFixedSize + 512 - 1

	// Zip64ExtraFieldID is the header id of the ZIP64 extended-information
	// extra field block.
	Zip64ExtraFieldID uint16 = 0x0001
)

// Sentinel values signaling that a field's true value lives in the ZIP64
// extra field instead of the fixed-width record.
const (
	Sentinel32 uint32 = 0xFFFFFFFF
	Sentinel16 uint16 = 0xFFFF
)

// Compression methods supported by this implementation. Any other method
// id is accepted by the parser (the entry is still listed) but rejected by
// the extractor.
const (
	MethodStored  uint16 = 0
	MethodDeflate uint16 = 8
)
