package compress

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxDecodedSize bounds a decompressed request body; it matches the frame limit
const MaxDecodedSize = 16 << 20

// ErrTooLarge is returned when a body decompresses past MaxDecodedSize
var ErrTooLarge = errors.New("compress: decoded body exceeds limit")

// readLimited drains r, failing once more than MaxDecodedSize bytes come out
func readLimited(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, MaxDecodedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxDecodedSize {
		return nil, ErrTooLarge
	}
	return out, nil
}

// CompressionType represents one of the supported compression types
type CompressionType uint8

// Frame compression types, stored in the low 3 bits of the attributes byte
const (
	NONE   CompressionType = 0
	GZIP   CompressionType = 1
	SNAPPY CompressionType = 2
	LZ4    CompressionType = 3
	ZSTD   CompressionType = 4
)

var compressors = map[CompressionType]Compressor{
	NONE:   nil,
	GZIP:   &GzipCompressor{},
	SNAPPY: &SnappyCompressor{},
	LZ4:    &LZ4Compressor{},
	ZSTD:   &ZSTDCompressor{},
}

var names = map[CompressionType]string{
	NONE:   "none",
	GZIP:   "gzip",
	SNAPPY: "snappy",
	LZ4:    "lz4",
	ZSTD:   "zstd",
}

func (c CompressionType) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("CompressionType(%d)", uint8(c))
}

// ParseCompressionType maps a codec name ("none", "gzip", "snappy", "lz4", "zstd") to its type
func ParseCompressionType(name string) (CompressionType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return NONE, nil
	}
	for t, n := range names {
		if n == name {
			return t, nil
		}
	}
	return NONE, fmt.Errorf("unknown compression codec %q", name)
}

// FromAttributes extracts the compression type from a frame's attributes byte
func FromAttributes(attributes uint8) CompressionType {
	return CompressionType(attributes & 0x07) // first 3 bits: 0~2
}

// GetCompressor returns the Compressor for a frame's attributes. NONE yields nil.
func GetCompressor(attributes uint8) Compressor {
	return compressors[FromAttributes(attributes)]
}

// Compressor represents one of the supported compressors
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Encode compresses data with the codec t. NONE returns data unchanged.
func Encode(t CompressionType, data []byte) ([]byte, error) {
	c, ok := compressors[t]
	if !ok {
		return nil, fmt.Errorf("unsupported compression type %d", t)
	}
	if c == nil {
		return data, nil
	}
	return c.Compress(data)
}

// Decode decompresses data according to a frame's attributes byte
func Decode(attributes uint8, data []byte) ([]byte, error) {
	t := FromAttributes(attributes)
	c, ok := compressors[t]
	if !ok {
		return nil, fmt.Errorf("unsupported compression type %d", t)
	}
	if c == nil {
		return data, nil
	}
	return c.Decompress(data)
}
