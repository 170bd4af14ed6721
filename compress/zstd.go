package compress

import (
	"errors"
	"sync"

	log "github.com/CefBoud/monpubsub/logging"
	"github.com/klauspost/compress/zstd"
)

// ZSTDCompressor implements Compressor interface
type ZSTDCompressor struct{}

// EncodeAll and DecodeAll are safe for concurrent use, so one encoder and one
// decoder serve every caller.
var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdInitErr error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		// WithZeroFrames encodes 0 length input as a full frame
		zstdEncoder, zstdInitErr = zstd.NewWriter(nil, zstd.WithZeroFrames(true))
		if zstdInitErr != nil {
			return
		}
		zstdDecoder, zstdInitErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
	})
	return zstdEncoder, zstdDecoder, zstdInitErr
}

// Compress takes in data and applies ZSTD to it
func (c *ZSTDCompressor) Compress(data []byte) ([]byte, error) {
	enc, _, err := zstdCodecs()
	if err != nil {
		log.Error("Failed to init ZSTD encoder: %v", err)
		return nil, err
	}
	return enc.EncodeAll(data, nil), nil
}

// Decompress decompresses ZSTD-compressed data
func (c *ZSTDCompressor) Decompress(data []byte) ([]byte, error) {
	_, dec, err := zstdCodecs()
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(data, nil)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
		return nil, ErrTooLarge
	}
	if err != nil {
		log.Error("Failed to decompress ZSTD data: %v", err)
		return nil, err
	}
	return out, nil
}
