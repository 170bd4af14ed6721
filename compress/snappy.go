package compress

import (
	log "github.com/CefBoud/monpubsub/logging"
	snappy "github.com/eapache/go-xerial-snappy"
)

// SnappyCompressor encodes raw snappy blocks and decodes raw or
// xerial-framed ones
type SnappyCompressor struct{}

// Compress encodes data as a single snappy block
func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	if len(data) > MaxDecodedSize {
		return nil, ErrTooLarge
	}
	return snappy.Encode(data), nil
}

// Decompress decodes a snappy block; bodies past MaxDecodedSize are refused
func (c *SnappyCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := snappy.Decode(data)
	if err != nil {
		log.Debug("decoding snappy body of %d bytes: %v", len(data), err)
		return nil, err
	}
	if len(out) > MaxDecodedSize {
		return nil, ErrTooLarge
	}
	return out, nil
}
