package compress

import (
	"bytes"
	"sync"

	log "github.com/CefBoud/monpubsub/logging"
	"github.com/pierrec/lz4/v4"
)

// LZ4Compressor writes LZ4 frames with 64KB blocks. Request bodies already
// travel over TCP, so frame checksums are left out.
type LZ4Compressor struct{}

var (
	lz4Writers = sync.Pool{New: func() any {
		w := lz4.NewWriter(nil)
		if err := w.Apply(lz4.BlockSizeOption(lz4.Block64Kb), lz4.ChecksumOption(false)); err != nil {
			log.Error("configuring lz4 writer: %v", err)
		}
		return w
	}}
	lz4Readers = sync.Pool{New: func() any { return lz4.NewReader(nil) }}
)

// Compress encodes data as one LZ4 frame
func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	w := lz4Writers.Get().(*lz4.Writer)
	defer lz4Writers.Put(w)

	var frame bytes.Buffer
	frame.Grow(len(data) / 2)
	w.Reset(&frame)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		log.Error("closing lz4 frame: %v", err)
		return nil, err
	}
	return frame.Bytes(), nil
}

// Decompress decodes one LZ4 frame, up to MaxDecodedSize bytes
func (c *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	r := lz4Readers.Get().(*lz4.Reader)
	defer lz4Readers.Put(r)
	r.Reset(bytes.NewReader(data))
	return readLimited(r)
}
