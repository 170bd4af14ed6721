package compress

import (
	"bytes"
	"compress/gzip"
	"sync"

	log "github.com/CefBoud/monpubsub/logging"
)

var (
	gzipWriterPool = sync.Pool{
		New: func() any {
			return gzip.NewWriter(nil)
		},
	}
	// gzip.NewReader needs a valid stream, so readers are created lazily
	gzipReaderPool sync.Pool
)

// GzipCompressor implements Compressor interface
type GzipCompressor struct{}

// Compress takes in data and applies gzip to it
func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var compressed bytes.Buffer
	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(&compressed)

	if _, err := w.Write(data); err != nil {
		log.Error("Failed to gzip data: %v", err)
		return nil, err
	}
	if err := w.Close(); err != nil {
		log.Error("Failed to close GZIP writer: %v", err)
		return nil, err
	}
	return compressed.Bytes(), nil
}

// Decompress decompresses gzip-compressed data
func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	var err error
	src := bytes.NewReader(data)
	r, found := gzipReaderPool.Get().(*gzip.Reader)
	if found {
		err = r.Reset(src)
	} else {
		r, err = gzip.NewReader(src)
	}
	if err != nil {
		return nil, err
	}
	defer gzipReaderPool.Put(r)

	out, err := readLimited(r)
	if err != nil {
		log.Error("Failed to gunzip data: %v", err)
		return nil, err
	}
	return out, r.Close()
}
