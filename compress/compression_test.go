package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecsRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("AAPL 172.31 5 "), 200)
	for _, ct := range []CompressionType{NONE, GZIP, SNAPPY, LZ4, ZSTD} {
		t.Run(ct.String(), func(t *testing.T) {
			encoded, err := Encode(ct, payload)
			require.NoError(t, err)
			if ct != NONE {
				assert.Less(t, len(encoded), len(payload))
			}
			decoded, err := Decode(uint8(ct), encoded)
			require.NoError(t, err)
			assert.Equal(t, payload, decoded)
		})
	}
}

func TestParseCompressionType(t *testing.T) {
	ct, err := ParseCompressionType("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, ZSTD, ct)

	ct, err = ParseCompressionType("")
	require.NoError(t, err)
	assert.Equal(t, NONE, ct)

	_, err = ParseCompressionType("brotli")
	assert.Error(t, err)
}

func TestAttributesUseLowBits(t *testing.T) {
	assert.Equal(t, LZ4, FromAttributes(0xF3))
	assert.Nil(t, GetCompressor(0x08))
	assert.IsType(t, &GzipCompressor{}, GetCompressor(0x01))
}

func TestUnsupportedType(t *testing.T) {
	_, err := Decode(0x07, []byte("x"))
	assert.Error(t, err)
}

func TestDecodedSizeLimit(t *testing.T) {
	bomb := make([]byte, MaxDecodedSize+1)
	for _, ct := range []CompressionType{GZIP, LZ4} {
		t.Run(ct.String(), func(t *testing.T) {
			encoded, err := Encode(ct, bomb)
			require.NoError(t, err)
			_, err = Decode(uint8(ct), encoded)
			assert.ErrorIs(t, err, ErrTooLarge)

			// the limit itself still decodes
			encoded, err = Encode(ct, bomb[:MaxDecodedSize])
			require.NoError(t, err)
			decoded, err := Decode(uint8(ct), encoded)
			require.NoError(t, err)
			assert.Len(t, decoded, MaxDecodedSize)
		})
	}

	_, err := Encode(SNAPPY, bomb)
	assert.ErrorIs(t, err, ErrTooLarge)
}
