package tracefile

import (
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zstdFrame(t *testing.T, n int) []byte {
	t.Helper()
	enc := getZstdEncoder()
	defer putZstdEncoder(enc)
	return enc.EncodeAll(make([]byte, n), nil)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	got, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, got)

	_, err = ParseCompression("gzip")
	assert.ErrorIs(t, err, ErrUnknownCompression)
}

func TestDecompress_ZSTDFrameSizeMismatch(t *testing.T) {
	frame := zstdFrame(t, 1<<20)

	_, err := decompress(CompressionZSTD, frame, 16)
	assert.ErrorIs(t, err, ErrCorrupt)

	got, err := decompress(CompressionZSTD, frame, 1<<20)
	require.NoError(t, err)
	assert.Len(t, got, 1<<20)
}

func TestDecompress_ZSTDMemoryLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates the full payload limit")
	}
	frame := zstdFrame(t, maxPayload+1)

	_, err := decompress(CompressionZSTD, frame, maxPayload+1)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.ErrorIs(t, err, zstd.ErrDecoderSizeExceeded)
}

func TestDecompress_Garbage(t *testing.T) {
	_, err := decompress(CompressionZSTD, []byte{1, 2, 3}, 16)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = decompress(CompressionLZ4, []byte{0xff, 0xff, 0xff}, 16)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = decompress(CompressionNone, []byte{1, 2}, 3)
	assert.ErrorIs(t, err, ErrCorrupt)
}
