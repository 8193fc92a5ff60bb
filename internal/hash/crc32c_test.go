package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// Check value from RFC 3720, B.4.
	assert.Equal(t, uint32(0xe3069283), CRC32C([]byte("123456789")))
	assert.Equal(t, uint32(0), CRC32C(nil))
}

func TestVerify(t *testing.T) {
	data := []byte("123456789")
	assert.NoError(t, Verify(data, 0xe3069283))
	assert.ErrorIs(t, Verify(data, 0xe3069284), ErrMismatch)
	assert.ErrorIs(t, Verify(data[1:], 0xe3069283), ErrMismatch)
}

func TestDigest(t *testing.T) {
	d := NewDigest()
	d.Uint16(0x0201)
	d.Uint32(0x06050403)
	d.Uint64(0x0e0d0c0b0a090807)
	assert.Equal(t, CRC32C([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}), d.Sum32())
}

func TestDigest_Strings(t *testing.T) {
	sum := func(parts ...string) uint32 {
		d := NewDigest()
		for _, p := range parts {
			d.String(p)
		}
		return d.Sum32()
	}
	assert.Equal(t, sum("int", "1"), sum("int", "1"))
	assert.NotEqual(t, sum("int", "1"), sum("in", "t1"))
	assert.NotEqual(t, sum("int", "1"), sum("float", "1"))
}
