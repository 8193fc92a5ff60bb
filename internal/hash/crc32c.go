package hash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

// ErrMismatch is returned by Verify when a checksum does not match.
var ErrMismatch = errors.New("hash: crc32c mismatch")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// Verify checks data against a stored CRC32C.
func Verify(data []byte, want uint32) error {
	if got := CRC32C(data); got != want {
		return fmt.Errorf("%w: got %08x, want %08x", ErrMismatch, got, want)
	}
	return nil
}

// Digest folds fixed-width little-endian fields and tagged strings into a
// CRC32C. Two field sequences hash equal only if they were written with the
// same widths in the same order.
type Digest struct {
	h   hash.Hash32
	buf [8]byte
}

// NewDigest returns an empty digest.
func NewDigest() *Digest {
	return &Digest{h: crc32.New(castagnoli)}
}

// Uint16 adds a 16-bit field.
func (d *Digest) Uint16(v uint16) {
	binary.LittleEndian.PutUint16(d.buf[:2], v)
	_, _ = d.h.Write(d.buf[:2])
}

// Uint32 adds a 32-bit field.
func (d *Digest) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(d.buf[:4], v)
	_, _ = d.h.Write(d.buf[:4])
}

// Uint64 adds a 64-bit field.
func (d *Digest) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(d.buf[:], v)
	_, _ = d.h.Write(d.buf[:])
}

// String adds s prefixed with its length, so adjacent strings cannot run
// together.
func (d *Digest) String(s string) {
	d.Uint32(uint32(len(s))) //nolint:gosec // keys are short
	_, _ = io.WriteString(d.h, s)
}

// Sum32 returns the checksum of everything added so far.
func (d *Digest) Sum32() uint32 {
	return d.h.Sum32()
}
