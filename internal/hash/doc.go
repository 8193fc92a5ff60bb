// Package hash provides the CRC32-Castagnoli checksums used by trace files
// and the executor cache.
//
// Trace files store the CRC32C of their uncompressed payload and check it on
// load:
//
//	sum := hash.CRC32C(payload)
//	err := hash.Verify(payload, header.Checksum)
//
// The executor registry builds its deduplication key with a Digest:
//
//	d := hash.NewDigest()
//	d.Uint16(uint16(in.Opcode))
//	d.Uint64(in.Operand)
//	key := d.Sum32()
//
// The table is built once at init; hash/crc32 switches to SSE4.2 or the
// ARM CRC extension when present.
package hash
