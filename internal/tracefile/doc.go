// Package tracefile stores recorded traces in a compact binary form.
//
// A file is a fixed header followed by the payload:
//
//	magic "T2TR" | version u16 | compression u8 | reserved u8
//	count u32 | payload size u32 | stored size u32 | crc32c u32
//
// The payload holds count 16-byte instruction records
// (opcode u16, oparg u16, target u32, operand u64, little endian) followed
// by the object table in the text form of package uop. It is optionally
// compressed with LZ4 or ZSTD; the checksum covers the uncompressed payload.
package tracefile
