package tracefile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/tier2/internal/conv"
	"github.com/hupe1980/tier2/internal/fs"
	"github.com/hupe1980/tier2/internal/hash"
	"github.com/hupe1980/tier2/internal/mmap"
	"github.com/hupe1980/tier2/internal/uop"
)

const (
	// Version is the current format version.
	Version = 1

	headerSize = 24
	recordSize = 16

	// maxPayload bounds the payload size accepted by Decode.
	maxPayload = 64 << 20
)

var magic = [4]byte{'T', '2', 'T', 'R'}

var (
	ErrBadMagic           = errors.New("tracefile: bad magic")
	ErrUnsupportedVersion = errors.New("tracefile: unsupported version")
	ErrUnknownCompression = errors.New("tracefile: unknown compression")
	ErrChecksum           = errors.New("tracefile: checksum mismatch")
	ErrCorrupt            = errors.New("tracefile: corrupt file")
)

// Header is the fixed-size file header.
type Header struct {
	Version     uint16
	Compression Compression
	Count       uint32
	PayloadSize uint32
	StoredSize  uint32
	Checksum    uint32
}

func (h *Header) encode(b []byte) {
	copy(b[0:4], magic[:])
	binary.LittleEndian.PutUint16(b[4:6], h.Version)
	b[6] = byte(h.Compression)
	b[7] = 0
	binary.LittleEndian.PutUint32(b[8:12], h.Count)
	binary.LittleEndian.PutUint32(b[12:16], h.PayloadSize)
	binary.LittleEndian.PutUint32(b[16:20], h.StoredSize)
	binary.LittleEndian.PutUint32(b[20:24], h.Checksum)
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrCorrupt, len(b), headerSize)
	}
	if !bytes.Equal(b[0:4], magic[:]) {
		return Header{}, ErrBadMagic
	}
	h := Header{
		Version:     binary.LittleEndian.Uint16(b[4:6]),
		Compression: Compression(b[6]),
		Count:       binary.LittleEndian.Uint32(b[8:12]),
		PayloadSize: binary.LittleEndian.Uint32(b[12:16]),
		StoredSize:  binary.LittleEndian.Uint32(b[16:20]),
		Checksum:    binary.LittleEndian.Uint32(b[20:24]),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Compression > CompressionZSTD {
		return Header{}, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(h.Compression))
	}
	if h.PayloadSize > maxPayload || uint64(h.Count)*recordSize > uint64(h.PayloadSize) {
		return Header{}, fmt.Errorf("%w: %d records in %d payload bytes", ErrCorrupt, h.Count, h.PayloadSize)
	}
	return h, nil
}

// Encode returns the binary form of t.
func Encode(t *uop.Trace, c Compression) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	payload := make([]byte, len(t.Instructions)*recordSize, len(t.Instructions)*recordSize+256)
	for i, in := range t.Instructions {
		r := payload[i*recordSize : (i+1)*recordSize]
		binary.LittleEndian.PutUint16(r[0:2], uint16(in.Opcode))
		binary.LittleEndian.PutUint16(r[2:4], in.Oparg)
		binary.LittleEndian.PutUint32(r[4:8], in.Target)
		binary.LittleEndian.PutUint64(r[8:16], in.Operand)
	}

	// The object table and entry reuse the text form.
	buf := bytes.NewBuffer(payload)
	table := &uop.Trace{Objects: t.Objects, Entry: t.Entry, StackEntries: t.StackEntries}
	if err := uop.Format(buf, table); err != nil {
		return nil, err
	}
	payload = buf.Bytes()
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("tracefile: payload of %d bytes exceeds %d", len(payload), maxPayload)
	}
	count, err := conv.IntToUint32(len(t.Instructions))
	if err != nil {
		return nil, err
	}

	stored, used, err := compress(c, payload)
	if err != nil {
		return nil, err
	}

	h := Header{
		Version:     Version,
		Compression: used,
		Count:       count,
		PayloadSize: uint32(len(payload)), //nolint:gosec // bounded by maxPayload
		StoredSize:  uint32(len(stored)),  //nolint:gosec // never larger than the payload
		Checksum:    hash.CRC32C(payload),
	}
	out := make([]byte, headerSize+len(stored))
	h.encode(out)
	copy(out[headerSize:], stored)
	return out, nil
}

// Decode parses the binary form produced by Encode. The returned trace does
// not reference data.
func Decode(data []byte) (*uop.Trace, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	stored := data[headerSize:]
	if uint64(len(stored)) != uint64(h.StoredSize) {
		return nil, fmt.Errorf("%w: %d stored bytes, header says %d", ErrCorrupt, len(stored), h.StoredSize)
	}

	payload, err := decompress(h.Compression, stored, int(h.PayloadSize))
	if err != nil {
		return nil, err
	}
	if err := hash.Verify(payload, h.Checksum); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChecksum, err)
	}

	n := int(h.Count)
	t, err := uop.Parse(bytes.NewReader(payload[n*recordSize:]))
	if err != nil {
		return nil, fmt.Errorf("%w: object table: %w", ErrCorrupt, err)
	}
	t.Instructions = make([]uop.Instruction, n)
	for i := range t.Instructions {
		r := payload[i*recordSize : (i+1)*recordSize]
		t.Instructions[i] = uop.Instruction{
			Opcode:  uop.Opcode(binary.LittleEndian.Uint16(r[0:2])),
			Oparg:   binary.LittleEndian.Uint16(r[2:4]),
			Target:  binary.LittleEndian.Uint32(r[4:8]),
			Operand: binary.LittleEndian.Uint64(r[8:16]),
		}
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return t, nil
}

// Write encodes t to w.
func Write(w io.Writer, t *uop.Trace, c Compression) (int64, error) {
	data, err := Encode(t, c)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// Read decodes a trace from r.
func Read(r io.Reader) (*uop.Trace, error) {
	data, err := io.ReadAll(io.LimitReader(r, headerSize+maxPayload+1))
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// WriteFile atomically writes t to path through fsys, or fs.Default if nil.
func WriteFile(fsys fs.FileSystem, path string, t *uop.Trace, c Compression) error {
	if fsys == nil {
		fsys = fs.Default
	}
	data, err := Encode(t, c)
	if err != nil {
		return err
	}
	return fs.WriteFileAtomic(fsys, path, 0o644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// ReadFile memory-maps path and decodes it. Files too short for a header or
// too long for the payload limit are rejected before mapping.
func ReadFile(path string) (*uop.Trace, error) {
	v, err := mmap.OpenView(path, headerSize, headerSize+maxPayload, mmap.AccessSequential)
	if errors.Is(err, mmap.ErrShortFile) || errors.Is(err, mmap.ErrTooLarge) {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if err != nil {
		return nil, err
	}
	defer v.Close()
	return Decode(v.Bytes())
}

// IsTraceFile reports whether the file at path starts with the trace magic.
func IsTraceFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	var b [4]byte
	if _, err := io.ReadFull(f, b[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return b == magic, nil
}
