package mmap

import (
	"fmt"
	"os"
	"sync/atomic"
)

// View is a file mapped read-only into memory. Trace files are decoded
// straight out of a View instead of being copied through a read buffer.
type View struct {
	data   []byte
	closed atomic.Bool
}

// OpenView maps the file at path read-only and passes pattern to the kernel.
// Files shorter than minSize fail with ErrShortFile and files longer than
// maxSize, when positive, fail with ErrTooLarge; neither is mapped.
func OpenView(path string, minSize, maxSize int64, pattern AccessPattern) (*View, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size < minSize {
		return nil, fmt.Errorf("%w: %s has %d bytes, need %d", ErrShortFile, path, size, minSize)
	}
	if maxSize > 0 && size > maxSize {
		return nil, fmt.Errorf("%w: %s has %d bytes, limit %d", ErrTooLarge, path, size, maxSize)
	}
	if size == 0 {
		return &View{}, nil
	}
	if int64(int(size)) != size {
		return nil, ErrInvalidSize
	}

	data, err := mapFile(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("mmap: map %s: %w", path, err)
	}
	// Advice is only a hint.
	_ = adviseFile(data, pattern)
	return &View{data: data}, nil
}

// Bytes returns the file contents. The slice must not be used after Close
// and is nil once the view is closed.
func (v *View) Bytes() []byte {
	if v.closed.Load() {
		return nil
	}
	return v.data
}

// Len returns the file size.
func (v *View) Len() int { return len(v.data) }

// Close unmaps the file. It is idempotent.
func (v *View) Close() error {
	if v.closed.Swap(true) || v.data == nil {
		return nil
	}
	return unmapFile(v.data)
}
