package tier2

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hupe1980/tier2/internal/tracefile"
	"github.com/hupe1980/tier2/internal/uop"
)

// Trace is a linear sequence of micro-ops plus the objects its operands
// name.
type Trace = uop.Trace

// Instruction is one micro-op of a trace.
type Instruction = uop.Instruction

// Compression selects how SaveTrace compresses binary trace files.
type Compression = tracefile.Compression

const (
	CompressionNone = tracefile.CompressionNone
	CompressionLZ4  = tracefile.CompressionLZ4
	CompressionZSTD = tracefile.CompressionZSTD
)

// ParseTrace reads a trace in text form.
func ParseTrace(text string) (*Trace, error) {
	t, err := uop.ParseString(text)
	return t, translateError(err)
}

// FormatTrace renders t in text form.
func FormatTrace(t *Trace) (string, error) {
	return uop.FormatString(t)
}

// LoadTrace reads a trace file, detecting the binary and text forms.
func LoadTrace(path string) (*Trace, error) {
	binary, err := tracefile.IsTraceFile(path)
	if err != nil {
		return nil, err
	}
	if binary {
		t, err := tracefile.ReadFile(path)
		return t, translateError(err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := uop.Parse(f)
	if err != nil {
		return nil, translateError(fmt.Errorf("%s: %w", path, err))
	}
	return t, nil
}

// SaveTrace writes t to path. Paths ending in .txt or .trace get the text
// form; everything else the binary form with compression c.
func SaveTrace(path string, t *Trace, c Compression) error {
	if isTextPath(path) {
		text, err := uop.FormatString(t)
		if err != nil {
			return err
		}
		return os.WriteFile(path, []byte(text), 0o644)
	}
	return translateError(tracefile.WriteFile(nil, path, t, c))
}

func isTextPath(path string) bool {
	return strings.HasSuffix(path, ".txt") || strings.HasSuffix(path, ".trace")
}

// IsMalformed reports whether err rejects a trace as malformed.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedTrace)
}
