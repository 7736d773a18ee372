package engine

import (
	"bytes"
	"fmt"
	"os"
)

// On-disk magic prefixes. GGML files start with the little-endian encoding
// of 0x67676d6c; PyTorch checkpoints are zip archives.
var (
	ggmlMagic = []byte{0x6c, 0x6d, 0x67, 0x67}
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
)

// SniffModel rejects model files the native loader would only fail on with
// an opaque error. A PyTorch checkpoint in particular is a common mistake
// worth a precise message.
func SniffModel(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrModelMissing, path)
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := f.Read(magic); err != nil {
		return fmt.Errorf("%w: %s", ErrUnrecognizedModel, path)
	}
	switch {
	case bytes.Equal(magic, ggmlMagic):
		return nil
	case bytes.Equal(magic, zipMagic):
		return fmt.Errorf("%w: %s", ErrIncompatibleModel, path)
	default:
		return fmt.Errorf("%w: %s", ErrUnrecognizedModel, path)
	}
}
