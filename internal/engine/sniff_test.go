package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestSniffModelAcceptsGGML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ggml-small.bin")
	writeFile(t, path, append([]byte{0x6c, 0x6d, 0x67, 0x67}, make([]byte, 64)...))

	if err := SniffModel(path); err != nil {
		t.Fatalf("expected GGML header to pass, got %v", err)
	}
}

func TestSniffModelRejectsPyTorchCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.pt")
	writeFile(t, path, append([]byte("PK\x03\x04"), make([]byte, 64)...))

	err := SniffModel(path)
	if !errors.Is(err, ErrIncompatibleModel) {
		t.Fatalf("expected ErrIncompatibleModel, got %v", err)
	}
}

func TestSniffModelRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.bin")
	writeFile(t, path, []byte("definitely not a model"))

	err := SniffModel(path)
	if !errors.Is(err, ErrUnrecognizedModel) {
		t.Fatalf("expected ErrUnrecognizedModel, got %v", err)
	}
}

func TestSniffModelMissingFile(t *testing.T) {
	err := SniffModel(filepath.Join(t.TempDir(), "missing.bin"))
	if !errors.Is(err, ErrModelMissing) {
		t.Fatalf("expected ErrModelMissing, got %v", err)
	}
}
