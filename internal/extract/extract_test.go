package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/scribekit/scribed/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(command string) config.ExtractConfig {
	return config.ExtractConfig{
		Command:        command,
		ProbeStartMS:   2000,
		ProbeRunMS:     3000,
		StartTimeoutMS: 2000,
		RunTimeoutMS:   5000,
	}
}

// writeSilenceWAV writes seconds of 16kHz mono silence to path.
func writeSilenceWAV(t *testing.T, path string, seconds int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: SampleRate},
		Data:   make([]int, SampleRate*seconds),
	}
	enc := wav.NewEncoder(f, SampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav encoder: %v", err)
	}
}

// fakeDecoder writes a shell script that answers the version probe and copies
// its first argument (a prepared fixture) to the output path. The fixture path
// is smuggled in as a leading argument of the configured command string.
func fakeDecoder(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "fakedec.sh")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake decoder: %v", err)
	}
	return path
}

const copyBody = `if [ "$2" = "-version" ]; then echo "fakedec version 1.0"; exit 0; fi
for last; do :; done
cp "$1" "$last"
`

func TestExtractCopiesAndDecodes(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.wav")
	writeSilenceWAV(t, fixture, 1)

	input := filepath.Join(dir, "movie.mp4")
	if err := os.WriteFile(input, []byte("not really a video"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	script := fakeDecoder(t, dir, copyBody)
	ex, err := New(testConfig(script+" "+fixture), newLogger())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}

	out := filepath.Join(dir, "out.wav")
	got, err := ex.Extract(context.Background(), input, out)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got.SampleRate != SampleRate {
		t.Fatalf("expected %d Hz, got %d", SampleRate, got.SampleRate)
	}
	if len(got.Samples) != SampleRate {
		t.Fatalf("expected %d samples, got %d", SampleRate, len(got.Samples))
	}
	if got.Path != out {
		t.Fatalf("expected path %q, got %q", out, got.Path)
	}
}

func TestExtractMissingInput(t *testing.T) {
	dir := t.TempDir()
	script := fakeDecoder(t, dir, copyBody)
	ex, err := New(testConfig(script), newLogger())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}

	_, err = ex.Extract(context.Background(), filepath.Join(dir, "nope.mp4"), filepath.Join(dir, "out.wav"))
	if !errors.Is(err, ErrInputMissing) {
		t.Fatalf("expected ErrInputMissing, got %v", err)
	}
}

func TestExtractDecoderUnavailable(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(input, []byte("x"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	ex, err := New(testConfig(filepath.Join(dir, "no-such-binary")), newLogger())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	_, err = ex.Extract(context.Background(), input, filepath.Join(dir, "out.wav"))
	if !errors.Is(err, ErrDecoderUnavailable) {
		t.Fatalf("expected ErrDecoderUnavailable, got %v", err)
	}
}

func TestExtractNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(input, []byte("x"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	body := `if [ "$1" = "-version" ]; then echo "fakedec version 1.0"; exit 0; fi
echo "boom: unsupported codec" >&2
exit 3
`
	script := fakeDecoder(t, dir, body)
	ex, err := New(testConfig(script), newLogger())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	_, err = ex.Extract(context.Background(), input, filepath.Join(dir, "out.wav"))
	if !errors.Is(err, ErrDecoderExit) {
		t.Fatalf("expected ErrDecoderExit, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported codec") {
		t.Fatalf("expected stderr tail in error, got %q", err.Error())
	}
}

func TestExtractEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(input, []byte("x"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	body := `if [ "$1" = "-version" ]; then echo "fakedec version 1.0"; exit 0; fi
exit 0
`
	script := fakeDecoder(t, dir, body)
	ex, err := New(testConfig(script), newLogger())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	_, err = ex.Extract(context.Background(), input, filepath.Join(dir, "out.wav"))
	if !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
}

func TestExtractRunTimeoutKillsProcess(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(input, []byte("x"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	body := `if [ "$1" = "-version" ]; then echo "fakedec version 1.0"; exit 0; fi
sleep 30
`
	script := fakeDecoder(t, dir, body)
	cfg := testConfig(script)
	cfg.RunTimeoutMS = 100
	ex, err := New(cfg, newLogger())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	_, err = ex.Extract(context.Background(), input, filepath.Join(dir, "out.wav"))
	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("expected ErrRunTimeout, got %v", err)
	}
}

func TestExtractCanceledContextKillsProcess(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(input, []byte("x"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	body := `if [ "$1" = "-version" ]; then echo "fakedec version 1.0"; exit 0; fi
sleep 30
`
	script := fakeDecoder(t, dir, body)
	ex, err := New(testConfig(script), newLogger())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}

	// Prime the probe cache so cancellation hits the extraction itself.
	if err := ex.Probe(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err = ex.Extract(ctx, input, filepath.Join(dir, "out.wav"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReadWAVMissingFileIsInputError(t *testing.T) {
	_, err := ReadWAV(filepath.Join(t.TempDir(), "gone.wav"))
	if !errors.Is(err, ErrInputMissing) {
		t.Fatalf("expected ErrInputMissing for an unreadable source, got %v", err)
	}
}

func TestUsableDirectly(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.wav")
	writeSilenceWAV(t, good, 1)
	if !UsableDirectly(good) {
		t.Fatal("expected 16kHz mono wav to be usable directly")
	}

	bad := filepath.Join(dir, "bad.bin")
	if err := os.WriteFile(bad, []byte("nonsense"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if UsableDirectly(bad) {
		t.Fatal("expected non-wav file to require extraction")
	}
}
