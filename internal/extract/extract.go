// Package extract converts arbitrary media containers into mono 16kHz PCM
// by driving an external decoder (ffmpeg by default).
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
	"github.com/scribekit/scribed/internal/config"
)

// SampleRate is the fixed output rate the recognizer backends expect.
const SampleRate = 16000

// suspiciousSize marks decoder outputs that are technically valid but almost
// certainly contain no usable speech.
const suspiciousSize = 1024

var (
	ErrInputMissing       = errors.New("input file missing or unreadable")
	ErrDecoderUnavailable = errors.New("decoder unavailable")
	ErrStartTimeout       = errors.New("decoder process did not start in time")
	ErrRunTimeout         = errors.New("decoder process timed out")
	ErrDecoderExit        = errors.New("decoder exited with an error")
	ErrEmptyOutput        = errors.New("decoder produced no output")
	ErrNoSamples          = errors.New("decoded audio contains no samples")
)

// Audio is the decoded result: float32 samples at SampleRate, mono, plus the
// on-disk WAV the decoder wrote (kept so the remote backend can reference it).
type Audio struct {
	Samples    []float32
	SampleRate int
	Path       string
}

// Duration returns the clip length implied by the sample count.
func (a *Audio) Duration() time.Duration {
	if a == nil || a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.Samples)) * time.Second / time.Duration(a.SampleRate)
}

// Extractor spawns the external decoder with fixed conversion arguments.
type Extractor struct {
	cfg config.ExtractConfig
	log *slog.Logger
	cmd []string

	probeOnce sync.Once
	probeErr  error
}

func New(cfg config.ExtractConfig, log *slog.Logger) (*Extractor, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse decoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("decoder command is empty")
	}
	return &Extractor{
		cfg: cfg,
		log: log.With(slog.String("component", "extract")),
		cmd: args,
	}, nil
}

// Probe verifies the decoder binary responds to a version query. The result
// is cached for the process lifetime.
func (e *Extractor) Probe(ctx context.Context) error {
	e.probeOnce.Do(func() {
		e.probeErr = e.probe(ctx)
	})
	return e.probeErr
}

func (e *Extractor) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.ProbeRunMS)*time.Millisecond)
	defer cancel()

	args := append(append([]string{}, e.cmd[1:]...), "-version")
	cmd := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout

	if err := startWithTimeout(cmd, time.Duration(e.cfg.ProbeStartMS)*time.Millisecond); err != nil {
		return fmt.Errorf("%w: %s", ErrDecoderUnavailable, err)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%w: version probe: %s", ErrDecoderUnavailable, err)
	}
	version := firstLine(stdout.String())
	if !strings.Contains(version, "version") {
		return fmt.Errorf("%w: unexpected version output %q", ErrDecoderUnavailable, version)
	}
	e.log.Info("decoder probe ok", slog.String("version", version))
	return nil
}

// Extract decodes input into a 16kHz mono signed-16 WAV at outputPath and
// returns the samples as float32. The subprocess is killed when ctx is
// canceled or the run timeout expires.
func (e *Extractor) Extract(ctx context.Context, inputPath, outputPath string) (*Audio, error) {
	info, err := os.Stat(inputPath)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInputMissing, inputPath)
	}

	if err := e.Probe(ctx); err != nil {
		return nil, err
	}

	// Strip video, downmix to mono, resample to 16kHz, overwrite destination.
	args := append(append([]string{}, e.cmd[1:]...),
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", "1",
		"-y",
		outputPath,
	)
	cmd := exec.Command(e.cmd[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := startWithTimeout(cmd, time.Duration(e.cfg.StartTimeoutMS)*time.Millisecond); err != nil {
		if errors.Is(err, errStartTimedOut) {
			return nil, ErrStartTimeout
		}
		return nil, fmt.Errorf("%w: %s", ErrDecoderUnavailable, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err = <-done:
	case <-time.After(time.Duration(e.cfg.RunTimeoutMS) * time.Millisecond):
		_ = cmd.Process.Kill()
		<-done
		return nil, fmt.Errorf("%w after %s", ErrRunTimeout, time.Since(start).Round(time.Millisecond))
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrDecoderExit, err, stderrTail(stderr.String()))
	}

	out, err := os.Stat(outputPath)
	if err != nil || out.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyOutput, outputPath)
	}
	if out.Size() < suspiciousSize {
		e.log.Warn("decoder output suspiciously small",
			slog.String("path", outputPath),
			slog.Int64("bytes", out.Size()))
	}

	audio, err := ReadWAV(outputPath)
	if err != nil {
		return nil, err
	}
	e.log.Info("audio extracted",
		slog.String("input", inputPath),
		slog.Duration("audio", audio.Duration()),
		slog.Duration("took", time.Since(start).Round(time.Millisecond)))
	return audio, nil
}

// ReadWAV loads a WAV file and converts its PCM payload to float32 samples
// in [-1, 1]. The container's declared rate is ignored in favor of the fixed
// pipeline rate when it matches; a mismatch is an error.
func ReadWAV(path string) (*Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInputMissing, path)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav %s: %w", path, err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSamples, path)
	}

	// Normalize signed 16-bit samples to [-1.0, 1.0].
	samples := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = float32(s) / 32768.0
	}
	return &Audio{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Path:       path,
	}, nil
}

// UsableDirectly reports whether path is already a 16kHz mono WAV, in which
// case extraction can be skipped.
func UsableDirectly(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	return dec.Err() == nil &&
		int(dec.SampleRate) == SampleRate &&
		dec.NumChans == 1
}

var errStartTimedOut = errors.New("start timed out")

// startWithTimeout bounds cmd.Start, which can stall on slow or unreachable
// filesystems holding the binary.
func startWithTimeout(cmd *exec.Cmd, timeout time.Duration) error {
	started := make(chan error, 1)
	go func() { started <- cmd.Start() }()
	select {
	case err := <-started:
		return err
	case <-time.After(timeout):
		go func() {
			if err := <-started; err == nil && cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}()
		return errStartTimedOut
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// stderrTail keeps the end of the decoder's stderr, where ffmpeg reports the
// actual failure.
func stderrTail(s string) string {
	const max = 512
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = "…" + s[len(s)-max:]
	}
	return s
}
