package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/scribekit/scribed/internal/config"
)

// Whisper runs whisper.cpp in-process via the Go bindings.
type Whisper struct {
	model      whisper.Model
	maxThreads int
	log        *slog.Logger
}

// Load sniffs the file format and loads a GGML model from path.
func Load(path string, cfg config.EngineConfig, log *slog.Logger) (*Whisper, error) {
	if err := SniffModel(path); err != nil {
		return nil, err
	}
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %q: %w", path, err)
	}
	log.Info("whisper model loaded", slog.String("path", path))
	return &Whisper{
		model:      model,
		maxThreads: cfg.MaxThreads,
		log:        log.With(slog.String("component", "engine")),
	}, nil
}

func (w *Whisper) Transcribe(ctx context.Context, samples []float32, language string) ([]string, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create whisper context: %w", err)
	}
	wctx.SetThreads(uint(w.threads()))
	wctx.SetTranslate(false)
	if err := wctx.SetLanguage(language); err != nil {
		return nil, fmt.Errorf("set language %q: %w", language, err)
	}

	// Process blocks until the native call returns; there is no way to
	// interrupt it mid-flight.
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper process: %w", err)
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("next segment: %w", err)
		}
		segments = append(segments, seg.Text)
	}
	return segments, nil
}

func (w *Whisper) Close() error {
	if w.model != nil {
		return w.model.Close()
	}
	return nil
}

func (w *Whisper) threads() int {
	n := w.maxThreads
	if cpus := runtime.NumCPU(); cpus < n {
		n = cpus
	}
	if n < 1 {
		n = 1
	}
	return n
}
