// Package engine wraps the on-device acoustic model. A loaded model is
// exclusively owned by its creator; Transcribe and Close must never race.
package engine

import (
	"context"
	"errors"
)

var (
	ErrModelMissing      = errors.New("model file missing or unreadable")
	ErrIncompatibleModel = errors.New("model is a PyTorch checkpoint, not a GGML binary; convert it with whisper.cpp's conversion script")
	ErrUnrecognizedModel = errors.New("model file is not a recognized GGML binary")
	ErrEmptyAudio        = errors.New("audio buffer is empty")
)

// Engine performs synchronous, CPU-bound transcription of a PCM buffer.
// A started call cannot be preempted; cancellation is honored only before
// processing begins.
type Engine interface {
	// Transcribe converts mono 16kHz float32 samples into ordered text
	// segments. language "auto" enables the model's own detection; any
	// other value pins the language.
	Transcribe(ctx context.Context, samples []float32, language string) ([]string, error)

	// Close releases the model. The engine is unusable afterwards.
	Close() error
}
