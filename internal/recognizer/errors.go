package recognizer

import (
	"errors"
	"fmt"

	"github.com/scribekit/scribed/internal/engine"
	"github.com/scribekit/scribed/internal/extract"
	"github.com/scribekit/scribed/internal/remote"
)

// Kind is the stable error classification reported to callers.
type Kind string

const (
	KindInput       Kind = "input"
	KindExtraction  Kind = "extraction"
	KindModelLoad   Kind = "model_load"
	KindRecognition Kind = "recognition"
	KindNetwork     Kind = "network"
	KindParse       Kind = "parse"
	KindConcurrency Kind = "concurrency"
)

// Failure pairs a stable Kind with a human-readable detail string.
type Failure struct {
	Kind   Kind
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s", f.Kind, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

func (f *Failure) Unwrap() error { return f.Err }

// ErrBusy rejects a request arriving while another is in flight. It never
// disturbs the in-flight request.
var ErrBusy = &Failure{Kind: KindConcurrency, Detail: "recognition already in progress"}

// ErrClosed rejects operations on an orchestrator that has been closed.
var ErrClosed = &Failure{Kind: KindRecognition, Detail: "recognizer closed"}

func failure(kind Kind, err error) *Failure {
	return &Failure{Kind: kind, Detail: err.Error(), Err: err}
}

// classify maps leaf-package sentinel errors onto the stable taxonomy.
func classify(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	switch {
	case errors.Is(err, extract.ErrInputMissing):
		return failure(KindInput, err)
	case errors.Is(err, extract.ErrDecoderUnavailable),
		errors.Is(err, extract.ErrStartTimeout),
		errors.Is(err, extract.ErrRunTimeout),
		errors.Is(err, extract.ErrDecoderExit),
		errors.Is(err, extract.ErrEmptyOutput),
		errors.Is(err, extract.ErrNoSamples):
		return failure(KindExtraction, err)
	case errors.Is(err, engine.ErrModelMissing),
		errors.Is(err, engine.ErrIncompatibleModel),
		errors.Is(err, engine.ErrUnrecognizedModel):
		return failure(KindModelLoad, err)
	case errors.Is(err, remote.ErrParse):
		return failure(KindParse, err)
	case errors.Is(err, remote.ErrNetwork):
		return failure(KindNetwork, err)
	default:
		return failure(KindRecognition, err)
	}
}
