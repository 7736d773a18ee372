package recognizer

import (
	"context"
	"time"

	"github.com/scribekit/scribed/internal/engine"
	"github.com/scribekit/scribed/internal/extract"
)

// RunState is the orchestrator's single mutable phase flag. Exactly one
// value holds at any instant; every terminal outcome returns to StateIdle.
type RunState int

const (
	StateIdle RunState = iota
	StateExtracting
	StateTranscribingLocal
	StateTranscribingRemote
	StateCompleted
	StateFailed
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExtracting:
		return "extracting"
	case StateTranscribingLocal:
		return "transcribing_local"
	case StateTranscribingRemote:
		return "transcribing_remote"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Backend identifies one of the two transcription execution paths.
type Backend int

const (
	BackendLocal Backend = iota
	BackendRemote
)

func (b Backend) String() string {
	if b == BackendRemote {
		return "remote"
	}
	return "local"
}

func (b Backend) other() Backend {
	if b == BackendLocal {
		return BackendRemote
	}
	return BackendLocal
}

// Request describes one recognition job. Immutable once accepted.
type Request struct {
	ID         string
	SourcePath string
	// OutputPath, when set, keeps the extracted audio at that path instead
	// of a temp file deleted after the run.
	OutputPath string
	// Language overrides the configured language; empty means use settings.
	Language string
	// Backend pins a backend ("local" or "remote"); empty means use the
	// configured preference.
	Backend string
}

// Result is the terminal success payload.
type Result struct {
	RequestID  string
	SourcePath string
	Backend    Backend
	Language   string
	Text       string
	Took       time.Duration
}

// Settings are the externally supplied knobs the orchestrator consumes.
// They are read at request time, never cached across requests.
type Settings struct {
	ModelPath     string
	ModelSizeHint string
	Language      string
	PreferRemote  bool
	Endpoint      string
}

// Events receives orchestrator notifications. Callbacks for a given request
// fire sequentially from a single goroutine, in order: progress events, then
// exactly one of Completed or Failed. A stopped run emits nothing terminal.
type Events struct {
	Progress  func(requestID string, state RunState, percent int)
	Completed func(Result)
	Failed    func(requestID string, failure *Failure)
}

func (e Events) progress(id string, state RunState, percent int) {
	if e.Progress != nil {
		e.Progress(id, state, percent)
	}
}

func (e Events) completed(res Result) {
	if e.Completed != nil {
		e.Completed(res)
	}
}

func (e Events) failed(id string, f *Failure) {
	if e.Failed != nil {
		e.Failed(id, f)
	}
}

// Extractor produces a mono 16kHz PCM buffer from a media container.
type Extractor interface {
	Extract(ctx context.Context, inputPath, outputPath string) (*extract.Audio, error)
}

// RemoteBackend submits audio to the HTTP transcription service.
type RemoteBackend interface {
	Transcribe(ctx context.Context, audioPath, language string) (string, error)
	Available() bool
}

// EngineFactory loads an acoustic model from disk. Used for the initial
// load and for reloads when the model path setting changes.
type EngineFactory func(modelPath string) (engine.Engine, error)

// RemoteFactory builds a remote backend for an endpoint. An empty endpoint
// yields an unavailable backend.
type RemoteFactory func(endpoint string) RemoteBackend
