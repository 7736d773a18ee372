// Package recognizer coordinates audio extraction and the two transcription
// backends behind a single-flight state machine.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scribekit/scribed/internal/engine"
	"github.com/scribekit/scribed/internal/extract"
)

// Progress milestones. Neither the decoder nor the model reports reliable
// intermediate progress, so these are static: extraction occupies the lower
// half of the bar, transcription the upper.
const (
	progressExtracting = 5
	progressExtracted  = 50
	progressBackend    = 60
	progressDone       = 100
)

var errStopped = errors.New("recognition stopped")

// run is the per-request mutable state. It is owned by the goroutine started
// in Recognize; Stop only flips the stop flag and cancels the context.
type run struct {
	req       Request
	language  string
	prefer    Backend
	extracted bool
	tempPath  string
	cancel    context.CancelFunc
	stopped   atomic.Bool
	started   time.Time
}

// Orchestrator owns backend selection, fallback, cancellation, and cleanup.
// At most one recognition is in flight per instance; further requests are
// rejected, not queued.
type Orchestrator struct {
	log       *slog.Logger
	events    Events
	extractor Extractor
	newEngine EngineFactory
	newRemote RemoteFactory
	worker    *worker

	mu       sync.Mutex
	state    RunState
	settings Settings
	eng      engine.Engine
	remote   RemoteBackend
	active   *run
	closed   bool
}

func New(settings Settings, extractor Extractor, newEngine EngineFactory, newRemote RemoteFactory, events Events, log *slog.Logger) (*Orchestrator, error) {
	if extractor == nil || newEngine == nil || newRemote == nil {
		return nil, errors.New("recognizer: missing dependency")
	}
	o := &Orchestrator{
		log:       log.With(slog.String("component", "recognizer")),
		events:    events,
		extractor: extractor,
		newEngine: newEngine,
		newRemote: newRemote,
		worker:    newWorker(),
		state:     StateIdle,
		settings:  settings,
		remote:    newRemote(settings.Endpoint),
	}
	if settings.ModelPath != "" {
		o.worker.do(func() {
			eng, err := newEngine(settings.ModelPath)
			if err != nil {
				o.log.Warn("local model unavailable", slog.String("error", err.Error()))
				return
			}
			o.eng = eng
		})
	}
	return o, nil
}

// State reports the current phase.
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ActiveRequestID returns the in-flight request's ID, or "" when idle.
func (o *Orchestrator) ActiveRequestID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return ""
	}
	return o.active.req.ID
}

// LocalAvailable reports whether the on-device model is loaded.
func (o *Orchestrator) LocalAvailable() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.eng != nil
}

// RemoteAvailable reports whether a remote endpoint is configured.
func (o *Orchestrator) RemoteAvailable() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.remote != nil && o.remote.Available()
}

// Recognize accepts a request and runs it asynchronously; outcomes arrive
// through the Events callbacks. A request arriving while another is in
// flight is rejected with ErrBusy and does not disturb the active one.
func (o *Orchestrator) Recognize(req Request) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrBusy
	}

	if strings.TrimSpace(req.SourcePath) == "" {
		o.mu.Unlock()
		return &Failure{Kind: KindInput, Detail: "source path is empty"}
	}
	if info, err := os.Stat(req.SourcePath); err != nil || info.IsDir() {
		o.mu.Unlock()
		return &Failure{Kind: KindInput, Detail: fmt.Sprintf("source file missing or unreadable: %s", req.SourcePath)}
	}

	localAvail := o.eng != nil
	remoteAvail := o.remote != nil && o.remote.Available()
	if !localAvail && !remoteAvail {
		o.mu.Unlock()
		return &Failure{Kind: KindRecognition, Detail: "no transcription backend available"}
	}

	language := req.Language
	if language == "" {
		language = o.settings.Language
	}
	if language == "" {
		language = "auto"
	}

	prefer := BackendLocal
	if o.settings.PreferRemote {
		prefer = BackendRemote
	}
	switch req.Backend {
	case "local":
		prefer = BackendLocal
	case "remote":
		prefer = BackendRemote
	}
	// Tie-break: an unavailable preferred backend is skipped outright, not
	// attempted and failed first.
	first := prefer
	if first == BackendLocal && !localAvail {
		first = BackendRemote
	}
	if first == BackendRemote && !remoteAvail {
		first = BackendLocal
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		req:       req,
		language:  language,
		prefer:    prefer,
		extracted: !extract.UsableDirectly(req.SourcePath),
		cancel:    cancel,
		started:   time.Now(),
	}
	o.active = r
	if r.extracted {
		o.state = StateExtracting
	} else if first == BackendRemote {
		o.state = StateTranscribingRemote
	} else {
		o.state = StateTranscribingLocal
	}
	o.mu.Unlock()

	go o.run(ctx, r, first)
	return nil
}

// Stop aborts the in-flight recognition: the extraction subprocess is
// killed, the pending remote call is abandoned, buffers are discarded, temp
// files deleted, and the state forced back to Idle. An already-started
// native transcription call cannot be interrupted; its result is discarded
// when it returns.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	r := o.active
	if r == nil {
		o.mu.Unlock()
		return
	}
	r.stopped.Store(true)
	r.cancel()
	o.active = nil
	o.state = StateIdle
	o.mu.Unlock()

	r.removeTemp()
	o.log.Info("recognition stopped", slog.String("request_id", r.req.ID))
}

// ApplySettings replaces the orchestrator's settings. The model is reloaded
// when its path changed. Applying settings while a recognition is in flight
// is rejected; callers re-apply once the state returns to Idle.
func (o *Orchestrator) ApplySettings(s Settings) error {
	// The engine swap happens here under the mutex; the close and load run
	// on the worker without it, so nothing ever holds o.mu while waiting
	// for the worker.
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrBusy
	}

	if s.Endpoint != o.settings.Endpoint {
		o.remote = o.newRemote(s.Endpoint)
	}
	reload := s.ModelPath != o.settings.ModelPath
	o.settings = s
	var old engine.Engine
	if reload {
		old = o.eng
		o.eng = nil
	}
	o.mu.Unlock()
	if !reload {
		return nil
	}

	var (
		next    engine.Engine
		loadErr error
	)
	ran := o.worker.do(func() {
		if old != nil {
			_ = old.Close()
		}
		if s.ModelPath == "" {
			return
		}
		next, loadErr = o.newEngine(s.ModelPath)
	})
	if !ran {
		return ErrClosed
	}
	if loadErr != nil {
		return classify(loadErr)
	}
	if next != nil {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			_ = next.Close()
			return ErrClosed
		}
		o.eng = next
		o.mu.Unlock()
	}
	return nil
}

// Close releases the worker and the loaded model. Any in-flight recognition
// is stopped first.
func (o *Orchestrator) Close() {
	o.Stop()
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	eng := o.eng
	o.eng = nil
	o.mu.Unlock()

	if eng != nil {
		o.worker.do(func() { _ = eng.Close() })
	}
	o.worker.close()
}

func (o *Orchestrator) run(ctx context.Context, r *run, first Backend) {
	audio, ok := o.acquireAudio(ctx, r)
	if !ok {
		return
	}

	// Each backend is attempted at most once, so the fallback cannot loop.
	attempted := [2]bool{}
	backend := first
	for {
		text, err := o.attempt(ctx, r, backend, audio)
		attempted[backend] = true
		if err == nil {
			o.finishSuccess(r, backend, text)
			return
		}
		if r.stopped.Load() || errors.Is(err, context.Canceled) || errors.Is(err, errStopped) {
			o.finishStopped(r)
			return
		}
		other := backend.other()
		if !attempted[other] && o.backendAvailable(other) {
			o.log.Warn("backend failed, falling back",
				slog.String("request_id", r.req.ID),
				slog.String("backend", backend.String()),
				slog.String("error", err.Error()))
			backend = other
			continue
		}
		o.finishFailure(r, classify(err))
		return
	}
}

// acquireAudio either reads the source WAV directly or runs the external
// decoder. The second return is false when the run already ended (stop or
// failure was delivered).
func (o *Orchestrator) acquireAudio(ctx context.Context, r *run) (*extract.Audio, bool) {
	if !r.extracted {
		audio, err := extract.ReadWAV(r.req.SourcePath)
		if err != nil {
			o.finishFailure(r, classify(err))
			return nil, false
		}
		return audio, true
	}

	o.events.progress(r.req.ID, StateExtracting, progressExtracting)

	outPath := r.req.OutputPath
	if outPath == "" {
		outPath = filepath.Join(os.TempDir(), "scribed_"+r.req.ID+".wav")
		r.tempPath = outPath
	}
	audio, err := o.extractor.Extract(ctx, r.req.SourcePath, outPath)
	if err != nil {
		if r.stopped.Load() || errors.Is(err, context.Canceled) {
			o.finishStopped(r)
			return nil, false
		}
		o.finishFailure(r, classify(err))
		return nil, false
	}
	o.events.progress(r.req.ID, StateExtracting, progressExtracted)
	return audio, true
}

func (o *Orchestrator) attempt(ctx context.Context, r *run, backend Backend, audio *extract.Audio) (string, error) {
	if r.stopped.Load() {
		return "", errStopped
	}
	switch backend {
	case BackendRemote:
		o.setState(r, StateTranscribingRemote)
		o.events.progress(r.req.ID, StateTranscribingRemote, progressBackend)
		o.mu.Lock()
		rb := o.remote
		o.mu.Unlock()
		return rb.Transcribe(ctx, audio.Path, r.language)
	default:
		o.setState(r, StateTranscribingLocal)
		o.events.progress(r.req.ID, StateTranscribingLocal, progressBackend)

		o.mu.Lock()
		eng := o.eng
		o.mu.Unlock()
		if eng == nil {
			return "", fmt.Errorf("%w: no model loaded", engine.ErrModelMissing)
		}

		var (
			segments []string
			err      error
		)
		ran := o.worker.do(func() {
			// Stop intent is honored up to this point only; the native
			// call is not preemptible once entered.
			if r.stopped.Load() {
				err = errStopped
				return
			}
			segments, err = eng.Transcribe(ctx, audio.Samples, r.language)
		})
		if !ran {
			return "", errStopped
		}
		if err != nil {
			return "", err
		}
		return joinSegments(segments, r.extracted), nil
	}
}

func (o *Orchestrator) backendAvailable(b Backend) bool {
	if b == BackendLocal {
		return o.LocalAvailable()
	}
	return o.RemoteAvailable()
}

// setState transitions the active run's state; a run that was stopped in
// the meantime no longer owns the state and the transition is dropped.
func (o *Orchestrator) setState(r *run, s RunState) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != r {
		return false
	}
	o.state = s
	return true
}

func (o *Orchestrator) finishSuccess(r *run, backend Backend, text string) {
	if !o.setState(r, StateCompleted) {
		r.removeTemp()
		return
	}
	o.events.progress(r.req.ID, StateCompleted, progressDone)
	o.events.completed(Result{
		RequestID:  r.req.ID,
		SourcePath: r.req.SourcePath,
		Backend:    backend,
		Language:   r.language,
		Text:       text,
		Took:       time.Since(r.started),
	})
	o.finish(r)
}

func (o *Orchestrator) finishFailure(r *run, f *Failure) {
	if !o.setState(r, StateFailed) {
		r.removeTemp()
		return
	}
	o.log.Error("recognition failed",
		slog.String("request_id", r.req.ID),
		slog.String("kind", string(f.Kind)),
		slog.String("detail", f.Detail))
	o.events.failed(r.req.ID, f)
	o.finish(r)
}

// finishStopped ends a run whose caller asked for it to stop: no terminal
// event is delivered.
func (o *Orchestrator) finishStopped(r *run) {
	r.removeTemp()
	o.mu.Lock()
	if o.active == r {
		o.active = nil
		o.state = StateIdle
	}
	o.mu.Unlock()
}

func (o *Orchestrator) finish(r *run) {
	r.cancel()
	r.removeTemp()
	o.mu.Lock()
	if o.active == r {
		o.active = nil
		o.state = StateIdle
	}
	o.mu.Unlock()
}

func (r *run) removeTemp() {
	if r.tempPath != "" {
		_ = os.Remove(r.tempPath)
	}
}

// joinSegments assembles the final transcript. Extraction-triggered runs
// keep segments on separate lines; direct audio joins them with spaces.
func joinSegments(segments []string, extracted bool) string {
	sep := " "
	if extracted {
		sep = "\n"
	}
	trimmed := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s); t != "" {
			trimmed = append(trimmed, t)
		}
	}
	return strings.Join(trimmed, sep)
}
