package recognizer

import "sync"

// worker owns a single goroutine through which every model-touching task
// runs: transcriptions, model loads, and reloads. Serializing them here is
// what guarantees a transcription never observes a model mid-reload and no
// two transcriptions run against the same model concurrently.
//
// A task that has started cannot be interrupted; the native inference call
// returns on its own schedule. Stop intent is therefore checked by callers
// before submitting, and by tasks themselves before touching the model.
type worker struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newWorker() *worker {
	w := &worker{
		tasks: make(chan func()),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *worker) loop() {
	defer close(w.done)
	for {
		select {
		case fn := <-w.tasks:
			fn()
		case <-w.quit:
			return
		}
	}
}

// do runs fn on the worker goroutine and waits for it to finish. It
// reports whether fn ran; after close, submissions are dropped.
func (w *worker) do(fn func()) bool {
	ran := make(chan struct{})
	select {
	case w.tasks <- func() { defer close(ran); fn() }:
		<-ran
		return true
	case <-w.done:
		return false
	}
}

// close stops the worker after the current task finishes.
func (w *worker) close() {
	w.once.Do(func() { close(w.quit) })
	<-w.done
}
