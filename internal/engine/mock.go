package engine

import "context"

// Mock returns canned segments, for tests and for running the daemon
// without a model on disk.
type Mock struct {
	Segments []string
	Err      error
	Calls    int
}

func (m *Mock) Transcribe(_ context.Context, samples []float32, _ string) ([]string, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}
	return m.Segments, nil
}

func (m *Mock) Close() error { return nil }
