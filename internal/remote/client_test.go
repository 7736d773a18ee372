package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scribekit/scribed/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.RemoteConfig{
		Endpoint:  srv.URL,
		ModelHint: "whisper-small",
		TimeoutMS: 2000,
	}, newLogger())
}

func TestTranscribeTextField(t *testing.T) {
	var gotBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"text": "hello there"}`))
	})

	text, err := c.Transcribe(context.Background(), "/tmp/audio.wav", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("expected %q, got %q", "hello there", text)
	}
	if gotBody["audio_file"] != "/tmp/audio.wav" {
		t.Fatalf("expected audio_file in request, got %v", gotBody)
	}
	if gotBody["language"] != "en" {
		t.Fatalf("expected language in request, got %v", gotBody)
	}
	if gotBody["model"] != "whisper-small" {
		t.Fatalf("expected model hint in request, got %v", gotBody)
	}
}

func TestTranscribeEmptyTextFieldIsNotAParseError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"text": ""}`))
	})
	text, err := c.Transcribe(context.Background(), "a.wav", "auto")
	if err != nil {
		t.Fatalf("a present text field is an answer even when empty: %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty transcript, got %q", text)
	}
}

func TestTranscribeResultString(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"result": "xyz"}`))
	})
	text, err := c.Transcribe(context.Background(), "a.wav", "auto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "xyz" {
		t.Fatalf("expected %q, got %q", "xyz", text)
	}
}

func TestTranscribeResultArrayJoinsWithoutSeparator(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"result": ["a", "b", "c"]}`))
	})
	text, err := c.Transcribe(context.Background(), "a.wav", "auto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "abc" {
		t.Fatalf("expected %q, got %q", "abc", text)
	}
}

func TestTranscribeUnknownShapeIsParseError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"foo": "bar"}`))
	})
	_, err := c.Transcribe(context.Background(), "a.wav", "auto")
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestTranscribeResultWrongTypeIsParseError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"result": 42}`))
	})
	_, err := c.Transcribe(context.Background(), "a.wav", "auto")
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestTranscribeServerErrorIsNetworkError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	_, err := c.Transcribe(context.Background(), "a.wav", "auto")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestTranscribeConnectionRefusedIsNetworkError(t *testing.T) {
	c := NewClient(config.RemoteConfig{
		Endpoint:  "http://127.0.0.1:1", // nothing listens here
		TimeoutMS: 500,
	}, newLogger())
	_, err := c.Transcribe(context.Background(), "a.wav", "auto")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestUnconfiguredClientIsUnavailable(t *testing.T) {
	c := NewClient(config.RemoteConfig{TimeoutMS: 500}, newLogger())
	if c.Available() {
		t.Fatal("expected client without endpoint to be unavailable")
	}
	if _, err := c.Transcribe(context.Background(), "a.wav", "auto"); !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}
