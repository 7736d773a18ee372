package transcriptstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/scribekit/scribed/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.StoreConfig{RetentionMode: "ephemeral"}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Save(context.Background(), Transcript{RequestID: "r1", SourcePath: "a.wav", Text: "hi"}); err != nil {
		t.Fatalf("save in ephemeral mode: %v", err)
	}
	got, err := st.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list in ephemeral mode: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("ephemeral store should retain nothing, got %d", len(got))
	}
}

func TestSaveAndList(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "transcripts.db"), RetentionMode: "session"}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open transcript store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Save(context.Background(), Transcript{
		RequestID:  "req-123",
		SourcePath: "/media/talk.mp4",
		Backend:    "local",
		Language:   "en",
		Text:       "hello world",
		DurationMS: 420,
	}); err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	got, err := st.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 transcript, got %d", len(got))
	}
	if got[0].Text != "hello world" || got[0].Backend != "local" {
		t.Fatalf("unexpected transcript: %+v", got[0])
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "transcripts.db"), RetentionMode: "persistent", RetentionDays: 1, MaxTranscripts: 1}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open transcript store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	st.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := st.Save(context.Background(), Transcript{RequestID: "old", SourcePath: "old.wav", Text: "old"}); err != nil {
		t.Fatalf("save old transcript: %v", err)
	}

	st.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := st.Save(context.Background(), Transcript{RequestID: "new", SourcePath: "new.wav", Text: "new"}); err != nil {
		t.Fatalf("save new transcript: %v", err)
	}
	if err := st.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	got, err := st.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 transcript after prune, got %d", len(got))
	}
	if got[0].RequestID != "new" {
		t.Fatalf("expected newest transcript to survive, got %q", got[0].RequestID)
	}
}
