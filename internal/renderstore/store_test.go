package renderstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-tone/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sample(id string) Render {
	return Render{
		ID:              id,
		Name:            "tone-sine-440Hz-16bit.wav",
		Mode:            "single",
		Waveform:        "sine",
		SampleRate:      48000,
		Channels:        1,
		BitDepth:        16,
		DurationSeconds: 1,
		Frames:          48000,
		SizeBytes:       96044,
		Path:            "/tmp/" + id + ".wav",
		Params:          []byte(`{"mode":"single"}`),
	}
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.RenderStoreConfig{RetentionMode: "ephemeral"}
	rs, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	if err := rs.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	rec, err := rs.Record(ctx, sample("a"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.CreatedAt.IsZero() {
		t.Fatal("expected created_at stamped even when ephemeral")
	}
	list, err := rs.List(ctx, ListOptions{})
	if err != nil || len(list) != 0 {
		t.Fatalf("expected empty list, got %v %v", list, err)
	}
	if _, err := rs.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.RenderStoreConfig{Path: filepath.Join(tmp, "renders.db"), RetentionMode: "session"}
	rs, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open render store: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })

	ctx := context.Background()
	rs.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	first := sample("first")
	first.SessionID = "bench-1"
	if _, err := rs.Record(ctx, first); err != nil {
		t.Fatalf("record: %v", err)
	}
	rs.clock = func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) }
	if _, err := rs.Record(ctx, sample("second")); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := rs.Get(ctx, "first")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SessionID != "bench-1" || got.SizeBytes != 96044 || string(got.Params) != `{"mode":"single"}` {
		t.Fatalf("unexpected render: %+v", got)
	}
	if !got.CreatedAt.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected created_at: %v", got.CreatedAt)
	}

	all, err := rs.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != "second" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	bySession, err := rs.List(ctx, ListOptions{SessionID: "bench-1"})
	if err != nil {
		t.Fatalf("list session: %v", err)
	}
	if len(bySession) != 1 || bySession[0].ID != "first" {
		t.Fatalf("unexpected session listing: %+v", bySession)
	}

	if _, err := rs.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := rs.Record(ctx, sample("first")); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.RenderStoreConfig{Path: filepath.Join(tmp, "renders.db"), RetentionMode: "persistent", RetentionDays: 1, MaxRenders: 2}
	rs, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open render store: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	ctx := context.Background()

	rs.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := rs.Record(ctx, sample("old")); err != nil {
		t.Fatalf("record: %v", err)
	}
	for i, id := range []string{"n1", "n2", "n3"} {
		at := time.Date(2025, 1, 3, 0, i, 0, 0, time.UTC)
		rs.clock = func() time.Time { return at }
		if _, err := rs.Record(ctx, sample(id)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	rs.clock = func() time.Time { return time.Date(2025, 1, 3, 1, 0, 0, 0, time.UTC) }
	removed, err := rs.Prune(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed, got %+v", removed)
	}
	left, err := rs.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 2 || left[0].ID != "n3" || left[1].ID != "n2" {
		t.Fatalf("unexpected survivors: %+v", left)
	}
}
