package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/voxscribe/internal/store"
	"github.com/MrWong99/voxscribe/internal/transcribe"
)

func testResult(path string) transcribe.Result {
	return transcribe.Result{
		Recording:  transcribe.Recording{Path: path, Name: filepath.Base(path), Duration: 75},
		Transcript: "first part\n\n[ERROR chunk 2: timeout]\n\nthird part",
		Summary:    transcribe.Summary{Chunks: 3, Failed: 1},
	}
}

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"meeting.mp3":             "meeting",
		"/srv/in/standup.v2.m4a":  "standup.v2",
		"noext":                   "noext",
		"/tmp/work/norm_12ab.wav": "norm_12ab",
	}
	for in, want := range tests {
		if got := store.BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFileSink_Save(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out", "nested")
	sink := store.NewFileSink(out)
	res := testResult("/recordings/meeting.mp3")

	if err := sink.Save(context.Background(), res); err != nil {
		t.Fatalf("Save: %v", err)
	}

	want := filepath.Join(out, "meeting.txt")
	if got := sink.Path(res.Recording); got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if string(data) != res.Transcript+"\n" {
		t.Errorf("content = %q", data)
	}

	entries, _ := os.ReadDir(out)
	if len(entries) != 1 {
		t.Errorf("output dir has %d entries, want only the transcript", len(entries))
	}
}

func TestFileSink_Overwrites(t *testing.T) {
	sink := store.NewFileSink(t.TempDir())
	res := testResult("a.wav")
	if err := sink.Save(context.Background(), res); err != nil {
		t.Fatalf("Save: %v", err)
	}
	res.Transcript = "second run"
	if err := sink.Save(context.Background(), res); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, _ := os.ReadFile(sink.Path(res.Recording))
	if string(data) != "second run\n" {
		t.Errorf("content = %q, want the second run", data)
	}
}

func TestFileSink_DefaultDir(t *testing.T) {
	in := t.TempDir()
	sink := store.NewFileSink("")
	res := testResult(filepath.Join(in, "talk.flac"))

	if err := sink.Save(context.Background(), res); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(in, store.DefaultDirName, "talk.txt")); err != nil {
		t.Errorf("transcript not next to recording: %v", err)
	}
}

func TestFileSink_DefaultDirUsesSource(t *testing.T) {
	in, work := t.TempDir(), t.TempDir()
	res := testResult(filepath.Join(work, "normalized-123.wav"))
	res.Recording.Name = "talk.flac"
	res.Recording.Source = filepath.Join(in, "talk.flac")

	path := store.NewFileSink("").Path(res.Recording)
	if want := filepath.Join(in, store.DefaultDirName, "talk.txt"); path != want {
		t.Errorf("Path() = %q, want %q", path, want)
	}
}

func TestFileSink_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.NewFileSink(dir).Save(ctx, testResult("x.wav"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("cancelled save wrote %d files", len(entries))
	}
}
