package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/transcribe"
)

var _ transcribe.Sink = (*FileSink)(nil)

// DefaultDirName is the directory created next to a recording when no output
// directory is configured.
const DefaultDirName = "transcripts"

// FileSink writes each transcript to <Dir>/<name>.txt. The file is written to
// a temporary name first and renamed, so readers never see a partial
// transcript.
type FileSink struct {
	// Dir receives the transcripts. Empty means a "transcripts" directory
	// next to the recording.
	Dir string
}

// NewFileSink returns a sink writing into dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

// Path returns the transcript path for a recording.
func (s *FileSink) Path(rec transcribe.Recording) string {
	dir := s.Dir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(sourcePath(rec)), DefaultDirName)
	}
	name := rec.Name
	if name == "" {
		name = rec.Path
	}
	return filepath.Join(dir, BaseName(name)+".txt")
}

// Save implements [transcribe.Sink].
func (s *FileSink) Save(ctx context.Context, r transcribe.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.Path(r.Recording)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".transcript-*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(r.Transcript + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}

	observe.Logger(ctx).Info("transcript saved", "path", path, "chars", len(r.Transcript))
	return nil
}
