// Package store persists finished transcripts.
//
// [FileSink] writes one plain-text file per recording and is always enabled.
// [PostgresSink] additionally stores the joined transcript together with the
// status of every chunk so that failed chunks can be found and re-run later.
// Both implement [transcribe.Sink].
package store

import (
	"path/filepath"
	"strings"

	"github.com/MrWong99/voxscribe/internal/transcribe"
)

// BaseName returns the recording name without its extension, used as the
// transcript file name and database key.
func BaseName(name string) string {
	name = filepath.Base(name)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// sourcePath is the caller's input path, not a normalized temporary copy.
func sourcePath(rec transcribe.Recording) string {
	if rec.Source != "" {
		return rec.Source
	}
	return rec.Path
}
