package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxscribe/internal/config"
)

const watcherValidYAML = `
log_level: info
providers:
  stt:
    name: openai
`

const watcherUpdatedYAML = `
log_level: debug
providers:
  stt:
    name: openai
`

const watcherInvalidYAML = `
log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// startWatcher creates a watcher polling every 20ms and runs it until the
// test ends.
func startWatcher(t *testing.T, path string, onChange func(old, new *config.Config)) *config.Watcher {
	t.Helper()
	w, err := config.NewWatcher(path, onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

// rewrite writes content and pushes the mtime forward so coarse filesystem
// timestamps still register a change.
func rewrite(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	writeFile(t, path, content)
	mt := time.Now().Add(bump)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w := startWatcher(t, cfgPath, nil)
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var (
		mu       sync.Mutex
		gotDiffs []config.ConfigDiff
	)
	called := make(chan struct{}, 1)
	w := startWatcher(t, cfgPath, func(old, new *config.Config) {
		mu.Lock()
		gotDiffs = append(gotDiffs, config.Diff(old, new))
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	})

	rewrite(t, cfgPath, watcherUpdatedYAML, time.Second)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotDiffs) != 1 || !gotDiffs[0].LogLevelChanged || gotDiffs[0].NewLogLevel != config.LogDebug {
		t.Errorf("diffs = %+v, want one log level change to debug", gotDiffs)
	}
	if cur := w.Current(); cur.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.LogLevel, config.LogDebug)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var (
		mu        sync.Mutex
		callCount int
	)
	w := startWatcher(t, cfgPath, func(_, _ *config.Config) {
		mu.Lock()
		callCount++
		mu.Unlock()
	})

	rewrite(t, cfgPath, watcherInvalidYAML, time.Second)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	calls := callCount
	mu.Unlock()
	if calls != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", calls)
	}
	if cur := w.Current(); cur.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.LogLevel)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherInvalidYAML)
	if _, err := config.NewWatcher(cfgPath, nil); err == nil {
		t.Fatal("expected error for invalid initial config, got nil")
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var (
		mu        sync.Mutex
		callCount int
	)
	startWatcher(t, cfgPath, func(_, _ *config.Config) {
		mu.Lock()
		callCount++
		mu.Unlock()
	})

	now := time.Now().Add(time.Second)
	if err := os.Chtimes(cfgPath, now, now); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if callCount != 0 {
		t.Errorf("callback should not be called when content is unchanged, got %d calls", callCount)
	}
}
