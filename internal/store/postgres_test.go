package store_test

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxscribe/internal/store"
	"github.com/MrWong99/voxscribe/internal/transcribe"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXSCRIBE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXSCRIBE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXSCRIBE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestSink drops the transcript tables and returns a freshly migrated sink.
func newTestSink(t *testing.T) *store.PostgresSink {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS transcript_segments CASCADE",
		"DROP TABLE IF EXISTS transcripts CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop: %v", err)
		}
	}
	pool.Close()

	sink, err := store.NewPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(sink.Close)
	return sink
}

func TestPostgres_SaveAndLatest(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	res := testResult("/recordings/retro.mp3")
	res.Elapsed = 1500 * time.Millisecond
	res.Segments = []transcribe.Segment{
		{Index: 0, Start: 0, Length: 32, Status: transcribe.StatusOK, Text: "first part", Attempts: 1, Confidence: 0.9},
		{Index: 1, Start: 28, Length: 34, Status: transcribe.StatusFailed, Err: errors.New("timeout"), Attempts: 4},
		{Index: 2, Start: 58, Length: 17, Status: transcribe.StatusOK, Text: "third part", Attempts: 2, Confidence: 0.8},
	}

	if err := sink.Save(ctx, res); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := sink.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	got, err := sink.Latest(ctx, "retro.mp3")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.Recording != "retro" || got.Text != res.Transcript {
		t.Errorf("stored = %+v", got)
	}
	if got.Chunks != 3 || got.Failed != 1 || got.Elapsed != res.Elapsed {
		t.Errorf("stored counts = %+v", got)
	}

	failed, err := sink.FailedSegments(ctx, got.ID)
	if err != nil {
		t.Fatalf("FailedSegments: %v", err)
	}
	if !slices.Equal(failed, []int{1}) {
		t.Errorf("FailedSegments = %v, want [1]", failed)
	}
}

func TestPostgres_LatestNotFound(t *testing.T) {
	sink := newTestSink(t)
	if _, err := sink.Latest(context.Background(), "missing.wav"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgres_Search(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	for name, text := range map[string]string{
		"a.wav": "the quarterly budget was approved",
		"b.wav": "deployment moved to friday",
		"c.wav": "budget review next week",
	} {
		res := testResult(name)
		res.Transcript = text
		if err := sink.Save(ctx, res); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}

	found, err := sink.Search(ctx, "budget", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	var names []string
	for _, st := range found {
		names = append(names, st.Recording)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"a", "c"}) {
		t.Errorf("Search(budget) = %v, want [a c]", names)
	}

	limited, err := sink.Search(ctx, "budget", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited search returned %d rows, want 1", len(limited))
	}
}
