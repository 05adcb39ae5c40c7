package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/transcribe"
)

var _ transcribe.Sink = (*PostgresSink)(nil)

// ErrNotFound is returned by [PostgresSink.Latest] when no transcript exists
// for the recording.
var ErrNotFound = errors.New("store: transcript not found")

// Stored is a transcript row read back from PostgreSQL.
type Stored struct {
	ID        int64
	Recording string
	Text      string
	Chunks    int
	Failed    int
	Elapsed   time.Duration
	CreatedAt time.Time
}

// PostgresSink stores transcripts and their per-chunk status in PostgreSQL.
// All methods are safe for concurrent use.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn, verifies the connection and runs [Migrate].
func NewPostgres(ctx context.Context, dsn string) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresSink{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *PostgresSink) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable. Used as a readiness check.
func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Save implements [transcribe.Sink]. The transcript row and all segment rows
// are written in one transaction.
func (s *PostgresSink) Save(ctx context.Context, r transcribe.Result) error {
	const insertTranscript = `
		INSERT INTO transcripts (recording, path, duration_s, text, chunks, failed, elapsed_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx, insertTranscript,
			BaseName(r.Recording.Name),
			sourcePath(r.Recording),
			r.Recording.Duration,
			r.Transcript,
			r.Summary.Chunks,
			r.Summary.Failed,
			r.Elapsed.Nanoseconds(),
		).Scan(&id); err != nil {
			return fmt.Errorf("insert transcript: %w", err)
		}

		rows := make([][]any, 0, len(r.Segments))
		for _, seg := range r.Segments {
			var errText string
			if seg.Err != nil {
				errText = seg.Err.Error()
			}
			rows = append(rows, []any{
				id, seg.Index, seg.Start, seg.Length, seg.Status.String(),
				seg.Text, errText, seg.Attempts, seg.Confidence,
			})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"transcript_segments"},
			[]string{"transcript_id", "idx", "start_s", "length_s", "status", "text", "error", "attempts", "confidence"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy segments: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: save %s: %w", r.Recording.Name, err)
	}

	observe.Logger(ctx).Info("transcript stored", "recording", r.Recording.Name, "segments", len(r.Segments))
	return nil
}

// Latest returns the newest transcript stored for recording, matched by
// [BaseName]. Returns [ErrNotFound] when there is none.
func (s *PostgresSink) Latest(ctx context.Context, recording string) (Stored, error) {
	const q = `
		SELECT id, recording, text, chunks, failed, elapsed_ns, created_at
		FROM   transcripts
		WHERE  recording = $1
		ORDER  BY created_at DESC, id DESC
		LIMIT  1`

	rows, err := s.pool.Query(ctx, q, BaseName(recording))
	if err != nil {
		return Stored{}, fmt.Errorf("store: latest: %w", err)
	}
	found, err := collectStored(rows)
	if err != nil {
		return Stored{}, fmt.Errorf("store: latest: %w", err)
	}
	if len(found) == 0 {
		return Stored{}, fmt.Errorf("%w: %s", ErrNotFound, recording)
	}
	return found[0], nil
}

// Search runs a full-text query over stored transcripts, newest first. A
// non-positive limit returns every match.
func (s *PostgresSink) Search(ctx context.Context, query string, limit int) ([]Stored, error) {
	q := `
		SELECT id, recording, text, chunks, failed, elapsed_ns, created_at
		FROM   transcripts
		WHERE  to_tsvector('simple', text) @@ plainto_tsquery('simple', $1)
		ORDER  BY created_at DESC, id DESC`
	args := []any{query}
	if limit > 0 {
		q += "\n\t\tLIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	found, err := collectStored(rows)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	return found, nil
}

// FailedSegments returns the indexes of failed chunks of a stored transcript.
func (s *PostgresSink) FailedSegments(ctx context.Context, id int64) ([]int, error) {
	const q = `
		SELECT idx
		FROM   transcript_segments
		WHERE  transcript_id = $1 AND status <> 'ok'
		ORDER  BY idx`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("store: failed segments: %w", err)
	}
	idx, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("store: failed segments: %w", err)
	}
	return idx, nil
}

func collectStored(rows pgx.Rows) ([]Stored, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Stored, error) {
		var (
			st        Stored
			elapsedNS int64
		)
		if err := row.Scan(&st.ID, &st.Recording, &st.Text, &st.Chunks, &st.Failed, &elapsedNS, &st.CreatedAt); err != nil {
			return Stored{}, err
		}
		st.Elapsed = time.Duration(elapsedNS)
		return st, nil
	})
}
