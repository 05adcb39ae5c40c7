package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id            BIGSERIAL         PRIMARY KEY,
    recording     TEXT              NOT NULL,
    path          TEXT              NOT NULL DEFAULT '',
    duration_s    DOUBLE PRECISION  NOT NULL DEFAULT 0,
    text          TEXT              NOT NULL,
    chunks        INTEGER           NOT NULL DEFAULT 0,
    failed        INTEGER           NOT NULL DEFAULT 0,
    elapsed_ns    BIGINT            NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_recording
    ON transcripts (recording, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_transcripts_fts
    ON transcripts USING GIN (to_tsvector('simple', text));
`

const ddlSegments = `
CREATE TABLE IF NOT EXISTS transcript_segments (
    transcript_id  BIGINT            NOT NULL REFERENCES transcripts (id) ON DELETE CASCADE,
    idx            INTEGER           NOT NULL,
    start_s        DOUBLE PRECISION  NOT NULL,
    length_s       DOUBLE PRECISION  NOT NULL,
    status         TEXT              NOT NULL,
    text           TEXT              NOT NULL DEFAULT '',
    error          TEXT              NOT NULL DEFAULT '',
    attempts       INTEGER           NOT NULL DEFAULT 0,
    confidence     DOUBLE PRECISION  NOT NULL DEFAULT 0,
    PRIMARY KEY (transcript_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_transcript_segments_failed
    ON transcript_segments (status) WHERE status <> 'ok';
`

// Migrate creates the transcript tables if they do not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlTranscripts, ddlSegments} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}
