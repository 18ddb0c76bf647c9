package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS dispatch_jobs (
	id                TEXT PRIMARY KEY,
	mode              TEXT NOT NULL,
	message           TEXT NOT NULL,
	recipients        TEXT[] NOT NULL,
	scheduled_at      TIMESTAMPTZ,
	status            TEXT NOT NULL,
	sent_count        INTEGER NOT NULL DEFAULT 0,
	failed_count      INTEGER NOT NULL DEFAULT 0,
	recipient_results JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at        TIMESTAMPTZ NOT NULL,
	started_at        TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dispatch_jobs_due
	ON dispatch_jobs (scheduled_at)
	WHERE mode = 'scheduled' AND status = 'pending';

CREATE INDEX IF NOT EXISTS idx_dispatch_jobs_status
	ON dispatch_jobs (status);
`

// EnsureSchema applies the dispatch_jobs schema. Idempotent.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply dispatch schema: %w", err)
	}
	return nil
}
