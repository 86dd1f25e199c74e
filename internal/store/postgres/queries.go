package postgres

const queryCreateEventsTable = `
CREATE TABLE IF NOT EXISTS escrow_events (
    id                  UUID PRIMARY KEY,
    type                TEXT NOT NULL,
    job_id              BIGINT NOT NULL,
    target              TEXT NOT NULL DEFAULT '',
    signature           TEXT NOT NULL DEFAULT '',
    bidding_window_ms   BIGINT NOT NULL DEFAULT 0,
    execution_window_ms BIGINT NOT NULL DEFAULT 0,
    account             TEXT NOT NULL DEFAULT '',
    amount              TEXT NOT NULL DEFAULT '',
    occurred_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS escrow_events_job_id_idx ON escrow_events (job_id, occurred_at)
`

const queryInsertEvent = `
INSERT INTO escrow_events (id, type, job_id, target, signature, bidding_window_ms, execution_window_ms, account, amount, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const queryListEvents = `
SELECT id, type, job_id, target, signature, bidding_window_ms, execution_window_ms, account, amount, occurred_at
FROM escrow_events
WHERE job_id = $1
ORDER BY occurred_at ASC
LIMIT $2 OFFSET $3
`
