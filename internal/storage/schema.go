package storage

const schema = `
-- One row per card: the queryable materialization of scheduling state.
-- Rebuilt wholesale from the replay log when found inconsistent.
CREATE TABLE IF NOT EXISTS card_state (
    id           INTEGER PRIMARY KEY,
    note_id      INTEGER NOT NULL,
    state        INTEGER NOT NULL,
    step         INTEGER NOT NULL,
    ease         REAL NOT NULL,
    interval_days INTEGER NOT NULL,
    due          INTEGER NOT NULL,  -- unix seconds, UTC
    lapses       INTEGER NOT NULL,
    last_review  INTEGER NOT NULL   -- unix seconds, 0 = never reviewed
);

-- Single-row marker tying the snapshot to the replay log: the last
-- applied event sequence number plus a checksum over the card rows.
CREATE TABLE IF NOT EXISTS meta (
    id       INTEGER PRIMARY KEY CHECK (id = 1),
    last_seq INTEGER NOT NULL,
    checksum TEXT NOT NULL
);
`
