package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the sqlite driver

	"github.com/conorfennell/cardbrick/internal/domain"
)

// DB wraps the snapshot database connection.
type DB struct {
	conn *sql.DB
}

// OpenDB opens the snapshot database and ensures the schema exists.
func OpenDB(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to snapshot database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// LoadCards reads every card row plus the snapshot marker. A missing
// meta row reports ok=false: the snapshot has never been written.
func (db *DB) LoadCards() (cards map[int64]domain.Card, lastSeq int64, checksum string, ok bool, err error) {
	row := db.conn.QueryRow(`SELECT last_seq, checksum FROM meta WHERE id = 1`)
	if err := row.Scan(&lastSeq, &checksum); err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, "", false, nil
		}
		return nil, 0, "", false, fmt.Errorf("failed to read snapshot marker: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT id, note_id, state, step, ease, interval_days, due, lapses, last_review
		FROM card_state
	`)
	if err != nil {
		return nil, 0, "", false, fmt.Errorf("failed to read card state: %w", err)
	}
	defer rows.Close()

	cards = make(map[int64]domain.Card)
	for rows.Next() {
		var c domain.Card
		var state int
		var due, lastReview int64
		if err := rows.Scan(&c.ID, &c.NoteID, &state, &c.Step, &c.Ease, &c.IntervalDays, &due, &c.Lapses, &lastReview); err != nil {
			return nil, 0, "", false, fmt.Errorf("failed to scan card state row: %w", err)
		}
		c.State = domain.CardState(state)
		if !c.State.IsValid() {
			return nil, 0, "", false, fmt.Errorf("card %d has invalid state %d", c.ID, state)
		}
		c.Due = time.Unix(due, 0).UTC()
		if lastReview != 0 {
			c.LastReview = time.Unix(lastReview, 0).UTC()
		}
		cards[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, 0, "", false, fmt.Errorf("failed to iterate card state rows: %w", err)
	}
	return cards, lastSeq, checksum, true, nil
}

// ReplaceCards overwrites the snapshot wholesale with the given card
// table and marker, in a single transaction. Snapshots are never
// patched incrementally.
func (db *DB) ReplaceCards(cards map[int64]domain.Card, lastSeq int64, checksum string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM card_state`); err != nil {
		return fmt.Errorf("failed to clear card state: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO card_state (id, note_id, state, step, ease, interval_days, due, lapses, last_review)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare card insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range cards {
		var lastReview int64
		if !c.LastReview.IsZero() {
			lastReview = c.LastReview.Unix()
		}
		if _, err := stmt.Exec(c.ID, c.NoteID, int(c.State), c.Step, c.Ease, c.IntervalDays, c.Due.Unix(), c.Lapses, lastReview); err != nil {
			return fmt.Errorf("failed to insert card %d: %w", c.ID, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO meta (id, last_seq, checksum) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_seq = excluded.last_seq, checksum = excluded.checksum
	`, lastSeq, checksum); err != nil {
		return fmt.Errorf("failed to write snapshot marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}
