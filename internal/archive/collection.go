package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the sqlite driver

	"github.com/conorfennell/cardbrick/internal/domain"
)

// fieldSep separates note fields inside the collection's flds column.
const fieldSep = "\x1f"

// SchemaError reports a deck that uses a note type other than the
// single supported Basic front/back layout.
type SchemaError struct {
	Model string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("archive: unsupported note type %q (only Basic front/back decks are accepted)", e.Model)
}

// Collection is the raw note/card content read from an extracted
// database, before normalization.
type Collection struct {
	Notes map[int64]domain.Note
	Cards []domain.Card
}

type noteModel struct {
	Name  string            `json:"name"`
	Tmpls []json.RawMessage `json:"tmpls"`
}

// ReadCollection loads notes and cards from the extracted database.
// Cards enter scheduling with their imported interval/ease/lapse
// values: a card with a positive interval resumes in Review, anything
// else starts New and is due at importTime. Any note whose model is
// not the Basic single-template layout fails the whole load.
func ReadCollection(dbPath string, importTime time.Time, easeStart float64) (*Collection, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection database: %w", err)
	}
	defer db.Close()

	models, err := readModels(db)
	if err != nil {
		return nil, err
	}

	col := &Collection{Notes: map[int64]domain.Note{}}
	importTime = importTime.UTC()

	rows, err := db.Query(`SELECT id, mid, flds FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, mid int64
		var flds string
		if err := rows.Scan(&id, &mid, &flds); err != nil {
			return nil, fmt.Errorf("failed to scan note row: %w", err)
		}
		model, ok := models[mid]
		if !ok {
			return nil, fmt.Errorf("note %d references unknown note type %d", id, mid)
		}
		if !model.isBasic() {
			return nil, &SchemaError{Model: model.Name}
		}
		col.Notes[id] = domain.Note{ID: id, Fields: strings.Split(flds, fieldSep)}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}

	crows, err := db.Query(`SELECT id, nid, due, ivl, factor, lapses FROM cards`)
	if err != nil {
		return nil, fmt.Errorf("failed to read cards: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var id, nid, due int64
		var ivl, factor, lapses int
		if err := crows.Scan(&id, &nid, &due, &ivl, &factor, &lapses); err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		if _, ok := col.Notes[nid]; !ok {
			return nil, fmt.Errorf("card %d references missing note %d", id, nid)
		}

		c := domain.Card{
			ID:     id,
			NoteID: nid,
			Ease:   easeStart,
			Lapses: lapses,
			Due:    importTime,
		}
		if factor > 0 {
			c.Ease = float64(factor) / 1000.0
		}
		if ivl > 0 {
			c.State = domain.StateReview
			c.IntervalDays = ivl
		}
		col.Cards = append(col.Cards, c)
	}
	if err := crows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cards: %w", err)
	}
	return col, nil
}

func (m noteModel) isBasic() bool {
	return m.Name == "Basic" && len(m.Tmpls) == 1
}

// readModels parses the collection's note-type JSON, keyed by model id.
func readModels(db *sql.DB) (map[int64]noteModel, error) {
	var raw string
	if err := db.QueryRow(`SELECT models FROM col LIMIT 1`).Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to read note types: %w", err)
	}
	var byName map[string]noteModel
	if err := json.Unmarshal([]byte(raw), &byName); err != nil {
		return nil, fmt.Errorf("failed to decode note types: %w", err)
	}

	models := make(map[int64]noteModel, len(byName))
	for idStr, m := range byName {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse note type id %q: %w", idStr, err)
		}
		models[id] = m
	}
	return models, nil
}
