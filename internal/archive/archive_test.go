package archive

import (
	"archive/zip"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/cardbrick/internal/domain"
)

var importTime = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

const basicModels = `{"1700000000001": {"name": "Basic", "tmpls": [{"name": "Card 1"}]}}`

// buildCollection writes a minimal Anki collection database and returns
// its bytes.
func buildCollection(t *testing.T, models string, noteRows [][3]any, cardRows [][6]any) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collection.sqlite")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	for _, stmt := range []string{
		`CREATE TABLE col (models TEXT)`,
		`CREATE TABLE notes (id INTEGER PRIMARY KEY, mid INTEGER, flds TEXT)`,
		`CREATE TABLE cards (id INTEGER PRIMARY KEY, nid INTEGER, due INTEGER, ivl INTEGER, factor INTEGER, lapses INTEGER)`,
	} {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}
	_, err = db.Exec(`INSERT INTO col (models) VALUES (?)`, models)
	require.NoError(t, err)
	for _, n := range noteRows {
		_, err = db.Exec(`INSERT INTO notes (id, mid, flds) VALUES (?, ?, ?)`, n[0], n[1], n[2])
		require.NoError(t, err)
	}
	for _, c := range cardRows {
		_, err = db.Exec(`INSERT INTO cards (id, nid, due, ivl, factor, lapses) VALUES (?, ?, ?, ?, ?, ?)`,
			c[0], c[1], c[2], c[3], c[4], c[5])
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func basicCollection(t *testing.T) []byte {
	t.Helper()
	return buildCollection(t, basicModels,
		[][3]any{
			{1, 1700000000001, "漢字\x1fかんじ"},
			{2, 1700000000001, "犬\x1fいぬ"},
		},
		[][6]any{
			{10, 1, 0, 0, 0, 0},    // never reviewed
			{11, 2, 5, 7, 2100, 2}, // resumes in review
		})
}

// buildAPKG assembles a zip from name to content pairs.
func buildAPKG(t *testing.T, entries map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deck.apkg")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestOpenAndReadCollection(t *testing.T) {
	path := buildAPKG(t, map[string][]byte{
		"collection.anki2": basicCollection(t),
		"media":            []byte(`{"0": "kanji.jpg", "1": "dog.mp3"}`),
		"0":                []byte("jpeg-bytes"),
		"1":                []byte("mp3-bytes"),
	})

	x, err := Open(path)
	require.NoError(t, err)
	defer x.Close()

	assert.Equal(t, map[string][]byte{
		"kanji.jpg": []byte("jpeg-bytes"),
		"dog.mp3":   []byte("mp3-bytes"),
	}, x.Media)
	assert.Zero(t, x.SkippedMedia)

	col, err := ReadCollection(x.DBPath, importTime, 2.5)
	require.NoError(t, err)

	require.Len(t, col.Notes, 2)
	assert.Equal(t, []string{"漢字", "かんじ"}, col.Notes[1].Fields)

	require.Len(t, col.Cards, 2)
	byID := map[int64]domain.Card{}
	for _, c := range col.Cards {
		byID[c.ID] = c
	}

	fresh := byID[10]
	assert.Equal(t, domain.StateNew, fresh.State)
	assert.Equal(t, 2.5, fresh.Ease, "missing factor falls back to the starting ease")
	assert.Equal(t, importTime, fresh.Due)

	resumed := byID[11]
	assert.Equal(t, domain.StateReview, resumed.State)
	assert.Equal(t, 7, resumed.IntervalDays)
	assert.Equal(t, 2.1, resumed.Ease)
	assert.Equal(t, 2, resumed.Lapses)
}

func TestOpenPrefersNewerCollectionFormat(t *testing.T) {
	path := buildAPKG(t, map[string][]byte{
		"collection.anki21": basicCollection(t),
		"collection.anki2":  []byte("obsolete garbage"),
	})

	x, err := Open(path)
	require.NoError(t, err)
	defer x.Close()

	_, err = ReadCollection(x.DBPath, importTime, 2.5)
	assert.NoError(t, err)
}

func TestOpenNotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.apkg")
	require.NoError(t, os.WriteFile(path, []byte("plain text, not a deck"), 0o644))

	_, err := Open(path)
	var ae *ArchiveError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, NotAZip, ae.Kind)
	assert.Equal(t, path, ae.Path)
}

func TestOpenMissingDatabase(t *testing.T) {
	path := buildAPKG(t, map[string][]byte{
		"media": []byte(`{}`),
	})

	_, err := Open(path)
	var ae *ArchiveError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, MissingDatabase, ae.Kind)
}

func TestOpenSkipsMissingMediaEntry(t *testing.T) {
	path := buildAPKG(t, map[string][]byte{
		"collection.anki2": basicCollection(t),
		"media":            []byte(`{"0": "kanji.jpg", "7": "ghost.png"}`),
		"0":                []byte("jpeg-bytes"),
	})

	x, err := Open(path)
	require.NoError(t, err)
	defer x.Close()

	assert.Equal(t, 1, x.SkippedMedia)
	assert.Contains(t, x.Media, "kanji.jpg")
	assert.NotContains(t, x.Media, "ghost.png")
}

func TestOpenCorruptManifestSkipsAllMedia(t *testing.T) {
	path := buildAPKG(t, map[string][]byte{
		"collection.anki2": basicCollection(t),
		"media":            []byte(`{not json`),
		"0":                []byte("a"),
		"1":                []byte("b"),
	})

	x, err := Open(path)
	require.NoError(t, err, "media loss never fails the load")
	defer x.Close()

	assert.Empty(t, x.Media)
	assert.Equal(t, 2, x.SkippedMedia)
}

func TestReadCollectionRejectsNonBasicModel(t *testing.T) {
	models := `{"2": {"name": "Cloze", "tmpls": [{"name": "Cloze"}]}}`
	data := buildCollection(t, models,
		[][3]any{{1, 2, "front\x1fback"}},
		nil)
	path := buildAPKG(t, map[string][]byte{"collection.anki2": data})

	x, err := Open(path)
	require.NoError(t, err)
	defer x.Close()

	_, err = ReadCollection(x.DBPath, importTime, 2.5)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Cloze", se.Model)
}

func TestReadCollectionRejectsUnknownNoteType(t *testing.T) {
	data := buildCollection(t, basicModels,
		[][3]any{{1, 999, "front\x1fback"}},
		nil)
	path := buildAPKG(t, map[string][]byte{"collection.anki2": data})

	x, err := Open(path)
	require.NoError(t, err)
	defer x.Close()

	_, err = ReadCollection(x.DBPath, importTime, 2.5)
	assert.Error(t, err)
}

func TestReadCollectionRejectsOrphanCard(t *testing.T) {
	data := buildCollection(t, basicModels,
		[][3]any{{1, 1700000000001, "front\x1fback"}},
		[][6]any{{10, 42, 0, 0, 0, 0}})
	path := buildAPKG(t, map[string][]byte{"collection.anki2": data})

	x, err := Open(path)
	require.NoError(t, err)
	defer x.Close()

	_, err = ReadCollection(x.DBPath, importTime, 2.5)
	assert.Error(t, err)
}
