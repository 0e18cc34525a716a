package anki

import (
	"archive/zip"
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kangen/kangen/internal/config"
	"github.com/kangen/kangen/internal/flashcard"
	"github.com/kangen/kangen/internal/logging"
)

func testDeck() *Deck {
	return NewDeck(config.AnkiConfig{
		DeckName: "KanGen Flashcards",
		DeckID:   1558220604,
		ModelID:  2126758096,
	}, logging.Discard())
}

func TestDeckAdd(t *testing.T) {
	d := testDeck()

	assert.True(t, d.Add(flashcard.Card{Kanji: " 住 ", Meaning: "to live", OnYomi: "ジュウ"}))
	assert.False(t, d.Add(flashcard.Card{Kanji: "住", Meaning: "dwell"}), "duplicate")
	assert.False(t, d.Add(flashcard.Card{Kanji: "所", Meaning: "  "}), "no meaning")
	assert.False(t, d.Add(flashcard.Card{Meaning: "place"}), "no kanji")
	assert.True(t, d.Add(flashcard.Card{Kanji: "所", Meaning: "place"}))

	assert.Equal(t, Stats{Created: 2, Skipped: 3}, d.Stats())
	assert.Equal(t, 2, d.Len())
}

func TestWritePackage(t *testing.T) {
	d := testDeck()
	d.Add(flashcard.Card{Kanji: "住", Meaning: "to live", OnYomi: "ジュウ", KunYomi: "す(む)", Example: "東京に住む。"})
	d.Add(flashcard.Card{Kanji: "所", Meaning: "place"})

	path := filepath.Join(t.TempDir(), "out", "deck.apkg")
	require.NoError(t, d.WritePackage(context.Background(), path))

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	files := map[string]*zip.File{}
	for _, f := range zr.File {
		files[f.Name] = f
	}
	require.Contains(t, files, "collection.anki2")
	require.Contains(t, files, "media")
	assert.Equal(t, "{}", readZip(t, files["media"]))

	dbPath := filepath.Join(t.TempDir(), "collection.anki2")
	require.NoError(t, os.WriteFile(dbPath, []byte(readZip(t, files["collection.anki2"])), 0o600))
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var notes, cards int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM notes`).Scan(&notes))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM cards WHERE did = 1558220604`).Scan(&cards))
	assert.Equal(t, 2, notes)
	assert.Equal(t, 2, cards)

	var flds string
	require.NoError(t, db.QueryRow(`SELECT flds FROM notes WHERE sfld = '住'`).Scan(&flds))
	assert.Equal(t, []string{"住", "to live", "ジュウ", "す(む)", "東京に住む。"}, strings.Split(flds, fieldSeparator))

	var models, decks string
	require.NoError(t, db.QueryRow(`SELECT models, decks FROM col`).Scan(&models, &decks))
	assert.Contains(t, models, `"name":"Kanji Model"`)
	assert.Contains(t, models, `"2126758096"`)
	assert.Contains(t, decks, `"name":"KanGen Flashcards"`)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWritePackage_EmptyDeck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.apkg")
	err := testDeck().WritePackage(context.Background(), path)

	assert.ErrorIs(t, err, ErrEmptyDeck)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestNoteGUIDStable(t *testing.T) {
	d := testDeck()
	assert.Equal(t, d.noteGUID("住"), d.noteGUID("住"))
	assert.NotEqual(t, d.noteGUID("住"), d.noteGUID("所"))
}

func readZip(t *testing.T, f *zip.File) string {
	t.Helper()
	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}
