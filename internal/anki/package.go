/**
 * Anki package writer
 *
 * An .apkg file is a zip archive holding a SQLite collection
 * (collection.anki2, schema version 11) and a JSON media map. The deck
 * carries one note type with a single recognition card: kanji on the
 * front, meaning, readings and example on the back.
 */

package anki

import (
	"archive/zip"
	"context"
	"crypto/sha1"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kangen/kangen/internal/config"
	kgerrors "github.com/kangen/kangen/internal/errors"
	"github.com/kangen/kangen/internal/flashcard"
	"github.com/kangen/kangen/internal/logging"
)

//go:embed schema.sql
var collectionSchema string

// fieldSeparator joins note fields in the notes.flds column.
const fieldSeparator = "\x1f"

// ErrEmptyDeck is returned when writing a deck without notes.
var ErrEmptyDeck = errors.New("deck has no notes")

// guidNamespace scopes note GUIDs so that re-exporting a kanji to the
// same deck updates the existing note on import.
var guidNamespace = uuid.MustParse("7d3f5f8e-6c1a-4d4e-9a55-3b0f1c2e9a10")

// Stats counts what Add did.
type Stats struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// Deck collects cards for one .apkg file.
type Deck struct {
	name    string
	id      int64
	modelID int64
	notes   []flashcard.Card
	seen    map[string]struct{}
	stats   Stats
	logger  *slog.Logger
}

// NewDeck creates an empty deck from the Anki config.
func NewDeck(cfg config.AnkiConfig, logger *slog.Logger) *Deck {
	return &Deck{
		name:    cfg.DeckName,
		id:      cfg.DeckID,
		modelID: cfg.ModelID,
		seen:    make(map[string]struct{}),
		logger:  logging.Component(logger, "anki"),
	}
}

// Add adds a card unless it has no kanji, no meaning, or repeats a kanji
// already in the deck. It reports whether the card was added.
func (d *Deck) Add(c flashcard.Card) bool {
	kanji := strings.TrimSpace(c.Kanji)
	switch {
	case kanji == "":
		d.logger.Warn("skipping card without kanji")
	case strings.TrimSpace(c.Meaning) == "":
		d.logger.Warn("skipping card without meaning", "kanji", kanji)
	default:
		if _, dup := d.seen[kanji]; dup {
			d.logger.Warn("skipping duplicate kanji", "kanji", kanji)
			break
		}
		d.seen[kanji] = struct{}{}
		d.notes = append(d.notes, flashcard.Card{
			Kanji:   kanji,
			Meaning: strings.TrimSpace(c.Meaning),
			OnYomi:  strings.TrimSpace(c.OnYomi),
			KunYomi: strings.TrimSpace(c.KunYomi),
			Example: strings.TrimSpace(c.Example),
		})
		d.stats.Created++
		return true
	}
	d.stats.Skipped++
	return false
}

// Stats returns how many cards were created and skipped.
func (d *Deck) Stats() Stats { return d.stats }

// Len is the number of notes in the deck.
func (d *Deck) Len() int { return len(d.notes) }

// WritePackage writes the deck as an .apkg file at path, replacing any
// existing file. An empty deck is refused with ErrEmptyDeck.
func (d *Deck) WritePackage(ctx context.Context, path string) error {
	if len(d.notes) == 0 {
		return kgerrors.NewPackagingFailedError(path, ErrEmptyDeck)
	}
	if err := d.writePackage(ctx, path); err != nil {
		return kgerrors.NewPackagingFailedError(path, err)
	}
	d.logger.Info("deck written", "path", path, "created", d.stats.Created, "skipped", d.stats.Skipped)
	return nil
}

func (d *Deck) writePackage(ctx context.Context, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	tmpDir, err := os.MkdirTemp("", "kangen-apkg-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "collection.anki2")
	if err := d.writeCollection(ctx, dbPath, time.Now()); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := zipPackage(tmpPath, dbPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func (d *Deck) writeCollection(ctx context.Context, dbPath string, now time.Time) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open collection: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, collectionSchema); err != nil {
		return fmt.Errorf("create collection schema: %w", err)
	}

	mod := now.Unix()
	conf, models, decks, dconf, err := collectionJSON(d.id, d.name, d.modelID, mod)
	if err != nil {
		return fmt.Errorf("encode collection json: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO col (id, crt, mod, scm, ver, dty, usn, ls, conf, models, decks, dconf, tags)
		 VALUES (1, ?, ?, ?, 11, 0, 0, 0, ?, ?, ?, ?, '{}')`,
		mod, now.UnixMilli(), now.UnixMilli(), conf, models, decks, dconf,
	); err != nil {
		return fmt.Errorf("insert col: %w", err)
	}

	base := now.UnixMilli()
	for i, c := range d.notes {
		id := base + int64(i)
		fields := []string{c.Kanji, c.Meaning, c.OnYomi, c.KunYomi, c.Example}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
			 VALUES (?, ?, ?, ?, -1, '', ?, ?, ?, 0, '')`,
			id, d.noteGUID(c.Kanji), d.modelID, mod,
			strings.Join(fields, fieldSeparator), c.Kanji, checksum(c.Kanji),
		); err != nil {
			return fmt.Errorf("insert note %s: %w", c.Kanji, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cards (id, nid, did, ord, mod, usn, type, queue, due, ivl, factor, reps, lapses, left, odue, odid, flags, data)
			 VALUES (?, ?, ?, 0, ?, -1, 0, 0, ?, 0, 0, 0, 0, 0, 0, 0, 0, '')`,
			id, id, d.id, mod, i+1,
		); err != nil {
			return fmt.Errorf("insert card %s: %w", c.Kanji, err)
		}
	}

	return tx.Commit()
}

func (d *Deck) noteGUID(kanji string) string {
	return uuid.NewSHA1(guidNamespace, []byte(fmtID(d.id)+"/"+kanji)).String()
}

// checksum is the first 32 bits of the SHA-1 of the sort field, which
// Anki uses to find duplicate notes.
func checksum(field string) int64 {
	sum := sha1.Sum([]byte(field))
	return int64(binary.BigEndian.Uint32(sum[:4]))
}

func fmtID(id int64) string { return strconv.FormatInt(id, 10) }

func zipPackage(path, dbPath string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create package: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	w, err := zw.Create("collection.anki2")
	if err != nil {
		return fmt.Errorf("add collection: %w", err)
	}
	db, err := os.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open collection: %w", err)
	}
	_, err = io.Copy(w, db)
	db.Close()
	if err != nil {
		return fmt.Errorf("copy collection: %w", err)
	}

	w, err = zw.Create("media")
	if err != nil {
		return fmt.Errorf("add media map: %w", err)
	}
	if _, err := io.WriteString(w, "{}"); err != nil {
		return fmt.Errorf("write media map: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish package: %w", err)
	}
	return out.Close()
}
