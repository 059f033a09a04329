// Package sqlite provides a SQLite-backed implementation of the metadata
// store port.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	_ "github.com/mattn/go-sqlite3" // Import the driver anonymously

	"github.com/resona-audio/resona/internal/core/domain"
	"github.com/resona-audio/resona/internal/core/ports"
)

// Adapter implements the metadata store port for SQLite.
type Adapter struct {
	db *sql.DB
}

// compile-time interface assertion
var _ ports.MetadataStore = (*Adapter)(nil)

// NewAdapter creates a connection and runs the schema migration.
func NewAdapter(storagePath string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	adapter := &Adapter{db: db}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return adapter, nil
}

// Close ensures the DB connection is closed gracefully.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Lookup resolves a song id to its metadata. A miss returns
// domain.ErrNotFound so the engine can count it as a gap.
func (a *Adapter) Lookup(ctx context.Context, songID string) (domain.Metadata, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT song_id, IFNULL(title, ''), IFNULL(album, ''), IFNULL(year, ''),
			IFNULL(language, ''), IFNULL(duration, 0), IFNULL(perma_url, ''), IFNULL(image_url, '')
		FROM songs WHERE song_id = ?
	`, songID)

	var m domain.Metadata
	if err := row.Scan(&m.SongID, &m.Title, &m.Album, &m.Year, &m.Language, &m.Duration, &m.PermaURL, &m.ImageURL); err != nil {
		if err == sql.ErrNoRows {
			return domain.Metadata{}, domain.ErrNotFound
		}
		return domain.Metadata{}, fmt.Errorf("failed to load song metadata: %w", err)
	}
	return m, nil
}

// Save upserts a single metadata record.
func (a *Adapter) Save(ctx context.Context, m domain.Metadata) error {
	if _, err := a.db.ExecContext(ctx, upsertSongQuery,
		m.SongID, m.Title, m.Album, m.Year, m.Language, m.Duration, m.PermaURL, m.ImageURL,
	); err != nil {
		return fmt.Errorf("failed to save song %s: %w", m.SongID, err)
	}
	return nil
}

// Count reports how many metadata records the store holds.
func (a *Adapter) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM songs").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count songs: %w", err)
	}
	return n, nil
}

// ImportJSON loads the offline pipeline's metadata document, a JSON object
// whose values are song records keyed by arbitrary collector keys. The
// whole import runs in one transaction; records without a song_id are
// skipped. Returns the number of imported records.
func (a *Adapter) ImportJSON(ctx context.Context, r io.Reader) (int, error) {
	var doc map[string]domain.Metadata
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return 0, fmt.Errorf("failed to decode metadata document: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Safety net: auto-rollback if we error before commit

	stmt, err := tx.PrepareContext(ctx, upsertSongQuery)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	imported := 0
	for _, m := range doc {
		if m.SongID == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			m.SongID, m.Title, m.Album, m.Year, m.Language, m.Duration, m.PermaURL, m.ImageURL,
		); err != nil {
			return 0, fmt.Errorf("failed to import song %s: %w", m.SongID, err)
		}
		imported++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("transaction commit failed: %w", err)
	}
	return imported, nil
}

const upsertSongQuery = `
	INSERT INTO songs (song_id, title, album, year, language, duration, perma_url, image_url)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(song_id) DO UPDATE SET
		title=excluded.title,
		album=excluded.album,
		year=excluded.year,
		language=excluded.language,
		duration=excluded.duration,
		perma_url=excluded.perma_url,
		image_url=excluded.image_url;
`

func (a *Adapter) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS songs (
		song_id TEXT PRIMARY KEY,
		title TEXT,
		album TEXT,
		year TEXT,
		language TEXT,
		duration REAL,
		perma_url TEXT,
		image_url TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_songs_perma_url ON songs(perma_url);
	`
	if _, err := a.db.Exec(query); err != nil {
		return err
	}
	return nil
}
