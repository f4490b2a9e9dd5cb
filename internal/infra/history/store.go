// Package history keeps a play history of AirPlay sessions in SQLite, so
// the UI can show what was listened to after the session is gone.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DefaultDBPath is the default location of the history database.
const DefaultDBPath = "data/history.db"

// dedupeWindow coalesces repeated reports of the same track. AirPlay
// senders re-announce metadata on seek and on artwork arrival.
const dedupeWindow = 30 * time.Second

// Entry is one recorded play.
type Entry struct {
	ID          string    `json:"id"`
	Artist      string    `json:"artist"`
	Title       string    `json:"title"`
	Album       string    `json:"album"`
	ArtworkPath string    `json:"artwork_path,omitempty"`
	PlayedAt    time.Time `json:"played_at"`
}

// ArtistCount aggregates plays per artist.
type ArtistCount struct {
	Artist string `json:"artist"`
	Plays  int    `json:"plays"`
}

// Store is the SQLite-backed play history.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string

	// now is swapped out in tests.
	now func() time.Time
}

// NewStore creates a store for the database at path.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultDBPath
	}
	return &Store{path: path, now: time.Now}
}

// Open opens the database and initializes the schema.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", s.path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("initializing history schema: %w", err)
	}

	s.db = db
	log.Info().Str("path", s.path).Msg("play history database opened")
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS plays (
	id TEXT PRIMARY KEY,
	artist TEXT NOT NULL,
	title TEXT NOT NULL,
	album TEXT NOT NULL,
	artwork_path TEXT NOT NULL DEFAULT '',
	played_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plays_played_at ON plays(played_at);
CREATE INDEX IF NOT EXISTS idx_plays_artist ON plays(artist);
`

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// RecordPlay stores one play. A report of the same artist and title inside
// the dedupe window refreshes the existing row instead of inserting a
// duplicate, since senders repeat metadata mid-track. A coalesced report is
// still the same play, so it only updates the timestamp and backfills
// late-arriving artwork.
func (s *Store) RecordPlay(artist, title, album, artworkPath string) error {
	if artist == "" && title == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("history store not open")
	}

	now := s.now()

	var id string
	var playedAt time.Time
	err := s.db.QueryRow(
		`SELECT id, played_at FROM plays
		 WHERE artist = ? AND title = ?
		 ORDER BY played_at DESC LIMIT 1`,
		artist, title,
	).Scan(&id, &playedAt)

	switch {
	case err == nil && now.Sub(playedAt) < dedupeWindow:
		_, err = s.db.Exec(
			`UPDATE plays SET played_at = ?,
			 artwork_path = CASE WHEN ? != '' THEN ? ELSE artwork_path END
			 WHERE id = ?`,
			now, artworkPath, artworkPath, id)
		if err != nil {
			return fmt.Errorf("updating play: %w", err)
		}
		log.Debug().Str("artist", artist).Str("title", title).Msg("coalesced repeated play report")
		return nil

	case err != nil && err != sql.ErrNoRows:
		return fmt.Errorf("looking up recent play: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO plays (id, artist, title, album, artwork_path, played_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), artist, title, album, artworkPath, now)
	if err != nil {
		return fmt.Errorf("inserting play: %w", err)
	}

	log.Info().Str("artist", artist).Str("title", title).Str("album", album).Msg("recorded play")
	return nil
}

// LastPlayed returns the most recent plays, newest first.
func (s *Store) LastPlayed(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("history store not open")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, artist, title, album, artwork_path, played_at
		 FROM plays ORDER BY played_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Artist, &e.Title, &e.Album, &e.ArtworkPath, &e.PlayedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TopArtists returns artists by number of recorded plays, most played
// first. Each row in the table is exactly one play.
func (s *Store) TopArtists(limit int) ([]ArtistCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("history store not open")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT artist, COUNT(*) AS plays FROM plays
		 WHERE artist != '' GROUP BY artist ORDER BY plays DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying artist counts: %w", err)
	}
	defer rows.Close()

	var counts []ArtistCount
	for rows.Next() {
		var c ArtistCount
		if err := rows.Scan(&c.Artist, &c.Plays); err != nil {
			return nil, fmt.Errorf("scanning artist row: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
