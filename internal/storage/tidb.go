package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/maneesh/songdrop/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrSongNotFound is returned when no song row matches
var ErrSongNotFound = errors.New("song not found")

// StoreError carries a failed statement. Its message is the database's own
// message so it can be shown to users unchanged.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	var myErr *mysql.MySQLError
	if errors.As(e.Err, &myErr) {
		return myErr.Message
	}
	return e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

const schema = `CREATE TABLE IF NOT EXISTS songs (
	id VARCHAR(36) PRIMARY KEY,
	user_id VARCHAR(64) NOT NULL,
	title VARCHAR(255) NOT NULL,
	author VARCHAR(255) NOT NULL,
	image_path VARCHAR(512) NOT NULL,
	song_path VARCHAR(512) NOT NULL,
	created_at DATETIME NOT NULL,
	INDEX idx_songs_user (user_id, created_at)
)`

// TiDBClient wraps TiDB operations with tracing
type TiDBClient struct {
	db *sql.DB
}

// NewTiDBClient initializes a new TiDB client
func NewTiDBClient(dsn string) (*TiDBClient, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &TiDBClient{db: db}, nil
}

// Close closes the database connection
func (tc *TiDBClient) Close() error {
	return tc.db.Close()
}

// EnsureSchema creates the songs table if missing
func (tc *TiDBClient) EnsureSchema(ctx context.Context) error {
	if _, err := tc.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create songs table: %w", err)
	}
	return nil
}

// InsertSong inserts a song row with tracing
func (tc *TiDBClient) InsertSong(ctx context.Context, song *models.Song) error {
	ctx, span := tracer.Start(ctx, "tidb.insert_song",
		trace.WithAttributes(
			attribute.String("song_id", song.ID),
			attribute.String("user_id", song.UserID),
		),
	)
	defer span.End()

	query := `INSERT INTO songs (id, user_id, title, author, image_path, song_path, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := tc.db.ExecContext(ctx, query,
		song.ID, song.UserID, song.Title, song.Author, song.ImagePath, song.SongPath, song.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return &StoreError{Op: "insert song", Err: err}
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

// GetSong retrieves a song by ID with tracing
func (tc *TiDBClient) GetSong(ctx context.Context, songID string) (*models.Song, error) {
	ctx, span := tracer.Start(ctx, "tidb.get_song",
		trace.WithAttributes(
			attribute.String("song_id", songID),
		),
	)
	defer span.End()

	query := `SELECT id, user_id, title, author, image_path, song_path, created_at
			  FROM songs WHERE id = ?`

	var song models.Song
	err := tc.db.QueryRowContext(ctx, query, songID).Scan(
		&song.ID,
		&song.UserID,
		&song.Title,
		&song.Author,
		&song.ImagePath,
		&song.SongPath,
		&song.CreatedAt,
	)

	if err == sql.ErrNoRows {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("%w: %s", ErrSongNotFound, songID)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query song: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return &song, nil
}

// ListSongsByUser returns a user's songs, newest first
func (tc *TiDBClient) ListSongsByUser(ctx context.Context, userID string) ([]*models.Song, error) {
	ctx, span := tracer.Start(ctx, "tidb.list_songs",
		trace.WithAttributes(
			attribute.String("user_id", userID),
		),
	)
	defer span.End()

	query := `SELECT id, user_id, title, author, image_path, song_path, created_at
			  FROM songs
			  WHERE user_id = ?
			  ORDER BY created_at DESC`

	rows, err := tc.db.QueryContext(ctx, query, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	defer rows.Close()

	songs := []*models.Song{}
	for rows.Next() {
		var song models.Song
		err := rows.Scan(
			&song.ID,
			&song.UserID,
			&song.Title,
			&song.Author,
			&song.ImagePath,
			&song.SongPath,
			&song.CreatedAt,
		)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan song: %w", err)
		}
		songs = append(songs, &song)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating songs: %w", err)
	}

	span.SetAttributes(attribute.Int("song_count", len(songs)))
	return songs, nil
}
