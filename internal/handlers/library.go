package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/songdrop/internal/auth"
	"github.com/maneesh/songdrop/internal/models"
	"github.com/maneesh/songdrop/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SongReader reads song rows
type SongReader interface {
	ListSongsByUser(ctx context.Context, userID string) ([]*models.Song, error)
	GetSong(ctx context.Context, songID string) (*models.Song, error)
}

// LibraryCache caches per-user listings. GetUserSongs reports the cache
// generation it read; SetUserSongs under an older generation is never served.
type LibraryCache interface {
	GetUserSongs(ctx context.Context, userID string) ([]*models.Song, int64, error)
	SetUserSongs(ctx context.Context, userID string, gen int64, songs []*models.Song) error
}

// URLSigner creates time-limited download URLs
type URLSigner interface {
	PresignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// Buckets names where songs and images live
type Buckets struct {
	Songs  string
	Images string
}

// LibraryHandler serves a user's songs
type LibraryHandler struct {
	songs   SongReader
	cache   LibraryCache
	signer  URLSigner
	buckets Buckets
	expiry  time.Duration
	logger  *zap.Logger
}

// NewLibraryHandler creates a new library handler
func NewLibraryHandler(
	songs SongReader,
	cache LibraryCache,
	signer URLSigner,
	buckets Buckets,
	expiry time.Duration,
	logger *zap.Logger,
) *LibraryHandler {
	return &LibraryHandler{
		songs:   songs,
		cache:   cache,
		signer:  signer,
		buckets: buckets,
		expiry:  expiry,
		logger:  logger,
	}
}

// SongResponse is a song with playable URLs
type SongResponse struct {
	*models.Song
	SongURL  string `json:"song_url"`
	ImageURL string `json:"image_url"`
}

// List handles GET /songs
func (lh *LibraryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "list_songs",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	userID := auth.UserFromContext(ctx)
	span.SetAttributes(attribute.String("user_id", userID))

	songs, err := lh.listSongs(ctx, userID)
	if err != nil {
		span.RecordError(err)
		lh.logger.Error("Failed to list songs", zap.String("user_id", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list songs"})
		return
	}

	span.SetAttributes(attribute.Int("song_count", len(songs)))
	writeJSON(w, http.StatusOK, map[string]any{"songs": songs})
}

func (lh *LibraryHandler) listSongs(ctx context.Context, userID string) ([]*models.Song, error) {
	// Try cache first
	songs, gen, err := lh.cache.GetUserSongs(ctx, userID)
	if err != nil {
		lh.logger.Warn("Library cache read failed", zap.String("user_id", userID), zap.Error(err))
		return lh.songs.ListSongsByUser(ctx, userID)
	} else if songs != nil {
		return songs, nil
	}

	songs, err = lh.songs.ListSongsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// An invalidation since the read above leaves this write unreachable
	if err := lh.cache.SetUserSongs(ctx, userID, gen, songs); err != nil {
		lh.logger.Warn("Failed to update library cache", zap.String("user_id", userID), zap.Error(err))
	}
	return songs, nil
}

// Get handles GET /songs/{song_id}
func (lh *LibraryHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "get_song",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	userID := auth.UserFromContext(ctx)
	songID := mux.Vars(r)["song_id"]
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("song_id", songID),
	)

	song, err := lh.songs.GetSong(ctx, songID)
	if errors.Is(err, storage.ErrSongNotFound) || (err == nil && song.UserID != userID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "song not found"})
		return
	} else if err != nil {
		span.RecordError(err)
		lh.logger.Error("Failed to get song", zap.String("song_id", songID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get song"})
		return
	}

	songURL, err := lh.signer.PresignedURL(ctx, lh.buckets.Songs, song.SongPath, lh.expiry)
	if err != nil {
		span.RecordError(err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to sign song url"})
		return
	}
	imageURL, err := lh.signer.PresignedURL(ctx, lh.buckets.Images, song.ImagePath, lh.expiry)
	if err != nil {
		span.RecordError(err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to sign image url"})
		return
	}

	writeJSON(w, http.StatusOK, SongResponse{Song: song, SongURL: songURL, ImageURL: imageURL})
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
