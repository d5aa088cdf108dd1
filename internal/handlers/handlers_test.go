package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/songdrop/internal/auth"
	"github.com/maneesh/songdrop/internal/models"
	"github.com/maneesh/songdrop/internal/storage"
	"github.com/maneesh/songdrop/internal/upload"
	"go.uber.org/zap"
)

var (
	mp3Bytes = append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{1}, 64)...)
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 64)...)
)

// memObjects is an in-memory object store
type memObjects struct {
	objects map[string][]byte
	failOn  string
}

func (m *memObjects) Upload(_ context.Context, bucket, key string, body io.Reader, _ int64, _, _ string) (string, error) {
	if bucket == m.failOn {
		return "", errors.New("boom")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.objects[bucket+"/"+key] = data
	return key, nil
}

func (m *memObjects) Delete(_ context.Context, bucket, key string) error {
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memObjects) PresignedURL(_ context.Context, bucket, key string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://objects.test/%s/%s?ttl=%d", bucket, key, int(expiry.Seconds())), nil
}

// memSongs is an in-memory song store and listing cache
type memSongs struct {
	rows      []*models.Song
	cached    map[string][]*models.Song
	gen       map[string]int64
	cachedGen map[string]int64
	listCalls int
	// onList runs inside ListSongsByUser before the rows are read
	onList func()
}

func newMemSongs() *memSongs {
	return &memSongs{
		cached:    map[string][]*models.Song{},
		gen:       map[string]int64{},
		cachedGen: map[string]int64{},
	}
}

func (m *memSongs) InsertSong(_ context.Context, song *models.Song) error {
	m.rows = append(m.rows, song)
	return nil
}

func (m *memSongs) ListSongsByUser(_ context.Context, userID string) ([]*models.Song, error) {
	m.listCalls++
	if m.onList != nil {
		m.onList()
	}
	songs := []*models.Song{}
	for _, s := range m.rows {
		if s.UserID == userID {
			songs = append(songs, s)
		}
	}
	return songs, nil
}

func (m *memSongs) GetSong(_ context.Context, songID string) (*models.Song, error) {
	for _, s := range m.rows {
		if s.ID == songID {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrSongNotFound, songID)
}

func (m *memSongs) GetUserSongs(_ context.Context, userID string) ([]*models.Song, int64, error) {
	gen := m.gen[userID]
	if m.cachedGen[userID] != gen {
		return nil, gen, nil
	}
	return m.cached[userID], gen, nil
}

func (m *memSongs) SetUserSongs(_ context.Context, userID string, gen int64, songs []*models.Song) error {
	if gen != m.gen[userID] {
		// written under a stale generation; readers never see it
		return nil
	}
	m.cached[userID] = songs
	m.cachedGen[userID] = gen
	return nil
}

func (m *memSongs) InvalidateUserSongs(_ context.Context, userID string) error {
	m.gen[userID]++
	delete(m.cached, userID)
	return nil
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for k, data := range files {
		part, err := mw.CreateFormFile(k, k+".bin")
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		part.Write(data)
	}
	mw.Close()
	return body, mw.FormDataContentType()
}

func newUploadRequest(t *testing.T, userID string, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()
	body, contentType := multipartBody(t, fields, files)
	req := httptest.NewRequest(http.MethodPost, "/songs", body)
	req.Header.Set("Content-Type", contentType)
	return req.WithContext(auth.WithUser(req.Context(), userID))
}

func newUploadSetup() (*UploadHandler, *memObjects, *memSongs) {
	objects := &memObjects{objects: map[string][]byte{}}
	songs := newMemSongs()
	orch := upload.NewOrchestrator(objects, songs, songs, &upload.Recorder{}, nil, zap.NewNop(), upload.DefaultOptions()).
		WithIDGenerator(func() string { return "id1" })
	return NewUploadHandler(orch, 1<<20, zap.NewNop()), objects, songs
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestUploadHandler(t *testing.T) {
	fields := map[string]string{"title": "Yesterday", "author": "The Beatles"}
	files := map[string][]byte{"song": mp3Bytes, "image": pngBytes}

	t.Run("Created", func(t *testing.T) {
		h, objects, songs := newUploadSetup()
		songs.cached["user-1"] = []*models.Song{}
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, newUploadRequest(t, "user-1", fields, files))

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[UploadResponse](t, rec)
		if resp.Message != upload.MsgSongCreated || resp.Song == nil {
			t.Fatalf("unexpected response %+v", resp)
		}
		if resp.Song.SongPath != "song-Yesterday-id1" || resp.Song.ImagePath != "image-Yesterday-id1" {
			t.Errorf("unexpected paths %q %q", resp.Song.SongPath, resp.Song.ImagePath)
		}
		if !bytes.Equal(objects.objects["songs/song-Yesterday-id1"], mp3Bytes) {
			t.Error("audio bytes not stored intact")
		}
		if _, ok := songs.cached["user-1"]; ok {
			t.Error("listing cache should be invalidated")
		}
	})

	t.Run("Missing image", func(t *testing.T) {
		h, objects, _ := newUploadSetup()
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, newUploadRequest(t, "user-1", fields, map[string][]byte{"song": mp3Bytes}))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if resp := decode[UploadResponse](t, rec); resp.Message != upload.MsgMissingFields {
			t.Errorf("expected %q, got %q", upload.MsgMissingFields, resp.Message)
		}
		if len(objects.objects) != 0 {
			t.Error("nothing should be uploaded")
		}
	})

	t.Run("Wrong audio type", func(t *testing.T) {
		h, _, _ := newUploadSetup()
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, newUploadRequest(t, "user-1", fields, map[string][]byte{"song": pngBytes, "image": pngBytes}))

		if rec.Code != http.StatusUnsupportedMediaType {
			t.Errorf("expected 415, got %d", rec.Code)
		}
	})

	t.Run("Missing title wins over wrong type", func(t *testing.T) {
		h, objects, _ := newUploadSetup()
		rec := httptest.NewRecorder()
		noTitle := map[string]string{"author": "The Beatles"}

		h.ServeHTTP(rec, newUploadRequest(t, "user-1", noTitle, map[string][]byte{"song": pngBytes, "image": pngBytes}))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if resp := decode[UploadResponse](t, rec); resp.Message != upload.MsgMissingFields {
			t.Errorf("expected %q, got %q", upload.MsgMissingFields, resp.Message)
		}
		if len(objects.objects) != 0 {
			t.Error("nothing should be uploaded")
		}
	})

	t.Run("Image upload fails", func(t *testing.T) {
		h, objects, _ := newUploadSetup()
		objects.failOn = "images"
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, newUploadRequest(t, "user-1", fields, files))

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", rec.Code)
		}
		if resp := decode[UploadResponse](t, rec); resp.Message != upload.MsgImageUploadFailed {
			t.Errorf("unexpected message %q", resp.Message)
		}
		if len(objects.objects) != 0 {
			t.Errorf("expected audio removed, still have %d objects", len(objects.objects))
		}
	})

	t.Run("Already in flight", func(t *testing.T) {
		h, _, _ := newUploadSetup()
		h.inFlight.Acquire("user-1")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, newUploadRequest(t, "user-1", fields, files))

		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("Too large", func(t *testing.T) {
		h, _, _ := newUploadSetup()
		h.maxBytes = 64
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, newUploadRequest(t, "user-1", fields, files))

		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected 413, got %d", rec.Code)
		}
	})
}

func newLibrary(songs *memSongs) *LibraryHandler {
	objects := &memObjects{objects: map[string][]byte{}}
	return NewLibraryHandler(songs, songs, objects, Buckets{Songs: "songs", Images: "images"}, time.Hour, zap.NewNop())
}

func TestLibraryList(t *testing.T) {
	songs := newMemSongs()
	songs.rows = []*models.Song{
		{ID: "s1", UserID: "user-1", Title: "A"},
		{ID: "s2", UserID: "user-2", Title: "B"},
	}
	lh := newLibrary(songs)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/songs", nil)
		req = req.WithContext(auth.WithUser(req.Context(), "user-1"))
		rec := httptest.NewRecorder()
		lh.List(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		resp := decode[struct {
			Songs []*models.Song `json:"songs"`
		}](t, rec)
		if len(resp.Songs) != 1 || resp.Songs[0].ID != "s1" {
			t.Errorf("unexpected songs %+v", resp.Songs)
		}
	}

	if songs.listCalls != 1 {
		t.Errorf("second list should be served from cache, store called %d times", songs.listCalls)
	}
}

func TestLibraryListInvalidatedDuringRead(t *testing.T) {
	songs := newMemSongs()
	songs.rows = []*models.Song{{ID: "s1", UserID: "user-1", Title: "A"}}
	lh := newLibrary(songs)

	list := func() []*models.Song {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/songs", nil)
		req = req.WithContext(auth.WithUser(req.Context(), "user-1"))
		rec := httptest.NewRecorder()
		lh.List(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		return decode[struct {
			Songs []*models.Song `json:"songs"`
		}](t, rec).Songs
	}

	// An upload finishes while the first listing is being read: the read
	// returns the old rows and the new song's invalidation lands before the
	// cache fill.
	songs.onList = func() {
		songs.onList = nil
		songs.rows = append(songs.rows, &models.Song{ID: "s2", UserID: "user-1", Title: "B"})
		songs.InvalidateUserSongs(context.Background(), "user-1")
	}
	list()

	if got := list(); len(got) != 2 {
		t.Errorf("expected the new song after invalidation, got %+v", got)
	}
	if songs.listCalls != 2 {
		t.Errorf("stale fill must not be served, store called %d times", songs.listCalls)
	}
}

func TestLibraryGet(t *testing.T) {
	songs := newMemSongs()
	songs.rows = []*models.Song{
		{ID: "s1", UserID: "user-1", Title: "A", SongPath: "song-A-1", ImagePath: "image-A-1"},
	}
	router := mux.NewRouter()
	router.HandleFunc("/songs/{song_id}", newLibrary(songs).Get)

	get := func(userID, songID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/songs/"+songID, nil)
		req = req.WithContext(auth.WithUser(req.Context(), userID))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("Own song", func(t *testing.T) {
		rec := get("user-1", "s1")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		resp := decode[SongResponse](t, rec)
		if resp.SongURL != "https://objects.test/songs/song-A-1?ttl=3600" {
			t.Errorf("unexpected song url %q", resp.SongURL)
		}
		if resp.ImageURL != "https://objects.test/images/image-A-1?ttl=3600" {
			t.Errorf("unexpected image url %q", resp.ImageURL)
		}
		if resp.Song == nil || resp.Title != "A" {
			t.Errorf("unexpected song %+v", resp.Song)
		}
	})

	t.Run("Someone else's song", func(t *testing.T) {
		if rec := get("user-2", "s1"); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("Unknown song", func(t *testing.T) {
		if rec := get("user-1", "nope"); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}
