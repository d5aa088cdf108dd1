package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/maneesh/songdrop/internal/auth"
	"github.com/maneesh/songdrop/internal/media"
	"github.com/maneesh/songdrop/internal/models"
	"github.com/maneesh/songdrop/internal/upload"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("songdrop-handlers")

// Submitter runs one song submission
type Submitter interface {
	Submit(ctx context.Context, form *upload.Form, userID string) *upload.Result
}

// UploadHandler handles song upload requests
type UploadHandler struct {
	submitter Submitter
	inFlight  *upload.InFlight
	maxBytes  int64
	logger    *zap.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(submitter Submitter, maxBytes int64, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{
		submitter: submitter,
		inFlight:  upload.NewInFlight(),
		maxBytes:  maxBytes,
		logger:    logger,
	}
}

// UploadResponse is the body returned for every submission
type UploadResponse struct {
	Message string       `json:"message"`
	State   string       `json:"state"`
	Song    *models.Song `json:"song,omitempty"`
}

// ServeHTTP handles POST /songs as multipart/form-data with the fields
// title, author, song and image
func (uh *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_song",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	userID := auth.UserFromContext(ctx)
	span.SetAttributes(attribute.String("user_id", userID))

	if r.ContentLength > uh.maxBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, UploadResponse{Message: "Upload too large."})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, uh.maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		span.RecordError(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, UploadResponse{Message: "Upload too large."})
			return
		}
		writeJSON(w, http.StatusBadRequest, UploadResponse{Message: "Invalid form."})
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := &upload.Form{
		Title:  r.FormValue("title"),
		Author: r.FormValue("author"),
	}

	song, closeSong, err := formFile(r, "song")
	if err != nil {
		uh.rejectType(w, span, err)
		return
	}
	defer closeSong()
	form.Song = song

	image, closeImage, err := formFile(r, "image")
	if err != nil {
		uh.rejectType(w, span, err)
		return
	}
	defer closeImage()
	form.Image = image

	// Missing fields are reported by the orchestrator before any content check
	if upload.Validate(form.Request(userID)) == nil {
		if err := checkContent("song", form.Song, media.CheckAudio); err != nil {
			uh.rejectType(w, span, err)
			return
		}
		if err := checkContent("image", form.Image, media.CheckImage); err != nil {
			uh.rejectType(w, span, err)
			return
		}
	}

	if userID != "" {
		if !uh.inFlight.Acquire(userID) {
			writeJSON(w, http.StatusConflict, UploadResponse{Message: upload.ErrInFlight.Error()})
			return
		}
		defer uh.inFlight.Release(userID)
	}

	res := uh.submitter.Submit(ctx, form, userID)
	span.SetAttributes(attribute.String("final_state", res.State.String()))

	writeJSON(w, statusFor(res), UploadResponse{
		Message: res.Notification.Message,
		State:   res.State.String(),
		Song:    res.Song,
	})
}

func (uh *UploadHandler) rejectType(w http.ResponseWriter, span trace.Span, err error) {
	span.RecordError(err)
	uh.logger.Info("Rejected upload", zap.Error(err))
	if errors.Is(err, media.ErrUnsupportedType) {
		writeJSON(w, http.StatusUnsupportedMediaType, UploadResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusBadRequest, UploadResponse{Message: "Invalid form."})
}

// formFile opens the named part. A missing part yields a nil file so
// validation can report it.
func formFile(r *http.Request, field string) (*models.File, func(), error) {
	noop := func() {}
	f, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, noop, nil
	} else if err != nil {
		return nil, noop, fmt.Errorf("failed to open %s: %w", field, err)
	}

	if header.Size == 0 {
		return &models.File{Name: header.Filename}, func() { f.Close() }, nil
	}
	return &models.File{
		Name: header.Filename,
		Size: header.Size,
		Body: f,
	}, func() { f.Close() }, nil
}

// checkContent sniffs file and records the detected type on it
func checkContent(field string, file *models.File, check func(io.ReadSeeker) (string, error)) error {
	rs, ok := file.Body.(io.ReadSeeker)
	if !ok {
		return fmt.Errorf("%s: %w", field, media.ErrUnsupportedType)
	}
	contentType, err := check(rs)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	file.ContentType = contentType
	return nil
}

func statusFor(res *upload.Result) int {
	if res.State == upload.StateSucceeded {
		return http.StatusCreated
	}
	if res.IsMissingFields() {
		return http.StatusBadRequest
	}
	if res.Notification.Message == upload.MsgSomethingWrong {
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
