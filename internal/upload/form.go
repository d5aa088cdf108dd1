package upload

import (
	"errors"
	"strings"

	"github.com/maneesh/songdrop/internal/models"
)

var (
	// ErrMissingFields is returned when a required field or the user is absent
	ErrMissingFields = errors.New("missing fields")
	// ErrInFlight is returned when the user already has a submission running
	ErrInFlight = errors.New("submission already in flight")
)

// Form is the state of one upload form instance
type Form struct {
	Title   string
	Author  string
	Song    *models.File
	Image   *models.File
	Loading bool
}

// Reset clears the form back to its empty defaults
func (f *Form) Reset() {
	*f = Form{}
}

// Request builds the upload request for the given user
func (f *Form) Request(userID string) models.UploadRequest {
	return models.UploadRequest{
		Title:  f.Title,
		Author: f.Author,
		Song:   f.Song,
		Image:  f.Image,
		UserID: userID,
	}
}

// Validate checks the four required fields and the user identity
func Validate(req models.UploadRequest) error {
	if strings.TrimSpace(req.Title) == "" ||
		strings.TrimSpace(req.Author) == "" ||
		req.Song.Empty() ||
		req.Image.Empty() ||
		req.UserID == "" {
		return ErrMissingFields
	}
	return nil
}
