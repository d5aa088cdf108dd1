// Package media checks uploaded binaries against the accepted formats:
// mp3 audio and any image type.
package media

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupportedType is returned for content outside the accepted formats
var ErrUnsupportedType = errors.New("unsupported content type")

// Sniff detects the MIME type of r from its leading bytes and rewinds it
func Sniff(r io.ReadSeeker) (*mimetype.MIME, error) {
	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to detect content type: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind content: %w", err)
	}
	return mtype, nil
}

// CheckAudio accepts mp3 only and returns its MIME type
func CheckAudio(r io.ReadSeeker) (string, error) {
	mtype, err := Sniff(r)
	if err != nil {
		return "", err
	}
	if !mtype.Is("audio/mpeg") {
		return "", fmt.Errorf("%w: %s is not mp3 audio", ErrUnsupportedType, mtype.String())
	}
	return "audio/mpeg", nil
}

// CheckImage accepts any image/* type and returns it
func CheckImage(r io.ReadSeeker) (string, error) {
	mtype, err := Sniff(r)
	if err != nil {
		return "", err
	}
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return m.String(), nil
		}
	}
	return "", fmt.Errorf("%w: %s is not an image", ErrUnsupportedType, mtype.String())
}
