package media

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

var (
	mp3Bytes  = append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{0}, 64)...)
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 64)...)
	textBytes = []byte("just some plain text, not media at all")
)

func TestCheckAudio(t *testing.T) {
	r := bytes.NewReader(mp3Bytes)
	got, err := CheckAudio(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "audio/mpeg" {
		t.Errorf("expected audio/mpeg, got %s", got)
	}

	rest, _ := io.ReadAll(r)
	if !bytes.Equal(rest, mp3Bytes) {
		t.Error("reader should be rewound after sniffing")
	}

	if _, err := CheckAudio(bytes.NewReader(pngBytes)); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType for png, got %v", err)
	}
}

func TestCheckImage(t *testing.T) {
	got, err := CheckImage(bytes.NewReader(pngBytes))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "image/png" {
		t.Errorf("expected image/png, got %s", got)
	}

	if _, err := CheckImage(bytes.NewReader(textBytes)); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType for text, got %v", err)
	}
	if _, err := CheckImage(bytes.NewReader(mp3Bytes)); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType for mp3, got %v", err)
	}
}
