package models

import (
	"io"
	"time"
)

// Song represents a song row stored in TiDB
type Song struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	ImagePath string    `json:"image_path"`
	SongPath  string    `json:"song_path"`
	CreatedAt time.Time `json:"created_at"`
}

// File is a binary submitted with an upload
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Empty reports whether no usable content was submitted
func (f *File) Empty() bool {
	return f == nil || f.Body == nil || f.Size == 0
}

// UploadRequest holds a single song submission
type UploadRequest struct {
	Title  string
	Author string
	Song   *File
	Image  *File
	UserID string
}

// NotificationLevel classifies a user-facing notification
type NotificationLevel string

const (
	LevelSuccess NotificationLevel = "success"
	LevelError   NotificationLevel = "error"
)

// Notification is the single message shown to the user after a submission
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
}
