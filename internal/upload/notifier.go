package upload

import (
	"context"
	"sync"

	"github.com/maneesh/songdrop/internal/models"
	"go.uber.org/zap"
)

// Notifier delivers the user-facing outcome of a submission
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

// Recorder keeps every notification it receives
type Recorder struct {
	mu  sync.Mutex
	all []models.Notification
}

// Notify implements Notifier
func (r *Recorder) Notify(_ context.Context, n models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, n)
}

// All returns a copy of the recorded notifications
func (r *Recorder) All() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.all...)
}

// Last returns the most recent notification
func (r *Recorder) Last() (models.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.all) == 0 {
		return models.Notification{}, false
	}
	return r.all[len(r.all)-1], true
}

// LogNotifier writes notifications to a zap logger
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier backed by logger
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier
func (l *LogNotifier) Notify(_ context.Context, n models.Notification) {
	if n.Level == models.LevelError {
		l.logger.Warn(n.Message)
		return
	}
	l.logger.Info(n.Message)
}
