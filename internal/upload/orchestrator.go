// Package upload runs a song submission: audio upload, image upload and the
// metadata insert, undoing earlier uploads when a later step fails.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/songdrop/internal/models"
	"github.com/maneesh/songdrop/internal/slug"
	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("songdrop-upload")

// User-facing messages
const (
	MsgMissingFields     = "Missing fields!"
	MsgSongUploadFailed  = "Failed song upload."
	MsgImageUploadFailed = "Failed image upload."
	MsgSomethingWrong    = "Something went wrong!"
	MsgSongCreated       = "Song created!"
)

// ObjectStore stores binaries under bucket/key
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType, cacheControl string) (string, error)
	Delete(ctx context.Context, bucket, key string) error
}

// SongStore persists song rows. The error text of a failed insert is shown
// to the user as is.
type SongStore interface {
	InsertSong(ctx context.Context, song *models.Song) error
}

// ListingCache holds cached song listings per user
type ListingCache interface {
	InvalidateUserSongs(ctx context.Context, userID string) error
}

// Options configures buckets and caching for uploaded objects
type Options struct {
	SongsBucket  string
	ImagesBucket string
	CacheControl string
}

// DefaultOptions match the buckets the library reads from
func DefaultOptions() Options {
	return Options{
		SongsBucket:  "songs",
		ImagesBucket: "images",
		CacheControl: "3600",
	}
}

// Result is the outcome of one submission
type Result struct {
	State        State
	Trace        []State
	Song         *models.Song
	Notification models.Notification
	Err          error
	// Compensation holds failures hit while removing uploaded objects
	Compensation []error
}

// Orchestrator runs submissions against injected collaborators
type Orchestrator struct {
	objects  ObjectStore
	songs    SongStore
	cache    ListingCache
	notifier Notifier
	slugs    *slug.Generator
	logger   *zap.Logger
	opts     Options
	newID    func() string
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator. cache may be nil.
func NewOrchestrator(
	objects ObjectStore,
	songs SongStore,
	cache ListingCache,
	notifier Notifier,
	slugs *slug.Generator,
	logger *zap.Logger,
	opts Options,
) *Orchestrator {
	if slugs == nil {
		slugs = slug.NewGenerator(nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		objects:  objects,
		songs:    songs,
		cache:    cache,
		notifier: notifier,
		slugs:    slugs,
		logger:   logger,
		opts:     opts,
		newID:    func() string { return xid.New().String() },
		now:      time.Now,
	}
}

// WithIDGenerator replaces the unique id source used in object keys
func (o *Orchestrator) WithIDGenerator(fn func() string) *Orchestrator {
	o.newID = fn
	return o
}

// uploaded is an object that must be removed if a later step fails
type uploaded struct {
	bucket string
	key    string
}

type submission struct {
	o       *Orchestrator
	res     *Result
	objects []uploaded
}

func (s *submission) move(to State) {
	if !canMove(s.res.State, to) {
		panic(fmt.Sprintf("invalid transition %s -> %s", s.res.State, to))
	}
	s.res.State = to
	s.res.Trace = append(s.res.Trace, to)
}

// CompensationTimeout bounds the removal of orphaned objects
const CompensationTimeout = 30 * time.Second

// compensate removes uploaded objects newest first. It detaches from ctx's
// cancellation so a disconnected caller still gets its objects removed.
func (s *submission) compensate(ctx context.Context) {
	pending := s.objects
	s.objects = nil
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CompensationTimeout)
	defer cancel()

	for i := len(pending) - 1; i >= 0; i-- {
		obj := pending[i]
		if err := s.o.deleteObject(ctx, obj); err != nil {
			s.o.logger.Error("Failed to remove orphaned object",
				zap.String("bucket", obj.bucket),
				zap.String("key", obj.key),
				zap.Error(err),
			)
			s.res.Compensation = append(s.res.Compensation, err)
			continue
		}
		s.o.logger.Info("Removed orphaned object",
			zap.String("bucket", obj.bucket),
			zap.String("key", obj.key),
		)
	}
}

// deleteObject turns a panicking Delete into an error
func (o *Orchestrator) deleteObject(ctx context.Context, obj uploaded) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while deleting %s/%s: %v", obj.bucket, obj.key, r)
		}
	}()
	return o.objects.Delete(ctx, obj.bucket, obj.key)
}

// notify delivers n; a panicking notifier is logged and ignored
func (o *Orchestrator) notify(ctx context.Context, n models.Notification) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Notifier panicked", zap.String("message", n.Message), zap.Any("panic", r))
		}
	}()
	o.notifier.Notify(ctx, n)
}

func (s *submission) fail(ctx context.Context, step State, err error, message string) {
	s.compensate(ctx)
	s.res.Err = &StepError{Step: step, Err: err}
	s.res.Notification = models.Notification{Level: models.LevelError, Message: message}
	if !s.res.State.Terminal() {
		s.move(StateFailed)
	}
}

// Submit runs one submission of form for userID. The form is reset on
// success and Loading is cleared on every return path.
func (o *Orchestrator) Submit(ctx context.Context, form *Form, userID string) (res *Result) {
	ctx, span := tracer.Start(ctx, "submit_song",
		trace.WithAttributes(attribute.String("user_id", userID)),
	)
	defer span.End()

	form.Loading = true
	defer func() { form.Loading = false }()

	s := &submission{o: o, res: &Result{State: StateIdle}}
	res = s.res

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			o.logger.Error("Submission aborted", zap.String("user_id", userID), zap.Error(err))
			span.RecordError(err)
			s.fail(ctx, s.res.State, err, MsgSomethingWrong)
			o.notify(ctx, s.res.Notification)
		}
	}()

	o.run(ctx, s, form, userID)
	if s.res.Err != nil {
		span.RecordError(s.res.Err)
	}
	span.SetAttributes(attribute.String("final_state", s.res.State.String()))
	o.notify(ctx, s.res.Notification)
	return res
}

func (o *Orchestrator) run(ctx context.Context, s *submission, form *Form, userID string) {
	s.move(StateValidating)
	req := form.Request(userID)
	if err := Validate(req); err != nil {
		s.fail(ctx, StateValidating, err, MsgMissingFields)
		return
	}

	uniqueID := o.newID()
	fragment := o.slugs.Fragment(req.Title)
	songKey := fmt.Sprintf("song-%s-%s", fragment, uniqueID)
	imageKey := fmt.Sprintf("image-%s-%s", fragment, uniqueID)

	// Step 1: Upload audio
	s.move(StateUploadingAudio)
	o.logger.Info("Uploading audio object",
		zap.String("user_id", userID),
		zap.String("bucket", o.opts.SongsBucket),
		zap.String("key", songKey),
	)
	songPath, err := o.objects.Upload(ctx, o.opts.SongsBucket, songKey,
		req.Song.Body, req.Song.Size, req.Song.ContentType, o.opts.CacheControl)
	if err != nil {
		o.logger.Warn("Audio upload failed", zap.String("key", songKey), zap.Error(err))
		s.fail(ctx, StateUploadingAudio, err, MsgSongUploadFailed)
		return
	}
	s.objects = append(s.objects, uploaded{bucket: o.opts.SongsBucket, key: songPath})

	// Step 2: Upload image
	s.move(StateUploadingImage)
	o.logger.Info("Uploading image object",
		zap.String("user_id", userID),
		zap.String("bucket", o.opts.ImagesBucket),
		zap.String("key", imageKey),
	)
	imagePath, err := o.objects.Upload(ctx, o.opts.ImagesBucket, imageKey,
		req.Image.Body, req.Image.Size, req.Image.ContentType, o.opts.CacheControl)
	if err != nil {
		o.logger.Warn("Image upload failed", zap.String("key", imageKey), zap.Error(err))
		s.fail(ctx, StateUploadingImage, err, MsgImageUploadFailed)
		return
	}
	s.objects = append(s.objects, uploaded{bucket: o.opts.ImagesBucket, key: imagePath})

	// Step 3: Insert song row
	s.move(StateInsertingRecord)
	song := &models.Song{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     req.Title,
		Author:    req.Author,
		ImagePath: imagePath,
		SongPath:  songPath,
		CreatedAt: o.now(),
	}
	o.logger.Info("Inserting song record", zap.String("user_id", userID), zap.String("song_id", song.ID))
	if err := o.songs.InsertSong(ctx, song); err != nil {
		o.logger.Warn("Song insert failed", zap.String("song_id", song.ID), zap.Error(err))
		s.fail(ctx, StateInsertingRecord, err, err.Error())
		return
	}
	s.objects = nil

	// Step 4: Refresh the listing and reset the form
	if o.cache != nil {
		if err := o.cache.InvalidateUserSongs(ctx, userID); err != nil {
			// Log error but don't fail the submission
			o.logger.Warn("Failed to invalidate song listing", zap.String("user_id", userID), zap.Error(err))
		}
	}
	form.Reset()

	s.move(StateSucceeded)
	s.res.Song = song
	s.res.Notification = models.Notification{Level: models.LevelSuccess, Message: MsgSongCreated}
	o.logger.Info("Song created", zap.String("user_id", userID), zap.String("song_id", song.ID))
}

// IsMissingFields reports whether res failed validation
func (r *Result) IsMissingFields() bool {
	return errors.Is(r.Err, ErrMissingFields)
}

// FailedStep returns the step a failed submission stopped in
func (r *Result) FailedStep() (State, bool) {
	var stepErr *StepError
	if errors.As(r.Err, &stepErr) {
		return stepErr.Step, true
	}
	return StateIdle, false
}
