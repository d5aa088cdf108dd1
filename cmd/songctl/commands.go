package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bogem/id3v2"
	"github.com/maneesh/songdrop/internal/auth"
	"github.com/maneesh/songdrop/internal/config"
	"github.com/maneesh/songdrop/internal/logging"
	"github.com/maneesh/songdrop/internal/media"
	"github.com/maneesh/songdrop/internal/models"
	"github.com/maneesh/songdrop/internal/slug"
	"github.com/maneesh/songdrop/internal/storage"
	"github.com/maneesh/songdrop/internal/upload"
	"github.com/urfave/cli/v3"
)

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:  "upload",
		Usage: "Upload an mp3 and its cover image",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "song", Aliases: []string{"s"}, Usage: "Path to the mp3 file", Required: true},
			&cli.StringFlag{Name: "image", Aliases: []string{"i"}, Usage: "Path to the cover image", Required: true},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User id that owns the song", Required: true},
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Song title (defaults to the ID3 title)"},
			&cli.StringFlag{Name: "author", Aliases: []string{"a"}, Usage: "Song author (defaults to the ID3 artist)"},
		},
		Action: runUpload,
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for a user",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User id", Required: true},
			&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: 24 * time.Hour},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			token, err := auth.NewVerifier(cfg.AuthSecret).Issue(cmd.String("user"), cmd.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.Root().Writer, token)
			return nil
		},
	}
}

// stderrNotifier prints notifications for the terminal user
type stderrNotifier struct {
	w io.Writer
}

func (n stderrNotifier) Notify(_ context.Context, note models.Notification) {
	fmt.Fprintf(n.w, "[%s] %s\n", note.Level, note.Message)
}

func runUpload(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.LoadStorageConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, true)
	if err != nil {
		return err
	}
	defer logger.Sync()

	title, author, err := songTags(cmd.String("song"), cmd.String("title"), cmd.String("author"))
	if err != nil {
		return err
	}

	song, closeSong, err := openFile(cmd.String("song"), media.CheckAudio)
	if err != nil {
		return err
	}
	defer closeSong()

	image, closeImage, err := openFile(cmd.String("image"), media.CheckImage)
	if err != nil {
		return err
	}
	defer closeImage()

	minioClient, err := storage.NewMinioClient(logger, cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey,
		cfg.MinIOUseSSL, cfg.MinIOSongsBucket, cfg.MinIOImagesBucket)
	if err != nil {
		return err
	}
	tidbClient, err := storage.NewTiDBClient(cfg.GetDSN())
	if err != nil {
		return err
	}
	defer tidbClient.Close()
	if err := tidbClient.EnsureSchema(ctx); err != nil {
		return err
	}
	redisClient, err := storage.NewRedisClient(cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB, cfg.GetLibraryCacheTTL())
	if err != nil {
		return err
	}
	defer redisClient.Close()

	orchestrator := upload.NewOrchestrator(
		minioClient,
		tidbClient,
		redisClient,
		stderrNotifier{w: cmd.Root().ErrWriter},
		slug.NewGenerator(nil, nil),
		logger,
		upload.Options{
			SongsBucket:  cfg.MinIOSongsBucket,
			ImagesBucket: cfg.MinIOImagesBucket,
			CacheControl: cfg.CacheControl,
		},
	)

	form := &upload.Form{Title: title, Author: author, Song: song, Image: image}
	res := orchestrator.Submit(ctx, form, cmd.String("user"))
	if res.Err != nil {
		return res.Err
	}
	fmt.Fprintf(cmd.Root().Writer, "%s\t%s\t%s\n", res.Song.ID, res.Song.SongPath, res.Song.ImagePath)
	return nil
}

// songTags fills missing title/author from the mp3's ID3 tags
func songTags(path, title, author string) (string, string, error) {
	if title != "" && author != "" {
		return title, author, nil
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return "", "", fmt.Errorf("failed to read ID3 tags: %w", err)
	}
	defer tag.Close()

	if title == "" {
		title = tag.Title()
	}
	if author == "" {
		author = tag.Artist()
	}
	if title == "" || author == "" {
		return "", "", errors.New("title and author are required; pass --title/--author or tag the mp3")
	}
	return title, author, nil
}

func openFile(path string, check func(io.ReadSeeker) (string, error)) (*models.File, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	contentType, err := check(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return &models.File{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		Body:        f,
	}, func() { f.Close() }, nil
}
