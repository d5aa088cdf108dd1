package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults with secret", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "s3cret")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.MinIOSongsBucket != "songs" || cfg.MinIOImagesBucket != "images" {
			t.Errorf("unexpected buckets %q/%q", cfg.MinIOSongsBucket, cfg.MinIOImagesBucket)
		}
		if cfg.CacheControl != "3600" {
			t.Errorf("expected cache control 3600, got %q", cfg.CacheControl)
		}
		if cfg.GetURLExpiry() != time.Hour {
			t.Errorf("expected 1h expiry, got %v", cfg.GetURLExpiry())
		}
	})

	t.Run("Missing secret", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "")
		if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "AUTH_SECRET") {
			t.Errorf("expected AUTH_SECRET error, got %v", err)
		}
	})

	t.Run("Storage config without secret", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "")
		cfg, err := LoadStorageConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.MinIOSongsBucket != "songs" {
			t.Errorf("expected default songs bucket, got %q", cfg.MinIOSongsBucket)
		}
	})

	t.Run("Storage config still validates", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "")
		t.Setenv("MAX_UPLOAD_MB", "0")
		if _, err := LoadStorageConfig(); err == nil || !strings.Contains(err.Error(), "MAX_UPLOAD_MB") {
			t.Errorf("expected MAX_UPLOAD_MB error, got %v", err)
		}
	})

	t.Run("Env overrides", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "s3cret")
		t.Setenv("SERVICE_PORT", "9999")
		t.Setenv("MAX_UPLOAD_MB", "5")
		t.Setenv("MINIO_USE_SSL", "true")
		t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
		t.Setenv("TRACE_SAMPLE_RATIO", "0.25")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.ServicePort != "9999" {
			t.Errorf("expected port 9999, got %s", cfg.ServicePort)
		}
		if cfg.GetMaxUploadBytes() != 5*1024*1024 {
			t.Errorf("unexpected max upload %d", cfg.GetMaxUploadBytes())
		}
		if !cfg.MinIOUseSSL {
			t.Error("expected SSL enabled")
		}
		if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
			t.Errorf("unexpected origins %v", cfg.CORSAllowedOrigins)
		}
		if cfg.TraceSampleRatio != 0.25 {
			t.Errorf("unexpected ratio %v", cfg.TraceSampleRatio)
		}
	})

	t.Run("Invalid numbers fall back", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "s3cret")
		t.Setenv("REDIS_DB", "not-a-number")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.RedisDB != 0 {
			t.Errorf("expected default redis db, got %d", cfg.RedisDB)
		}
	})

	t.Run("TOML file then env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "songdrop.toml")
		content := `
service_name = "from-file"
auth_secret = "file-secret"
minio_songs_bucket = "tracks"
max_upload_mb = 10
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		t.Setenv("SONGDROP_CONFIG", path)
		t.Setenv("AUTH_SECRET", "")
		t.Setenv("MAX_UPLOAD_MB", "20")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.ServiceName != "from-file" || cfg.AuthSecret != "file-secret" || cfg.MinIOSongsBucket != "tracks" {
			t.Errorf("file values not applied: %+v", cfg)
		}
		if cfg.MinIOImagesBucket != "images" {
			t.Errorf("unset keys should keep defaults, got %q", cfg.MinIOImagesBucket)
		}
		if cfg.MaxUploadMB != 20 {
			t.Errorf("env should win over file, got %d", cfg.MaxUploadMB)
		}
	})

	t.Run("Broken TOML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.toml")
		if err := os.WriteFile(path, []byte("service_name = "), 0o600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		t.Setenv("SONGDROP_CONFIG", path)
		t.Setenv("AUTH_SECRET", "s3cret")

		if _, err := LoadConfig(); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestGetDSN(t *testing.T) {
	cfg := Default()
	cfg.TiDBPassword = "pw"
	want := "root:pw@tcp(localhost:4000)/songdrop?charset=utf8mb4&parseTime=True&loc=Local"
	if got := cfg.GetDSN(); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
