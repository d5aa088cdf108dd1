package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort        string   `toml:"service_port"`
	ServiceName        string   `toml:"service_name"`
	LogLevel           string   `toml:"log_level"`
	LogDevelopment     bool     `toml:"log_development"`
	MaxUploadMB        int      `toml:"max_upload_mb"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`

	// MinIO configuration
	MinIOEndpoint     string `toml:"minio_endpoint"`
	MinIOAccessKey    string `toml:"minio_access_key"`
	MinIOSecretKey    string `toml:"minio_secret_key"`
	MinIOUseSSL       bool   `toml:"minio_use_ssl"`
	MinIOSongsBucket  string `toml:"minio_songs_bucket"`
	MinIOImagesBucket string `toml:"minio_images_bucket"`
	CacheControl      string `toml:"cache_control"`
	URLExpiryMinutes  int    `toml:"url_expiry_minutes"`

	// TiDB configuration
	TiDBHost     string `toml:"tidb_host"`
	TiDBPort     string `toml:"tidb_port"`
	TiDBUser     string `toml:"tidb_user"`
	TiDBPassword string `toml:"tidb_password"`
	TiDBDatabase string `toml:"tidb_database"`

	// Redis configuration
	RedisHost       string `toml:"redis_host"`
	RedisPort       string `toml:"redis_port"`
	RedisPassword   string `toml:"redis_password"`
	RedisDB         int    `toml:"redis_db"`
	LibraryCacheTTL int    `toml:"library_cache_ttl_seconds"`

	// Tracing configuration
	JaegerEndpoint   string  `toml:"jaeger_endpoint"`
	TraceSampleRatio float64 `toml:"trace_sample_ratio"`

	// Auth configuration
	AuthSecret string `toml:"auth_secret"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		ServicePort:        "8080",
		ServiceName:        "songdrop-service",
		LogLevel:           "info",
		MaxUploadMB:        50,
		CORSAllowedOrigins: []string{"*"},

		MinIOEndpoint:     "localhost:9000",
		MinIOAccessKey:    "minioadmin",
		MinIOSecretKey:    "minioadmin",
		MinIOSongsBucket:  "songs",
		MinIOImagesBucket: "images",
		CacheControl:      "3600",
		URLExpiryMinutes:  60,

		TiDBHost:     "localhost",
		TiDBPort:     "4000",
		TiDBUser:     "root",
		TiDBDatabase: "songdrop",

		RedisHost:       "localhost",
		RedisPort:       "6379",
		LibraryCacheTTL: 300,

		JaegerEndpoint:   "localhost:4318",
		TraceSampleRatio: 1.0,
	}
}

// LoadConfig loads configuration from the defaults, an optional TOML file
// named by SONGDROP_CONFIG, and environment variables, in that order
func LoadConfig() (*Config, error) {
	return load(true)
}

// LoadStorageConfig loads the same configuration for tools that reach the
// stores directly and never verify tokens, so AUTH_SECRET may be unset
func LoadStorageConfig() (*Config, error) {
	return load(false)
}

func load(requireAuth bool) (*Config, error) {
	config := Default()

	if path := os.Getenv("SONGDROP_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.applyEnv()

	if err := config.validate(requireAuth); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	c.ServicePort = getEnv("SERVICE_PORT", c.ServicePort)
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogDevelopment = getEnvAsBool("LOG_DEVELOPMENT", c.LogDevelopment)
	c.MaxUploadMB = getEnvAsInt("MAX_UPLOAD_MB", c.MaxUploadMB)
	c.CORSAllowedOrigins = getEnvAsList("CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)

	c.MinIOEndpoint = getEnv("MINIO_ENDPOINT", c.MinIOEndpoint)
	c.MinIOAccessKey = getEnv("MINIO_ACCESS_KEY", c.MinIOAccessKey)
	c.MinIOSecretKey = getEnv("MINIO_SECRET_KEY", c.MinIOSecretKey)
	c.MinIOUseSSL = getEnvAsBool("MINIO_USE_SSL", c.MinIOUseSSL)
	c.MinIOSongsBucket = getEnv("MINIO_SONGS_BUCKET", c.MinIOSongsBucket)
	c.MinIOImagesBucket = getEnv("MINIO_IMAGES_BUCKET", c.MinIOImagesBucket)
	c.CacheControl = getEnv("CACHE_CONTROL", c.CacheControl)
	c.URLExpiryMinutes = getEnvAsInt("URL_EXPIRY_MINUTES", c.URLExpiryMinutes)

	c.TiDBHost = getEnv("TIDB_HOST", c.TiDBHost)
	c.TiDBPort = getEnv("TIDB_PORT", c.TiDBPort)
	c.TiDBUser = getEnv("TIDB_USER", c.TiDBUser)
	c.TiDBPassword = getEnv("TIDB_PASSWORD", c.TiDBPassword)
	c.TiDBDatabase = getEnv("TIDB_DATABASE", c.TiDBDatabase)

	c.RedisHost = getEnv("REDIS_HOST", c.RedisHost)
	c.RedisPort = getEnv("REDIS_PORT", c.RedisPort)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvAsInt("REDIS_DB", c.RedisDB)
	c.LibraryCacheTTL = getEnvAsInt("LIBRARY_CACHE_TTL", c.LibraryCacheTTL)

	c.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", c.JaegerEndpoint)
	c.TraceSampleRatio = getEnvAsFloat("TRACE_SAMPLE_RATIO", c.TraceSampleRatio)

	c.AuthSecret = getEnv("AUTH_SECRET", c.AuthSecret)
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	return c.validate(true)
}

func (c *Config) validate(requireAuth bool) error {
	var errs []error
	if requireAuth && c.AuthSecret == "" {
		errs = append(errs, errors.New("AUTH_SECRET is not set"))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB))
	}
	if c.URLExpiryMinutes <= 0 {
		errs = append(errs, fmt.Errorf("URL_EXPIRY_MINUTES must be positive, got %d", c.URLExpiryMinutes))
	}
	if c.MinIOSongsBucket == "" || c.MinIOImagesBucket == "" {
		errs = append(errs, errors.New("MinIO bucket names must not be empty"))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("TRACE_SAMPLE_RATIO must be within [0, 1], got %v", c.TraceSampleRatio))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// GetDSN returns the TiDB connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.TiDBUser,
		c.TiDBPassword,
		c.TiDBHost,
		c.TiDBPort,
		c.TiDBDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetMaxUploadBytes returns the request body limit for uploads
func (c *Config) GetMaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// GetURLExpiry returns how long presigned URLs stay valid
func (c *Config) GetURLExpiry() time.Duration {
	return time.Duration(c.URLExpiryMinutes) * time.Minute
}

// GetLibraryCacheTTL returns the lifetime of cached song listings
func (c *Config) GetLibraryCacheTTL() time.Duration {
	return time.Duration(c.LibraryCacheTTL) * time.Second
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
