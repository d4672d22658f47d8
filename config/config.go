package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Zoom     ZoomConfig
	Sync     SyncConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/academy?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings (scan leases).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the S3 bucket for recording videos.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	VideosBucket    string
}

// ZoomConfig holds Zoom server-to-server OAuth credentials.
type ZoomConfig struct {
	AccountID    string
	ClientID     string
	ClientSecret string
	APIBaseURL   string // override for tests; default https://api.zoom.us/v2
	TokenURL     string // override for tests; default https://zoom.us/oauth/token
}

// SyncConfig holds recording-sync scheduling and retry policy settings.
// The defaults are behavioral constants of the pipeline; change with care.
type SyncConfig struct {
	ScanIntervalMin    int    // periodic full scan (default 15)
	CleanupIntervalMin int    // temp-file janitor (default 60)
	RetryIntervalMin   int    // backoff after a failed attempt (default 30)
	MaxAttempts        int    // failed attempts before giving up (default 3)
	SettleBufferMin    int    // wait after meeting end before first attempt (default 5)
	TempFileMaxAgeMin  int    // janitor deletes spool files older than this (default 60)
	TempDir            string // spool directory for downloads; empty = os.TempDir()
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/academy?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "academy"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			VideosBucket:    getEnv("AWS_S3_VIDEOS_BUCKET", "academy-videos-bucket"),
		},
		Zoom: ZoomConfig{
			AccountID:    getEnv("ZOOM_ACCOUNT_ID", ""),
			ClientID:     getEnv("ZOOM_CLIENT_ID", ""),
			ClientSecret: getEnv("ZOOM_CLIENT_SECRET", ""),
			APIBaseURL:   getEnv("ZOOM_API_BASE_URL", "https://api.zoom.us/v2"),
			TokenURL:     getEnv("ZOOM_TOKEN_URL", "https://zoom.us/oauth/token"),
		},
		Sync: SyncConfig{
			ScanIntervalMin:    getEnvInt("SYNC_SCAN_INTERVAL_MIN", 15),
			CleanupIntervalMin: getEnvInt("SYNC_CLEANUP_INTERVAL_MIN", 60),
			RetryIntervalMin:   getEnvInt("SYNC_RETRY_INTERVAL_MIN", 30),
			MaxAttempts:        getEnvInt("SYNC_MAX_ATTEMPTS", 3),
			SettleBufferMin:    getEnvInt("SYNC_SETTLE_BUFFER_MIN", 5),
			TempFileMaxAgeMin:  getEnvInt("SYNC_TEMP_FILE_MAX_AGE_MIN", 60),
			TempDir:            getEnv("SYNC_TEMP_DIR", ""),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
