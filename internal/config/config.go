package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

const (
	StorageLocal    = "local"
	StorageSupabase = "supabase"
)

type Config struct {
	Port               string
	DBUrl              string
	JWTSecret          string
	AppEnv             string
	LogLevel           string
	AllowedOrigins     string
	StorageDriver      string
	MediaDir           string
	MediaURLPrefix     string
	MediaMaxBytes      int64
	ImageMaxDimension  int
	ImageJPEGQuality   int
	ImageMaxPixels     int64
	SupabaseURL        string
	SupabaseBucket     string
	SupabaseServiceKey string
	WSEventsPerSecond  float64
	WSEventBurst       int
	MetricsEnabled     bool
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	jwtSecret, exists := os.LookupEnv("JWT_SECRET")
	if !exists || jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	mediaMax, err := getEnvBytes("MEDIA_MAX_SIZE", "50MiB")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBUrl:              getEnv("DB_URL", ""),
		JWTSecret:          jwtSecret,
		AppEnv:             normalizeEnv(getEnv("APP_ENV", "production")),
		LogLevel:           getEnv("LOG_LEVEL", ""),
		AllowedOrigins:     getEnv("CORS_ALLOWED_ORIGINS", "*"),
		StorageDriver:      strings.ToLower(strings.TrimSpace(getEnv("STORAGE_DRIVER", ""))),
		MediaDir:           getEnv("MEDIA_DIR", "uploads"),
		MediaURLPrefix:     getEnv("MEDIA_URL_PREFIX", "/uploads"),
		MediaMaxBytes:      mediaMax,
		ImageMaxDimension:  getEnvInt("IMAGE_MAX_DIMENSION", 1920),
		ImageJPEGQuality:   getEnvInt("IMAGE_JPEG_QUALITY", 82),
		ImageMaxPixels:     int64(getEnvInt("IMAGE_MAX_PIXELS", 0)),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		WSEventsPerSecond:  getEnvFloat("WS_EVENTS_PER_SECOND", 20),
		WSEventBurst:       getEnvInt("WS_EVENT_BURST", 40),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
	}

	if cfg.StorageDriver == "" {
		cfg.StorageDriver = StorageLocal
		if cfg.supabaseConfigured() {
			cfg.StorageDriver = StorageSupabase
		}
	}
	switch cfg.StorageDriver {
	case StorageLocal:
	case StorageSupabase:
		if !cfg.supabaseConfigured() {
			return nil, fmt.Errorf("STORAGE_DRIVER=supabase requires SUPABASE_URL, SUPABASE_BUCKET and SUPABASE_SERVICE_KEY")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	return cfg, nil
}

func (c *Config) supabaseConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseBucket != "" && c.SupabaseServiceKey != ""
}

// BodyLimit leaves room above the media limit for multipart framing so that
// oversized files reach the media checks instead of failing in the parser.
func (c *Config) BodyLimit() int {
	return int(c.MediaMaxBytes * 2)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBytes(key, fallback string) (int64, error) {
	raw := strings.TrimSpace(getEnv(key, fallback))
	if raw == "" {
		raw = fallback
	}
	size, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if size == 0 {
		return 0, fmt.Errorf("%s must be greater than zero", key)
	}
	return int64(size), nil
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}
