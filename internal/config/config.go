package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"livequeue/queue-service/internal/models"

	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

var defaultAllowedOrigins = []string{
	"http://localhost:5173",
	"https://magenta-cascaron-cdb5f6.netlify.app",
}

type Config struct {
	Port               string
	DatabaseURL        string
	StoreDriver        string
	IssueMode          string
	SeedLocations      bool
	RunMigrations      bool
	ImageBaseURL       string
	StaticDir          string
	AllowedOrigins     []string
	RateLimitPerMinute int
	RateLimitBurst     int
	MaxConflictRetries int
	AdminJWTSecret     string
	AdminTokenTTL      time.Duration
	AMQPURL            string
	AMQPExchange       string
	LogLevel           string
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "5000"
	}
	databaseURL := os.Getenv("DB_DSN")

	driver := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	if driver != DriverMemory && driver != DriverPostgres {
		driver = DriverMemory
		if databaseURL != "" {
			driver = DriverPostgres
		}
	}

	mode := strings.ToLower(strings.TrimSpace(os.Getenv("ISSUE_MODE")))
	if mode != models.IssueModeApproval {
		mode = models.IssueModeDirect
	}

	return Config{
		Port:               port,
		DatabaseURL:        databaseURL,
		StoreDriver:        driver,
		IssueMode:          mode,
		SeedLocations:      readBool("SEED_LOCATIONS", true),
		RunMigrations:      readBool("RUN_MIGRATIONS", true),
		ImageBaseURL:       os.Getenv("IMAGE_BASE_URL"),
		StaticDir:          readString("STATIC_DIR", "images"),
		AllowedOrigins:     readList("CORS_ALLOWED_ORIGINS", defaultAllowedOrigins),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
		MaxConflictRetries: readInt("MAX_CONFLICT_RETRIES", 5),
		AdminJWTSecret:     os.Getenv("ADMIN_JWT_SECRET"),
		AdminTokenTTL:      readDurationSeconds("ADMIN_TOKEN_TTL_SECONDS", 43200),
		AMQPURL:            os.Getenv("AMQP_URL"),
		AMQPExchange:       readString("AMQP_EXCHANGE", "livequeue.events"),
		LogLevel:           readString("LOG_LEVEL", "info"),
	}
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return append([]string(nil), fallback...)
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
