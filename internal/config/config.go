package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const defaultFeedURL = "https://ro-suceava.thoreb.com/thoreb-map/xhr_update.php"

type Config struct {
	AppEnv      string `validate:"required"`
	HTTPAddr    string `validate:"required"`
	MetricsAddr string

	FeedURL      string        `validate:"omitempty,url"`
	FeedFormat   string        `validate:"oneof=thoreb gtfsrt nats"`
	PollInterval time.Duration `validate:"gt=0"`
	FeedTimeout  time.Duration `validate:"gt=0"`

	NATSURL     string `validate:"required_if=FeedFormat nats,required_if=NATSPublish true"`
	NATSSubject string
	NATSPublish bool

	StoreBackend string `validate:"oneof=memory file sqlite postgres"`
	StorePath    string `validate:"required_if=StoreBackend file,required_if=StoreBackend sqlite"`
	StoreDBName  string
	DatabaseURL  string

	StopsPath string `validate:"required"`

	SnapProvider   string        `validate:"oneof=none osrm google"`
	OSRMURL        string        `validate:"omitempty,url"`
	GoogleAPIKey   string        `validate:"required_if=SnapProvider google"`
	SnapTimeout    time.Duration `validate:"gt=0"`
	SnapBatchSize  int           `validate:"gte=2,lte=100"`
	SnapRadius     float64       `validate:"gt=0"`
	SnapRatePerSec float64       `validate:"gte=0"`
	SnapCacheSize  int           `validate:"gte=0"`
	SnapCacheTTL   time.Duration `validate:"gte=0"`

	MaxTracePoints int `validate:"gt=1"`
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:       getenvDefault("APP_ENV", "production"),
		HTTPAddr:     getenvDefault("HTTP_ADDR", ":8080"),
		MetricsAddr:  os.Getenv("METRICS_ADDR"),
		FeedURL:      getenvDefault("FEED_URL", defaultFeedURL),
		FeedFormat:   strings.ToLower(getenvDefault("FEED_FORMAT", "thoreb")),
		NATSURL:      getenvDefault("NATS_URL", "nats://127.0.0.1:4222"),
		NATSSubject:  getenvDefault("NATS_SUBJECT", ">"),
		StoreBackend: strings.ToLower(getenvDefault("STORE_BACKEND", "file")),
		StorePath:    getenvDefault("STORE_PATH", "data/traces.json"),
		StoreDBName:  os.Getenv("STORE_DB_NAME"),
		StopsPath:    getenvDefault("STOPS_PATH", "data/stops.yaml"),
		SnapProvider: strings.ToLower(getenvDefault("SNAP_PROVIDER", "none")),
		OSRMURL:      os.Getenv("OSRM_URL"),
		GoogleAPIKey: os.Getenv("GOOGLE_MAPS_API_KEY"),
	}
	if cfg.FeedFormat == "nats" && cfg.FeedURL == defaultFeedURL {
		cfg.FeedURL = ""
	}
	if cfg.FeedFormat != "nats" && strings.TrimSpace(cfg.FeedURL) == "" {
		return nil, errors.New("FEED_URL must be set unless FEED_FORMAT=nats")
	}

	var err error
	if cfg.PollInterval, err = durationMS("POLL_INTERVAL_MS", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.FeedTimeout, err = durationMS("FEED_TIMEOUT_MS", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.SnapTimeout, err = durationMS("SNAP_TIMEOUT_MS", 8*time.Second); err != nil {
		return nil, err
	}

	// Fan-out of accepted fixes over NATS
	if v := os.Getenv("NATS_PUBLISH"); v != "" {
		cfg.NATSPublish = parseBool(v)
	}

	if cfg.SnapBatchSize, err = intDefault("SNAP_BATCH_SIZE", 60); err != nil {
		return nil, err
	}
	if cfg.SnapCacheSize, err = intDefault("SNAP_CACHE_SIZE", 256); err != nil {
		return nil, err
	}
	if cfg.MaxTracePoints, err = intDefault("MAX_TRACE_POINTS", 6000); err != nil {
		return nil, err
	}
	if cfg.SnapRadius, err = floatDefault("SNAP_RADIUS_M", 50); err != nil {
		return nil, err
	}
	if cfg.SnapRatePerSec, err = floatDefault("SNAP_RATE_PER_SEC", 1); err != nil {
		return nil, err
	}

	// Snap cache TTL (minutes)
	if v := os.Getenv("SNAP_CACHE_TTL_MIN"); v != "" {
		min, err := strconv.Atoi(v)
		if err != nil || min < 0 {
			return nil, fmt.Errorf("invalid SNAP_CACHE_TTL_MIN: %q", v)
		}
		cfg.SnapCacheTTL = time.Duration(min) * time.Minute
	} else {
		cfg.SnapCacheTTL = 10 * time.Minute
	}

	// Database URL (cluster DSN): prefer DATABASE_URL / PG_DSN, else build from PG* vars
	if cfg.StoreBackend == "postgres" {
		dsn, err := databaseURL()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func databaseURL() (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	if db == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set when STORE_BACKEND=postgres")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func durationMS(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func intDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func floatDefault(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
