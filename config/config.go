package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	Server struct {
		Host string `env:"HOST" envDefault:"0.0.0.0"`
		Port int    `env:"PORT" envDefault:"8000"`

		// Origins allowed by the CORS middleware
		AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000,http://127.0.0.1:3000" envSeparator:","`

		ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
		ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	}

	Database struct {
		// sqlite or postgres
		Driver string `env:"DB_DRIVER" envDefault:"sqlite"`
		Path   string `env:"DB_PATH" envDefault:"database/valuation.db"`
		URL    string `env:"DATABASE_URL"`
	}

	Auth struct {
		SecretKey string        `env:"SECRET_KEY" envDefault:"change-me-in-production"`
		Issuer    string        `env:"TOKEN_ISSUER" envDefault:"appraisal-server"`
		TokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"30m"`
	}

	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`

		// Seq shipping is enabled when SeqURL is set
		SeqURL    string `env:"SEQ_URL"`
		SeqAPIKey string `env:"SEQ_API_KEY"`
	}

	// Dollar rates of the comparative valuation
	Valuation struct {
		AreaPerSqm     float64 `env:"RATE_AREA_PER_SQM" envDefault:"100"`
		FloorPerLevel  float64 `env:"RATE_FLOOR_LEVEL" envDefault:"2000"`
		PerCondition   float64 `env:"RATE_CONDITION" envDefault:"5000"`
		PerRenovation  float64 `env:"RATE_RENOVATION" envDefault:"8000"`
		DistancePerKm  float64 `env:"RATE_DISTANCE_PER_KM" envDefault:"500"`
		FeaturePerUnit float64 `env:"RATE_FEATURE_PER_UNIT" envDefault:"50"`
	}

	History struct {
		// Write history through the background queue instead of inline
		Async bool `env:"HISTORY_ASYNC" envDefault:"true"`

		QueueSize  int           `env:"HISTORY_QUEUE_SIZE" envDefault:"256"`
		MaxRetries int           `env:"HISTORY_MAX_RETRIES" envDefault:"3"`
		RetryDelay time.Duration `env:"HISTORY_RETRY_DELAY" envDefault:"2s"`
	}

	Geocoding struct {
		Enabled      bool          `env:"GEOCODING_ENABLED" envDefault:"true"`
		BaseURL      string        `env:"GEOCODER_URL" envDefault:"https://nominatim.openstreetmap.org"`
		UserAgent    string        `env:"GEOCODER_USER_AGENT" envDefault:"Appraisal Valuation Service/1.0"`
		CountryCodes string        `env:"GEOCODER_COUNTRY_CODES"`
		CacheDir     string        `env:"GEOCODER_CACHE_DIR" envDefault:"cache/geocode"`
		MinInterval  time.Duration `env:"GEOCODER_MIN_INTERVAL" envDefault:"1s"`
	}

	Redis struct {
		// Coefficient caching is disabled when Addr is empty
		Addr     string        `env:"REDIS_ADDR"`
		Password string        `env:"REDIS_PASSWORD"`
		DB       int           `env:"REDIS_DB" envDefault:"0"`
		TTL      time.Duration `env:"REDIS_CACHE_TTL" envDefault:"10m"`
	}

	Backup struct {
		Enabled       bool          `env:"BACKUP_ENABLED" envDefault:"false"`
		Dir           string        `env:"BACKUP_DIR" envDefault:"backups"`
		RetentionDays int           `env:"BACKUP_RETENTION_DAYS" envDefault:"30"`
		Interval      time.Duration `env:"BACKUP_INTERVAL" envDefault:"24h"`
	}
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid DB_DRIVER %q: must be sqlite or postgres", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL must be positive")
	}
	if c.History.QueueSize <= 0 {
		return errors.New("HISTORY_QUEUE_SIZE must be positive")
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
