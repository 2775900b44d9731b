// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		Name        string        `envconfig:"APP_NAME" default:"sales-engine"`
		Port        int           `envconfig:"PORT" default:"8080"`
		Timeout     time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
		CORSOrigins []string      `envconfig:"CORS_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
		Demo        bool          `envconfig:"DEMO_SCENARIOS" default:"false"`
	}

	DB struct {
		Driver   string `envconfig:"DB_DRIVER" default:"sqlite"` // sqlite | postgres
		Path     string `envconfig:"DB_PATH" default:"./data/sales.db"`
		Host     string `envconfig:"DB_HOST" default:"localhost"`
		Port     int    `envconfig:"DB_PORT" default:"5432"`
		User     string `envconfig:"DB_USER" default:"postgres"`
		Password string `envconfig:"DB_PASSWORD" default:""`
		Name     string `envconfig:"DB_NAME" default:"sales"`
		SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	}

	Auth struct {
		JWTSecret string `envconfig:"JWT_SECRET"`
	}

	Storage struct {
		Driver   string `envconfig:"STORAGE_DRIVER" default:"local"` // local | s3
		LocalDir string `envconfig:"STORAGE_DIR" default:"./data/receipts"`

		Endpoint  string `envconfig:"S3_ENDPOINT"`
		AccessKey string `envconfig:"S3_ACCESS_KEY"`
		SecretKey string `envconfig:"S3_SECRET_KEY"`
		Bucket    string `envconfig:"S3_BUCKET" default:"receipts"`
		Region    string `envconfig:"S3_REGION"`
		UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`
		Prefix    string `envconfig:"S3_PREFIX" default:"receipts/"`
	}

	Redis struct {
		Enabled  bool          `envconfig:"REDIS_ENABLED" default:"false"`
		Addr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
		Password string        `envconfig:"REDIS_PASSWORD"`
		DB       int           `envconfig:"REDIS_DB" default:"0"`
		Timeout  time.Duration `envconfig:"REDIS_TIMEOUT" default:"3s"`
		Prefix   string        `envconfig:"REDIS_PREFIX" default:"sales:"`
	}

	Scheduler struct {
		Enabled  bool          `envconfig:"OVERDUE_SWEEP_ENABLED" default:"true"`
		Interval time.Duration `envconfig:"OVERDUE_SWEEP_INTERVAL" default:"1h"`
	}

	Receipts struct {
		UploadTimeout time.Duration `envconfig:"RECEIPT_UPLOAD_TIMEOUT" default:"30s"`
		Parallelism   int           `envconfig:"RECEIPT_UPLOAD_PARALLELISM" default:"4"`
		MaxUploadMB   int64         `envconfig:"RECEIPT_MAX_UPLOAD_MB" default:"20"`
	}

	Notify struct {
		Buffer int `envconfig:"NOTIFY_BUFFER" default:"256"`
	}
}

// ConnectionString is the Postgres DSN built from the DB section.
func (c *Config) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:     c.DB.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.DB.SSLMode),
	}
	return u.String()
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown DB_DRIVER %q (want sqlite or postgres)", c.DB.Driver)
	}
	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.Storage.Endpoint == "" {
			return fmt.Errorf("S3_ENDPOINT is required when STORAGE_DRIVER=s3")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q (want local or s3)", c.Storage.Driver)
	}
	if c.Receipts.Parallelism <= 0 {
		return fmt.Errorf("RECEIPT_UPLOAD_PARALLELISM must be positive")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
