package config

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// PostgresConfig locates the job history database. DatabaseURL, when set,
// wins over the individual fields.
type PostgresConfig struct {
	DatabaseURL string `env:"OPUSKIT_DATABASE_URL"`
	Host        string `env:"POSTGRES_HOST"`
	Port        string `env:"POSTGRES_PORT, default=5432"`
	Username    string `env:"POSTGRES_USERNAME"`
	Password    string `env:"POSTGRES_PASSWORD"`
	Database    string `env:"POSTGRES_DATABASE, default=opuskit"`
	SSLMode     string `env:"POSTGRES_SSLMODE, default=disable"`
	MaxConns    int32  `env:"POSTGRES_MAX_CONNS, default=4"`
}

func NewPostgresConfigFromEnv() (*PostgresConfig, error) {
	return newPostgresConfig(context.Background(), envconfig.OsLookuper())
}

func newPostgresConfig(ctx context.Context, lookuper envconfig.Lookuper) (*PostgresConfig, error) {
	var cfg PostgresConfig
	if err := process(ctx, lookuper, &cfg); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" && (cfg.Host == "" || cfg.Username == "") {
		return nil, errors.New("either OPUSKIT_DATABASE_URL or POSTGRES_HOST and POSTGRES_USERNAME are required")
	}
	if cfg.MaxConns < 1 {
		return nil, errors.New("POSTGRES_MAX_CONNS must be at least 1")
	}
	return &cfg, nil
}

// DSN is a postgres:// URL with the credentials escaped.
func (c *PostgresConfig) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisConfig points at the job queue.
type RedisConfig struct {
	Addr        string        `env:"REDIS_ADDR, required"`
	Password    string        `env:"REDIS_PASSWORD"`
	DB          int           `env:"REDIS_DB, default=0"`
	DialTimeout time.Duration `env:"REDIS_DIAL_TIMEOUT, default=5s"`
}

func NewRedisConfigFromEnv() (*RedisConfig, error) {
	return newRedisConfig(context.Background(), envconfig.OsLookuper())
}

func newRedisConfig(ctx context.Context, lookuper envconfig.Lookuper) (*RedisConfig, error) {
	var cfg RedisConfig
	if err := process(ctx, lookuper, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MinioConfig enables s3:// locators. Bucket is where outputs land when
// an s3:// output directory names none.
type MinioConfig struct {
	Endpoint string `env:"MINIO_ENDPOINT, required"`
	Username string `env:"MINIO_USERNAME, required"`
	Password string `env:"MINIO_PASSWORD, required"`
	Bucket   string `env:"MINIO_BUCKET, default=opuskit"`
	Region   string `env:"MINIO_REGION"`
	Secure   bool   `env:"MINIO_SECURE, default=false"`
}

func NewMinioConfigFromEnv() (*MinioConfig, error) {
	return newMinioConfig(context.Background(), envconfig.OsLookuper())
}

func newMinioConfig(ctx context.Context, lookuper envconfig.Lookuper) (*MinioConfig, error) {
	var cfg MinioConfig
	if err := process(ctx, lookuper, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func process(ctx context.Context, lookuper envconfig.Lookuper, target any) error {
	return envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   target,
		Lookuper: lookuper,
	})
}
