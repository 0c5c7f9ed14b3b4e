package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendDynamoDB = "dynamodb"

	AuthJWT      = "jwt"
	AuthInsecure = "insecure"
)

type HTTP struct {
	Addr           string        `yaml:"addr" env:"ADDR" validate:"required"` // ":8080"
	ReadTimeout    time.Duration `yaml:"readTimeout" env:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
	IdleTimeout    time.Duration `yaml:"idleTimeout" env:"IDLE_TIMEOUT"`
	RequestTimeout time.Duration `yaml:"requestTimeout" env:"REQUEST_TIMEOUT"`
}

type GRPC struct {
	Addr    string        `yaml:"addr" env:"ADDR" validate:"required"` // ":9090"
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`               // unary guard when the caller set no deadline
}

type Logging struct {
	Env       string `yaml:"env" env:"ENV" validate:"omitempty,oneof=dev stage prod"`
	Service   string `yaml:"service" env:"SERVICE"`
	Version   string `yaml:"version" env:"VERSION"`
	Backend   string `yaml:"backend" env:"BACKEND" validate:"omitempty,oneof=std zap"`
	AddSource bool   `yaml:"addSource" env:"ADD_SOURCE"`
	Debug     bool   `yaml:"debug" env:"DEBUG"`
}

type Store struct {
	Backend string `yaml:"backend" env:"BACKEND" validate:"oneof=postgres badger dynamodb"`
}

type Postgres struct {
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxConns        int32         `yaml:"maxConns" env:"MAX_CONNS" validate:"gte=0"`
	MinConns        int32         `yaml:"minConns" env:"MIN_CONNS" validate:"gte=0"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime" env:"MAX_CONN_LIFETIME"`
	MaxConnIdleTime time.Duration `yaml:"maxConnIdleTime" env:"MAX_CONN_IDLE_TIME"`
	Migrate         bool          `yaml:"migrate" env:"MIGRATE"`
}

type Badger struct {
	Path           string        `yaml:"path" env:"PATH"`
	InMemory       bool          `yaml:"inMemory" env:"IN_MEMORY"`
	SyncWrites     bool          `yaml:"syncWrites" env:"SYNC_WRITES"`
	GCInterval     time.Duration `yaml:"gcInterval" env:"GC_INTERVAL"`
	GCDiscardRatio float64       `yaml:"gcDiscardRatio" env:"GC_DISCARD_RATIO" validate:"gte=0,lt=1"`
}

type DynamoDB struct {
	Table           string `yaml:"table" env:"TABLE"`
	Region          string `yaml:"region" env:"REGION"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKeyID     string `yaml:"accessKeyId" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secretAccessKey" env:"SECRET_ACCESS_KEY"`
	CreateTable     bool   `yaml:"createTable" env:"CREATE_TABLE"`
}

type Auth struct {
	Mode          string        `yaml:"mode" env:"MODE" validate:"oneof=jwt insecure"`
	PublicKeyPath string        `yaml:"publicKeyPath" env:"PUBLIC_KEY_PATH"`
	Issuer        string        `yaml:"issuer" env:"ISSUER"`
	Audience      string        `yaml:"audience" env:"AUDIENCE"`
	ClockSkew     time.Duration `yaml:"clockSkew" env:"CLOCK_SKEW"`
	ReporterKey   string        `yaml:"reporterKey" env:"REPORTER_KEY"` // empty disables participant reports
}

type Meetings struct {
	MaxAttempts    int           `yaml:"maxAttempts" env:"MAX_ATTEMPTS" validate:"gte=0,lte=100"`
	CodeAttempts   int           `yaml:"codeAttempts" env:"CODE_ATTEMPTS" validate:"gte=0,lte=100"`
	InitialBackoff time.Duration `yaml:"initialBackoff" env:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"maxBackoff" env:"MAX_BACKOFF"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowedOrigins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

type Config struct {
	HTTP     HTTP     `yaml:"http" envPrefix:"HTTP_"`
	GRPC     GRPC     `yaml:"grpc" envPrefix:"GRPC_"`
	Logging  Logging  `yaml:"logging" envPrefix:"LOG_"`
	Store    Store    `yaml:"store" envPrefix:"STORE_"`
	Postgres Postgres `yaml:"postgres" envPrefix:"POSTGRES_"`
	Badger   Badger   `yaml:"badger" envPrefix:"BADGER_"`
	DynamoDB DynamoDB `yaml:"dynamodb" envPrefix:"DYNAMODB_"`
	Auth     Auth     `yaml:"auth" envPrefix:"AUTH_"`
	Meetings Meetings `yaml:"meetings" envPrefix:"MEETINGS_"`
	CORS     CORS     `yaml:"cors" envPrefix:"CORS_"`
}

// EnvPrefix prefixes every environment override, e.g. MEETING_HTTP_ADDR.
const EnvPrefix = "MEETING_"

// LoadConfig reads the yaml file at CONFIG_PATH, applies MEETING_* overrides
// and defaults, then validates the result.
func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	return Load(path)
}

// Load is LoadConfig with an explicit path. A missing file is not an error;
// the environment alone may configure the service.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = 30 * time.Second
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":9090"
	}
	if c.GRPC.Timeout == 0 {
		c.GRPC.Timeout = 10 * time.Second
	}

	if c.Logging.Service == "" {
		c.Logging.Service = "meeting-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = BackendBadger
	}
	if c.Store.Backend == BackendBadger && c.Badger.Path == "" && !c.Badger.InMemory {
		c.Badger.InMemory = true
	}
	if c.Badger.GCDiscardRatio == 0 {
		c.Badger.GCDiscardRatio = 0.5
	}
	if c.DynamoDB.Table == "" {
		c.DynamoDB.Table = "meetings"
	}
	if c.DynamoDB.Region == "" {
		c.DynamoDB.Region = "us-east-1"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthJWT
	}
	if c.Auth.ClockSkew == 0 {
		c.Auth.ClockSkew = 30 * time.Second
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Store.Backend {
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres backend")
		}
		if c.Postgres.MinConns > c.Postgres.MaxConns && c.Postgres.MaxConns > 0 {
			return errors.New("postgres.minConns must not exceed postgres.maxConns")
		}
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" || c.DynamoDB.Region == "" {
			return errors.New("dynamodb.table and dynamodb.region are required for the dynamodb backend")
		}
	}

	if c.Auth.Mode == AuthJWT && c.Auth.PublicKeyPath == "" {
		return errors.New("auth.publicKeyPath is required in jwt mode")
	}
	if c.Auth.Mode == AuthInsecure && c.Logging.Env == "prod" {
		return errors.New("auth.mode insecure is not allowed in prod")
	}
	if c.Meetings.MaxBackoff > 0 && c.Meetings.InitialBackoff > c.Meetings.MaxBackoff {
		return errors.New("meetings.initialBackoff must not exceed meetings.maxBackoff")
	}
	return nil
}
