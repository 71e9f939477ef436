// AngelaMos | 2026
// config.go

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Store     StoreConfig     `koanf:"store"`
	JWT       JWTConfig       `koanf:"jwt"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	AuthLimit RateLimitConfig `koanf:"auth_rate_limit"`
	CORS      CORSConfig      `koanf:"cors"`
	Log       LogConfig       `koanf:"log"`
	Otel      OtelConfig      `koanf:"otel"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"     validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout"    validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"                validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

type RedisConfig struct {
	URL          string `koanf:"url"            validate:"required"`
	PoolSize     int    `koanf:"pool_size"`
	MinIdleConns int    `koanf:"min_idle_conns"`
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverRedis    = "redis"
)

// StoreConfig selects the backend holding refresh-token records.
type StoreConfig struct {
	Driver    string `koanf:"driver"     validate:"oneof=postgres redis"`
	KeyPrefix string `koanf:"key_prefix"`
}

// JWTConfig covers both halves of a token pair. Secret is the HMAC key for
// access tokens and never leaves the process.
type JWTConfig struct {
	Secret                string        `koanf:"secret"                  validate:"min=32"`
	AccessTokenExpire     time.Duration `koanf:"access_token_expire"     validate:"gt=0"`
	RefreshTokenExpire    time.Duration `koanf:"refresh_token_expire"    validate:"gt=0"`
	RefreshTokenRetention time.Duration `koanf:"refresh_token_retention" validate:"gte=0"`
	Issuer                string        `koanf:"issuer"`
	Audience              string        `koanf:"audience"`
}

type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
	Burst    int           `koanf:"burst"`
}

type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// MinSecretLength is the shortest accepted HMAC key, in bytes.
const MinSecretLength = 32

// Default is the configuration before any file or environment layer.
// Connection URLs and the signing secret have no default.
func Default() Config {
	return Config{
		App: AppConfig{
			Name:        "Auth Service",
			Version:     "1.0.0",
			Environment: "development",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 5,
		},
		Store: StoreConfig{
			Driver:    StoreDriverPostgres,
			KeyPrefix: "auth",
		},
		JWT: JWTConfig{
			AccessTokenExpire:     15 * time.Minute,
			RefreshTokenExpire:    7 * 24 * time.Hour,
			RefreshTokenRetention: 30 * 24 * time.Hour,
			Issuer:                "auth-service",
			Audience:              "auth-service-api",
		},
		RateLimit: RateLimitConfig{Requests: 100, Window: time.Minute, Burst: 20},
		AuthLimit: RateLimitConfig{Requests: 20, Window: time.Minute, Burst: 5},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{
				"Accept",
				"Authorization",
				"Content-Type",
				"X-Requested-With",
				"X-Request-ID",
			},
			AllowCredentials: true,
			MaxAge:           300,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Otel: OtelConfig{
			ServiceName: "auth-service",
			Insecure:    true,
			SampleRate:  0.1,
		},
	}
}

var (
	loaded  *Config
	loadErr error
	once    sync.Once
)

// Load parses once per process and hands every caller the same result.
func Load(configPath string) (*Config, error) {
	once.Do(func() {
		loaded, loadErr = Parse(configPath)
	})
	return loaded, loadErr
}

// Parse decodes the YAML file, if one exists at configPath, and then the
// environment onto Default. A .env file in the working directory is read
// into the environment first without overriding variables already set.
func Parse(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file: %w", err)
			}
		}
	}

	//nolint:errcheck // .env is optional outside local development
	_ = godotenv.Load()

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			// Lists from a layer replace the default list instead of
			// overwriting it element by element.
			ZeroFields:       true,
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// envVars maps the supported variables onto koanf paths. Anything not
// listed is ignored, so unrelated process environment never leaks in.
var envVars = map[string]string{
	"ENVIRONMENT": "app.environment",
	"HOST":        "server.host",
	"PORT":        "server.port",
	"LOG_LEVEL":   "log.level",
	"LOG_FORMAT":  "log.format",

	"DATABASE_URL":          "database.url",
	"DATABASE_AUTO_MIGRATE": "database.auto_migrate",
	"REDIS_URL":             "redis.url",
	"STORE_DRIVER":          "store.driver",
	"STORE_KEY_PREFIX":      "store.key_prefix",

	"JWT_SECRET":                  "jwt.secret",
	"JWT_ISSUER":                  "jwt.issuer",
	"JWT_AUDIENCE":                "jwt.audience",
	"JWT_ACCESS_TOKEN_EXPIRE":     "jwt.access_token_expire",
	"JWT_REFRESH_TOKEN_EXPIRE":    "jwt.refresh_token_expire",
	"JWT_REFRESH_TOKEN_RETENTION": "jwt.refresh_token_retention",

	"RATE_LIMIT_REQUESTS":      "rate_limit.requests",
	"RATE_LIMIT_WINDOW":        "rate_limit.window",
	"RATE_LIMIT_BURST":         "rate_limit.burst",
	"AUTH_RATE_LIMIT_REQUESTS": "auth_rate_limit.requests",
	"AUTH_RATE_LIMIT_BURST":    "auth_rate_limit.burst",

	"OTEL_ENABLED":                "otel.enabled",
	"OTEL_INSECURE":               "otel.insecure",
	"OTEL_ENDPOINT":               "otel.endpoint",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "otel.endpoint",
	"OTEL_SERVICE_NAME":           "otel.service_name",
	"OTEL_SAMPLE_RATE":            "otel.sample_rate",
}

func envKey(name string) string {
	return envVars[name]
}

var fieldRules = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		return name
	})
	return v
})

// Validate reports every problem at once, each named by its koanf path.
func (c *Config) Validate() error {
	var errs []error

	var fieldErrs validator.ValidationErrors
	if err := fieldRules().Struct(c); errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			_, path, _ := strings.Cut(fe.Namespace(), ".")
			errs = append(errs, fmt.Errorf("%s fails %s", path, fe.Tag()))
		}
	} else if err != nil {
		errs = append(errs, err)
	}

	if c.CORS.AllowCredentials && slices.Contains(c.CORS.AllowedOrigins, "*") {
		errs = append(errs, errors.New("cors: wildcard origin cannot allow credentials"))
	}
	if c.IsProduction() && c.Otel.Enabled && c.Otel.Insecure {
		errs = append(errs, errors.New("otel: insecure export is not allowed in production"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
