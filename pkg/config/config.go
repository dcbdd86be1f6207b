package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	KRS       KRSConfig
	Lock      LockConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// KRSConfig tunes the enrollment transaction engine and the registration window.
type KRSConfig struct {
	TxTimeout      time.Duration
	TxMaxRetries   int
	WindowEnforced bool
	Timezone       string
}

// LockConfig controls the optional section lease taken around add/drop.
type LockConfig struct {
	Enabled    bool
	TTL        time.Duration
	AutoExtend bool
	Attempts   int
	BaseDelay  time.Duration
	Growth     float64
}

// CacheConfig governs caching of read-mostly reference data.
type CacheConfig struct {
	Enabled    bool
	PeriodTTL  time.Duration
	LocalTTL   time.Duration
	CatalogTTL time.Duration
}

// RateLimitConfig throttles KRS write endpoints per student.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// TracingConfig toggles the stdout span exporter.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	retries := v.GetInt("KRS_TX_MAX_RETRIES")
	if retries < 0 {
		retries = 0
	}
	cfg.KRS = KRSConfig{
		TxTimeout:      parseDuration(v.GetString("KRS_TX_TIMEOUT"), 5*time.Second),
		TxMaxRetries:   retries,
		WindowEnforced: v.GetBool("KRS_WINDOW_ENFORCED"),
		Timezone:       v.GetString("KRS_TIMEZONE"),
	}

	growth := v.GetFloat64("LOCK_GROWTH")
	if growth < 1 {
		growth = 1.5
	}
	cfg.Lock = LockConfig{
		Enabled:    v.GetBool("LOCK_ENABLED"),
		TTL:        parseDuration(v.GetString("LOCK_TTL"), 5*time.Second),
		AutoExtend: v.GetBool("LOCK_AUTO_EXTEND"),
		Attempts:   v.GetInt("LOCK_ATTEMPTS"),
		BaseDelay:  parseDuration(v.GetString("LOCK_BASE_DELAY"), 100*time.Millisecond),
		Growth:     growth,
	}

	cfg.Cache = CacheConfig{
		Enabled:    v.GetBool("ENABLE_CACHE"),
		PeriodTTL:  parseDuration(v.GetString("PERIOD_CACHE_TTL"), time.Hour),
		LocalTTL:   parseDuration(v.GetString("PERIOD_LOCAL_TTL"), 30*time.Second),
		CatalogTTL: parseDuration(v.GetString("CATALOG_CACHE_TTL"), 10*time.Minute),
	}

	cfg.RateLimit = RateLimitConfig{
		RPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		Burst: v.GetInt("RATE_LIMIT_BURST"),
	}

	cfg.Tracing = TracingConfig{
		Enabled:     v.GetBool("TRACING_ENABLED"),
		ServiceName: v.GetString("TRACING_SERVICE_NAME"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "krs")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "krs-api")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("KRS_TX_TIMEOUT", "5s")
	v.SetDefault("KRS_TX_MAX_RETRIES", 1)
	v.SetDefault("KRS_WINDOW_ENFORCED", true)
	v.SetDefault("KRS_TIMEZONE", "Asia/Jakarta")

	v.SetDefault("LOCK_ENABLED", false)
	v.SetDefault("LOCK_TTL", "5s")
	v.SetDefault("LOCK_AUTO_EXTEND", true)
	v.SetDefault("LOCK_ATTEMPTS", 3)
	v.SetDefault("LOCK_BASE_DELAY", "100ms")
	v.SetDefault("LOCK_GROWTH", 1.5)

	v.SetDefault("ENABLE_CACHE", true)
	v.SetDefault("PERIOD_CACHE_TTL", "1h")
	v.SetDefault("PERIOD_LOCAL_TTL", "30s")
	v.SetDefault("CATALOG_CACHE_TTL", "10m")

	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_SERVICE_NAME", "krs-api")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}
