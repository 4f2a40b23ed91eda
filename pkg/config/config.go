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

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Progress     ProgressConfig
	Assets       AssetsConfig
	Certificates CertificatesConfig
	Webhook      WebhookConfig
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
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ProgressConfig tunes the progression engine thresholds and caching.
type ProgressConfig struct {
	AutoCompleteThreshold int
	IntroUnlockThreshold  int
	SummaryCacheTTL       time.Duration
}

// AssetsConfig controls lesson asset storage and signed URL resolution.
type AssetsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// CertificatesConfig controls series-completion certificate generation.
type CertificatesConfig struct {
	Enabled           bool
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

// WebhookConfig secures the payment-confirmation callback.
type WebhookConfig struct {
	Secret string
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

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
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Progress = ProgressConfig{
		AutoCompleteThreshold: clampPercent(v.GetInt("PROGRESS_AUTO_COMPLETE_THRESHOLD"), 90),
		IntroUnlockThreshold:  clampPercent(v.GetInt("PROGRESS_INTRO_UNLOCK_THRESHOLD"), 90),
		SummaryCacheTTL:       parseDuration(v.GetString("PROGRESS_SUMMARY_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Assets = AssetsConfig{
		StorageDir:      v.GetString("ASSETS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("ASSETS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("ASSETS_SIGNED_URL_TTL"), 30*time.Minute),
	}

	cfg.Certificates = CertificatesConfig{
		Enabled:           v.GetBool("ENABLE_CERTIFICATES"),
		StorageDir:        v.GetString("CERTIFICATES_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("CERTIFICATES_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("CERTIFICATES_SIGNED_URL_TTL"), 24*time.Hour),
		WorkerConcurrency: v.GetInt("CERTIFICATES_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("CERTIFICATES_WORKER_RETRIES"),
	}

	cfg.Webhook = WebhookConfig{Secret: v.GetString("PAYMENT_WEBHOOK_SECRET")}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "learnpath")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("PROGRESS_AUTO_COMPLETE_THRESHOLD", 90)
	v.SetDefault("PROGRESS_INTRO_UNLOCK_THRESHOLD", 90)
	v.SetDefault("PROGRESS_SUMMARY_CACHE_TTL", "5m")

	v.SetDefault("ASSETS_STORAGE_DIR", "./data/assets")
	v.SetDefault("ASSETS_SIGNED_URL_SECRET", "dev_asset_secret")
	v.SetDefault("ASSETS_SIGNED_URL_TTL", "30m")

	v.SetDefault("ENABLE_CERTIFICATES", true)
	v.SetDefault("CERTIFICATES_STORAGE_DIR", "./data/certificates")
	v.SetDefault("CERTIFICATES_SIGNED_URL_SECRET", "dev_certificate_secret")
	v.SetDefault("CERTIFICATES_SIGNED_URL_TTL", "24h")
	v.SetDefault("CERTIFICATES_WORKER_CONCURRENCY", 1)
	v.SetDefault("CERTIFICATES_WORKER_RETRIES", 3)

	v.SetDefault("PAYMENT_WEBHOOK_SECRET", "")
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

func clampPercent(value, fallback int) int {
	if value <= 0 || value > 100 {
		return fallback
	}
	return value
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
