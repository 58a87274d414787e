package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const defaultJWTSecret = "dev_secret"

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Meeting       MeetingConfig
	Payment       PaymentConfig
	Allocation    AllocationConfig
	Progress      ProgressConfig
	Notifications NotificationConfig
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
	AutoMigrate  bool
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

// MeetingConfig configures the Google Calendar backed meeting provisioner.
type MeetingConfig struct {
	Enabled            bool
	CredentialsFile    string
	ImpersonateSubject string
	CalendarID         string
	TimeZone           string
	DefaultDuration    time.Duration
	Timeout            time.Duration
}

// PaymentConfig holds the gateway secret used to verify payment signatures.
type PaymentConfig struct {
	RazorpayKeySecret string
}

// AllocationConfig tunes the class allocation engine.
type AllocationConfig struct {
	MaxBatchSize    int
	ConflictRetries int
}

// ProgressConfig governs caching of student course progress.
type ProgressConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// NotificationConfig sizes the realtime notification queue.
type NotificationConfig struct {
	Workers    int
	MaxRetries int
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
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
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
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

	cfg.Meeting = MeetingConfig{
		Enabled:            v.GetBool("MEET_ENABLED"),
		CredentialsFile:    v.GetString("MEET_CREDENTIALS_FILE"),
		ImpersonateSubject: v.GetString("MEET_IMPERSONATE_SUBJECT"),
		CalendarID:         v.GetString("MEET_CALENDAR_ID"),
		TimeZone:           v.GetString("MEET_TIMEZONE"),
		DefaultDuration:    parseDuration(v.GetString("MEET_DEFAULT_DURATION"), time.Hour),
		Timeout:            parseDuration(v.GetString("MEET_TIMEOUT"), 10*time.Second),
	}

	cfg.Payment = PaymentConfig{
		RazorpayKeySecret: v.GetString("RAZORPAY_KEY_SECRET"),
	}

	maxBatch := v.GetInt("ALLOCATION_MAX_BATCH")
	if maxBatch <= 0 {
		maxBatch = 100
	}
	retries := v.GetInt("ALLOCATION_CONFLICT_RETRIES")
	if retries < 0 {
		retries = 0
	}
	cfg.Allocation = AllocationConfig{
		MaxBatchSize:    maxBatch,
		ConflictRetries: retries,
	}

	cfg.Progress = ProgressConfig{
		CacheEnabled: v.GetBool("ENABLE_PROGRESS_CACHE"),
		CacheTTL:     parseDuration(v.GetString("PROGRESS_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Notifications = NotificationConfig{
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		MaxRetries: v.GetInt("NOTIFY_RETRIES"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Validate rejects settings the service cannot safely start with.
func (c *Config) Validate() error {
	var problems []string
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT %d out of range", c.Port))
	}
	if !strings.HasPrefix(c.APIPrefix, "/") {
		problems = append(problems, "API_PREFIX must start with /")
	}
	if c.Meeting.Enabled && c.Meeting.CredentialsFile == "" {
		problems = append(problems, "MEET_CREDENTIALS_FILE is required when MEET_ENABLED is set")
	}
	if c.IsProduction() {
		if c.JWT.Secret == "" || c.JWT.Secret == defaultJWTSecret {
			problems = append(problems, "JWT_SECRET must be set in production")
		}
		if c.Payment.RazorpayKeySecret == "" {
			problems = append(problems, "RAZORPAY_KEY_SECRET must be set in production")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "trainer_marketplace")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_ISSUER", "trainer-marketplace-api")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MEET_ENABLED", false)
	v.SetDefault("MEET_CREDENTIALS_FILE", "")
	v.SetDefault("MEET_IMPERSONATE_SUBJECT", "")
	v.SetDefault("MEET_CALENDAR_ID", "primary")
	v.SetDefault("MEET_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("MEET_DEFAULT_DURATION", "60m")
	v.SetDefault("MEET_TIMEOUT", "10s")

	v.SetDefault("RAZORPAY_KEY_SECRET", "")

	v.SetDefault("ALLOCATION_MAX_BATCH", 100)
	v.SetDefault("ALLOCATION_CONFLICT_RETRIES", 2)

	v.SetDefault("ENABLE_PROGRESS_CACHE", false)
	v.SetDefault("PROGRESS_CACHE_TTL", "5m")

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_RETRIES", 3)
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
