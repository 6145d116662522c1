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

	Database      DatabaseConfig
	Redis         RedisConfig
	CORS          CORSConfig
	Log           LogConfig
	Attendance    AttendanceConfig
	Notifications NotificationConfig
	Reports       ReportsConfig
	Server        ServerConfig
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
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// AttendanceConfig holds the session timing rules and the day boundary.
type AttendanceConfig struct {
	SessionDuration  time.Duration
	LateThreshold    time.Duration
	AbsenceThreshold int
	Timezone         string
	AutoSchedule     bool
	SchedulerTick    time.Duration
	AutoRollover     bool
	RolloverAt       string
	RecentTapsLimit  int
}

// NotificationConfig controls parent notification delivery.
type NotificationConfig struct {
	WebhookURL       string
	Timeout          time.Duration
	Workers          int
	BufferSize       int
	MaxRetries       int
	RetryDelay       time.Duration
	MaxRetryDelay    time.Duration
	RedeliveryPeriod time.Duration
}

// ReportsConfig governs report caching.
type ReportsConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
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
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Server = ServerConfig{
		ReadTimeout:     parseDuration(v.GetString("HTTP_READ_TIMEOUT"), 10*time.Second),
		WriteTimeout:    parseDuration(v.GetString("HTTP_WRITE_TIMEOUT"), 30*time.Second),
		ShutdownTimeout: parseDuration(v.GetString("HTTP_SHUTDOWN_TIMEOUT"), 15*time.Second),
	}

	threshold := v.GetInt("ABSENCE_THRESHOLD")
	if threshold <= 0 {
		threshold = 3
	}
	cfg.Attendance = AttendanceConfig{
		SessionDuration:  parseDuration(v.GetString("SESSION_DURATION"), 120*time.Second),
		LateThreshold:    parseDuration(v.GetString("LATE_THRESHOLD"), 10*time.Second),
		AbsenceThreshold: threshold,
		Timezone:         v.GetString("ATTENDANCE_TIMEZONE"),
		AutoSchedule:     v.GetBool("ENABLE_AUTO_SCHEDULE"),
		SchedulerTick:    parseDuration(v.GetString("SCHEDULER_TICK"), 15*time.Second),
		AutoRollover:     v.GetBool("ENABLE_AUTO_ROLLOVER"),
		RolloverAt:       v.GetString("ROLLOVER_AT"),
		RecentTapsLimit:  v.GetInt("RECENT_TAPS_LIMIT"),
	}
	if cfg.Attendance.LateThreshold > cfg.Attendance.SessionDuration {
		cfg.Attendance.LateThreshold = cfg.Attendance.SessionDuration
	}

	cfg.Notifications = NotificationConfig{
		WebhookURL:       v.GetString("NOTIFY_WEBHOOK_URL"),
		Timeout:          parseDuration(v.GetString("NOTIFY_TIMEOUT"), 5*time.Second),
		Workers:          v.GetInt("NOTIFY_WORKERS"),
		BufferSize:       v.GetInt("NOTIFY_BUFFER_SIZE"),
		MaxRetries:       v.GetInt("NOTIFY_MAX_RETRIES"),
		RetryDelay:       parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 2*time.Second),
		MaxRetryDelay:    parseDuration(v.GetString("NOTIFY_MAX_RETRY_DELAY"), time.Minute),
		RedeliveryPeriod: parseDuration(v.GetString("NOTIFY_REDELIVERY_PERIOD"), time.Minute),
	}

	cfg.Reports = ReportsConfig{
		CacheEnabled: v.GetBool("ENABLE_REPORT_CACHE"),
		CacheTTL:     parseDuration(v.GetString("REPORT_CACHE_TTL"), 10*time.Minute),
	}

	return cfg
}

// Location resolves the configured attendance timezone, falling back to UTC.
func (c AttendanceConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RolloverOffset parses RolloverAt ("HH:MM") into an offset from local midnight.
func (c AttendanceConfig) RolloverOffset() time.Duration {
	parsed, err := time.Parse("15:04", c.RolloverAt)
	if err != nil {
		return 0
	}
	return time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "tap_attendance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("HTTP_READ_TIMEOUT", "10s")
	v.SetDefault("HTTP_WRITE_TIMEOUT", "30s")
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT", "15s")

	v.SetDefault("SESSION_DURATION", "120s")
	v.SetDefault("LATE_THRESHOLD", "10s")
	v.SetDefault("ABSENCE_THRESHOLD", 3)
	v.SetDefault("ATTENDANCE_TIMEZONE", "UTC")
	v.SetDefault("ENABLE_AUTO_SCHEDULE", false)
	v.SetDefault("SCHEDULER_TICK", "15s")
	v.SetDefault("ENABLE_AUTO_ROLLOVER", true)
	v.SetDefault("ROLLOVER_AT", "00:00")
	v.SetDefault("RECENT_TAPS_LIMIT", 50)

	v.SetDefault("NOTIFY_WEBHOOK_URL", "")
	v.SetDefault("NOTIFY_TIMEOUT", "5s")
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_BUFFER_SIZE", 64)
	v.SetDefault("NOTIFY_MAX_RETRIES", 5)
	v.SetDefault("NOTIFY_RETRY_DELAY", "2s")
	v.SetDefault("NOTIFY_MAX_RETRY_DELAY", "1m")
	v.SetDefault("NOTIFY_REDELIVERY_PERIOD", "1m")

	v.SetDefault("ENABLE_REPORT_CACHE", false)
	v.SetDefault("REPORT_CACHE_TTL", "10m")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
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
