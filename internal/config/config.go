package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Platform PlatformConfig
	Engine   EngineConfig
	Schedule ScheduleConfig
	Notify   NotifyConfig
	API      APIConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

// PlatformConfig points the executors at the downstream content and
// analytics services.
type PlatformConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// EngineConfig tunes fan-out and retry behavior.
type EngineConfig struct {
	OrgConcurrency int64
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	TaskTimeout    time.Duration
	// ArchiveAfter is how long terminal operations stay visible on the
	// dashboard before nightly archival.
	ArchiveAfter time.Duration
}

type ScheduleConfig struct {
	Horizon time.Duration
}

type NotifyConfig struct {
	BotToken string
	Channel  string
	// Organizations included in the daily report.
	Organizations []string
}

type APIConfig struct {
	Key string
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("PLATFORM_TIMEOUT", "30s")
	viper.SetDefault("ENGINE_ORG_CONCURRENCY", 5)
	viper.SetDefault("ENGINE_MAX_ATTEMPTS", 3)
	viper.SetDefault("ENGINE_BACKOFF_BASE", "2s")
	viper.SetDefault("ENGINE_BACKOFF_CAP", "1m")
	viper.SetDefault("ENGINE_TASK_TIMEOUT", "60s")
	viper.SetDefault("ENGINE_ARCHIVE_AFTER", "720h")
	viper.SetDefault("SCHEDULE_HORIZON", "720h")

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		Platform: PlatformConfig{
			BaseURL: viper.GetString("PLATFORM_BASE_URL"),
			APIKey:  viper.GetString("PLATFORM_API_KEY"),
			Timeout: duration("PLATFORM_TIMEOUT", 30*time.Second),
		},
		Engine: EngineConfig{
			OrgConcurrency: viper.GetInt64("ENGINE_ORG_CONCURRENCY"),
			MaxAttempts:    viper.GetInt("ENGINE_MAX_ATTEMPTS"),
			BackoffBase:    duration("ENGINE_BACKOFF_BASE", 2*time.Second),
			BackoffCap:     duration("ENGINE_BACKOFF_CAP", time.Minute),
			TaskTimeout:    duration("ENGINE_TASK_TIMEOUT", 60*time.Second),
			ArchiveAfter:   duration("ENGINE_ARCHIVE_AFTER", 30*24*time.Hour),
		},
		Schedule: ScheduleConfig{
			Horizon: duration("SCHEDULE_HORIZON", 30*24*time.Hour),
		},
		Notify: NotifyConfig{
			BotToken:      viper.GetString("NOTIFY_BOT_TOKEN"),
			Channel:       viper.GetString("NOTIFY_CHANNEL"),
			Organizations: splitList(viper.GetString("NOTIFY_ORGANIZATIONS")),
		},
		API: APIConfig{
			Key: viper.GetString("API_KEY"),
		},
	}

	return cfg, nil
}

func duration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
