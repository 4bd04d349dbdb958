package config

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Valkey       ValkeyConfig
	Debounce     DebounceConfig
	Reengagement ReengagementConfig
	Campaign     CampaignConfig
	Gateway      GatewayConfig
	WorkerPool   WorkerPoolConfig
}

type AppConfig struct {
	Port        string
	Debug       bool
	Environment string
}

type DatabaseConfig struct {
	Driver   string // "sqlite" or "postgres"
	Host     string
	Port     int
	User     string
	Password string
	Name     string // File path for SQLite, DB Name for Postgres
}

type ValkeyConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

type DebounceConfig struct {
	Window        time.Duration
	LockTTL       time.Duration
	SweepInterval time.Duration
	SweepGrace    time.Duration
}

type ReengagementConfig struct {
	CheckInterval time.Duration
}

type CampaignConfig struct {
	ScanInterval    time.Duration
	DefaultBatch    int
	DefaultDailyCap int
}

type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

// LoadConfig loads configuration from environment variables (with .env
// support) and validates ranges once, at startup.
func LoadConfig() (*Config, error) {
	// Best effort: a missing .env file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_PORT", "3000")
	v.SetDefault("APP_DEBUG", false)
	v.SetDefault("APP_ENV", "development")

	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "storages/apollo.db")

	v.SetDefault("VALKEY_ADDRESS", "localhost:6379")
	v.SetDefault("VALKEY_PASSWORD", "")
	v.SetDefault("VALKEY_DB", 0)
	v.SetDefault("VALKEY_KEY_PREFIX", "apollo:")

	v.SetDefault("BUFFER_TTL_SECONDS", 8)
	v.SetDefault("BUFFER_LOCK_TTL_SECONDS", 5)
	v.SetDefault("BUFFER_SWEEP_INTERVAL_SECONDS", 30)
	v.SetDefault("BUFFER_SWEEP_GRACE_SECONDS", 10)

	v.SetDefault("REENGAGEMENT_CHECK_INTERVAL_SECONDS", 60)

	v.SetDefault("CAMPAIGN_SCAN_INTERVAL_SECONDS", 5)
	v.SetDefault("CAMPAIGN_DEFAULT_BATCH_SIZE", 10)
	v.SetDefault("CAMPAIGN_DEFAULT_DAILY_CAP", 200)

	v.SetDefault("GATEWAY_BASE_URL", "")
	v.SetDefault("GATEWAY_API_KEY", "")
	v.SetDefault("GATEWAY_TIMEOUT_SECONDS", 30)

	v.SetDefault("WORKER_POOL_SIZE", 20)
	v.SetDefault("WORKER_QUEUE_SIZE", 1000)

	cfg := &Config{
		App: AppConfig{
			Port:        v.GetString("APP_PORT"),
			Debug:       v.GetBool("APP_DEBUG"),
			Environment: v.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{
			Driver:   v.GetString("DB_DRIVER"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
		},
		Valkey: ValkeyConfig{
			Address:   v.GetString("VALKEY_ADDRESS"),
			Password:  v.GetString("VALKEY_PASSWORD"),
			DB:        v.GetInt("VALKEY_DB"),
			KeyPrefix: v.GetString("VALKEY_KEY_PREFIX"),
		},
		Debounce: DebounceConfig{
			Window:        secondsEnv(v, "BUFFER_TTL_SECONDS"),
			LockTTL:       secondsEnv(v, "BUFFER_LOCK_TTL_SECONDS"),
			SweepInterval: secondsEnv(v, "BUFFER_SWEEP_INTERVAL_SECONDS"),
			SweepGrace:    secondsEnv(v, "BUFFER_SWEEP_GRACE_SECONDS"),
		},
		Reengagement: ReengagementConfig{
			CheckInterval: secondsEnv(v, "REENGAGEMENT_CHECK_INTERVAL_SECONDS"),
		},
		Campaign: CampaignConfig{
			ScanInterval:    secondsEnv(v, "CAMPAIGN_SCAN_INTERVAL_SECONDS"),
			DefaultBatch:    v.GetInt("CAMPAIGN_DEFAULT_BATCH_SIZE"),
			DefaultDailyCap: v.GetInt("CAMPAIGN_DEFAULT_DAILY_CAP"),
		},
		Gateway: GatewayConfig{
			BaseURL: v.GetString("GATEWAY_BASE_URL"),
			APIKey:  v.GetString("GATEWAY_API_KEY"),
			Timeout: secondsEnv(v, "GATEWAY_TIMEOUT_SECONDS"),
		},
		WorkerPool: WorkerPoolConfig{
			Size:      v.GetInt("WORKER_POOL_SIZE"),
			QueueSize: v.GetInt("WORKER_QUEUE_SIZE"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations a later component would otherwise have to
// clamp or guess on every call.
func (c *Config) Validate() error {
	return validation.Errors{
		"db_driver": validation.Validate(c.Database.Driver,
			validation.Required, validation.In("sqlite", "postgres")),
		"buffer_ttl": validation.Validate(int(c.Debounce.Window/time.Second),
			validation.Required, validation.Min(1), validation.Max(300)),
		"buffer_lock_ttl": validation.Validate(int(c.Debounce.LockTTL/time.Second),
			validation.Required, validation.Min(1), validation.Max(60)),
		"worker_pool_size": validation.Validate(c.WorkerPool.Size,
			validation.Required, validation.Min(1), validation.Max(500)),
	}.Filter()
}

func secondsEnv(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Second
}
