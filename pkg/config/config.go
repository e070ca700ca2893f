package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	MySQL        MySQLConfig        `yaml:"mysql"`
	Queue        QueueConfig        `yaml:"queue"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Reset        ResetConfig        `yaml:"reset"`
	Reaper       ReaperConfig       `yaml:"reaper"`
	Logger       LoggerConfig       `yaml:"logger"`
	Notification NotificationConfig `yaml:"notification"`
	Credentials  CredentialsConfig  `yaml:"credentials"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // admin API key (optional, if empty, admin auth is disabled)
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// QueueConfig dispatch queue configuration
type QueueConfig struct {
	Concurrency     int `yaml:"concurrency"`       // worker pool size
	MaxRetry        int `yaml:"max_retry"`         // queue redeliveries per task (capacity waits)
	DispatchTimeout int `yaml:"dispatch_timeout"`  // connector call timeout (seconds)
	CapacityDelay   int `yaml:"capacity_delay"`    // redelivery delay when no capacity (seconds)
}

// SchedulerConfig routing configuration
type SchedulerConfig struct {
	MaxAttempts  int `yaml:"max_attempts"`  // provider attempts per task before it fails
	RouteRetries int `yaml:"route_retries"` // eligibility refreshes after reservation races
}

// ResetConfig daily token reset configuration
type ResetConfig struct {
	Schedule string `yaml:"schedule"` // cron expression, default "0 2 * * *"
}

// ReaperConfig stale assignment reaper configuration
type ReaperConfig struct {
	CheckInterval     int `yaml:"check_interval"`     // sweep interval (seconds)
	AssignmentTimeout int `yaml:"assignment_timeout"` // assignments older than this are reclaimed (seconds)
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// NotificationConfig webhook notification configuration
type NotificationConfig struct {
	WebhookURL string `yaml:"webhook_url"` // global fallback; per-task webhook_url wins
}

// CredentialsConfig credential sealing configuration
type CredentialsConfig struct {
	Key string `yaml:"key"` // base64 32-byte key; CREDENTIAL_KEY env overrides
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	validateAndApplyDefaults(&cfg)

	GlobalConfig = &cfg
	return nil
}
