// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Source   SourceConfig   `mapstructure:"source"`
	Mail     MailConfig     `mapstructure:"mail"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Database DatabaseConfig `mapstructure:"database"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// SourceConfig holds settings for the external job source API.
type SourceConfig struct {
	BaseURL               string `mapstructure:"base_url"`
	APIKey                string `mapstructure:"api_key"`
	APIHost               string `mapstructure:"api_host"`
	DefaultEmploymentType string `mapstructure:"default_employment_type"`
	Timeout               int    `mapstructure:"timeout"`     // milliseconds, per request
	MaxAttempts           int    `mapstructure:"max_attempts"`
	BackoffInitial        int    `mapstructure:"backoff_initial"` // milliseconds
}

// MailConfig holds settings for digest delivery. Missing credentials degrade
// delivery to a logged failure instead of crashing the process.
type MailConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	FromEmail string `mapstructure:"from_email"`
	AWSRegion string `mapstructure:"aws_region"`
	Timeout   int    `mapstructure:"timeout"` // milliseconds, per send
}

// Configured reports whether delivery can actually run.
func (m MailConfig) Configured() bool {
	return m.Enabled && m.FromEmail != "" && m.AWSRegion != ""
}

// AlertsConfig holds settings for operator alerts on failing ticks.
// An empty topic ARN disables alerting.
type AlertsConfig struct {
	TopicARN  string `mapstructure:"topic_arn"`
	AWSRegion string `mapstructure:"aws_region"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig configures the optional fingerprint cache. An empty address
// disables the cache; Postgres remains authoritative either way.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// ElasticsearchConfig configures the optional posting search index consumed
// by the UI layer.
type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// PipelineConfig holds scheduler and orchestrator settings.
type PipelineConfig struct {
	IntervalHours int  `mapstructure:"interval_hours"`
	RunOnStart    bool `mapstructure:"run_on_start"`
	Concurrency   int  `mapstructure:"concurrency"` // worker-pool size; caps load on the source
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
