package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	Poll        PollConfig     `mapstructure:"poll"`
	Ingest      IngestConfig   `mapstructure:"ingest"`
	Schedule    ScheduleConfig `mapstructure:"schedule"`
	Email       EmailConfig    `mapstructure:"email"`
	Events      EventsConfig   `mapstructure:"events"`
	Archive     ArchiveConfig  `mapstructure:"archive"`
	Alerts      AlertsConfig   `mapstructure:"alerts"`
	MCP         MCPConfig      `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdle     time.Duration `mapstructure:"conn_max_idle"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff"`
}

// CacheConfig represents cache configuration. An empty RedisURL disables Redis.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	LocalSize   int           `mapstructure:"local_size"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PollConfig configures the external API polling client
type PollConfig struct {
	UseActiveDirectory bool              `mapstructure:"use_active_directory"`
	TransportRetries   int               `mapstructure:"transport_retries"`
	DecodeRetries      int               `mapstructure:"decode_retries"`
	DecodeBackoff      time.Duration     `mapstructure:"decode_backoff"`
	Timeout            time.Duration     `mapstructure:"timeout"`
	RateLimit          int               `mapstructure:"rate_limit"`
	Interactive        bool              `mapstructure:"interactive"`
	EnvFile            string            `mapstructure:"env_file"`
	BaseURLs           map[string]string `mapstructure:"base_urls"`
	TokenURL           string            `mapstructure:"token_url"`
}

// IngestConfig configures case ingestion runs
type IngestConfig struct {
	SampleTypes      []string `mapstructure:"sample_types"`
	PullT3           bool     `mapstructure:"pull_t3"`
	Bins             int      `mapstructure:"bins"`
	Workers          int      `mapstructure:"workers"`
	SkipDemographics bool     `mapstructure:"skip_demographics"`
	GMCs             []string `mapstructure:"gmcs"`
	Annotate         bool     `mapstructure:"annotate"`
}

// ScheduleConfig holds cron specs for the background jobs
type ScheduleConfig struct {
	UpdateCases            string        `mapstructure:"update_cases"`
	ListUpdateEmail        string        `mapstructure:"listupdate_email"`
	CaseAlertEmail         string        `mapstructure:"case_alert_email"`
	UpdateReportEmail      string        `mapstructure:"update_report_email"`
	CasesNotCompletedEmail string        `mapstructure:"cases_not_completed_email"`
	LockTTL                time.Duration `mapstructure:"lock_ttl"`
}

// EmailConfig configures outgoing mail. An empty API key disables sending.
type EmailConfig struct {
	SendgridAPIKey    string   `mapstructure:"sendgrid_api_key"`
	FromAddress       string   `mapstructure:"from_address"`
	FromName          string   `mapstructure:"from_name"`
	Bioinformatics    []string `mapstructure:"bioinformatics"`
	RareDiseaseAlerts []string `mapstructure:"rare_disease_alerts"`
	CancerAlerts      []string `mapstructure:"cancer_alerts"`
	ReportRecipients  []string `mapstructure:"report_recipients"`
}

// EventsConfig configures the Kafka case event publisher
type EventsConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// ArchiveConfig configures the S3 export archive
type ArchiveConfig struct {
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// AlertsConfig selects the case alert store backend
type AlertsConfig struct {
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}
